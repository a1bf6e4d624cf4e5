// Package cache provides the durable local cache for the last-known-good
// treatment snapshot, backed by embedded SQLite (CGO-free driver).
//
// Three independent blobs (cycles, items-by-cycle, consumption log)
// are stored as self-describing JSON so the UI can render before remote
// data arrives and state survives process restarts. A prefs table holds
// device-local values (room code, current user, last reset date, timer
// duration) that are never synchronized.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"tipsync/internal/model"
)

// Blob names for the three snapshot slices.
const (
	BlobCycles = "cycles"
	BlobItems  = "items"
	BlobLog    = "consumptionLog"
)

// Device-local preference keys.
const (
	PrefRoomCode      = "roomCode"
	PrefCurrentUserID = "currentUserId"
	PrefLastResetDate = "lastResetDate"
	PrefTimerDuration = "treatmentTimerDuration"
)

// Cache wraps the SQLite connection holding snapshots and prefs.
type Cache struct {
	conn *sql.DB
	path string
}

// Open creates or opens the cache database at path.
//
// The database runs in WAL mode with a busy timeout so cache writes on
// every merge never block the engine for unbounded time. The caller MUST
// call Close() when done.
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	c := &Cache{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := c.initSchema(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Path returns the database file location.
func (c *Cache) Path() string {
	return c.path
}

// Close checkpoints the WAL and closes the connection.
func (c *Cache) Close() error {
	if c.conn == nil {
		return nil
	}
	if _, err := c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}
	c.conn = nil
	return nil
}

// initSchema creates tables if needed. Idempotent.
func (c *Cache) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		name       TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prefs (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := c.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create cache schema: %w", err)
	}
	return nil
}

// saveBlob upserts one named JSON blob.
func (c *Cache) saveBlob(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s blob: %w", name, err)
	}
	_, err = c.conn.Exec(`
		INSERT INTO snapshots (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		name, data, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save %s blob: %w", name, err)
	}
	return nil
}

// loadBlob decodes one named blob into out. Missing blobs leave out
// untouched and return nil.
func (c *Cache) loadBlob(name string, out any) error {
	var data []byte
	err := c.conn.QueryRow(`SELECT data FROM snapshots WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s blob: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s blob: %w", name, err)
	}
	return nil
}

// SaveCycles persists the cycle collection.
func (c *Cache) SaveCycles(cycles []model.Cycle) error {
	return c.saveBlob(BlobCycles, cycles)
}

// LoadCycles returns the cached cycle collection (nil when never saved).
func (c *Cache) LoadCycles() ([]model.Cycle, error) {
	var cycles []model.Cycle
	if err := c.loadBlob(BlobCycles, &cycles); err != nil {
		return nil, err
	}
	return cycles, nil
}

// SaveItems persists the items-by-cycle map.
func (c *Cache) SaveItems(items model.ItemsByCycle) error {
	return c.saveBlob(BlobItems, items)
}

// LoadItems returns the cached items-by-cycle map (nil when never saved).
func (c *Cache) LoadItems() (model.ItemsByCycle, error) {
	var items model.ItemsByCycle
	if err := c.loadBlob(BlobItems, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SaveLog persists the consumption log.
func (c *Cache) SaveLog(log model.ConsumptionLog) error {
	return c.saveBlob(BlobLog, log)
}

// LoadLog returns the cached consumption log (nil when never saved).
func (c *Cache) LoadLog() (model.ConsumptionLog, error) {
	var log model.ConsumptionLog
	if err := c.loadBlob(BlobLog, &log); err != nil {
		return nil, err
	}
	return log, nil
}

// SetPref stores a device-local preference.
func (c *Cache) SetPref(key, value string) error {
	_, err := c.conn.Exec(`
		INSERT INTO prefs (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set pref %s: %w", key, err)
	}
	return nil
}

// Pref returns a device-local preference and whether it was set.
func (c *Cache) Pref(key string) (string, bool, error) {
	var value string
	err := c.conn.QueryRow(`SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read pref %s: %w", key, err)
	}
	return value, true, nil
}

// DeletePref removes a device-local preference. Idempotent.
func (c *Cache) DeletePref(key string) error {
	if _, err := c.conn.Exec(`DELETE FROM prefs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete pref %s: %w", key, err)
	}
	return nil
}
