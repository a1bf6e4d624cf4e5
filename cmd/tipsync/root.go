package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tipsync/internal/cache"
	"tipsync/internal/config"
	"tipsync/internal/engine"
	"tipsync/internal/logging"
	"tipsync/internal/remote"
)

var (
	flagConfig string
	flagRoom   string
	flagServer string
)

var rootCmd = &cobra.Command{
	Use:   "tipsync",
	Short: "Shared treatment schedule tracker",
	Long: `tipsync keeps a treatment schedule (cycles, dose items, consumption
logs) consistent across every device bound to the same room code.

State lives in a local SQLite cache so the tool works offline; when a
room is configured, every command also syncs through the room server.

Run 'tipsync setup' once to create your config, then 'tipsync status'
to verify the connection.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.tipsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagRoom, "room", "", "room code override")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "room server URL override")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(unlogCmd)
	rootCmd.AddCommand(timerCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(unitCmd)
	rootCmd.AddCommand(resetCmd)
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, _, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagRoom != "" {
		cfg.RoomCode = flagRoom
	}
	if flagServer != "" {
		cfg.ServerURL = flagServer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return cfg, nil
}

// session bundles everything a one-shot command needs: the engine over
// the local cache, bound to the room when one is configured.
type session struct {
	cfg    *config.Config
	cache  *cache.Cache
	store  remote.Store
	engine *engine.Engine
}

// openSession opens the cache and engine, and when a room code is
// configured dials the room server and binds. The engine then waits for
// the initial cycles and users snapshots so mutations see remote truth
// rather than only the cached copy.
func openSession(ctx context.Context, needRemote bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	c, err := cache.Open(cfg.CachePath)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(c, engine.WithLogger(logging.Discard()))
	if err != nil {
		c.Close()
		return nil, err
	}

	s := &session{cfg: cfg, cache: c, engine: eng}

	if cfg.RoomCode == "" {
		if needRemote {
			s.Close()
			return nil, fmt.Errorf("no room configured; run 'tipsync setup' or pass --room")
		}
		return s, nil
	}

	store, err := remote.Dial(ctx, cfg.ServerURL, logging.Discard())
	if err != nil {
		if needRemote {
			s.Close()
			return nil, fmt.Errorf("failed to reach room server %s: %w", cfg.ServerURL, err)
		}
		return s, nil
	}
	s.store = store

	ch, cancelSub := eng.Subscribe(engine.SliceCycles, engine.SliceUsers, engine.SliceSync)
	defer cancelSub()
	if err := eng.Bind(ctx, store, cfg.RoomCode); err != nil {
		s.Close()
		return nil, err
	}
	waitForSync(ctx, ch, cfg.Timeout)
	return s, nil
}

// waitForSync blocks until the initial cycles snapshot has been merged
// (plus a short grace for the users snapshot, which is never published
// when the subtree is absent), or the timeout passes. Timing out is not
// an error: the engine falls back to cached state.
func waitForSync(ctx context.Context, ch <-chan engine.Slice, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case slice := <-ch:
			if slice != engine.SliceCycles {
				continue
			}
			grace := time.NewTimer(150 * time.Millisecond)
			defer grace.Stop()
			for {
				select {
				case <-ch:
				case <-grace.C:
					return
				case <-ctx.Done():
					return
				}
			}
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close unbinds and releases the session's resources.
func (s *session) Close() {
	if s.engine != nil {
		s.engine.Unbind()
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}
}

// opCtx returns a context bounded by the configured per-operation timeout.
func (s *session) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.Timeout)
}
