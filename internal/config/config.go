// Package config loads tipsync configuration from file, environment,
// and flags via viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds the device configuration.
type Config struct {
	// RoomCode selects the remote subtree this device binds to.
	// Empty means cache-only (no remote backing).
	RoomCode string `mapstructure:"room_code"`

	// ServerURL is the hub websocket endpoint (ws://host:port/ws).
	ServerURL string `mapstructure:"server_url"`

	// ListenAddr is the bind address for `tipsync serve`.
	ListenAddr string `mapstructure:"listen_addr"`

	// CachePath is the local cache database location.
	CachePath string `mapstructure:"cache_path"`

	// LogFile enables rotating file logging when set.
	LogFile string `mapstructure:"log_file"`

	// Timeout bounds each remote operation issued by the CLI.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Dir returns the default config/cache directory (~/.tipsync).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tipsync"
	}
	return filepath.Join(home, ".tipsync")
}

// setDefaults registers defaults on v.
func setDefaults(v *viper.Viper) {
	v.SetDefault("room_code", "")
	v.SetDefault("server_url", "ws://localhost:8787/ws")
	v.SetDefault("listen_addr", ":8787")
	v.SetDefault("cache_path", filepath.Join(Dir(), "cache.db"))
	v.SetDefault("log_file", "")
	v.SetDefault("timeout", 10*time.Second)
}

// Load reads configuration from the given file (or the default location
// when path is empty), layered under TIPSYNC_* environment overrides.
// A missing config file is not an error; defaults apply.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TIPSYNC")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, v, nil
}

// Watch re-reads the config on file change and invokes onChange with the
// fresh values. Used to hot-rebind when the room code changes.
func Watch(v *viper.Viper, onChange func(Config)) {
	v.OnConfigChange(func(fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// Save writes the config as yaml to path, creating the directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	v := viper.New()
	v.Set("room_code", cfg.RoomCode)
	v.Set("server_url", cfg.ServerURL)
	v.Set("listen_addr", cfg.ListenAddr)
	v.Set("cache_path", cfg.CachePath)
	v.Set("log_file", cfg.LogFile)
	v.Set("timeout", cfg.Timeout.String())
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
