// Package config loads the espejo daemon configuration: a TOML file with
// environment-variable overrides, plus optional hot-reload of tunables while
// the daemon runs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds everything the daemon needs to run.
type Config struct {
	// StoreID is the tenant namespace stamped on every remote document.
	StoreID string `mapstructure:"store_id"`

	// RemoteURL is the websocket URL of the document store backend. Empty
	// disables sync for the session (local-only operation).
	RemoteURL string `mapstructure:"remote_url"`

	// DBPath is the local slot database file.
	DBPath string `mapstructure:"db_path"`

	// LogFile receives daemon logs with rotation. Empty logs to stderr.
	LogFile string `mapstructure:"log_file"`

	// Debounce is how long outbound dispatch coalesces rapid writes.
	Debounce time.Duration `mapstructure:"debounce"`
}

// Load reads the configuration. path may name a specific file; when empty the
// usual search locations are used (./espejo.toml, ~/.config/espejo/).
// Environment variables with the ESPEJO_ prefix override file values.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetDefault("store_id", "")
	v.SetDefault("remote_url", "")
	v.SetDefault("db_path", ".espejo/slots.db")
	v.SetDefault("log_file", "")
	v.SetDefault("debounce", 100*time.Millisecond)

	v.SetEnvPrefix("ESPEJO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("espejo")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/espejo")
	}

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		// No config file in the search path is fine; defaults and env
		// cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, v, nil
}

// Watch re-reads the config whenever the file changes and hands the fresh
// Config to fn. Only tunables (debounce, log file) are safe to change at
// runtime; the daemon ignores changes to the identity-bearing fields.
func Watch(v *viper.Viper, fn func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		fn(&cfg)
	})
	v.WatchConfig()
}
