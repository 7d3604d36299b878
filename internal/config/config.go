// Package config loads ledgersync settings from a TOML file, environment
// variables (LEDGERSYNC_*) and built-in defaults, in that order of
// precedence from last to first.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/pocketledger/ledgersync/internal/ledger/merge"
	"github.com/pocketledger/ledgersync/internal/ledger/replica"
)

// EnvPrefix prefixes environment overrides, e.g. LEDGERSYNC_SYNC_STRATEGY.
const EnvPrefix = "LEDGERSYNC"

// FileName is the config file looked up in the config directory.
const FileName = "ledgersync.toml"

type LedgerConfig struct {
	// Database is the local SQLite file.
	Database string `mapstructure:"database"`
	// Replica is the shared folder holding partition files.
	Replica string `mapstructure:"replica"`
	// Currency is assigned to records that carry none.
	Currency string `mapstructure:"currency"`
}

type SyncConfig struct {
	Strategy        string        `mapstructure:"strategy"`
	Tolerance       time.Duration `mapstructure:"tolerance"`
	ReadConcurrency int           `mapstructure:"read_concurrency"`
	// Lock holds an OS file lock next to the database during full syncs.
	Lock bool `mapstructure:"lock"`
}

type DownloadConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
}

type DaemonConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Interval time.Duration `mapstructure:"interval"`
}

type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LogConfig struct {
	// File, when set, receives logs with size-based rotation.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Verbose    bool   `mapstructure:"verbose"`
}

// Config is the full ledgersync configuration.
type Config struct {
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Download  DownloadConfig  `mapstructure:"download"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`

	// path is the file the config was read from, if any.
	path string
}

// Dir returns the default configuration directory.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "ledgersync")
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := Dir()
	download := replica.DefaultDownloadPolicy()
	return &Config{
		Ledger: LedgerConfig{
			Database: filepath.Join(dir, "ledger.db"),
			Currency: "USD",
		},
		Sync: SyncConfig{
			Strategy:        string(merge.DefaultStrategy),
			Tolerance:       merge.DefaultTolerance,
			ReadConcurrency: 4,
			Lock:            true,
		},
		Download: DownloadConfig{
			Attempts: download.Attempts,
			Interval: download.Interval,
		},
		Daemon: DaemonConfig{
			Debounce: 2 * time.Second,
			Interval: 5 * time.Minute,
		},
		Dashboard: DashboardConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the configuration.
//
// With an empty path, FileName is looked up in Dir() and the working
// directory; a missing file is not an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("toml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.path = v.ConfigFileUsed()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// setDefaults registers every key so env overrides reach Unmarshal.
func setDefaults(v *viper.Viper, c *Config) {
	for section, values := range c.Map() {
		for key, value := range values {
			v.SetDefault(section+"."+key, value)
		}
	}
}

// Validate checks values that would otherwise fail deep inside a sync.
func (c *Config) Validate() error {
	if _, err := merge.ParseStrategy(c.Sync.Strategy); err != nil {
		return fmt.Errorf("invalid sync.strategy: %w", err)
	}
	if c.Sync.Tolerance < 0 {
		return fmt.Errorf("invalid sync.tolerance: %v", c.Sync.Tolerance)
	}
	if c.Download.Attempts < 1 || c.Download.Interval <= 0 {
		return fmt.Errorf("invalid download policy: %d attempts every %v",
			c.Download.Attempts, c.Download.Interval)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("invalid dashboard.port: %d", c.Dashboard.Port)
	}
	return nil
}

// Path returns the file the config was loaded from ("" for defaults only).
func (c *Config) Path() string {
	return c.path
}

// Strategy returns the parsed conflict strategy.
func (c *Config) Strategy() merge.Strategy {
	s, err := merge.ParseStrategy(c.Sync.Strategy)
	if err != nil {
		return merge.DefaultStrategy
	}
	return s
}

// DownloadPolicy returns the replica download wait policy.
func (c *Config) DownloadPolicy() replica.DownloadPolicy {
	return replica.DownloadPolicy{
		Attempts: c.Download.Attempts,
		Interval: c.Download.Interval,
	}
}

// LockPath returns the sync lock file, or "" when locking is disabled.
func (c *Config) LockPath() string {
	if !c.Sync.Lock || c.Ledger.Database == "" {
		return ""
	}
	return c.Ledger.Database + ".lock"
}

// Map returns the configuration as section -> key -> value, with durations
// rendered as strings. Keys match the mapstructure tags.
func (c *Config) Map() map[string]map[string]interface{} {
	return map[string]map[string]interface{}{
		"ledger": {
			"database": c.Ledger.Database,
			"replica":  c.Ledger.Replica,
			"currency": c.Ledger.Currency,
		},
		"sync": {
			"strategy":         c.Sync.Strategy,
			"tolerance":        c.Sync.Tolerance.String(),
			"read_concurrency": c.Sync.ReadConcurrency,
			"lock":             c.Sync.Lock,
		},
		"download": {
			"attempts": c.Download.Attempts,
			"interval": c.Download.Interval.String(),
		},
		"daemon": {
			"debounce": c.Daemon.Debounce.String(),
			"interval": c.Daemon.Interval.String(),
		},
		"dashboard": {
			"host": c.Dashboard.Host,
			"port": c.Dashboard.Port,
		},
		"log": {
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
			"verbose":      c.Log.Verbose,
		},
	}
}

// Encode writes c as TOML.
func (c *Config) Encode(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c.Map()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// WriteFile writes c to path as TOML, refusing to overwrite unless force.
func (c *Config) WriteFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if err := c.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
