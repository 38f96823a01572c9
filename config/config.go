// Package config holds the roster configuration.
//
// Configuration is read from an optional file (TOML, YAML or JSON, chosen by
// extension) and from ROSTER_* environment variables, which take precedence.
// Nested keys map to variables with underscores, e.g. store.backend is
// ROSTER_STORE_BACKEND. Paths left empty are derived from DataDir the same way the
// bot lays out its data directory:
//
//	<data_dir>/users/     default user role files
//	<data_dir>/users.db   persisted users (localfile backend)
//	<data_dir>/users.log/ persisted users (logstore backend)
package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/mindtastic/roster/log"
)

// Store backends.
const (
	BackendLocalFile = "localfile"
	BackendLogStore  = "logstore"
	BackendPostgres  = "postgres"
	BackendMemory    = "memory"
)

const envPrefix = "ROSTER"

// Config is the complete roster configuration.
type Config struct {
	// DataDir is the root for every derived path.
	DataDir string `mapstructure:"data_dir" toml:"data_dir"`

	// DefaultsDir holds the default user role files. Defaults to <DataDir>/users.
	DefaultsDir string `mapstructure:"defaults_dir" toml:"defaults_dir,omitempty"`

	// ListLimit caps how many users a listing shows.
	ListLimit int `mapstructure:"list_limit" toml:"list_limit"`

	Store StoreConfig `mapstructure:"store" toml:"store"`
	Log   LogConfig   `mapstructure:"log" toml:"log"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	// Backend is one of localfile, logstore, postgres or memory.
	Backend string `mapstructure:"backend" toml:"backend"`

	// Path is the data file (localfile) or directory (logstore). Derived from
	// DataDir when empty.
	Path string `mapstructure:"path" toml:"path,omitempty"`

	// DSN is the PostgreSQL connection string (postgres).
	DSN string `mapstructure:"dsn" toml:"dsn,omitempty"`

	// Table overrides the PostgreSQL table name.
	Table string `mapstructure:"table" toml:"table,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warning, error or fatal.
	Level string `mapstructure:"level" toml:"level"`

	// File, when set, receives a plain copy of every line.
	File string `mapstructure:"file" toml:"file,omitempty"`

	// RecentLimit is how many recent messages are kept per source.
	RecentLimit int `mapstructure:"recent_limit" toml:"recent_limit"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		DataDir:   "data",
		ListLimit: 50,
		Store: StoreConfig{
			Backend: BackendLocalFile,
		},
		Log: LogConfig{
			Level:       "info",
			RecentLimit: log.DefaultRecentLimit,
		},
	}
}

// Load reads the configuration file at path, if any, applies environment overrides
// and fills in derived paths.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys missing from the
// config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("defaults_dir", d.DefaultsDir)
	v.SetDefault("list_limit", d.ListLimit)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.table", d.Store.Table)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.recent_limit", d.Log.RecentLimit)
}

// SetDataDir moves the data directory and re-derives the paths that depend on it,
// unless they were set explicitly.
func (c *Config) SetDataDir(dir string) {
	old := c.DataDir
	c.DataDir = dir
	if c.DefaultsDir == filepath.Join(old, "users") {
		c.DefaultsDir = ""
	}
	if c.Store.Path == defaultStorePath(old, c.Store.Backend) {
		c.Store.Path = ""
	}
	c.resolve()
}

func (c *Config) resolve() {
	if c.DefaultsDir == "" {
		c.DefaultsDir = filepath.Join(c.DataDir, "users")
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath(c.DataDir, c.Store.Backend)
	}
	if c.ListLimit <= 0 {
		c.ListLimit = Default().ListLimit
	}
	if c.Log.RecentLimit <= 0 {
		c.Log.RecentLimit = log.DefaultRecentLimit
	}
}

func defaultStorePath(dataDir, backend string) string {
	switch backend {
	case BackendLocalFile:
		return filepath.Join(dataDir, "users.db")
	case BackendLogStore:
		return filepath.Join(dataDir, "users.log")
	default:
		return ""
	}
}

// Validate checks the backend and log level.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendLocalFile, BackendLogStore, BackendMemory:
	case BackendPostgres:
		if c.Store.DSN == "" {
			return errors.New("config: store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Write encodes cfg as TOML.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
