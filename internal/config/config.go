package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/livinlefevreloca/dayshift/internal/db"
	"github.com/livinlefevreloca/dayshift/internal/mongostore"
	"github.com/livinlefevreloca/dayshift/internal/notify"
	"github.com/livinlefevreloca/dayshift/internal/scheduler"
	"github.com/livinlefevreloca/dayshift/internal/shift"
)

// Store backends
const (
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite3"
)

// Config represents the application configuration
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Shift    shift.Config   `toml:"shift"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Schedule ScheduleConfig `toml:"schedule"`
	Notify   notify.Config  `toml:"notify"`
	Logging  LoggingConfig  `toml:"logging"`
}

// StoreConfig selects and configures the document store
type StoreConfig struct {
	Backend string            `toml:"backend"`
	Mongo   mongostore.Config `toml:"mongo"`
	SQLite  SQLiteConfig      `toml:"sqlite"`
}

// SQLiteConfig configures the embedded document store
type SQLiteConfig struct {
	db.Config
	Collection string `toml:"collection"`
}

// LedgerConfig holds run ledger settings
type LedgerConfig struct {
	Enabled bool   `toml:"enabled"`
	DSN     string `toml:"dsn"`

	// A run renews its lock before every page; a lock left unrenewed this
	// long belongs to a crashed process and is taken over. Must exceed the
	// time one page of reads and writes takes.
	LockTTL time.Duration `toml:"lock_ttl"`
}

// ScheduleConfig holds the serve loop settings
type ScheduleConfig struct {
	scheduler.Config
	Days int `toml:"days"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: BackendMongo,
			Mongo:   mongostore.DefaultConfig(),
			SQLite: SQLiteConfig{
				Config: db.Config{
					Driver:          "sqlite3",
					DSN:             "dayshift.db",
					MaxOpenConns:    1,
					ConnMaxLifetime: 5 * time.Minute,
				},
				Collection: "stocks",
			},
		},
		Shift: shift.DefaultConfig(),
		Ledger: LedgerConfig{
			Enabled: false,
			DSN:     "dayshift.db",
			LockTTL: 2 * time.Hour,
		},
		Schedule: ScheduleConfig{
			Config: scheduler.DefaultConfig(),
			Days:   shift.DefaultDays,
		},
		Notify: notify.Config{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile loads configuration from a TOML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Environment variables
// 4. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		fileConfig, err := LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	config.ApplyEnv(os.LookupEnv)
	return config, nil
}

// ApplyEnv overrides settings from the environment. DAYSHIFT_MONGO_URI takes
// precedence over MONGO_URI.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, names ...string) {
		for _, name := range names {
			if v, ok := lookup(name); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	set(&c.Store.Backend, "DAYSHIFT_STORE_BACKEND")
	set(&c.Store.Mongo.URI, "DAYSHIFT_MONGO_URI", "MONGO_URI")
	set(&c.Notify.URL, "MAILGUN_URL")
	set(&c.Notify.Key, "MAILGUN_KEY")
	set(&c.Notify.From, "MAILGUN_FROM")
	set(&c.Notify.To, "MAILGUN_TO")
	set(&c.Notify.Subject, "MAILGUN_SUBJECT")
	set(&c.Logging.Level, "DAYSHIFT_LOG_LEVEL")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMongo:
		if err := c.Store.Mongo.Validate(); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	case BackendSQLite:
		if c.Store.SQLite.DSN == "" {
			return fmt.Errorf("store: sqlite dsn must be specified")
		}
		if c.Store.SQLite.Collection == "" {
			return fmt.Errorf("store: sqlite collection must be specified")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s (must be %s or %s)", c.Store.Backend, BackendMongo, BackendSQLite)
	}

	if err := c.Shift.Validate(); err != nil {
		return fmt.Errorf("shift: %w", err)
	}

	if c.Ledger.Enabled {
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger dsn must be specified when the ledger is enabled")
		}
		if c.Ledger.LockTTL < 0 {
			return fmt.Errorf("ledger lock_ttl must not be negative")
		}
	}

	if _, _, err := c.Schedule.Validate(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if c.Schedule.Days < 0 {
		return fmt.Errorf("schedule days must not be negative, got %d", c.Schedule.Days)
	}

	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	if _, err := c.Logging.level(); err != nil {
		return err
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

func (l LoggingConfig) level() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", l.Level)
	}
}

// NewLogger builds the process logger writing to w
func (l LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}
