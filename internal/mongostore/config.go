package mongostore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds MongoDB connection settings
type Config struct {
	URI            string        `toml:"uri"`
	Database       string        `toml:"database"`
	Collection     string        `toml:"collection"`
	AppName        string        `toml:"app_name"`
	MaxPoolSize    uint64        `toml:"max_pool_size"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	RequestTimeout time.Duration `toml:"request_timeout"`
}

// DefaultConfig returns settings for a local server
func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		Database:       "dayshift",
		Collection:     "stocks",
		AppName:        "dayshift",
		MaxPoolSize:    10,
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.URI == "" {
		return errors.New("mongo uri must be specified")
	}
	if !strings.HasPrefix(c.URI, "mongodb://") && !strings.HasPrefix(c.URI, "mongodb+srv://") {
		return fmt.Errorf("mongo uri must start with mongodb:// or mongodb+srv://, got %q", redact(c.URI))
	}
	if c.Database == "" {
		return errors.New("mongo database must be specified")
	}
	if c.Collection == "" {
		return errors.New("mongo collection must be specified")
	}
	if c.ConnectTimeout < 0 || c.RequestTimeout < 0 {
		return errors.New("mongo timeouts must not be negative")
	}
	return nil
}

// redact hides credentials in a connection string
func redact(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return uri
}
