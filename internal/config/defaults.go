package config

import (
	"time"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/auth"
)

// Default configuration values.
const (
	DefaultManifest       = "models.yaml"
	DefaultBackendName    = "main"
	DefaultMaxLimit       = 1000
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = 20 * time.Millisecond
	DefaultMaxDelay       = time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultSQLiteDatabase = ".manifold/main.db"
)

// Defaults returns the lowest-precedence configuration layer, keyed the
// way koanf flattens it.
func Defaults() map[string]any {
	return map[string]any{
		"manifest":           DefaultManifest,
		"query.max_limit":    DefaultMaxLimit,
		"retry.max_attempts": DefaultMaxAttempts,
		"retry.base_delay":   DefaultBaseDelay.String(),
		"retry.max_delay":    DefaultMaxDelay.String(),
		"auth.prefix":        auth.DefaultPrefix,
		"log.level":          DefaultLogLevel,
		"log.format":         DefaultLogFormat,
	}
}

// ApplyDefaults fills values a configuration file may leave out. A
// project without backends gets a single sqlite backend.
func ApplyDefaults(c *Config) {
	if c == nil {
		return
	}
	if len(c.Backends) == 0 {
		c.Backends = map[string]adapter.Config{
			DefaultBackendName: {Type: "sqlite", Path: DefaultSQLiteDatabase},
		}
	}
	if c.DefaultBackend == "" {
		c.DefaultBackend = DefaultBackendName
		if len(c.Backends) == 1 {
			for name := range c.Backends {
				c.DefaultBackend = name
			}
		}
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Auth.Prefix == "" {
		c.Auth.Prefix = auth.DefaultPrefix
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
