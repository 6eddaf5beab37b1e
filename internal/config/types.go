// Package config provides the project configuration of a manifold
// deployment: named backends, query limits, retry policy and logging.
// It is decoupled from CLI concerns so tests and embedding programs can
// load a project without cobra.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/leapstack-labs/manifold/pkg/adapter"
)

// Config is the project configuration.
type Config struct {
	// Manifest is the path of the model manifest.
	Manifest string `koanf:"manifest"`
	// DefaultBackend serves models that do not name a backend.
	DefaultBackend string `koanf:"default_backend"`
	// Backends maps backend names to connection settings.
	Backends map[string]adapter.Config `koanf:"backends"`

	Query QueryConfig `koanf:"query"`
	Retry RetryConfig `koanf:"retry"`
	Auth  AuthConfig  `koanf:"auth"`
	Log   LogConfig   `koanf:"log"`
}

// QueryConfig holds read limits.
type QueryConfig struct {
	// MaxLimit caps page sizes; 0 leaves them uncapped.
	MaxLimit int64 `koanf:"max_limit"`
}

// RetryConfig bounds retries of transient backend errors.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay"`
}

// AuthConfig describes the scope operator tooling runs with.
type AuthConfig struct {
	// Prefix is prepended to every capability name.
	Prefix string `koanf:"prefix"`
	// Scopes lists granted capabilities. Empty means unrestricted.
	Scopes []string `koanf:"scopes"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
}

// BackendConfigs returns the backend settings sorted by name, with Name
// filled from the map key.
func (c *Config) BackendConfigs() []adapter.Config {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]adapter.Config, 0, len(names))
	for _, name := range names {
		b := c.Backends[name]
		b.Name = name
		out = append(out, b)
	}
	return out
}

// ErrNoBackends is returned when a configuration declares no backend.
var ErrNoBackends = errors.New("no backends configured")

// Validate checks the configuration. Backend types are checked against
// the adapter registry, so adapters must be imported before calling it.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return ErrNoBackends
	}
	for _, b := range c.BackendConfigs() {
		if b.Type == "" {
			return fmt.Errorf("backend %q: type is required", b.Name)
		}
		if !adapter.IsRegistered(strings.ToLower(b.Type)) {
			return fmt.Errorf("backend %q: %w", b.Name, &adapter.UnknownAdapterError{
				Type:      b.Type,
				Available: adapter.ListAdapters(),
			})
		}
	}
	if _, ok := c.Backends[c.DefaultBackend]; !ok {
		return fmt.Errorf("default_backend %q is not a configured backend", c.DefaultBackend)
	}
	if c.Query.MaxLimit < 0 {
		return fmt.Errorf("query.max_limit must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must not be below retry.base_delay")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not one of text, json", c.Log.Format)
	}
	return nil
}
