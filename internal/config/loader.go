package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "manifold.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "manifold.yml"

// EnvPrefix prefixes environment variables that override configuration.
const EnvPrefix = "MANIFOLD_"

// EnvKey maps an environment variable name to a configuration key.
// A double underscore separates nesting levels:
// MANIFOLD_BACKENDS__MAIN__DSN becomes backends.main.dsn.
func EnvKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// LoadFromDir loads the configuration of the project in dir. It returns
// nil, nil if the directory holds no config file.
func LoadFromDir(dir string) (*Config, error) {
	path := FindConfigFile(dir)
	if path == "" {
		return nil, nil
	}
	return Load(path)
}

// Load reads a config file layered over defaults and under environment
// variables, then resolves, completes and validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", EnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	root := filepath.Dir(path)
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if err := Finalize(&cfg, root); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize completes a decoded configuration: it applies defaults,
// expands ${VAR} references in backend settings, resolves relative paths
// against root and validates the result.
func Finalize(cfg *Config, root string) error {
	ApplyDefaults(cfg)
	for name, b := range cfg.Backends {
		b.DSN = ExpandEnvVars(b.DSN)
		b.Path = ResolvePath(ExpandEnvVars(b.Path), root)
		for key, v := range b.Params {
			if s, ok := v.(string); ok {
				b.Params[key] = ExpandEnvVars(s)
			}
		}
		cfg.Backends[name] = b
	}
	cfg.Manifest = ResolvePath(cfg.Manifest, root)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnvVars expands ${VAR} patterns with environment variable values.
// Unset variables are left as written.
func ExpandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

// ResolvePath resolves path relative to baseDir. Empty, absolute and
// in-memory paths are returned unchanged.
func ResolvePath(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// FindConfigFile returns the config file in dir, or "" if there is none.
func FindConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// FindProjectRoot walks up from startDir to the first directory holding a
// config file. It returns "" if none is found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for {
		if FindConfigFile(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
