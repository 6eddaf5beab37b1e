// Package config provides configuration management for the manifold CLI.
//
// This package extends the shared project configuration from
// internal/config with CLI-specific fields and layers command-line flags
// over it.
package config

import (
	intconfig "github.com/leapstack-labs/manifold/internal/config"
)

// Output modes.
const (
	OutputAuto     = "auto" // TTY=text, non-TTY=markdown
	OutputText     = "text"
	OutputMarkdown = "markdown"
	OutputJSON     = "json"
)

// DefaultOutput is the output mode used when none is configured.
const DefaultOutput = OutputAuto

// Config holds all CLI configuration options.
type Config struct {
	intconfig.Config `koanf:",squash"`

	Verbose      bool   `koanf:"verbose"`
	OutputFormat string `koanf:"output"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
}
