package config

import (
	"fmt"
	"os"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.validateOutput(); err != nil {
		return err
	}
	return c.Config.Validate()
}

func (c *Config) validateOutput() error {
	switch c.OutputFormat {
	case OutputAuto, OutputText, OutputMarkdown, OutputJSON:
		return nil
	}
	return fmt.Errorf("output %q is not one of auto, text, markdown, json", c.OutputFormat)
}

// ValidateManifest checks that the model manifest exists.
func (c *Config) ValidateManifest() error {
	if _, err := os.Stat(c.Manifest); os.IsNotExist(err) {
		return fmt.Errorf("manifest does not exist: %s\nHint: Create it or use --manifest to specify a different path", c.Manifest)
	}
	return nil
}
