package duckdb

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Params holds DuckDB-specific configuration.
// Parsed from adapter.Config.Params using mapstructure.
type Params struct {
	// Extensions to install and load (e.g., "json", "spatial")
	Extensions []string `mapstructure:"extensions"`

	// Settings to apply globally (e.g., memory_limit, threads)
	Settings map[string]string `mapstructure:"settings"`
}

// parseParams decodes the adapter params map.
func parseParams(in map[string]any) (*Params, error) {
	p := &Params{}
	if len(in) == 0 {
		return p, nil
	}
	if err := mapstructure.Decode(in, p); err != nil {
		return nil, fmt.Errorf("invalid duckdb params: %w", err)
	}
	return p, nil
}
