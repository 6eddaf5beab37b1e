package adapter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/schema"

	// Import adapter packages to ensure adapters are registered via init()
	_ "github.com/leapstack-labs/manifold/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/manifold/pkg/adapters/fs"
	_ "github.com/leapstack-labs/manifold/pkg/adapters/memory"
	_ "github.com/leapstack-labs/manifold/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/manifold/pkg/adapters/sqlite"
)

func TestListAdapters(t *testing.T) {
	adapters := adapter.ListAdapters()

	for _, name := range []string{"duckdb", "fs", "memory", "postgres", "sqlite"} {
		assert.Contains(t, adapters, name, "%s should be in adapter list", name)
	}
}

func TestIsRegistered(t *testing.T) {
	tests := []struct {
		name        string
		adapterName string
		expected    bool
	}{
		{"sqlite registered", "sqlite", true},
		{"memory registered", "memory", true},
		{"unknown not registered", "unknown_db", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := adapter.IsRegistered(tt.adapterName)
			assert.Equal(t, tt.expected, got, "IsRegistered(%q)", tt.adapterName)
		})
	}
}

func TestNewAdapter_Kinds(t *testing.T) {
	tests := []struct {
		typ  string
		kind schema.BackendKind
	}{
		{"sqlite", schema.BackendRelational},
		{"postgres", schema.BackendRelational},
		{"duckdb", schema.BackendRelational},
		{"memory", schema.BackendDocument},
		{"fs", schema.BackendFile},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			adp, err := adapter.NewAdapter(adapter.Config{Name: "b", Type: tt.typ}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, adp.Kind())
		})
	}
}

func TestNewAdapter_UnknownType(t *testing.T) {
	_, err := adapter.NewAdapter(adapter.Config{Name: "b", Type: "unknown_adapter"}, nil)
	require.Error(t, err, "NewAdapter(unknown_adapter) should fail")

	var unknownErr *adapter.UnknownAdapterError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "unknown_adapter", unknownErr.Type, "error type")
	assert.Contains(t, unknownErr.Available, "sqlite", "Available adapters should include sqlite")
}
