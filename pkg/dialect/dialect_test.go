package dialect_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/manifold/pkg/dialect"
	"github.com/leapstack-labs/manifold/pkg/dialects/duckdb"
	"github.com/leapstack-labs/manifold/pkg/dialects/postgres"
	"github.com/leapstack-labs/manifold/pkg/dialects/sqlite"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

func TestFormatPlaceholder(t *testing.T) {
	assert.Equal(t, "?", sqlite.SQLite.FormatPlaceholder(3))
	assert.Equal(t, "$3", postgres.Postgres.FormatPlaceholder(3))
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"name", `"name"`},
		{`we"ird`, `"we""ird"`},
		{"geo__city", `"geo__city"`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, duckdb.DuckDB.QuoteIdentifier(tt.in))
		})
	}

	d := dialect.NewDialect("brackets").
		Identifiers("[", "]", "]]").
		JSON(
			func(e string, _ []string, _ schema.ScalarType) string { return e },
			func(e, a string) string { return e + " " + a },
			func(a string, _ []string, _ schema.ScalarType) string { return a },
		).
		Build()
	assert.Equal(t, "[a]]b]", d.QuoteIdentifier("a]b"))
}

func TestIsReservedWord(t *testing.T) {
	assert.True(t, postgres.Postgres.IsReservedWord("ORDER"))
	assert.True(t, sqlite.SQLite.IsReservedWord("group"))
	assert.False(t, sqlite.SQLite.IsReservedWord("population"))
}

func TestJSONPath(t *testing.T) {
	assert.Equal(t, "$", dialect.JSONPath(nil))
	assert.Equal(t, "$.meta.size", dialect.JSONPath([]string{"meta", "size"}))
	assert.Equal(t, `$."two words"`, dialect.JSONPath([]string{"two words"}))
	assert.Equal(t, `$."9lives"`, dialect.JSONPath([]string{"9lives"}))
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		d    *dialect.Dialect
		want string
	}{
		{"sqlite", sqlite.SQLite, `json_extract(t0."meta", '$.size')`},
		{"postgres", postgres.Postgres, `(t0."meta" #>> '{"size"}')::bigint`},
		{"duckdb", duckdb.DuckDB, `CAST(json_extract_string(t0."meta", '$.size') AS BIGINT)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.d.Extract(`t0."meta"`, []string{"size"}, schema.ScalarInteger)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestElement(t *testing.T) {
	assert.Equal(t, "e.value", sqlite.SQLite.Element("e", nil, schema.ScalarString))
	assert.Equal(t, "json_extract(e.value, '$.name')", sqlite.SQLite.Element("e", []string{"name"}, schema.ScalarString))
	assert.Equal(t, "e.value #>> '{}'", postgres.Postgres.Element("e", nil, schema.ScalarString))
	assert.Equal(t, `jsonb_array_elements(t0."tags") AS e(value)`, postgres.Postgres.Elements(`t0."tags"`, "e"))
}

func TestBuild_RequiresJSON(t *testing.T) {
	assert.Panics(t, func() { dialect.NewDialect("bare").Build() })
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"sqlite", "postgres", "duckdb"} {
		d, ok := dialect.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, name, d.Name)
	}
	_, ok := dialect.Get("SQLITE")
	assert.True(t, ok)
	_, ok = dialect.Get("oracle")
	assert.False(t, ok)
	assert.Subset(t, dialect.List(), []string{"duckdb", "postgres", "sqlite"})
}
