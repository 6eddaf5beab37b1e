// Package duckdb provides the DuckDB SQL dialect definition.
// This package is pure Go with no database driver dependencies.
//
// Object and array properties use the JSON extension type. Arrays are
// expanded with unnest over a JSON list.
package duckdb

import (
	"github.com/leapstack-labs/manifold/pkg/dialect"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

func init() {
	dialect.Register(DuckDB)
}

var duckDBReservedWords = []string{
	"all", "analyse", "analyze", "and", "any", "array", "as", "asc",
	"asymmetric", "both", "case", "cast", "check", "collate", "column",
	"constraint", "create", "default", "deferrable", "desc", "describe",
	"distinct", "do", "else", "end", "except", "false", "fetch", "for",
	"foreign", "from", "grant", "group", "having", "in", "initially",
	"intersect", "into", "lateral", "leading", "limit", "not", "null",
	"offset", "on", "only", "or", "order", "pivot", "placing", "primary",
	"qualify", "references", "returning", "select", "show", "some", "summarize",
	"symmetric", "table", "then", "to", "trailing", "true", "union", "unique",
	"unpivot", "using", "variadic", "when", "where", "window", "with",
}

var casts = map[schema.ScalarType]string{
	schema.ScalarInteger:  "BIGINT",
	schema.ScalarNumber:   "DOUBLE",
	schema.ScalarBoolean:  "BOOLEAN",
	schema.ScalarDate:     "DATE",
	schema.ScalarDateTime: "TIMESTAMPTZ",
}

func extract(expr string, path []string, s schema.ScalarType) string {
	out := "json_extract_string(" + expr + ", '" + dialect.JSONPath(path) + "')"
	if t, ok := casts[s]; ok {
		return "CAST(" + out + " AS " + t + ")"
	}
	return out
}

// DuckDB is the DuckDB dialect.
var DuckDB = dialect.NewDialect("duckdb").
	PlaceholderStyle(dialect.PlaceholderQuestion).
	ColumnType(schema.ScalarString, "VARCHAR").
	ColumnType(schema.ScalarInteger, "BIGINT").
	ColumnType(schema.ScalarNumber, "DOUBLE").
	ColumnType(schema.ScalarBoolean, "BOOLEAN").
	ColumnType(schema.ScalarDate, "DATE").
	ColumnType(schema.ScalarDateTime, "TIMESTAMPTZ").
	JSONType("JSON").
	TextType("VARCHAR").
	NoSavepoints().
	JSON(
		extract,
		func(expr, alias string) string {
			return "(SELECT unnest(CAST(" + expr + " AS JSON[])) AS value) AS " + alias
		},
		func(alias string, path []string, s schema.ScalarType) string {
			return extract(alias+".value", path, s)
		},
	).
	Matching(
		func(expr, ph string) string { return "contains(" + expr + ", " + ph + ")" },
		func(expr, ph string) string { return "starts_with(" + expr + ", " + ph + ")" },
	).
	WithReservedWords(duckDBReservedWords...).
	Build()
