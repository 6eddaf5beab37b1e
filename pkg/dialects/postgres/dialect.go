// Package postgres provides the PostgreSQL SQL dialect definition.
// This package is pure Go with no database driver dependencies.
//
// Object and array properties are stored as JSONB. Scalars read out of
// JSON come back as text and are cast to the column type of their scalar.
package postgres

import (
	"strings"

	"github.com/leapstack-labs/manifold/pkg/dialect"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

func init() {
	dialect.Register(Postgres)
}

// postgresReservedWords contains common PostgreSQL reserved words.
// This is a manually maintained list of frequently problematic identifiers.
// For a complete list, use pg_get_keywords() at runtime.
var postgresReservedWords = []string{
	"user", "order", "group", "table", "select", "from", "where", "index",
	"all", "and", "any", "array", "as", "asc", "asymmetric", "authorization",
	"between", "binary", "both", "case", "cast", "check", "collate", "column",
	"constraint", "create", "cross", "current_catalog", "current_date",
	"current_role", "current_schema", "current_time", "current_timestamp",
	"current_user", "default", "deferrable", "desc", "distinct", "do", "else",
	"end", "except", "false", "fetch", "for", "foreign", "freeze", "full",
	"grant", "having", "ilike", "in", "initially", "inner", "intersect",
	"into", "is", "isnull", "join", "lateral", "leading", "left", "like",
	"limit", "localtime", "localtimestamp", "natural", "not", "notnull",
	"null", "offset", "on", "only", "or", "outer", "overlaps", "placing",
	"primary", "references", "returning", "right", "session_user", "similar",
	"some", "symmetric", "then", "to", "trailing", "true", "union", "unique",
	"using", "variadic", "verbose", "when", "window", "with",
}

var casts = map[schema.ScalarType]string{
	schema.ScalarInteger:  "bigint",
	schema.ScalarNumber:   "double precision",
	schema.ScalarBoolean:  "boolean",
	schema.ScalarDate:     "date",
	schema.ScalarDateTime: "timestamptz",
}

func textPath(path []string) string {
	quoted := make([]string, len(path))
	for i, p := range path {
		quoted[i] = `"` + strings.ReplaceAll(p, `"`, `\"`) + `"`
	}
	return "'{" + strings.ReplaceAll(strings.Join(quoted, ","), "'", "''") + "}'"
}

func cast(expr string, s schema.ScalarType) string {
	if t, ok := casts[s]; ok {
		return "(" + expr + ")::" + t
	}
	return expr
}

func extract(expr string, path []string, s schema.ScalarType) string {
	return cast(expr+" #>> "+textPath(path), s)
}

// Postgres is the PostgreSQL dialect.
var Postgres = dialect.NewDialect("postgres").
	PlaceholderStyle(dialect.PlaceholderDollar).
	ColumnType(schema.ScalarString, "TEXT").
	ColumnType(schema.ScalarInteger, "BIGINT").
	ColumnType(schema.ScalarNumber, "DOUBLE PRECISION").
	ColumnType(schema.ScalarBoolean, "BOOLEAN").
	ColumnType(schema.ScalarDate, "DATE").
	ColumnType(schema.ScalarDateTime, "TIMESTAMPTZ").
	JSONType("JSONB").
	TextType("TEXT").
	JSON(
		extract,
		func(expr, alias string) string {
			return "jsonb_array_elements(" + expr + ") AS " + alias + "(value)"
		},
		func(alias string, path []string, s schema.ScalarType) string {
			return extract(alias+".value", path, s)
		},
	).
	Matching(
		func(expr, ph string) string { return "strpos(" + expr + ", " + ph + ") > 0" },
		func(expr, ph string) string { return "starts_with(" + expr + ", " + ph + ")" },
	).
	WithReservedWords(postgresReservedWords...).
	Build()
