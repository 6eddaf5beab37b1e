// Package sqlite provides the SQLite SQL dialect definition.
// This package is pure Go with no database driver dependencies.
//
// Object and array properties are stored as JSON text and read with the
// json1 functions. Booleans are stored as 0 and 1, dates and datetimes as
// ISO-8601 text, which sorts chronologically.
package sqlite

import (
	"github.com/leapstack-labs/manifold/pkg/dialect"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

func init() {
	dialect.Register(SQLite)
}

var sqliteReservedWords = []string{
	"abort", "action", "add", "after", "all", "alter", "and", "as", "asc",
	"between", "by", "case", "check", "collate", "column", "commit",
	"constraint", "create", "cross", "default", "delete", "desc", "distinct",
	"drop", "else", "end", "escape", "except", "exists", "foreign", "from",
	"glob", "group", "having", "in", "index", "insert", "intersect", "into",
	"is", "isnull", "join", "key", "left", "like", "limit", "match", "not",
	"notnull", "null", "offset", "on", "or", "order", "primary", "references",
	"regexp", "replace", "select", "set", "table", "then", "to", "union",
	"unique", "update", "using", "values", "when", "where",
}

// SQLite is the SQLite dialect.
var SQLite = dialect.NewDialect("sqlite").
	PlaceholderStyle(dialect.PlaceholderQuestion).
	ColumnType(schema.ScalarString, "TEXT").
	ColumnType(schema.ScalarInteger, "INTEGER").
	ColumnType(schema.ScalarNumber, "REAL").
	ColumnType(schema.ScalarBoolean, "INTEGER").
	ColumnType(schema.ScalarDate, "TEXT").
	ColumnType(schema.ScalarDateTime, "TEXT").
	JSONType("TEXT").
	TextType("TEXT").
	NoLimit("-1").
	JSON(
		func(expr string, path []string, _ schema.ScalarType) string {
			return "json_extract(" + expr + ", '" + dialect.JSONPath(path) + "')"
		},
		func(expr, alias string) string {
			return "json_each(" + expr + ") AS " + alias
		},
		func(alias string, path []string, _ schema.ScalarType) string {
			// json_each yields scalars as SQL values and containers as JSON text.
			if len(path) == 0 {
				return alias + ".value"
			}
			return "json_extract(" + alias + ".value, '" + dialect.JSONPath(path) + "')"
		},
	).
	Matching(
		func(expr, ph string) string { return "instr(" + expr + ", " + ph + ") > 0" },
		func(expr, ph string) string { return "instr(" + expr + ", " + ph + ") = 1" },
	).
	WithReservedWords(sqliteReservedWords...).
	Build()
