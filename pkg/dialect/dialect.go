// Package dialect describes the SQL flavour spoken by a relational backend:
// identifier quoting, parameter placeholders, column types and the JSON
// functions used to reach into object and array columns.
//
// Dialects are pure data plus a handful of small rendering functions, so
// the SQL generator stays independent of any database driver.
package dialect

import (
	"strconv"
	"strings"

	"github.com/leapstack-labs/manifold/pkg/schema"
)

// PlaceholderStyle defines how query parameters are formatted.
type PlaceholderStyle int

const (
	// PlaceholderQuestion uses ? for all parameters (DuckDB, SQLite).
	PlaceholderQuestion PlaceholderStyle = iota
	// PlaceholderDollar uses $1, $2, etc. for parameters (PostgreSQL).
	PlaceholderDollar
)

// IdentifierConfig defines how identifiers are quoted.
type IdentifierConfig struct {
	Quote    string // Quote character: ", `, [
	QuoteEnd string // End quote character (usually same as Quote, ] for [)
	Escape   string // Escape sequence: "", ``, ]]
}

// ExtractFunc renders an expression that reads the scalar at path inside
// the JSON value expr. An empty path reads expr itself.
type ExtractFunc func(expr string, path []string, scalar schema.ScalarType) string

// ElementsFunc renders a FROM item that expands the JSON array in expr into
// one row per element under the given alias.
type ElementsFunc func(expr, alias string) string

// ElementFunc renders an expression reading path inside the current array
// element of alias. An empty path reads the element itself.
type ElementFunc func(alias string, path []string, scalar schema.ScalarType) string

// MatchFunc renders a case-sensitive substring or prefix test of expr
// against the placeholder ph.
type MatchFunc func(expr, ph string) string

// Dialect is the SQL flavour of one relational backend.
type Dialect struct {
	Name        string
	Identifiers IdentifierConfig
	Placeholder PlaceholderStyle

	// Column types keyed by scalar type. JSONType is used for object,
	// array and file columns; TextType for references and geometry.
	types    map[schema.ScalarType]string
	JSONType string
	TextType string

	// NoLimit is rendered in place of a limit when only an offset is set.
	// Empty means the dialect accepts OFFSET without LIMIT.
	NoLimit string

	// Savepoints is set when the dialect supports SAVEPOINT inside a
	// transaction.
	Savepoints bool

	extract    ExtractFunc
	elements   ElementsFunc
	element    ElementFunc
	contains   MatchFunc
	startsWith MatchFunc

	reservedWords map[string]struct{}
}

// FormatPlaceholder returns a placeholder for the given parameter index (1-based).
// Returns "?" for PlaceholderQuestion style, "$1", "$2" etc. for PlaceholderDollar style.
func (d *Dialect) FormatPlaceholder(index int) string {
	switch d.Placeholder {
	case PlaceholderDollar:
		return "$" + strconv.Itoa(index)
	default: // PlaceholderQuestion
		return "?"
	}
}

// IsReservedWord returns true if the word needs quoting when used as an identifier.
func (d *Dialect) IsReservedWord(word string) bool {
	_, ok := d.reservedWords[strings.ToLower(word)]
	return ok
}

// QuoteIdentifier quotes an identifier using the dialect's quote characters.
func (d *Dialect) QuoteIdentifier(name string) string {
	// Escape any existing quote end characters in the name (e.g., ] -> ]])
	escaped := strings.ReplaceAll(name, d.Identifiers.QuoteEnd, d.Identifiers.Escape)
	return d.Identifiers.Quote + escaped + d.Identifiers.QuoteEnd
}

// QuoteString renders s as a SQL string literal.
func (d *Dialect) QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ColumnType returns the column type used to store values of descriptor d.
func (d *Dialect) ColumnType(desc *schema.Descriptor) string {
	switch desc.Kind() {
	case schema.KindPrimitive, schema.KindSensitive:
		if t, ok := d.types[desc.Scalar()]; ok {
			return t
		}
		return d.TextType
	case schema.KindRef, schema.KindGeometry:
		return d.TextType
	default:
		return d.JSONType
	}
}

// Extract renders a read of the scalar at path inside the JSON value expr.
func (d *Dialect) Extract(expr string, path []string, scalar schema.ScalarType) string {
	return d.extract(expr, path, scalar)
}

// Elements renders a FROM item expanding the JSON array in expr.
func (d *Dialect) Elements(expr, alias string) string {
	return d.elements(expr, alias)
}

// Element renders a read of path inside the current element of alias.
func (d *Dialect) Element(alias string, path []string, scalar schema.ScalarType) string {
	return d.element(alias, path, scalar)
}

// Contains renders a case-sensitive substring test.
func (d *Dialect) Contains(expr, ph string) string {
	return d.contains(expr, ph)
}

// StartsWith renders a case-sensitive prefix test.
func (d *Dialect) StartsWith(expr, ph string) string {
	return d.startsWith(expr, ph)
}

// JSONPath renders path as a $.a.b style JSON path literal body.
func JSONPath(path []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, p := range path {
		b.WriteString(".")
		if isPlain(p) {
			b.WriteString(p)
			continue
		}
		b.WriteString(`"`)
		b.WriteString(strings.ReplaceAll(p, `"`, `\"`))
		b.WriteString(`"`)
	}
	return b.String()
}

func isPlain(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// ---------- Builder ----------

// Builder provides a fluent API for constructing dialects.
type Builder struct {
	dialect *Dialect
}

// NewDialect creates a new dialect builder with the given name.
// Identifiers default to ANSI double quotes, placeholders to ?.
func NewDialect(name string) *Builder {
	return &Builder{
		dialect: &Dialect{
			Name: name,
			Identifiers: IdentifierConfig{
				Quote:    `"`,
				QuoteEnd: `"`,
				Escape:   `""`,
			},
			types:         make(map[schema.ScalarType]string),
			JSONType:      "TEXT",
			TextType:      "TEXT",
			reservedWords: make(map[string]struct{}),
			Savepoints:    true,
			contains: func(expr, ph string) string {
				return "POSITION(" + ph + " IN " + expr + ") > 0"
			},
			startsWith: func(expr, ph string) string {
				return "POSITION(" + ph + " IN " + expr + ") = 1"
			},
		},
	}
}

// Identifiers configures identifier quoting.
func (b *Builder) Identifiers(quote, quoteEnd, escape string) *Builder {
	b.dialect.Identifiers = IdentifierConfig{Quote: quote, QuoteEnd: quoteEnd, Escape: escape}
	return b
}

// PlaceholderStyle sets how query parameters are formatted.
func (b *Builder) PlaceholderStyle(style PlaceholderStyle) *Builder {
	b.dialect.Placeholder = style
	return b
}

// ColumnType sets the column type of a scalar.
func (b *Builder) ColumnType(s schema.ScalarType, sqlType string) *Builder {
	b.dialect.types[s] = sqlType
	return b
}

// JSONType sets the column type of object, array and file columns.
func (b *Builder) JSONType(sqlType string) *Builder {
	b.dialect.JSONType = sqlType
	return b
}

// TextType sets the column type of references, geometry and unmapped scalars.
func (b *Builder) TextType(sqlType string) *Builder {
	b.dialect.TextType = sqlType
	return b
}

// NoLimit sets the LIMIT value that means unbounded.
func (b *Builder) NoLimit(v string) *Builder {
	b.dialect.NoLimit = v
	return b
}

// NoSavepoints marks the dialect as lacking SAVEPOINT support.
func (b *Builder) NoSavepoints() *Builder {
	b.dialect.Savepoints = false
	return b
}

// JSON wires the JSON access functions.
func (b *Builder) JSON(extract ExtractFunc, elements ElementsFunc, element ElementFunc) *Builder {
	b.dialect.extract = extract
	b.dialect.elements = elements
	b.dialect.element = element
	return b
}

// Matching wires the substring and prefix tests.
func (b *Builder) Matching(contains, startsWith MatchFunc) *Builder {
	b.dialect.contains = contains
	b.dialect.startsWith = startsWith
	return b
}

// WithReservedWords registers words that need quoting when used as identifiers.
func (b *Builder) WithReservedWords(words ...string) *Builder {
	for _, w := range words {
		b.dialect.reservedWords[strings.ToLower(w)] = struct{}{}
	}
	return b
}

// Build returns the constructed dialect.
// It panics when the JSON functions were not wired, since no relational
// backend can serve object or array properties without them.
func (b *Builder) Build() *Dialect {
	d := b.dialect
	if d.extract == nil || d.elements == nil || d.element == nil {
		panic("dialect " + d.Name + ": JSON functions are required")
	}
	return d
}
