package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/manifold/pkg/dialect"
	"github.com/leapstack-labs/manifold/pkg/plan"
	"github.com/leapstack-labs/manifold/pkg/query"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// Statement is a SQL text with its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Generator renders SQL for one dialect.
type Generator struct {
	d *dialect.Dialect
}

// New returns a generator for d.
func New(d *dialect.Dialect) *Generator {
	return &Generator{d: d}
}

// Dialect returns the dialect the generator renders.
func (g *Generator) Dialect() *dialect.Dialect { return g.d }

type params struct {
	d    *dialect.Dialect
	args []any
}

func (p *params) add(v any) string {
	p.args = append(p.args, v)
	return p.d.FormatPlaceholder(len(p.args))
}

type selectBuilder struct {
	g       *Generator
	p       *plan.Plan
	params  *params
	aliases map[string]string
}

// Select renders p. The returned fields give the meaning of each output
// column in order.
func (g *Generator) Select(p *plan.Plan) (Statement, []plan.Field, error) {
	b := &selectBuilder{
		g:       g,
		p:       p,
		params:  &params{d: g.d},
		aliases: map[string]string{"": "t0"},
	}
	var joins []string
	if p.Join != nil {
		for i, j := range p.Join.Joins {
			if j.Strategy != plan.JoinLeft {
				return Statement{}, nil, fmt.Errorf("sqlgen: join %s uses %s", j.Path, j.Strategy)
			}
			alias := "t" + strconv.Itoa(i+1)
			from, ok := b.aliases[j.From]
			if !ok {
				return Statement{}, nil, fmt.Errorf("sqlgen: join %s starts from unknown join %q", j.Path, j.From)
			}
			b.aliases[j.Path] = alias
			joins = append(joins, fmt.Sprintf("LEFT JOIN %s AS %s ON %s.%s = %s.%s",
				g.d.QuoteIdentifier(j.Target.Table()), alias,
				alias, g.d.QuoteIdentifier(schema.IDProperty),
				from, g.d.QuoteIdentifier(j.Column)))
		}
	}

	fields := p.Fields()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = b.column(f) + " AS c" + strconv.Itoa(i)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(g.d.QuoteIdentifier(p.Model.Table()))
	sb.WriteString(" AS t0")
	for _, j := range joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}

	var where []string
	if p.Filter != nil {
		where = append(where, b.predicate(p.Filter.Where))
	}
	if len(p.Paginate.After) > 0 {
		if len(p.Paginate.After) != len(p.Sort.Keys) {
			return Statement{}, nil, fmt.Errorf("sqlgen: cursor has %d values for %d sort keys", len(p.Paginate.After), len(p.Sort.Keys))
		}
		where = append(where, b.keyset())
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	order := make([]string, len(p.Sort.Keys))
	for i, k := range p.Sort.Keys {
		if k.Desc {
			order[i] = b.column(k.Field) + " DESC NULLS LAST"
		} else {
			order[i] = b.column(k.Field) + " ASC NULLS FIRST"
		}
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(order, ", "))

	switch {
	case p.Paginate.Limit > 0:
		sb.WriteString(" LIMIT " + strconv.FormatInt(p.Paginate.Limit, 10))
	case p.Paginate.Offset > 0 && g.d.NoLimit != "":
		sb.WriteString(" LIMIT " + g.d.NoLimit)
	}
	if p.Paginate.Offset > 0 {
		sb.WriteString(" OFFSET " + strconv.FormatInt(p.Paginate.Offset, 10))
	}
	return Statement{SQL: sb.String(), Args: b.params.args}, fields, nil
}

// scalarOf returns the scalar type values of d compare as.
func scalarOf(d *schema.Descriptor) schema.ScalarType {
	switch d.Kind() {
	case schema.KindPrimitive, schema.KindSensitive:
		return d.Scalar()
	case schema.KindArray:
		return scalarOf(d.Items())
	}
	return schema.ScalarString
}

// column renders the value of f as a scalar or JSON expression. Fields
// inside array elements render the whole array column.
func (b *selectBuilder) column(f plan.Field) string {
	col := b.aliases[f.Source] + "." + b.g.d.QuoteIdentifier(f.Column)
	if f.Array != nil || len(f.Sub) == 0 {
		return col
	}
	return b.g.d.Extract(col, f.Sub, scalarOf(f.Desc))
}

func (b *selectBuilder) predicate(p plan.Predicate) string {
	switch n := p.(type) {
	case *plan.Logic:
		parts := make([]string, len(n.Args))
		for i, a := range n.Args {
			parts[i] = b.predicate(a)
		}
		sep := " AND "
		if n.Op == query.Or {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")"
	case *plan.Negation:
		// Two-valued negation: a comparison against NULL is false, so its
		// negation holds.
		return "NOT COALESCE(" + b.predicate(n.Arg) + ", FALSE)"
	case *plan.Cond:
		if n.Field.Array != nil {
			return b.arrayCond(n)
		}
		return b.compare(b.column(n.Field), n.Op, n.Args)
	}
	panic(fmt.Sprintf("sqlgen: unexpected predicate %T", p))
}

func (b *selectBuilder) arrayCond(c *plan.Cond) string {
	col := b.aliases[c.Field.Source] + "." + b.g.d.QuoteIdentifier(c.Field.Column)
	elem := b.g.d.Element("e", c.Field.Sub, scalarOf(c.Field.Desc))
	return "EXISTS (SELECT 1 FROM " + b.g.d.Elements(col, "e") + " WHERE " + b.compare(elem, c.Op, c.Args) + ")"
}

func (b *selectBuilder) compare(expr string, op query.Op, args []any) string {
	switch op {
	case query.OpEq:
		if args[0] == nil {
			return expr + " IS NULL"
		}
		return expr + " = " + b.params.add(args[0])
	case query.OpNe:
		if args[0] == nil {
			return expr + " IS NOT NULL"
		}
		return expr + " <> " + b.params.add(args[0])
	case query.OpLt:
		return expr + " < " + b.params.add(args[0])
	case query.OpLe:
		return expr + " <= " + b.params.add(args[0])
	case query.OpGt:
		return expr + " > " + b.params.add(args[0])
	case query.OpGe:
		return expr + " >= " + b.params.add(args[0])
	case query.OpContains:
		return b.g.d.Contains(expr, b.params.add(args[0]))
	case query.OpStartsWith:
		return b.g.d.StartsWith(expr, b.params.add(args[0]))
	case query.OpIn:
		phs := make([]string, len(args))
		for i, a := range args {
			phs[i] = b.params.add(a)
		}
		return expr + " IN (" + strings.Join(phs, ", ") + ")"
	}
	panic(fmt.Sprintf("sqlgen: unexpected operator %s", op))
}

// keyset renders "sort tuple is strictly after After" under the ordering
// ASC NULLS FIRST, DESC NULLS LAST.
func (b *selectBuilder) keyset() string {
	keys := b.p.Sort.Keys
	after := b.p.Paginate.After
	var ors []string
	for i := range keys {
		var ands []string
		for j := 0; j < i; j++ {
			ands = append(ands, b.equal(b.column(keys[j].Field), after[j]))
		}
		ands = append(ands, b.after(b.column(keys[i].Field), keys[i].Desc, after[i]))
		ors = append(ors, "("+strings.Join(ands, " AND ")+")")
	}
	return "(" + strings.Join(ors, " OR ") + ")"
}

func (b *selectBuilder) equal(expr string, v any) string {
	if v == nil {
		return expr + " IS NULL"
	}
	return expr + " = " + b.params.add(v)
}

func (b *selectBuilder) after(expr string, desc bool, v any) string {
	switch {
	case !desc && v == nil:
		return expr + " IS NOT NULL"
	case !desc:
		return expr + " > " + b.params.add(v)
	case v == nil:
		return "1 = 0"
	default:
		return "(" + expr + " < " + b.params.add(v) + " OR " + expr + " IS NULL)"
	}
}
