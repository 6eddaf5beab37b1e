// Package planeval runs compiled plans in process, for backends that have
// no query engine of their own. References are followed by fetching the
// target record once per id and caching it for the rest of the run.
package planeval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/manifold/pkg/plan"
	"github.com/leapstack-labs/manifold/pkg/query"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// Doc is a stored record with properties in native form: objects are maps,
// arrays are slices and references hold the target _id.
type Doc = map[string]any

// Lookup fetches a record by id. It returns nil when the record does not
// exist.
type Lookup func(ctx context.Context, m *schema.Model, id string) (Doc, error)

// Evaluate filters, sorts, windows and projects docs according to p.
func Evaluate(ctx context.Context, p *plan.Plan, docs []Doc, lookup Lookup) ([]plan.Row, error) {
	e := &evaluator{ctx: ctx, plan: p, lookup: lookup, cache: make(map[string]Doc)}
	if p.Join != nil {
		e.joins = make(map[string]plan.Join, len(p.Join.Joins))
		for _, j := range p.Join.Joins {
			e.joins[j.Path] = j
		}
	}

	type candidate struct {
		doc  Doc
		sort []any
	}
	var matched []candidate
	seen := make(map[any]bool)
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.Filter != nil {
			ok, err := e.match(d, p.Filter.Where)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		if p.Paginate.Dedup {
			id := d[schema.IDProperty]
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		key := make([]any, len(p.Sort.Keys))
		for i, k := range p.Sort.Keys {
			v, err := e.single(d, k.Field)
			if err != nil {
				return nil, err
			}
			key[i] = v
		}
		if p.Paginate.After != nil && CompareTuple(p.Sort.Keys, key, p.Paginate.After) <= 0 {
			continue
		}
		matched = append(matched, candidate{doc: d, sort: key})
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return CompareTuple(p.Sort.Keys, matched[i].sort, matched[j].sort) < 0
	})

	start := min(int(p.Paginate.Offset), len(matched))
	matched = matched[start:]
	if p.Paginate.Limit > 0 && int(p.Paginate.Limit) < len(matched) {
		matched = matched[:p.Paginate.Limit]
	}

	rows := make([]plan.Row, 0, len(matched))
	for _, c := range matched {
		row := make(plan.Row)
		for _, f := range p.Fields() {
			v, err := e.single(c.doc, f)
			if err != nil {
				return nil, err
			}
			row[f.Name] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type evaluator struct {
	ctx    context.Context
	plan   *plan.Plan
	lookup Lookup
	joins  map[string]plan.Join
	cache  map[string]Doc
}

// source returns the record a field's column lives in, following joins.
func (e *evaluator) source(root Doc, path string) (Doc, error) {
	if path == "" {
		return root, nil
	}
	j, ok := e.joins[path]
	if !ok {
		return nil, fmt.Errorf("plan has no join for %q", path)
	}
	from, err := e.source(root, j.From)
	if err != nil || from == nil {
		return nil, err
	}
	id, ok := from[j.Column].(string)
	if !ok || id == "" {
		return nil, nil
	}
	key := string(j.Target.ID()) + "\x00" + id
	if d, ok := e.cache[key]; ok {
		return d, nil
	}
	if e.lookup == nil {
		return nil, fmt.Errorf("cannot follow %q without a lookup", path)
	}
	d, err := e.lookup(e.ctx, j.Target, id)
	if err != nil {
		return nil, err
	}
	e.cache[key] = d
	return d, nil
}

// values returns the field value, or every element value when the field
// lives in array elements.
func (e *evaluator) values(d Doc, f plan.Field) ([]any, error) {
	src, err := e.source(d, f.Source)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return []any{nil}, nil
	}
	v := src[f.Column]
	if f.Array == nil {
		return []any{dig(v, f.Sub)}, nil
	}
	items, _ := v.([]any)
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, dig(it, f.Sub))
	}
	return out, nil
}

// single returns the field value; array fields return the whole array.
func (e *evaluator) single(d Doc, f plan.Field) (any, error) {
	if f.Array != nil && f.Desc == f.Array {
		src, err := e.source(d, f.Source)
		if err != nil || src == nil {
			return nil, err
		}
		return src[f.Column], nil
	}
	vs, err := e.values(d, f)
	if err != nil || len(vs) == 0 {
		return nil, err
	}
	return vs[0], nil
}

func dig(v any, sub []string) any {
	for _, k := range sub {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[k]
	}
	return v
}

func (e *evaluator) match(d Doc, p plan.Predicate) (bool, error) {
	switch n := p.(type) {
	case *plan.Logic:
		for _, a := range n.Args {
			ok, err := e.match(d, a)
			if err != nil {
				return false, err
			}
			if n.Op == query.And && !ok {
				return false, nil
			}
			if n.Op == query.Or && ok {
				return true, nil
			}
		}
		return n.Op == query.And, nil
	case *plan.Negation:
		ok, err := e.match(d, n.Arg)
		return !ok, err
	case *plan.Cond:
		vs, err := e.values(d, n.Field)
		if err != nil {
			return false, err
		}
		for _, v := range vs {
			if Test(n.Op, v, n.Args) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unsupported predicate %T", p)
}

// Test applies a comparison to one value. Comparisons with a missing value
// are false except for = null.
func Test(op query.Op, v any, args []any) bool {
	switch op {
	case query.OpEq:
		if args[0] == nil {
			return v == nil
		}
		return v != nil && Compare(v, args[0]) == 0
	case query.OpNe:
		if args[0] == nil {
			return v != nil
		}
		return v != nil && Compare(v, args[0]) != 0
	case query.OpIn:
		for _, a := range args {
			if v != nil && Compare(v, a) == 0 {
				return true
			}
		}
		return false
	}
	if v == nil {
		return false
	}
	switch op {
	case query.OpLt:
		return Compare(v, args[0]) < 0
	case query.OpLe:
		return Compare(v, args[0]) <= 0
	case query.OpGt:
		return Compare(v, args[0]) > 0
	case query.OpGe:
		return Compare(v, args[0]) >= 0
	case query.OpContains:
		s, ok := v.(string)
		return ok && strings.Contains(s, fmt.Sprint(args[0]))
	case query.OpStartsWith:
		s, ok := v.(string)
		return ok && strings.HasPrefix(s, fmt.Sprint(args[0]))
	}
	return false
}

// Compare orders two scalar values. Nil sorts first. Numbers compare by
// value whatever their Go type; other mixed types compare by type name.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// CompareTuple orders two sort key tuples. Nulls come first in ascending
// keys and last in descending ones.
func CompareTuple(keys []plan.SortKey, a, b []any) int {
	for i, k := range keys {
		c := Compare(a[i], b[i])
		if k.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}
