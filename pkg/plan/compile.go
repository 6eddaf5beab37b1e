package plan

import (
	"sort"
	"strings"

	"github.com/leapstack-labs/manifold/pkg/auth"
	"github.com/leapstack-labs/manifold/pkg/query"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// Options tune compilation.
type Options struct {
	// MaxLimit caps the page size; 0 leaves limits uncapped.
	MaxLimit int64
}

// Compile lowers q into a plan for model m stored in a backend of the given
// kind. Field references are checked against scope with the getall action;
// a nil scope skips authorization, which only operator tooling should use.
// Compile performs no I/O.
func Compile(q *query.Query, g *schema.Graph, m schema.ModelID, backend schema.BackendKind, scope *auth.Scope, opts Options) (*Plan, error) {
	model, ok := g.Model(m)
	if !ok {
		return nil, semantic(string(m), "model does not exist")
	}
	if q == nil {
		q = &query.Query{}
	}
	c := &compiler{
		graph:   g,
		model:   model,
		backend: backend,
		scope:   scope,
		joins:   make(map[string]Join),
	}

	p := &Plan{Model: model, Backend: backend}

	if q.Filter != nil {
		where, err := c.predicate(q.Filter)
		if err != nil {
			return nil, err
		}
		p.Filter = &FilterStage{Where: where}
	}

	keys, err := c.sortKeys(q.Sort)
	if err != nil {
		return nil, err
	}
	p.Sort = SortStage{Keys: keys}

	fields, err := c.projection(q.Select)
	if err != nil {
		return nil, err
	}
	p.Project = ProjectStage{Fields: fields}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		seen[f.Name] = true
	}
	for _, k := range keys {
		if !seen[k.Field.Name] {
			seen[k.Field.Name] = true
			p.Project.Hidden = append(p.Project.Hidden, k.Field)
		}
	}

	if len(c.joins) > 0 {
		paths := make([]string, 0, len(c.joins))
		for path := range c.joins {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		p.Join = &JoinStage{}
		for _, path := range paths {
			p.Join.Joins = append(p.Join.Joins, c.joins[path])
		}
	}

	if err := c.paginate(p, q, opts); err != nil {
		return nil, err
	}
	return p, nil
}

type compiler struct {
	graph   *schema.Graph
	model   *schema.Model
	backend schema.BackendKind
	scope   *auth.Scope
	joins   map[string]Join
	arrays  bool
}

func (c *compiler) allowed(m schema.ModelID, d *schema.Descriptor) bool {
	if c.scope == nil || d.IsReserved() {
		return true
	}
	model, _ := c.graph.Model(m)
	return c.scope.AllowProperty(model, d, auth.ActionGetAll)
}

// revealed reports whether a filter or sort may look at the value behind
// d. Sensitive values need the explicit property capability.
func (c *compiler) revealed(d *schema.Descriptor) bool {
	if c.scope == nil || schema.Element(d).Kind() != schema.KindSensitive {
		return true
	}
	model, _ := c.graph.Model(d.Model())
	return c.scope.Explicit(model, d, auth.ActionGetAll)
}

// resolve turns a dotted name into a Field, registering the joins its
// reference hops need.
func (c *compiler) resolve(name string) (Field, error) {
	path, err := c.graph.ResolvePath(c.model.ID(), name)
	if err != nil {
		return Field{}, semantic(name, "unknown field")
	}

	f := Field{Name: name}
	parts := strings.Split(name, ".")
	source := ""
	atColumn := true
	for i, st := range path.Steps {
		d := st.Desc
		last := i == len(path.Steps)-1
		if !c.allowed(st.Model, d) {
			return Field{}, semantic(name, "not authorized")
		}

		if atColumn {
			f.Source = source
			f.Column = d.Column()
			f.Sub = nil
			atColumn = false
		} else {
			f.Sub = append(f.Sub, d.Name())
		}

		switch d.Kind() {
		case schema.KindArray:
			if f.Array != nil || len(f.Sub) > 0 {
				return Field{}, semantic(name, "arrays are only supported as top-level properties")
			}
			f.Array = d
			if !last && d.Items().Kind() == schema.KindRef {
				return Field{}, semantic(name, "references inside arrays cannot be traversed")
			}
		case schema.KindRef:
			if last {
				break
			}
			if f.Array != nil || len(f.Sub) > 0 {
				return Field{}, semantic(name, "only top-level references can be traversed")
			}
			joinPath := strings.Join(parts[:i+1], ".")
			if _, ok := c.joins[joinPath]; !ok {
				target, _ := c.graph.Model(d.Target())
				strategy := JoinLeft
				if c.backend != schema.BackendRelational {
					strategy = JoinMultiFetch
				}
				c.joins[joinPath] = Join{
					Path:     joinPath,
					From:     source,
					Column:   f.Column,
					Target:   target,
					Strategy: strategy,
				}
			}
			source = joinPath
			atColumn = true
		}
	}
	f.Desc = path.Leaf()
	return f, nil
}

func (c *compiler) predicate(e query.Expr) (Predicate, error) {
	switch n := e.(type) {
	case *query.Logical:
		out := &Logic{Op: n.Op, Args: make([]Predicate, len(n.Args))}
		for i, a := range n.Args {
			p, err := c.predicate(a)
			if err != nil {
				return nil, err
			}
			out.Args[i] = p
		}
		return out, nil
	case *query.Not:
		p, err := c.predicate(n.Arg)
		if err != nil {
			return nil, err
		}
		return &Negation{Arg: p}, nil
	case *query.Compare:
		return c.cond(n)
	}
	return nil, semantic("", "unsupported expression %T", e)
}

func (c *compiler) cond(n *query.Compare) (*Cond, error) {
	name := n.Field.String()
	f, err := c.resolve(name)
	if err != nil {
		return nil, err
	}
	if !c.revealed(f.Desc) {
		return nil, semantic(name, "not authorized")
	}
	elem := schema.Element(f.Desc)
	if f.Array != nil && f.Desc == f.Array {
		elem = f.Array.Items()
	}
	if !opAllowed(elem, n.Op) {
		return nil, semantic(name, "operator %s does not apply to %s", n.Op, describe(elem))
	}
	if f.Array != nil {
		c.arrays = true
	}

	args := make([]any, len(n.Values))
	for i, v := range n.Values {
		if v.Kind == query.ValueNull {
			if n.Op != query.OpEq && n.Op != query.OpNe {
				return nil, semantic(name, "null can only be compared with = or !=")
			}
			args[i] = nil
			continue
		}
		arg, err := coerceLiteral(elem, v)
		if err != nil {
			return nil, semantic(name, "%v", err)
		}
		args[i] = arg
	}
	return &Cond{Field: f, Op: n.Op, Args: args}, nil
}

func describe(d *schema.Descriptor) string {
	if d.Kind() == schema.KindPrimitive {
		return string(d.Scalar())
	}
	return d.Kind().String()
}

// opAllowed encodes which operators apply to which property types.
func opAllowed(d *schema.Descriptor, op query.Op) bool {
	switch d.Kind() {
	case schema.KindPrimitive:
		switch op {
		case query.OpEq, query.OpNe, query.OpIn:
			return true
		case query.OpContains, query.OpStartsWith:
			return d.Scalar() == schema.ScalarString
		}
		return op.Ordering() && d.Scalar().Ordered()
	case schema.KindSensitive, schema.KindRef:
		return op == query.OpEq || op == query.OpNe || op == query.OpIn
	case schema.KindGeometry:
		return op == query.OpEq || op == query.OpNe
	}
	return false
}

func coerceLiteral(d *schema.Descriptor, v query.Value) (any, error) {
	switch d.Kind() {
	case schema.KindRef, schema.KindGeometry:
		if v.Kind != query.ValueString {
			return nil, &schema.CoerceError{Scalar: schema.ScalarString, Value: v.Native()}
		}
		return v.Raw, nil
	}
	return d.Scalar().Coerce(v.Native())
}

func sortable(f Field) bool {
	if f.Array != nil {
		return false
	}
	switch f.Desc.Kind() {
	case schema.KindPrimitive, schema.KindRef:
		return true
	}
	return false
}

func (c *compiler) sortKeys(in []query.SortKey) ([]SortKey, error) {
	var keys []SortKey
	hasPK := false
	seen := make(map[string]bool)
	for _, k := range in {
		name := k.Field.String()
		if seen[name] {
			return nil, semantic(name, "sorted more than once")
		}
		seen[name] = true
		f, err := c.resolve(name)
		if err != nil {
			return nil, err
		}
		if !c.revealed(f.Desc) {
			return nil, semantic(name, "not authorized")
		}
		if !sortable(f) {
			return nil, semantic(name, "cannot sort by %s", describe(f.Desc))
		}
		if f.Source == "" && f.Column == schema.IDProperty {
			hasPK = true
		}
		keys = append(keys, SortKey{Field: f, Desc: k.Desc})
	}
	if !hasPK {
		pk, err := c.resolve(schema.IDProperty)
		if err != nil {
			return nil, err
		}
		keys = append(keys, SortKey{Field: pk})
	}
	return keys, nil
}

func (c *compiler) projection(sel []query.Path) ([]Field, error) {
	var fields []Field
	seen := make(map[string]bool)
	add := func(f Field) {
		if !seen[f.Name] {
			seen[f.Name] = true
			fields = append(fields, f)
		}
	}

	if sel == nil {
		for _, d := range c.model.Properties() {
			if d.Hidden() || !c.allowed(c.model.ID(), d) {
				continue
			}
			f, err := c.resolve(d.Name())
			if err != nil {
				return nil, err
			}
			add(f)
		}
		return fields, nil
	}

	for _, name := range []string{schema.IDProperty, schema.RevisionProperty} {
		f, err := c.resolve(name)
		if err != nil {
			return nil, err
		}
		add(f)
	}
	for _, p := range sel {
		name := p.String()
		f, err := c.resolve(name)
		if err != nil {
			return nil, err
		}
		if f.Array != nil && f.Desc != f.Array {
			return nil, semantic(name, "cannot select inside array elements")
		}
		add(f)
	}
	return fields, nil
}

func (c *compiler) paginate(p *Plan, q *query.Query, opts Options) error {
	pg := PaginateStage{Dedup: c.arrays}
	if q.Limit != nil {
		pg.Limit = *q.Limit
	}
	if opts.MaxLimit > 0 && (pg.Limit == 0 || pg.Limit > opts.MaxLimit) {
		pg.Limit = opts.MaxLimit
	}
	if q.Offset != nil {
		pg.Offset = *q.Offset
	}
	if q.Cursor != "" {
		if q.Offset != nil {
			return semantic("cursor", "cannot be combined with offset")
		}
		after, err := decodeCursor(q.Cursor, p)
		if err != nil {
			return err
		}
		pg.After = after
	}
	p.Paginate = pg
	return nil
}
