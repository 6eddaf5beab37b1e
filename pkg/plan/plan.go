// Package plan compiles parsed queries into backend-neutral execution plans.
//
// A Plan always lists its stages in the order filter, join, sort, project,
// paginate, whatever order the clauses had in the query text. Every field
// reference is resolved against the schema graph at compile time, so a
// plan that compiles never fails on an unknown field at run time.
package plan

import (
	"github.com/leapstack-labs/manifold/pkg/query"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// StageKind names a plan stage.
type StageKind uint8

// Stage kinds, in execution order.
const (
	StageFilter StageKind = iota + 1
	StageJoin
	StageSort
	StageProject
	StagePaginate
)

func (k StageKind) String() string {
	switch k {
	case StageFilter:
		return "filter"
	case StageJoin:
		return "join"
	case StageSort:
		return "sort"
	case StageProject:
		return "project"
	case StagePaginate:
		return "paginate"
	}
	return "unknown"
}

// Stage is one step of a plan.
type Stage interface {
	Kind() StageKind
}

// Field is a resolved field reference.
type Field struct {
	// Name is the dotted path as written, e.g. "country.name".
	Name string
	// Source is the join path the column belongs to; "" is the root model.
	Source string
	// Column is the top-level column of the source model.
	Column string
	// Sub is the path inside the column value: object keys, or keys inside
	// each array element when Array is set.
	Sub []string
	// Array is the array descriptor whose elements hold the value.
	Array *schema.Descriptor
	// Desc is the descriptor the path ends on.
	Desc *schema.Descriptor
}

// Predicate is a resolved filter node.
type Predicate interface {
	predicate()
}

// Cond compares a field. Args are coerced to the field's scalar type.
// When the field lives in array elements the condition holds if any
// element satisfies it.
type Cond struct {
	Field Field
	Op    query.Op
	Args  []any
}

// Logic is an and/or over predicates.
type Logic struct {
	Op   query.BoolOp
	Args []Predicate
}

// Negation negates a predicate.
type Negation struct {
	Arg Predicate
}

func (*Cond) predicate()     {}
func (*Logic) predicate()    {}
func (*Negation) predicate() {}

// FilterStage restricts records.
type FilterStage struct {
	Where Predicate
}

// JoinStrategy is how a reference is followed.
type JoinStrategy uint8

// Join strategies.
const (
	// JoinLeft expands the reference in the backend query.
	JoinLeft JoinStrategy = iota + 1
	// JoinMultiFetch loads referenced records with separate lookups.
	JoinMultiFetch
)

func (s JoinStrategy) String() string {
	if s == JoinMultiFetch {
		return "multi-fetch"
	}
	return "left join"
}

// Join follows one reference column.
type Join struct {
	// Path is the dotted path of the reference from the root model.
	Path string
	// From is the join path holding the reference column; "" is the root.
	From     string
	Column   string
	Target   *schema.Model
	Strategy JoinStrategy
}

// JoinStage expands references needed by filter, sort and projection.
// Joins are ordered by Path, so a join always follows the join it starts
// from.
type JoinStage struct {
	Joins []Join
}

// SortKey orders by one field.
type SortKey struct {
	Field Field
	Desc  bool
}

// SortStage orders records. The last key is always the primary key, which
// makes the order total.
type SortStage struct {
	Keys []SortKey
}

// ProjectStage selects output fields. Hidden fields are read only to build
// cursor tokens and are dropped from results.
type ProjectStage struct {
	Fields []Field
	Hidden []Field
}

// PaginateStage limits the result window.
type PaginateStage struct {
	// Limit is 0 when unlimited.
	Limit  int64
	Offset int64
	// After holds the sort key tuple of the last record of the previous
	// page; records strictly after it are returned.
	After []any
	// Dedup is set when array predicates are present: records must appear
	// at most once, keyed by primary key, before the window is applied.
	Dedup bool
}

func (*FilterStage) Kind() StageKind   { return StageFilter }
func (*JoinStage) Kind() StageKind     { return StageJoin }
func (*SortStage) Kind() StageKind     { return StageSort }
func (*ProjectStage) Kind() StageKind  { return StageProject }
func (*PaginateStage) Kind() StageKind { return StagePaginate }

// Plan is a compiled query for one model.
type Plan struct {
	Model   *schema.Model
	Backend schema.BackendKind

	Filter   *FilterStage
	Join     *JoinStage
	Sort     SortStage
	Project  ProjectStage
	Paginate PaginateStage
}

// Stages returns the stages present, in execution order.
func (p *Plan) Stages() []Stage {
	var out []Stage
	if p.Filter != nil {
		out = append(out, p.Filter)
	}
	if p.Join != nil {
		out = append(out, p.Join)
	}
	return append(out, &p.Sort, &p.Project, &p.Paginate)
}

// Fields returns every projected field including hidden ones.
func (p *Plan) Fields() []Field {
	out := make([]Field, 0, len(p.Project.Fields)+len(p.Project.Hidden))
	out = append(out, p.Project.Fields...)
	return append(out, p.Project.Hidden...)
}

// WithPage returns a copy of p reading the page after the given sort key
// tuple. Streaming readers use it to walk a result set in batches.
func (p *Plan) WithPage(after []any, limit int64) *Plan {
	cp := *p
	cp.Paginate.After = after
	cp.Paginate.Offset = 0
	cp.Paginate.Limit = limit
	return &cp
}

// SortValues extracts the sort key tuple from a result row.
func (p *Plan) SortValues(row Row) []any {
	out := make([]any, len(p.Sort.Keys))
	for i, k := range p.Sort.Keys {
		out[i] = row[k.Field.Name]
	}
	return out
}
