package plan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/manifold/pkg/query"
)

var opSymbols = map[query.Op]string{
	query.OpEq:         "=",
	query.OpNe:         "!=",
	query.OpLt:         "<",
	query.OpLe:         "<=",
	query.OpGt:         ">",
	query.OpGe:         ">=",
	query.OpContains:   "contains",
	query.OpStartsWith: "startswith",
	query.OpIn:         "in",
}

// Explain renders the plan as stable, human-readable text, one stage per
// line.
func (p *Plan) Explain() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan %s on %s\n", p.Model.ID(), p.Backend)
	for _, st := range p.Stages() {
		fmt.Fprintf(&b, "  %-9s%s\n", st.Kind(), explainStage(st))
	}
	return b.String()
}

func explainStage(st Stage) string {
	switch s := st.(type) {
	case *FilterStage:
		return explainPredicate(s.Where, true)
	case *JoinStage:
		parts := make([]string, len(s.Joins))
		for i, j := range s.Joins {
			parts[i] = fmt.Sprintf("%s -> %s (%s)", j.Path, j.Target.ID(), j.Strategy)
		}
		return strings.Join(parts, ", ")
	case *SortStage:
		parts := make([]string, len(s.Keys))
		for i, k := range s.Keys {
			dir := "asc"
			if k.Desc {
				dir = "desc"
			}
			parts[i] = k.Field.Name + " " + dir
		}
		return strings.Join(parts, ", ")
	case *ProjectStage:
		out := fieldNames(s.Fields)
		if len(s.Hidden) > 0 {
			out += " [hidden: " + fieldNames(s.Hidden) + "]"
		}
		return out
	case *PaginateStage:
		parts := []string{"limit " + limitText(s.Limit), "offset " + strconv.FormatInt(s.Offset, 10)}
		if s.After != nil {
			parts = append(parts, "after ("+literals(s.After)+")")
		}
		if s.Dedup {
			parts = append(parts, "dedup by _id")
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

func limitText(n int64) string {
	if n == 0 {
		return "none"
	}
	return strconv.FormatInt(n, 10)
}

func fieldNames(fs []Field) string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.Name
	}
	return strings.Join(names, ", ")
}

func explainPredicate(p Predicate, top bool) string {
	switch n := p.(type) {
	case *Cond:
		field := n.Field.Name
		if n.Field.Array != nil {
			field = "any(" + field + ")"
		}
		if n.Op == query.OpIn {
			return fmt.Sprintf("%s in (%s)", field, literals(n.Args))
		}
		return fmt.Sprintf("%s %s %s", field, opSymbols[n.Op], literals(n.Args))
	case *Logic:
		sep := " AND "
		if n.Op == query.Or {
			sep = " OR "
		}
		parts := make([]string, len(n.Args))
		for i, a := range n.Args {
			parts[i] = explainPredicate(a, false)
		}
		if top {
			return strings.Join(parts, sep)
		}
		return "(" + strings.Join(parts, sep) + ")"
	case *Negation:
		return "NOT " + explainPredicate(n.Arg, false)
	}
	return "?"
}

func literals(vs []any) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		switch x := v.(type) {
		case nil:
			parts[i] = "null"
		case string:
			parts[i] = strconv.Quote(x)
		default:
			parts[i] = fmt.Sprint(x)
		}
	}
	return strings.Join(parts, ", ")
}
