package schema

import (
	"fmt"
	"strings"
)

// Graph is the frozen, read-only model graph. Models refer to each other by
// ModelID through the arena, so reference cycles are harmless. A Graph is
// safe for concurrent use.
type Graph struct {
	models map[ModelID]*Model
	order  []ModelID
}

// Model returns a model by id.
func (g *Graph) Model(id ModelID) (*Model, bool) {
	m, ok := g.models[id]
	return m, ok
}

// Models returns all models ordered by id.
func (g *Graph) Models() []*Model {
	out := make([]*Model, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.models[id])
	}
	return out
}

// Step is one hop of a resolved path.
type Step struct {
	Model ModelID
	Desc  *Descriptor
}

// Path is a dotted field reference resolved against the graph.
type Path struct {
	Raw   string
	Steps []Step
}

// Leaf returns the descriptor the path ends on.
func (p Path) Leaf() *Descriptor {
	if len(p.Steps) == 0 {
		return nil
	}
	return p.Steps[len(p.Steps)-1].Desc
}

// Joins reports whether the path crosses a reference into another model.
func (p Path) Joins() bool {
	for _, s := range p.Steps[:max(len(p.Steps)-1, 0)] {
		if derefKind(s.Desc) == KindRef {
			return true
		}
	}
	return false
}

// ThroughArray reports whether any step of the path is an array.
func (p Path) ThroughArray() bool {
	for _, s := range p.Steps {
		if s.Desc.kind == KindArray {
			return true
		}
	}
	return false
}

func (p Path) String() string { return p.Raw }

// PathError reports a field reference that does not resolve.
type PathError struct {
	Model ModelID
	Path  string
	Msg   string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: field %q %s", e.Model, e.Path, e.Msg)
}

// ResolvePath walks a dotted path from model m. Objects descend into their
// properties, arrays into their items, and refs into the target model.
func (g *Graph) ResolvePath(m ModelID, path string) (Path, error) {
	model, ok := g.models[m]
	if !ok {
		return Path{}, &PathError{Model: m, Path: path, Msg: "model does not exist"}
	}
	if path == "" {
		return Path{}, &PathError{Model: m, Path: path, Msg: "is empty"}
	}
	res := Path{Raw: path}
	cur := model.root
	curModel := m
	for i, part := range strings.Split(path, ".") {
		if i > 0 {
			cur = g.container(cur)
			if cur == nil {
				return Path{}, &PathError{Model: m, Path: path, Msg: "descends into a field without properties"}
			}
			curModel = cur.model
		}
		next, ok := cur.Property(part)
		if !ok {
			return Path{}, &PathError{Model: m, Path: path, Msg: "does not exist"}
		}
		res.Steps = append(res.Steps, Step{Model: curModel, Desc: next})
		cur = next
	}
	return res, nil
}

// container returns the descriptor whose children the next path segment
// is looked up in.
func (g *Graph) container(d *Descriptor) *Descriptor {
	if d.kind == KindArray {
		d = d.items
	}
	switch d.kind {
	case KindObject, KindModel:
		return d
	case KindRef:
		if t, ok := g.models[d.target]; ok {
			return t.root
		}
	}
	return nil
}

// derefKind returns the kind of d, looking through arrays.
func derefKind(d *Descriptor) Kind {
	if d.kind == KindArray && d.items != nil {
		return d.items.kind
	}
	return d.kind
}

// ElementKind returns the descriptor kind values of d are compared as:
// the items kind for arrays, the kind itself otherwise.
func ElementKind(d *Descriptor) Kind { return derefKind(d) }

// Element returns the items descriptor for arrays and d otherwise.
func Element(d *Descriptor) *Descriptor {
	if d.kind == KindArray && d.items != nil {
		return d.items
	}
	return d
}
