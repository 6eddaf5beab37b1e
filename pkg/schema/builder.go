package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// ErrFrozen is returned when a Builder is used after Freeze.
var ErrFrozen = errors.New("schema builder is frozen")

var modelIDPattern = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}_]*(/[\p{L}_][\p{L}\p{N}_]*)*$`)

// ModelSpec describes a model during the build phase.
type ModelSpec struct {
	ID         ModelID
	Backend    string
	Table      string
	Properties []PropertySpec
}

// PropertySpec describes a property during the build phase.
//
// Type is one of the scalar type names, "object", "array", "ref",
// "geometry" or "file". Sensitive marks a scalar as PII.
type PropertySpec struct {
	Name       string
	Type       string
	Sensitive  bool
	Model      ModelID
	Items      *PropertySpec
	Properties []PropertySpec
	Column     string
	Backend    string
	Required   bool
	Unique     bool
	Hidden     bool
}

// SpecError reports an invalid model or property declaration.
type SpecError struct {
	Model    ModelID
	Property string
	Message  string
}

func (e *SpecError) Error() string {
	if e.Property == "" {
		return fmt.Sprintf("model %q: %s", e.Model, e.Message)
	}
	return fmt.Sprintf("model %q, property %q: %s", e.Model, e.Property, e.Message)
}

// Builder collects models before the graph is frozen. It is not safe for
// concurrent use.
type Builder struct {
	specs  map[ModelID]ModelSpec
	frozen bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{specs: make(map[ModelID]ModelSpec)}
}

// AddModel registers a model declaration.
func (b *Builder) AddModel(spec ModelSpec) error {
	if b.frozen {
		return ErrFrozen
	}
	if !modelIDPattern.MatchString(string(spec.ID)) {
		return &SpecError{Model: spec.ID, Message: "invalid model name"}
	}
	if _, dup := b.specs[spec.ID]; dup {
		return &SpecError{Model: spec.ID, Message: "model declared twice"}
	}
	b.specs[spec.ID] = spec
	return nil
}

// Freeze validates every declaration and returns the read-only graph.
// The builder cannot be used afterwards.
func (b *Builder) Freeze() (*Graph, error) {
	if b.frozen {
		return nil, ErrFrozen
	}
	b.frozen = true

	ids := make([]ModelID, 0, len(b.specs))
	for id := range b.specs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	g := &Graph{models: make(map[ModelID]*Model, len(ids)), order: ids}
	var errs []error
	for _, id := range ids {
		m, err := buildModel(b.specs[id])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		g.models[id] = m
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// References are checked once every model exists in the arena.
	for _, id := range ids {
		for _, d := range g.models[id].flat {
			if err := checkRef(g, d); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return g, nil
}

func checkRef(g *Graph, d *Descriptor) error {
	for cur := d; cur != nil; cur = cur.items {
		if cur.kind != KindRef {
			continue
		}
		if _, ok := g.models[cur.target]; !ok {
			return &SpecError{Model: d.model, Property: d.place, Message: fmt.Sprintf("reference to unknown model %q", cur.target)}
		}
	}
	return nil
}

func buildModel(spec ModelSpec) (*Model, error) {
	m := &Model{
		id:      spec.ID,
		backend: spec.Backend,
		table:   spec.Table,
		flat:    make(map[string]*Descriptor),
	}
	if m.table == "" {
		m.table = defaultTable(spec.ID)
	}
	root := &Descriptor{
		kind:   KindModel,
		name:   string(spec.ID),
		model:  spec.ID,
		byName: make(map[string]*Descriptor),
	}
	m.root = root

	reserved := []*Descriptor{
		{kind: KindPrimitive, name: IDProperty, place: IDProperty, model: spec.ID, scalar: ScalarString, column: IDProperty, unique: true},
		{kind: KindPrimitive, name: RevisionProperty, place: RevisionProperty, model: spec.ID, scalar: ScalarString, column: RevisionProperty},
	}
	for _, d := range reserved {
		root.props = append(root.props, d)
		root.byName[d.name] = d
		m.flat[d.place] = d
	}

	for _, ps := range spec.Properties {
		if strings.HasPrefix(ps.Name, "_") {
			return nil, &SpecError{Model: spec.ID, Property: ps.Name, Message: "property names starting with _ are reserved"}
		}
		d, err := buildProperty(m, ps, "", true)
		if err != nil {
			return nil, err
		}
		if _, dup := root.byName[d.name]; dup {
			return nil, &SpecError{Model: spec.ID, Property: ps.Name, Message: "property declared twice"}
		}
		root.props = append(root.props, d)
		root.byName[d.name] = d
	}
	return m, nil
}

func buildProperty(m *Model, ps PropertySpec, parent string, topLevel bool) (*Descriptor, error) {
	if !validName(ps.Name) {
		return nil, &SpecError{Model: m.id, Property: ps.Name, Message: "invalid property name"}
	}
	place := ps.Name
	if parent != "" {
		place = parent + "." + ps.Name
	}
	d := &Descriptor{
		name:     ps.Name,
		place:    place,
		model:    m.id,
		backend:  ps.Backend,
		required: ps.Required,
		unique:   ps.Unique,
		hidden:   ps.Hidden,
	}
	if topLevel {
		d.column = ps.Column
		if d.column == "" {
			d.column = ps.Name
		}
	}
	if err := fillKind(m, d, ps); err != nil {
		return nil, err
	}
	m.flat[place] = d
	return d, nil
}

func fillKind(m *Model, d *Descriptor, ps PropertySpec) error {
	switch ps.Type {
	case "object":
		d.kind = KindObject
		d.byName = make(map[string]*Descriptor)
		for _, cs := range ps.Properties {
			c, err := buildProperty(m, cs, d.place, false)
			if err != nil {
				return err
			}
			if _, dup := d.byName[c.name]; dup {
				return &SpecError{Model: m.id, Property: c.place, Message: "property declared twice"}
			}
			d.props = append(d.props, c)
			d.byName[c.name] = c
		}
	case "array":
		d.kind = KindArray
		if ps.Items == nil {
			return &SpecError{Model: m.id, Property: d.place, Message: "array requires items"}
		}
		if ps.Items.Type == "array" {
			return &SpecError{Model: m.id, Property: d.place, Message: "nested arrays are not supported"}
		}
		items := *ps.Items
		items.Name = ps.Name
		item := &Descriptor{name: ps.Name, place: d.place, model: m.id}
		if err := fillKind(m, item, items); err != nil {
			return err
		}
		d.items = item
	case "ref":
		d.kind = KindRef
		if ps.Model == "" {
			return &SpecError{Model: m.id, Property: d.place, Message: "ref requires a target model"}
		}
		d.target = ps.Model
	case "geometry":
		d.kind = KindGeometry
	case "file":
		d.kind = KindFile
	default:
		scalar, ok := parseScalar(ps.Type)
		if !ok {
			return &SpecError{Model: m.id, Property: d.place, Message: fmt.Sprintf("unknown type %q", ps.Type)}
		}
		d.kind = KindPrimitive
		if ps.Sensitive {
			d.kind = KindSensitive
		}
		d.scalar = scalar
	}
	if ps.Sensitive && d.kind != KindSensitive {
		return &SpecError{Model: m.id, Property: d.place, Message: "only scalar properties can be sensitive"}
	}
	return nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}
