package schema

// Reserved property names present on every model.
const (
	IDProperty       = "_id"
	RevisionProperty = "_revision"
)

// ModelID identifies a model in the graph arena, e.g. "geo/country".
type ModelID string

// Descriptor is a node of the schema graph: a model root or one of its
// properties. Descriptors are never mutated after Freeze.
type Descriptor struct {
	kind     Kind
	name     string
	place    string
	model    ModelID
	scalar   ScalarType
	target   ModelID
	items    *Descriptor
	props    []*Descriptor
	byName   map[string]*Descriptor
	column   string
	backend  string
	required bool
	unique   bool
	hidden   bool
}

// Kind returns the semantic type tag.
func (d *Descriptor) Kind() Kind { return d.kind }

// Name returns the property name (the model id for model roots).
func (d *Descriptor) Name() string { return d.name }

// Place returns the dotted path of the property inside its model,
// e.g. "meta.size". Array items share the place of their array.
func (d *Descriptor) Place() string { return d.place }

// Model returns the owning model.
func (d *Descriptor) Model() ModelID { return d.model }

// Scalar returns the scalar type of primitive and sensitive descriptors.
func (d *Descriptor) Scalar() ScalarType { return d.scalar }

// Target returns the referenced model of a ref descriptor.
func (d *Descriptor) Target() ModelID { return d.target }

// Items returns the element descriptor of an array.
func (d *Descriptor) Items() *Descriptor { return d.items }

// Column returns the backend column name of a top-level property.
func (d *Descriptor) Column() string { return d.column }

// Backend returns the backend override of the property, or "" when the
// property lives in its model's backend.
func (d *Descriptor) Backend() string { return d.backend }

// Required reports whether a value must be given on insert.
func (d *Descriptor) Required() bool { return d.required }

// Unique reports whether values must be unique across the model.
func (d *Descriptor) Unique() bool { return d.unique }

// Hidden reports whether the property is left out of default projections.
func (d *Descriptor) Hidden() bool { return d.hidden }

// Properties returns the child properties of a model root or object in
// declaration order.
func (d *Descriptor) Properties() []*Descriptor {
	out := make([]*Descriptor, len(d.props))
	copy(out, d.props)
	return out
}

// Property looks up a direct child property by name.
func (d *Descriptor) Property(name string) (*Descriptor, bool) {
	p, ok := d.byName[name]
	return p, ok
}

// IsReserved reports whether the descriptor is one of the implicit
// _id/_revision properties.
func (d *Descriptor) IsReserved() bool {
	return d.name == IDProperty || d.name == RevisionProperty
}

func (d *Descriptor) String() string {
	if d.place == "" {
		return string(d.model)
	}
	return string(d.model) + "." + d.place
}
