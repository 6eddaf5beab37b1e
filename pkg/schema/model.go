package schema

import "strings"

// Model is a named collection of records bound to one backend.
type Model struct {
	id      ModelID
	backend string
	table   string
	root    *Descriptor
	flat    map[string]*Descriptor
}

// ID returns the model identifier.
func (m *Model) ID() ModelID { return m.id }

// Backend returns the configured backend name the model is stored in.
func (m *Model) Backend() string { return m.backend }

// Table returns the backend table/collection name.
func (m *Model) Table() string { return m.table }

// Descriptor returns the KindModel root descriptor.
func (m *Model) Descriptor() *Descriptor { return m.root }

// Properties returns the top-level properties, _id and _revision first.
func (m *Model) Properties() []*Descriptor { return m.root.Properties() }

// Property returns a top-level property by name.
func (m *Model) Property(name string) (*Descriptor, bool) { return m.root.Property(name) }

// PrimaryKey returns the _id descriptor.
func (m *Model) PrimaryKey() *Descriptor {
	pk, _ := m.root.Property(IDProperty)
	return pk
}

// Flat returns the property at a dotted place inside the model, without
// following references.
func (m *Model) Flat(place string) (*Descriptor, bool) {
	d, ok := m.flat[place]
	return d, ok
}

// ScopeName returns the model identifier in the form used by
// authorization capabilities ("geo/country" becomes "geo_country").
func (m *Model) ScopeName() string {
	return ScopeName(string(m.id))
}

// ScopeName converts a model id or property place to a capability fragment.
func ScopeName(name string) string {
	r := strings.NewReplacer("/", "_", ".", "_", "-", "_")
	return strings.ToLower(r.Replace(name))
}

func defaultTable(id ModelID) string {
	return strings.ReplaceAll(string(id), "/", "__")
}
