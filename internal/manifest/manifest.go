// Package manifest reads model declarations from YAML and feeds them to a
// schema.Builder.
//
// A manifest lists models with their properties in declaration order:
//
//	models:
//	  - model: geo/city
//	    backend: main
//	    properties:
//	      name: {type: string, required: true}
//	      population: integer
//	      country: {type: ref, model: geo/country}
//	      tags: {type: array, items: string}
//
// A property given as a bare scalar is shorthand for its type.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/manifold/pkg/schema"
)

// Manifest is a parsed manifest file.
type Manifest struct {
	File   string
	Models []Model
}

// Model is one model declaration.
type Model struct {
	ID         schema.ModelID
	Backend    string
	Table      string
	Properties []Property
	Line       int
}

// Property is one property declaration.
type Property struct {
	Name       string
	Type       string
	Sensitive  bool
	Model      schema.ModelID
	Items      *Property
	Properties []Property
	Column     string
	Backend    string
	Required   bool
	Unique     bool
	Hidden     bool
	Line       int
}

var (
	modelFields = map[string]bool{
		"model": true, "backend": true, "table": true, "properties": true,
	}
	propertyFields = map[string]bool{
		"type": true, "sensitive": true, "model": true, "items": true,
		"properties": true, "column": true, "backend": true,
		"required": true, "unique": true, "hidden": true,
	}
)

// Parse parses manifest content. A file may hold several YAML documents.
func Parse(file string, data []byte) (*Manifest, error) {
	m := &Manifest{File: file}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{File: file, Message: fmt.Sprintf("invalid YAML: %v", err)}
		}
		if len(doc.Content) == 0 || doc.Content[0].Tag == "!!null" {
			continue
		}
		models, err := parseDocument(file, doc.Content[0])
		if err != nil {
			return nil, err
		}
		m.Models = append(m.Models, models...)
	}
	return m, nil
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(path, data)
}

// LoadGraph reads every manifest in paths and freezes the combined graph.
func LoadGraph(paths ...string) (*schema.Graph, error) {
	b := schema.NewBuilder()
	for _, path := range paths {
		m, err := Load(path)
		if err != nil {
			return nil, err
		}
		if err := m.AddTo(b); err != nil {
			return nil, err
		}
	}
	g, err := b.Freeze()
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return g, nil
}

// AddTo registers every model of the manifest with b.
func (m *Manifest) AddTo(b *schema.Builder) error {
	for _, model := range m.Models {
		if err := b.AddModel(model.Spec()); err != nil {
			return &ParseError{File: m.File, Line: model.Line, Message: err.Error()}
		}
	}
	return nil
}

// Spec converts the declaration to a schema.ModelSpec.
func (m Model) Spec() schema.ModelSpec {
	return schema.ModelSpec{
		ID:         m.ID,
		Backend:    m.Backend,
		Table:      m.Table,
		Properties: specs(m.Properties),
	}
}

// Spec converts the declaration to a schema.PropertySpec.
func (p Property) Spec() schema.PropertySpec {
	ps := schema.PropertySpec{
		Name:       p.Name,
		Type:       p.Type,
		Sensitive:  p.Sensitive,
		Model:      p.Model,
		Properties: specs(p.Properties),
		Column:     p.Column,
		Backend:    p.Backend,
		Required:   p.Required,
		Unique:     p.Unique,
		Hidden:     p.Hidden,
	}
	if p.Items != nil {
		items := p.Items.Spec()
		ps.Items = &items
	}
	return ps
}

func specs(props []Property) []schema.PropertySpec {
	if len(props) == 0 {
		return nil
	}
	out := make([]schema.PropertySpec, len(props))
	for i, p := range props {
		out[i] = p.Spec()
	}
	return out
}

func parseDocument(file string, n *yaml.Node) ([]Model, error) {
	if n.Kind != yaml.MappingNode {
		return nil, &ParseError{File: file, Line: n.Line, Message: "manifest must be a mapping with a models list"}
	}
	var models []Model
	for i := 0; i < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if key.Value != "models" {
			return nil, &UnknownFieldError{File: file, Line: key.Line, Field: key.Value}
		}
		if val.Kind != yaml.SequenceNode {
			return nil, &ParseError{File: file, Line: val.Line, Message: "models must be a list"}
		}
		for _, item := range val.Content {
			m, err := parseModel(file, item)
			if err != nil {
				return nil, err
			}
			models = append(models, m)
		}
	}
	return models, nil
}

func parseModel(file string, n *yaml.Node) (Model, error) {
	m := Model{Line: n.Line}
	if n.Kind != yaml.MappingNode {
		return m, &ParseError{File: file, Line: n.Line, Message: "model declaration must be a mapping"}
	}
	for i := 0; i < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if !modelFields[key.Value] {
			return m, &UnknownFieldError{File: file, Line: key.Line, Field: key.Value}
		}
		var err error
		switch key.Value {
		case "model":
			var id string
			err = val.Decode(&id)
			m.ID = schema.ModelID(id)
		case "backend":
			err = val.Decode(&m.Backend)
		case "table":
			err = val.Decode(&m.Table)
		case "properties":
			m.Properties, err = parseProperties(file, val)
		}
		if err != nil {
			return m, wrap(file, key, err)
		}
	}
	if m.ID == "" {
		return m, &ParseError{File: file, Line: n.Line, Message: "model name is required"}
	}
	return m, nil
}

// parseProperties reads a mapping of property names, keeping their order.
func parseProperties(file string, n *yaml.Node) ([]Property, error) {
	if n.Kind != yaml.MappingNode {
		return nil, &ParseError{File: file, Line: n.Line, Message: "properties must be a mapping"}
	}
	props := make([]Property, 0, len(n.Content)/2)
	for i := 0; i < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		p, err := parseProperty(file, val)
		if err != nil {
			return nil, err
		}
		p.Name = key.Value
		p.Line = key.Line
		props = append(props, p)
	}
	return props, nil
}

func parseProperty(file string, n *yaml.Node) (Property, error) {
	p := Property{Line: n.Line}
	if n.Kind == yaml.ScalarNode {
		p.Type = n.Value
		return p, nil
	}
	if n.Kind != yaml.MappingNode {
		return p, &ParseError{File: file, Line: n.Line, Message: "property must be a type name or a mapping"}
	}
	for i := 0; i < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if !propertyFields[key.Value] {
			return p, &UnknownFieldError{File: file, Line: key.Line, Field: key.Value}
		}
		var err error
		switch key.Value {
		case "type":
			err = val.Decode(&p.Type)
		case "sensitive":
			err = val.Decode(&p.Sensitive)
		case "model":
			var id string
			err = val.Decode(&id)
			p.Model = schema.ModelID(id)
		case "items":
			var items Property
			items, err = parseProperty(file, val)
			p.Items = &items
		case "properties":
			p.Properties, err = parseProperties(file, val)
		case "column":
			err = val.Decode(&p.Column)
		case "backend":
			err = val.Decode(&p.Backend)
		case "required":
			err = val.Decode(&p.Required)
		case "unique":
			err = val.Decode(&p.Unique)
		case "hidden":
			err = val.Decode(&p.Hidden)
		}
		if err != nil {
			return p, wrap(file, key, err)
		}
	}
	if p.Type == "" {
		return p, &ParseError{File: file, Line: n.Line, Message: "property type is required"}
	}
	return p, nil
}

func wrap(file string, key *yaml.Node, err error) error {
	var pe *ParseError
	var ue *UnknownFieldError
	if errors.As(err, &pe) || errors.As(err, &ue) {
		return err
	}
	return &ParseError{File: file, Line: key.Line, Message: fmt.Sprintf("%s: %v", key.Value, err)}
}
