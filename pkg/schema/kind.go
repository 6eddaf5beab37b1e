package schema

import (
	"fmt"
	"strings"
)

// Kind is the semantic type tag of a Descriptor.
type Kind uint8

// Descriptor kinds. KindAny is a wildcard used by dispatch registrations and
// never appears on a loaded descriptor.
const (
	KindAny Kind = iota
	KindModel
	KindPrimitive
	KindSensitive
	KindObject
	KindArray
	KindRef
	KindGeometry
	KindFile
)

// ConcreteKinds lists every kind a loaded descriptor can carry.
var ConcreteKinds = []Kind{
	KindModel,
	KindPrimitive,
	KindSensitive,
	KindObject,
	KindArray,
	KindRef,
	KindGeometry,
	KindFile,
}

var kindNames = map[Kind]string{
	KindAny:       "any",
	KindModel:     "model",
	KindPrimitive: "primitive",
	KindSensitive: "sensitive",
	KindObject:    "object",
	KindArray:     "array",
	KindRef:       "ref",
	KindGeometry:  "geometry",
	KindFile:      "file",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Parent returns the supertype of k. KindAny has no parent.
// A sensitive scalar is a primitive with extra handling, every other
// concrete kind sits directly under KindAny.
func (k Kind) Parent() (Kind, bool) {
	switch k {
	case KindAny:
		return KindAny, false
	case KindSensitive:
		return KindPrimitive, true
	default:
		return KindAny, true
	}
}

// Distance returns how many supertype steps separate k from ancestor, and
// false when ancestor is not k or one of its supertypes.
func (k Kind) Distance(ancestor Kind) (int, bool) {
	d := 0
	for cur := k; ; d++ {
		if cur == ancestor {
			return d, true
		}
		parent, ok := cur.Parent()
		if !ok {
			return 0, false
		}
		cur = parent
	}
}

// ScalarType is the value type carried by primitive and sensitive descriptors.
type ScalarType string

// Scalar types understood by the core.
const (
	ScalarNone     ScalarType = ""
	ScalarString   ScalarType = "string"
	ScalarInteger  ScalarType = "integer"
	ScalarNumber   ScalarType = "number"
	ScalarBoolean  ScalarType = "boolean"
	ScalarDate     ScalarType = "date"
	ScalarDateTime ScalarType = "datetime"
)

// Ordered reports whether values of the scalar type can be compared with
// <, <=, > and >=.
func (s ScalarType) Ordered() bool {
	switch s {
	case ScalarInteger, ScalarNumber, ScalarDate, ScalarDateTime:
		return true
	default:
		return false
	}
}

func parseScalar(name string) (ScalarType, bool) {
	switch ScalarType(name) {
	case ScalarString, ScalarInteger, ScalarNumber, ScalarBoolean, ScalarDate, ScalarDateTime:
		return ScalarType(name), true
	}
	return ScalarNone, false
}

// BackendKind identifies the family of storage a backend belongs to.
type BackendKind uint8

// Backend kinds. BackendAny is a dispatch wildcard.
const (
	BackendAny BackendKind = iota
	BackendRelational
	BackendDocument
	BackendFile
)

// ConcreteBackends lists every backend kind an adapter can report.
var ConcreteBackends = []BackendKind{BackendRelational, BackendDocument, BackendFile}

var backendNames = map[BackendKind]string{
	BackendAny:        "any",
	BackendRelational: "relational",
	BackendDocument:   "document",
	BackendFile:       "file",
}

func (b BackendKind) String() string {
	if name, ok := backendNames[b]; ok {
		return name
	}
	return fmt.Sprintf("backend(%d)", uint8(b))
}

// Distance returns the number of steps from b to ancestor (0 or 1).
func (b BackendKind) Distance(ancestor BackendKind) (int, bool) {
	switch {
	case b == ancestor:
		return 0, true
	case ancestor == BackendAny:
		return 1, true
	default:
		return 0, false
	}
}

// ParseBackendKind parses a backend kind name.
func ParseBackendKind(name string) (BackendKind, error) {
	for k, n := range backendNames {
		if n == strings.ToLower(name) {
			return k, nil
		}
	}
	return BackendAny, fmt.Errorf("unknown backend kind %q", name)
}
