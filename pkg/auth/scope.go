// Package auth holds the authorization scope a request carries into the
// core. Scopes are built by the transport layer from a client's granted
// capabilities; the core only asks questions of them.
//
// Capability names follow three shapes, with prefix usually "manifold_":
//
//	{prefix}{action}                  every model
//	{prefix}{model}_{action}          one model or namespace
//	{prefix}{model}_{property}_{action}  one property
//
// Model and property names are converted with schema.ScopeName.
package auth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/manifold/pkg/schema"
)

// DefaultPrefix is the capability prefix used when none is configured.
const DefaultPrefix = "manifold_"

// Action is the verb part of a capability.
type Action string

// Actions.
const (
	ActionInsert  Action = "insert"
	ActionUpdate  Action = "update"
	ActionPatch   Action = "patch"
	ActionUpsert  Action = "upsert"
	ActionDelete  Action = "delete"
	ActionGetOne  Action = "getone"
	ActionGetAll  Action = "getall"
	ActionSearch  Action = "search"
	ActionWipe    Action = "wipe"
	ActionChanges Action = "changes"
)

// Decision overrides capability checks.
type Decision uint8

// Decisions.
const (
	DecisionUnset Decision = iota
	DecisionAllow
	DecisionDeny
)

// Scope is a set of granted capabilities. It is immutable and safe for
// concurrent use.
type Scope struct {
	prefix   string
	caps     map[string]struct{}
	decision Decision
}

// Option configures a Scope.
type Option func(*Scope)

// WithPrefix sets the capability prefix.
func WithPrefix(prefix string) Option {
	return func(s *Scope) { s.prefix = prefix }
}

// WithDecision bypasses capability checks. DecisionAllow is meant for
// operator tooling and tests.
func WithDecision(d Decision) Option {
	return func(s *Scope) { s.decision = d }
}

// NewScope builds a scope from granted capability names.
func NewScope(caps []string, opts ...Option) *Scope {
	s := &Scope{prefix: DefaultPrefix, caps: make(map[string]struct{}, len(caps))}
	for _, c := range caps {
		s.caps[strings.TrimSpace(c)] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Unrestricted returns a scope that allows everything.
func Unrestricted() *Scope {
	return NewScope(nil, WithDecision(DecisionAllow))
}

// Prefix returns the capability prefix.
func (s *Scope) Prefix() string { return s.prefix }

// Capabilities returns the granted capability names, sorted.
func (s *Scope) Capabilities() []string {
	out := make([]string, 0, len(s.caps))
	for c := range s.caps {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Has reports whether the exact capability was granted.
func (s *Scope) Has(capability string) bool {
	switch s.decision {
	case DecisionAllow:
		return true
	case DecisionDeny:
		return false
	}
	_, ok := s.caps[capability]
	return ok
}

func (s *Scope) any(names []string) bool {
	for _, n := range names {
		if s.Has(n) {
			return true
		}
	}
	return false
}

// Global returns the capability granting action on every model.
func (s *Scope) Global(action Action) string {
	return s.prefix + string(action)
}

// ModelCapabilities returns every capability that grants action on m:
// global, each enclosing namespace and the model itself.
func (s *Scope) ModelCapabilities(m *schema.Model, action Action) []string {
	names := []string{s.Global(action)}
	parts := strings.Split(string(m.ID()), "/")
	for i := 1; i < len(parts); i++ {
		ns := strings.Join(parts[:i], "/")
		names = append(names, s.prefix+schema.ScopeName(ns)+"_"+string(action))
	}
	return append(names, s.prefix+m.ScopeName()+"_"+string(action))
}

// PropertyCapability returns the explicit capability for one property.
func (s *Scope) PropertyCapability(m *schema.Model, d *schema.Descriptor, action Action) string {
	return s.prefix + m.ScopeName() + "_" + schema.ScopeName(d.Place()) + "_" + string(action)
}

// AllowModel reports whether action is allowed on m.
func (s *Scope) AllowModel(m *schema.Model, action Action) bool {
	return s.any(s.ModelCapabilities(m, action))
}

// AllowProperty reports whether action is allowed on property d of m.
// Hidden properties need the explicit property capability; others are
// also covered by model capabilities.
func (s *Scope) AllowProperty(m *schema.Model, d *schema.Descriptor, action Action) bool {
	if s.Has(s.PropertyCapability(m, d, action)) {
		return true
	}
	if d.Hidden() {
		return false
	}
	return s.AllowModel(m, action)
}

// Explicit reports whether the property capability itself was granted.
// Sensitive values are only revealed under an explicit grant.
func (s *Scope) Explicit(m *schema.Model, d *schema.Descriptor, action Action) bool {
	return s.Has(s.PropertyCapability(m, d, action))
}

// CheckModel returns a *ForbiddenError when action is not allowed on m.
func (s *Scope) CheckModel(m *schema.Model, action Action) error {
	if s.AllowModel(m, action) {
		return nil
	}
	return &ForbiddenError{Model: m.ID(), Action: action, Missing: s.ModelCapabilities(m, action)}
}

// ForbiddenError reports missing capabilities.
type ForbiddenError struct {
	Model    schema.ModelID
	Property string
	Action   Action
	Missing  []string
}

func (e *ForbiddenError) Error() string {
	target := string(e.Model)
	if e.Property != "" {
		target += "." + e.Property
	}
	return fmt.Sprintf("%s on %s requires one of: %s", e.Action, target, strings.Join(e.Missing, ", "))
}
