package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/auth"
	"github.com/leapstack-labs/manifold/pkg/execution"
	"github.com/leapstack-labs/manifold/pkg/plan"
	"github.com/leapstack-labs/manifold/pkg/query"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// ValidationError reports a payload that does not fit the schema.
type ValidationError struct {
	Model    schema.ModelID
	Property string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Property == "" {
		return fmt.Sprintf("%s: %s", e.Model, e.Reason)
	}
	return fmt.Sprintf("%s.%s: %s", e.Model, e.Property, e.Reason)
}

func invalid(m *schema.Model, prop, format string, args ...any) *ValidationError {
	return &ValidationError{Model: m.ID(), Property: prop, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports a write whose _revision does not match the stored
// record.
type ConflictError struct {
	Model    schema.ModelID
	ID       string
	Given    string
	Revision string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: revision %q does not match %q", e.Model, e.ID, e.Given, e.Revision)
}

// UnknownModelError reports a model missing from the graph.
type UnknownModelError struct {
	Model schema.ModelID
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("model %q does not exist", e.Model)
}

// Class groups errors by who is at fault.
type Class uint8

// Error classes.
const (
	ClassNone Class = iota
	// ClassClient is a defect of the request (4xx).
	ClassClient
	// ClassInternal is a defect of the server or its configuration (5xx).
	ClassInternal
	// ClassUnavailable is a transient backend failure that outlived retries (5xx).
	ClassUnavailable
	// ClassCancelled is a cancelled request.
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassClient:
		return "client"
	case ClassInternal:
		return "internal"
	case ClassUnavailable:
		return "unavailable"
	case ClassCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Classify maps an error returned by the engine to its class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var (
		cancelled  *execution.CancellationError
		syntax     *query.SyntaxError
		semantic   *plan.SemanticError
		forbidden  *auth.ForbiddenError
		validation *ValidationError
		conflict   *ConflictError
		unknown    *UnknownModelError
		backend    *adapter.BackendError
	)
	switch {
	case errors.As(err, &cancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ClassCancelled
	case errors.As(err, &syntax),
		errors.As(err, &semantic),
		errors.As(err, &forbidden),
		errors.As(err, &validation),
		errors.As(err, &conflict),
		errors.As(err, &unknown),
		errors.Is(err, adapter.ErrNotFound),
		errors.Is(err, adapter.ErrConstraint):
		return ClassClient
	case errors.As(err, &backend) && backend.Transient:
		return ClassUnavailable
	}
	return ClassInternal
}

// Reportable reports whether err should be surfaced as a failure. Requests
// the client cancelled itself are not.
func Reportable(err error) bool {
	var ce *execution.CancellationError
	if errors.As(err, &ce) {
		return !ce.Client
	}
	return err != nil
}
