package adapter

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a write or read targets a missing record.
	ErrNotFound = errors.New("record not found")

	// ErrConstraint marks a violated uniqueness or integrity constraint.
	ErrConstraint = errors.New("constraint violation")

	// ErrNotConnected is returned when the adapter has no open connection.
	ErrNotConnected = errors.New("backend connection not established")

	// ErrTxDone is returned when a finished transaction is used.
	ErrTxDone = errors.New("transaction has already been committed or rolled back")
)

// BackendError is a failure reported by a backend. Transient failures
// (connection drops, serialization conflicts) may succeed when retried.
type BackendError struct {
	Backend   string
	Op        string
	Transient bool
	Cause     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Op, e.Cause)
}

func (e *BackendError) Unwrap() error { return e.Cause }

// IsTransient reports whether err is a transient backend failure.
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Transient
}
