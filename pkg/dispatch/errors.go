package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFrozen is returned when a Builder is used after Freeze.
var ErrFrozen = errors.New("dispatch builder is frozen")

// Code distinguishes dispatch failures.
type Code uint8

const (
	// NoMatch means no registration applies to the requested key.
	NoMatch Code = iota + 1
	// AmbiguousMatch means two or more registrations are equally specific.
	AmbiguousMatch
)

func (c Code) String() string {
	switch c {
	case NoMatch:
		return "no match"
	case AmbiguousMatch:
		return "ambiguous match"
	}
	return "unknown"
}

// Error is a registration defect. It is never caused by client input.
type Error struct {
	Code       Code
	Key        Key
	Candidates []Key
}

func (e *Error) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("dispatch %s: %s", e.Key, e.Code)
	}
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = c.String()
	}
	return fmt.Sprintf("dispatch %s: %s between %s", e.Key, e.Code, strings.Join(parts, ", "))
}

// IsNoMatch reports whether err is a NoMatch dispatch error.
func IsNoMatch(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == NoMatch
}

// IsAmbiguous reports whether err is an AmbiguousMatch dispatch error.
func IsAmbiguous(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == AmbiguousMatch
}
