package plan

import "fmt"

// SemanticError reports a query that parses but cannot be compiled
// against the schema: unknown fields, operators that do not apply to a
// field's type, unauthorised fields and bad paging tokens.
type SemanticError struct {
	Field  string
	Reason string
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

func semantic(field, format string, args ...any) *SemanticError {
	return &SemanticError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
