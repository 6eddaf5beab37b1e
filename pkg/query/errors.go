package query

import (
	"fmt"

	"github.com/leapstack-labs/manifold/pkg/token"
)

// SyntaxError reports malformed query text. Pos points at the offending
// token and Expected names what the grammar allowed there.
type SyntaxError struct {
	Pos      token.Position
	Expected string
	Found    string
}

func (e *SyntaxError) Error() string {
	if e.Found == "" {
		return fmt.Sprintf("query syntax error at %s: expected %s", e.Pos, e.Expected)
	}
	return fmt.Sprintf("query syntax error at %s: expected %s, found %s", e.Pos, e.Expected, e.Found)
}
