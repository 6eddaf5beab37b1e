// Package token defines the lexical vocabulary of the query language.
//
// Function names such as select, sort or contains are plain identifiers;
// the parser gives them meaning from the token that follows.
package token

import "fmt"

// TokenType represents the type of a lexical token.
//
//nolint:revive // token.TokenType mirrors the lexer vocabulary
type TokenType int32

const (
	// Special tokens
	EOF TokenType = iota
	ILLEGAL

	// Literals
	IDENT  // name, _id, país
	NUMBER // 123, -4.5, 1e10
	STRING // "text" or 'text'

	// Operators
	EQ     // =
	NE     // !=
	LT     // <
	LE     // <=
	GT     // >
	GE     // >=
	AMP    // &
	PIPE   // |
	BANG   // !
	PLUS   // +
	MINUS  // -
	DOT    // .
	COMMA  // ,
	LPAREN // (
	RPAREN // )
)

var names = map[TokenType]string{
	EOF:     "end of input",
	ILLEGAL: "illegal",
	IDENT:   "identifier",
	NUMBER:  "number",
	STRING:  "string",
	EQ:      "=",
	NE:      "!=",
	LT:      "<",
	LE:      "<=",
	GT:      ">",
	GE:      ">=",
	AMP:     "&",
	PIPE:    "|",
	BANG:    "!",
	PLUS:    "+",
	MINUS:   "-",
	DOT:     ".",
	COMMA:   ",",
	LPAREN:  "(",
	RPAREN:  ")",
}

func (t TokenType) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int32(t))
}

// IsComparison returns true for the infix comparison operators.
func IsComparison(t TokenType) bool {
	return t >= EQ && t <= GE
}

// Token represents a lexical token with position information.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

func (t Token) String() string {
	switch t.Type {
	case IDENT, NUMBER, STRING, ILLEGAL:
		return fmt.Sprintf("%s %q", t.Type, t.Literal)
	}
	return t.Type.String()
}
