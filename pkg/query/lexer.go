package query

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/leapstack-labs/manifold/pkg/token"
)

// Lexer tokenizes query text. Identifiers are returned in NFC form so that
// visually equal field names compare equal.
type Lexer struct {
	input string
	pos   int  // byte offset of ch
	next  int  // byte offset after ch
	ch    rune // current rune, -1 at end of input
	line  int
	col   int
}

// NewLexer creates a Lexer for input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.read()
	return l
}

func (l *Lexer) read() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	l.pos = l.next
	if l.next >= len(l.input) {
		l.ch = -1
		l.col++
		return
	}
	r, w := utf8.DecodeRuneInString(l.input[l.next:])
	l.ch = r
	l.next += w
	l.col++
}

func (l *Lexer) peek() rune {
	if l.next >= len(l.input) {
		return -1
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.next:])
	return r
}

func (l *Lexer) position() token.Position {
	return token.Position{Line: l.line, Column: l.col, Offset: l.pos}
}

// Next returns the next token. Malformed input yields an ILLEGAL token
// whose literal describes the problem.
func (l *Lexer) Next() token.Token {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.read()
	}
	pos := l.position()

	simple := func(t token.TokenType, lit string) token.Token {
		for range utf8.RuneCountInString(lit) {
			l.read()
		}
		return token.Token{Type: t, Literal: lit, Pos: pos}
	}

	switch {
	case l.ch == -1:
		return token.Token{Type: token.EOF, Pos: pos}
	case l.ch == '=':
		return simple(token.EQ, "=")
	case l.ch == '!' && l.peek() == '=':
		return simple(token.NE, "!=")
	case l.ch == '!':
		return simple(token.BANG, "!")
	case l.ch == '<' && l.peek() == '=':
		return simple(token.LE, "<=")
	case l.ch == '<':
		return simple(token.LT, "<")
	case l.ch == '>' && l.peek() == '=':
		return simple(token.GE, ">=")
	case l.ch == '>':
		return simple(token.GT, ">")
	case l.ch == '&':
		return simple(token.AMP, "&")
	case l.ch == '|':
		return simple(token.PIPE, "|")
	case l.ch == '+':
		return simple(token.PLUS, "+")
	case l.ch == '-' && isDigit(l.peek()):
		return l.readNumber(pos)
	case l.ch == '-':
		return simple(token.MINUS, "-")
	case l.ch == '.':
		return simple(token.DOT, ".")
	case l.ch == ',':
		return simple(token.COMMA, ",")
	case l.ch == '(':
		return simple(token.LPAREN, "(")
	case l.ch == ')':
		return simple(token.RPAREN, ")")
	case l.ch == '"' || l.ch == '\'':
		return l.readString(pos)
	case isDigit(l.ch):
		return l.readNumber(pos)
	case isIdentStart(l.ch):
		return l.readIdent(pos)
	}
	lit := string(l.ch)
	l.read()
	return token.Token{Type: token.ILLEGAL, Literal: "unexpected character " + strconv.Quote(lit), Pos: pos}
}

func (l *Lexer) readIdent(pos token.Position) token.Token {
	start := l.pos
	for isIdentStart(l.ch) || unicode.IsDigit(l.ch) || unicode.Is(unicode.Mn, l.ch) {
		l.read()
	}
	return token.Token{Type: token.IDENT, Literal: norm.NFC.String(l.input[start:l.pos]), Pos: pos}
}

func (l *Lexer) readNumber(pos token.Position) token.Token {
	start := l.pos
	if l.ch == '-' {
		l.read()
	}
	for isDigit(l.ch) {
		l.read()
	}
	if l.ch == '.' && isDigit(l.peek()) {
		l.read()
		for isDigit(l.ch) {
			l.read()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		l.read()
		if l.ch == '+' || l.ch == '-' {
			l.read()
		}
		if !isDigit(l.ch) {
			return token.Token{Type: token.ILLEGAL, Literal: "malformed number exponent", Pos: pos}
		}
		for isDigit(l.ch) {
			l.read()
		}
	}
	return token.Token{Type: token.NUMBER, Literal: l.input[start:l.pos], Pos: pos}
}

func (l *Lexer) readString(pos token.Position) token.Token {
	quote := l.ch
	l.read()
	var b strings.Builder
	for {
		switch l.ch {
		case -1:
			return token.Token{Type: token.ILLEGAL, Literal: "unterminated string", Pos: pos}
		case quote:
			l.read()
			return token.Token{Type: token.STRING, Literal: b.String(), Pos: pos}
		case '\\':
			l.read()
			r, ok := l.readEscape()
			if !ok {
				return token.Token{Type: token.ILLEGAL, Literal: "invalid escape sequence", Pos: l.position()}
			}
			b.WriteRune(r)
		default:
			b.WriteRune(l.ch)
			l.read()
		}
	}
}

// readEscape decodes the escape following a backslash.
func (l *Lexer) readEscape() (rune, bool) {
	var r rune
	switch l.ch {
	case '"', '\'', '\\', '/':
		r = l.ch
	case 'b':
		r = '\b'
	case 'f':
		r = '\f'
	case 'n':
		r = '\n'
	case 'r':
		r = '\r'
	case 't':
		r = '\t'
	case 'u':
		l.read()
		u, ok := l.readHex4()
		if !ok {
			return 0, false
		}
		if utf16.IsSurrogate(u) && l.ch == '\\' && l.peek() == 'u' {
			l.read()
			l.read()
			lo, ok := l.readHex4()
			if !ok {
				return 0, false
			}
			u = utf16.DecodeRune(u, lo)
		}
		return u, true
	default:
		return 0, false
	}
	l.read()
	return r, true
}

func (l *Lexer) readHex4() (rune, bool) {
	var v rune
	for range 4 {
		d, ok := hexValue(l.ch)
		if !ok {
			return 0, false
		}
		v = v<<4 | d
		l.read()
	}
	return v, true
}

func hexValue(r rune) (rune, bool) {
	switch {
	case r >= '0' && r <= '9':
		return r - '0', true
	case r >= 'a' && r <= 'f':
		return r - 'a' + 10, true
	case r >= 'A' && r <= 'F':
		return r - 'A' + 10, true
	}
	return 0, false
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}
