package query

import (
	"strconv"

	"github.com/leapstack-labs/manifold/pkg/token"
)

var callOps = map[string]Op{
	"eq":         OpEq,
	"ne":         OpNe,
	"lt":         OpLt,
	"le":         OpLe,
	"gt":         OpGt,
	"ge":         OpGe,
	"contains":   OpContains,
	"startswith": OpStartsWith,
}

var infixOps = map[token.TokenType]Op{
	token.EQ: OpEq,
	token.NE: OpNe,
	token.LT: OpLt,
	token.LE: OpLe,
	token.GT: OpGt,
	token.GE: OpGe,
}

var directives = map[string]bool{
	"select": true,
	"sort":   true,
	"limit":  true,
	"offset": true,
	"cursor": true,
}

// Parse parses a query expression. It either consumes the whole input or
// returns a *SyntaxError.
func Parse(input string) (*Query, error) {
	p := &parser{lex: NewLexer(input), seen: make(map[string]bool)}
	p.advance()
	p.advance()

	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	return q, nil
}

// MustParse is Parse for fixed query text; it panics on error.
func MustParse(input string) *Query {
	q, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return q
}

type parser struct {
	lex  *Lexer
	tok  token.Token
	peek token.Token

	q    Query
	seen map[string]bool
}

func (p *parser) advance() {
	p.tok = p.peek
	p.peek = p.lex.Next()
}

func (p *parser) fail(expected string) error {
	found := p.tok.String()
	if p.tok.Type == token.ILLEGAL {
		found = p.tok.Literal
	}
	return &SyntaxError{Pos: p.tok.Pos, Expected: expected, Found: found}
}

func (p *parser) expect(t token.TokenType) error {
	if p.tok.Type != t {
		return p.fail(strconv.Quote(t.String()))
	}
	p.advance()
	return nil
}

func (p *parser) isDirective() bool {
	return p.tok.Type == token.IDENT && p.peek.Type == token.LPAREN && directives[p.tok.Literal]
}

// parseQuery handles the top level, where directives may appear as
// conjuncts of the outermost and.
func (p *parser) parseQuery() (*Query, error) {
	if p.tok.Type == token.EOF {
		return &p.q, nil
	}

	var conj []Expr
	var firstDirective *token.Position
	for {
		if p.isDirective() {
			pos := p.tok.Pos
			if firstDirective == nil {
				firstDirective = &pos
			}
			if err := p.parseDirective(); err != nil {
				return nil, err
			}
		} else {
			e, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			conj = append(conj, e)
		}
		if p.tok.Type != token.AMP {
			break
		}
		p.advance()
	}

	filter := NewLogical(And, conj...)
	if p.tok.Type == token.PIPE {
		if firstDirective != nil {
			return nil, &SyntaxError{Pos: *firstDirective, Expected: "filter expression", Found: "directive inside |"}
		}
		args := []Expr{filter}
		for p.tok.Type == token.PIPE {
			p.advance()
			e, err := p.parseAnd()
			if err != nil {
				return nil, err
			}
			args = append(args, e)
		}
		filter = NewLogical(Or, args...)
	}
	if p.tok.Type != token.EOF {
		return nil, p.fail(`"&", "|" or end of input`)
	}
	p.q.Filter = filter
	return &p.q, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	args := []Expr{left}
	for p.tok.Type == token.PIPE {
		p.advance()
		e, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}
	return NewLogical(Or, args...), nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	args := []Expr{left}
	for p.tok.Type == token.AMP {
		p.advance()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}
	return NewLogical(And, args...), nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.tok.Type == token.BANG {
		p.advance()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{Arg: e}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	switch {
	case p.tok.Type == token.LPAREN:
		p.advance()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return e, nil
	case p.isDirective():
		return nil, &SyntaxError{Pos: p.tok.Pos, Expected: "filter expression", Found: p.tok.Literal + "() below the top level"}
	case p.tok.Type == token.IDENT && p.peek.Type == token.LPAREN:
		return p.parseCall()
	case p.tok.Type == token.IDENT:
		return p.parseComparison()
	}
	return nil, p.fail("filter expression")
}

// parseCall handles the function forms: and(...), or(...), not(...),
// op(field, value) and in(field, values...).
func (p *parser) parseCall() (Expr, error) {
	name, pos := p.tok.Literal, p.tok.Pos
	p.advance()
	p.advance() // (

	switch name {
	case "and", "or":
		op := And
		if name == "or" {
			op = Or
		}
		var args []Expr
		for {
			e, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, e)
			if p.tok.Type != token.COMMA {
				break
			}
			p.advance()
		}
		if err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return NewLogical(op, args...), nil
	case "not":
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return &Not{Arg: e}, nil
	case "in":
		field, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		if err := p.expect(token.COMMA); err != nil {
			return nil, err
		}
		vals, err := p.parseLiteralList()
		if err != nil {
			return nil, err
		}
		return &Compare{Field: field, Op: OpIn, Values: vals}, nil
	}

	op, ok := callOps[name]
	if !ok {
		return nil, &SyntaxError{Pos: pos, Expected: "known function", Found: strconv.Quote(name)}
	}
	field, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	if err := p.expect(token.COMMA); err != nil {
		return nil, err
	}
	v, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	if err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return &Compare{Field: field, Op: op, Values: []Value{v}}, nil
}

func (p *parser) parseComparison() (Expr, error) {
	field, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	op, ok := infixOps[p.tok.Type]
	if !ok {
		return nil, p.fail("comparison operator")
	}
	p.advance()

	// a=contains("x"), a=startswith("x"), a=in(1,2)
	if op == OpEq && p.tok.Type == token.IDENT && p.peek.Type == token.LPAREN {
		name := p.tok.Literal
		switch name {
		case "contains", "startswith":
			p.advance()
			p.advance()
			v, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			if err := p.expect(token.RPAREN); err != nil {
				return nil, err
			}
			return &Compare{Field: field, Op: callOps[name], Values: []Value{v}}, nil
		case "in":
			p.advance()
			p.advance()
			vals, err := p.parseLiteralList()
			if err != nil {
				return nil, err
			}
			return &Compare{Field: field, Op: OpIn, Values: vals}, nil
		}
		return nil, p.fail("literal, contains(), startswith() or in()")
	}

	v, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &Compare{Field: field, Op: op, Values: []Value{v}}, nil
}

// parseLiteralList reads one or more literals and the closing paren.
func (p *parser) parseLiteralList() ([]Value, error) {
	var vals []Value
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
		if p.tok.Type != token.COMMA {
			break
		}
		p.advance()
	}
	if err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return vals, nil
}

func (p *parser) parseLiteral() (Value, error) {
	var v Value
	switch p.tok.Type {
	case token.STRING:
		v = String(p.tok.Literal)
	case token.NUMBER:
		v = Number(p.tok.Literal)
	case token.IDENT:
		switch p.tok.Literal {
		case "true":
			v = Bool(true)
		case "false":
			v = Bool(false)
		case "null":
			v = Null
		default:
			return Value{}, p.fail("literal")
		}
	default:
		return Value{}, p.fail("literal")
	}
	p.advance()
	return v, nil
}

func (p *parser) parsePath() (Path, error) {
	if p.tok.Type != token.IDENT {
		return nil, p.fail("field name")
	}
	path := Path{p.tok.Literal}
	p.advance()
	for p.tok.Type == token.DOT {
		p.advance()
		if p.tok.Type != token.IDENT {
			return nil, p.fail("field name")
		}
		path = append(path, p.tok.Literal)
		p.advance()
	}
	return path, nil
}

func (p *parser) parseDirective() error {
	name := p.tok.Literal
	pos := p.tok.Pos
	if p.seen[name] {
		return &SyntaxError{Pos: pos, Expected: "at most one " + name + "()", Found: "repeated " + name + "()"}
	}
	p.seen[name] = true
	p.advance()
	p.advance() // (

	switch name {
	case "select":
		p.q.Select = []Path{}
		if p.tok.Type == token.RPAREN {
			break
		}
		for {
			f, err := p.parsePath()
			if err != nil {
				return err
			}
			p.q.Select = append(p.q.Select, f)
			if p.tok.Type != token.COMMA {
				break
			}
			p.advance()
		}
	case "sort":
		for {
			key := SortKey{}
			switch p.tok.Type {
			case token.MINUS:
				key.Desc = true
				p.advance()
			case token.PLUS:
				p.advance()
			}
			f, err := p.parsePath()
			if err != nil {
				return err
			}
			key.Field = f
			p.q.Sort = append(p.q.Sort, key)
			if p.tok.Type != token.COMMA {
				break
			}
			p.advance()
		}
	case "limit", "offset":
		n, err := p.parseCount()
		if err != nil {
			return err
		}
		if name == "limit" {
			p.q.Limit = &n
		} else {
			p.q.Offset = &n
		}
	case "cursor":
		if p.tok.Type != token.STRING || p.tok.Literal == "" {
			return p.fail("cursor token string")
		}
		p.q.Cursor = p.tok.Literal
		p.advance()
	}
	return p.expect(token.RPAREN)
}

func (p *parser) parseCount() (int64, error) {
	if p.tok.Type != token.NUMBER {
		return 0, p.fail("non-negative integer")
	}
	n, err := strconv.ParseInt(p.tok.Literal, 10, 64)
	if err != nil || n < 0 {
		return 0, p.fail("non-negative integer")
	}
	p.advance()
	return n, nil
}
