package query

import (
	"strconv"
	"strings"
)

// Path is a dotted field reference, e.g. country.name.
type Path []string

func (p Path) String() string { return strings.Join(p, ".") }

// Op is a comparison operator.
type Op string

// Comparison operators.
const (
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpLt         Op = "lt"
	OpLe         Op = "le"
	OpGt         Op = "gt"
	OpGe         Op = "ge"
	OpContains   Op = "contains"
	OpStartsWith Op = "startswith"
	OpIn         Op = "in"
)

var infix = map[Op]string{
	OpEq: "=",
	OpNe: "!=",
	OpLt: "<",
	OpLe: "<=",
	OpGt: ">",
	OpGe: ">=",
}

// Ordering reports whether the operator compares by order.
func (o Op) Ordering() bool {
	switch o {
	case OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// ValueKind is the type of a literal.
type ValueKind uint8

// Literal kinds.
const (
	ValueNull ValueKind = iota
	ValueString
	ValueNumber
	ValueBool
)

func (k ValueKind) String() string {
	switch k {
	case ValueString:
		return "string"
	case ValueNumber:
		return "number"
	case ValueBool:
		return "boolean"
	}
	return "null"
}

// Value is a literal. Numbers keep their source spelling in Raw.
type Value struct {
	Kind ValueKind
	Raw  string
}

// String returns a string literal value.
func String(s string) Value { return Value{Kind: ValueString, Raw: s} }

// Number returns a number literal value.
func Number(raw string) Value { return Value{Kind: ValueNumber, Raw: raw} }

// Int returns an integer literal value.
func Int(n int64) Value { return Value{Kind: ValueNumber, Raw: strconv.FormatInt(n, 10)} }

// Bool returns a boolean literal value.
func Bool(b bool) Value { return Value{Kind: ValueBool, Raw: strconv.FormatBool(b)} }

// Null is the null literal.
var Null = Value{Kind: ValueNull, Raw: "null"}

// Int64 returns the value as an integer when it is an integral number.
func (v Value) Int64() (int64, bool) {
	if v.Kind != ValueNumber {
		return 0, false
	}
	n, err := strconv.ParseInt(v.Raw, 10, 64)
	return n, err == nil
}

// Float64 returns the value of a number literal.
func (v Value) Float64() (float64, bool) {
	if v.Kind != ValueNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.Raw, 64)
	return f, err == nil
}

// Native returns the Go value of the literal: string, int64, float64,
// bool or nil.
func (v Value) Native() any {
	switch v.Kind {
	case ValueString:
		return v.Raw
	case ValueNumber:
		if n, ok := v.Int64(); ok {
			return n
		}
		f, _ := v.Float64()
		return f
	case ValueBool:
		return v.Raw == "true"
	}
	return nil
}

func (v Value) String() string {
	if v.Kind == ValueString {
		return quote(v.Raw)
	}
	return v.Raw
}

// Expr is a filter expression node.
type Expr interface {
	exprNode()
	String() string
}

// Compare is a predicate on one field. Values holds one literal except for
// OpIn.
type Compare struct {
	Field  Path
	Op     Op
	Values []Value
}

// BoolOp combines child expressions.
type BoolOp uint8

// Combinators.
const (
	And BoolOp = iota + 1
	Or
)

// Logical is an and/or over two or more children. Children never hold a
// Logical with the same operator.
type Logical struct {
	Op   BoolOp
	Args []Expr
}

// Not negates its argument.
type Not struct {
	Arg Expr
}

func (*Compare) exprNode() {}
func (*Logical) exprNode() {}
func (*Not) exprNode()     {}

// SortKey orders results by one field.
type SortKey struct {
	Field Path
	Desc  bool
}

func (k SortKey) String() string {
	if k.Desc {
		return "-" + k.Field.String()
	}
	return k.Field.String()
}

// Query is a parsed query expression. Filter is nil when there is none;
// Limit and Offset are nil when not given. Select is nil without select()
// and empty for select().
type Query struct {
	Filter Expr
	Select []Path
	Sort   []SortKey
	Limit  *int64
	Offset *int64
	Cursor string
}

// Walk calls fn for e and every descendant, parents first.
func Walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch n := e.(type) {
	case *Logical:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *Not:
		Walk(n.Arg, fn)
	}
}

// NewLogical builds an and/or node, flattening children with the same
// operator. A single child is returned as is.
func NewLogical(op BoolOp, args ...Expr) Expr {
	var flat []Expr
	for _, a := range args {
		if l, ok := a.(*Logical); ok && l.Op == op {
			flat = append(flat, l.Args...)
			continue
		}
		flat = append(flat, a)
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return &Logical{Op: op, Args: flat}
}
