package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// String renders the canonical form of the query: the filter first, then
// select, sort, limit, offset and cursor, joined by &. Parsing the result
// yields an equal Query.
func (q *Query) String() string {
	var parts []string
	if q.Filter != nil {
		s := q.Filter.String()
		if l, ok := q.Filter.(*Logical); ok && l.Op == Or && q.hasDirectives() {
			s = "(" + s + ")"
		}
		parts = append(parts, s)
	}
	if q.Select != nil {
		fields := make([]string, len(q.Select))
		for i, p := range q.Select {
			fields[i] = p.String()
		}
		parts = append(parts, "select("+strings.Join(fields, ",")+")")
	}
	if len(q.Sort) > 0 {
		keys := make([]string, len(q.Sort))
		for i, k := range q.Sort {
			keys[i] = k.String()
		}
		parts = append(parts, "sort("+strings.Join(keys, ",")+")")
	}
	if q.Limit != nil {
		parts = append(parts, fmt.Sprintf("limit(%d)", *q.Limit))
	}
	if q.Offset != nil {
		parts = append(parts, fmt.Sprintf("offset(%d)", *q.Offset))
	}
	if q.Cursor != "" {
		parts = append(parts, "cursor("+quote(q.Cursor)+")")
	}
	return strings.Join(parts, "&")
}

func (q *Query) hasDirectives() bool {
	return q.Select != nil || len(q.Sort) > 0 || q.Limit != nil || q.Offset != nil || q.Cursor != ""
}

func (c *Compare) String() string {
	if sym, ok := infix[c.Op]; ok && len(c.Values) == 1 {
		return c.Field.String() + sym + c.Values[0].String()
	}
	vals := make([]string, len(c.Values))
	for i, v := range c.Values {
		vals[i] = v.String()
	}
	return c.Field.String() + "=" + string(c.Op) + "(" + strings.Join(vals, ",") + ")"
}

func (l *Logical) String() string {
	sep := "&"
	if l.Op == Or {
		sep = "|"
	}
	parts := make([]string, len(l.Args))
	for i, a := range l.Args {
		s := a.String()
		// Or binds looser than and; nested ors need grouping.
		if c, ok := a.(*Logical); ok && l.Op == And && c.Op == Or {
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, sep)
}

func (n *Not) String() string {
	if _, ok := n.Arg.(*Logical); ok {
		return "!(" + n.Arg.String() + ")"
	}
	return "!" + n.Arg.String()
}

// quote renders s as a double-quoted literal using the escapes the lexer
// understands.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 || r == utf8.RuneError {
				b.WriteString(`\u`)
				h := strconv.FormatInt(int64(r), 16)
				b.WriteString(strings.Repeat("0", 4-len(h)) + h)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
