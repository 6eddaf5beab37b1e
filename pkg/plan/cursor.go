package plan

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/leapstack-labs/manifold/pkg/schema"
)

type cursorToken struct {
	Values      []any  `json:"v"`
	Fingerprint string `json:"s"`
}

// Fingerprint identifies the model and sort order a cursor belongs to.
func (p *Plan) Fingerprint() string {
	var b strings.Builder
	b.WriteString(string(p.Model.ID()))
	for _, k := range p.Sort.Keys {
		b.WriteByte('|')
		if k.Desc {
			b.WriteByte('-')
		}
		b.WriteString(k.Field.Name)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(b.String()))
	return strconv.FormatUint(h.Sum64(), 36)
}

// Cursor encodes the token for the page following the given row. The row
// must have been read with this plan.
func (p *Plan) Cursor(row Row) (string, error) {
	tok := cursorToken{Values: p.SortValues(row), Fingerprint: p.Fingerprint()}
	for i, k := range p.Sort.Keys {
		tok.Values[i] = cursorValue(k.Field.Desc, tok.Values[i])
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// cursorValue brings a backend value to its canonical scalar form so the
// token does not depend on driver types.
func cursorValue(d *schema.Descriptor, v any) any {
	if v == nil || d.Kind() != schema.KindPrimitive {
		return v
	}
	if c, err := d.Scalar().Coerce(v); err == nil {
		return c
	}
	return v
}

func decodeCursor(token string, p *Plan) ([]any, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, semantic("cursor", "malformed token")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tok cursorToken
	if err := dec.Decode(&tok); err != nil {
		return nil, semantic("cursor", "malformed token")
	}
	if tok.Fingerprint != p.Fingerprint() {
		return nil, semantic("cursor", "token was issued for a different model or sort order")
	}
	if len(tok.Values) != len(p.Sort.Keys) {
		return nil, semantic("cursor", "token does not match the sort keys")
	}
	out := make([]any, len(tok.Values))
	for i, v := range tok.Values {
		if v == nil {
			continue
		}
		d := p.Sort.Keys[i].Field.Desc
		if d.Kind() == schema.KindRef {
			s, ok := v.(string)
			if !ok {
				return nil, semantic("cursor", "token value %d is not a reference", i)
			}
			out[i] = s
			continue
		}
		c, err := d.Scalar().Coerce(v)
		if err != nil {
			return nil, semantic("cursor", "token value %d: %v", i, err)
		}
		out[i] = c
	}
	return out, nil
}
