package engine

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/manifold/pkg/auth"
	"github.com/leapstack-labs/manifold/pkg/dispatch"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// Mask replaces sensitive values the scope may not see.
const Mask = "********"

// Codec converts one property value. Load turns client input into the
// native form, Prepare turns native values into what the backend stores
// and Dump turns stored values into client output.
type Codec func(c *ValueContext, d *schema.Descriptor, v any) (any, error)

// ValueContext carries what codecs need to know about the call.
type ValueContext struct {
	Graph   *schema.Graph
	Scope   *auth.Scope
	Backend schema.BackendKind
	Action  auth.Action

	codecs *dispatch.Table[Codec]
}

// Convert resolves and applies the codec for op on d. Nested values are
// converted through the same table.
func (c *ValueContext) Convert(op dispatch.Op, d *schema.Descriptor, v any) (any, error) {
	res, err := c.codecs.Resolve(op, d.Kind(), c.Backend)
	if err != nil {
		return nil, err
	}
	return res.Impl(c, d, v)
}

// native switches the context to in-process values, used for the children
// of values a relational backend keeps as JSON.
func (c *ValueContext) native() *ValueContext {
	cp := *c
	cp.Backend = schema.BackendDocument
	return &cp
}

func fieldError(d *schema.Descriptor, format string, args ...any) *ValidationError {
	return &ValidationError{Model: d.Model(), Property: d.Place(), Reason: fmt.Sprintf(format, args...)}
}

// DefaultCodecs returns the value codec table.
func DefaultCodecs() (*dispatch.Table[Codec], error) {
	b := dispatch.NewBuilder[Codec]()

	b.MustRegister(dispatch.OpLoad, schema.KindAny, schema.BackendAny, loadAny)
	b.MustRegister(dispatch.OpLoad, schema.KindPrimitive, schema.BackendAny, loadScalar)
	b.MustRegister(dispatch.OpLoad, schema.KindObject, schema.BackendAny, loadObject)
	b.MustRegister(dispatch.OpLoad, schema.KindArray, schema.BackendAny, loadArray)
	b.MustRegister(dispatch.OpLoad, schema.KindRef, schema.BackendAny, loadRef)
	b.MustRegister(dispatch.OpLoad, schema.KindFile, schema.BackendAny, loadFile)

	b.MustRegister(dispatch.OpPrepare, schema.KindAny, schema.BackendAny, passThrough)
	b.MustRegister(dispatch.OpPrepare, schema.KindObject, schema.BackendRelational, prepareJSON)
	b.MustRegister(dispatch.OpPrepare, schema.KindArray, schema.BackendRelational, prepareJSON)
	b.MustRegister(dispatch.OpPrepare, schema.KindFile, schema.BackendRelational, prepareJSON)
	b.MustRegister(dispatch.OpPrepare, schema.KindFile, schema.BackendFile, prepareLocalFile)

	b.MustRegister(dispatch.OpDump, schema.KindAny, schema.BackendAny, passThrough)
	b.MustRegister(dispatch.OpDump, schema.KindPrimitive, schema.BackendAny, dumpScalar)
	b.MustRegister(dispatch.OpDump, schema.KindSensitive, schema.BackendAny, dumpSensitive)
	b.MustRegister(dispatch.OpDump, schema.KindObject, schema.BackendAny, dumpObject)
	b.MustRegister(dispatch.OpDump, schema.KindArray, schema.BackendAny, dumpArray)
	b.MustRegister(dispatch.OpDump, schema.KindObject, schema.BackendRelational, dumpJSON)
	b.MustRegister(dispatch.OpDump, schema.KindArray, schema.BackendRelational, dumpJSON)
	b.MustRegister(dispatch.OpDump, schema.KindFile, schema.BackendRelational, dumpJSON)
	b.MustRegister(dispatch.OpDump, schema.KindRef, schema.BackendAny, dumpRef)

	return b.Freeze()
}

func passThrough(_ *ValueContext, _ *schema.Descriptor, v any) (any, error) { return v, nil }

func loadAny(_ *ValueContext, d *schema.Descriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if _, ok := v.(string); !ok {
		return nil, fieldError(d, "expected a string, got %T", v)
	}
	return v, nil
}

func loadScalar(_ *ValueContext, d *schema.Descriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := d.Scalar().Coerce(v)
	if err != nil {
		return nil, fieldError(d, "%v", err)
	}
	return out, nil
}

func loadObject(c *ValueContext, d *schema.Descriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	in, ok := v.(map[string]any)
	if !ok {
		return nil, fieldError(d, "expected an object, got %T", v)
	}
	out := make(map[string]any, len(in))
	for k, val := range in {
		child, ok := d.Property(k)
		if !ok {
			return nil, fieldError(d, "unknown property %q", k)
		}
		conv, err := c.Convert(dispatch.OpLoad, child, val)
		if err != nil {
			return nil, err
		}
		out[k] = conv
	}
	return out, nil
}

func loadArray(c *ValueContext, d *schema.Descriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	in, ok := v.([]any)
	if !ok {
		return nil, fieldError(d, "expected an array, got %T", v)
	}
	out := make([]any, len(in))
	for i, it := range in {
		conv, err := c.Convert(dispatch.OpLoad, d.Items(), it)
		if err != nil {
			return nil, err
		}
		out[i] = conv
	}
	return out, nil
}

// loadRef accepts the target id or an object holding it.
func loadRef(_ *ValueContext, d *schema.Descriptor, v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case map[string]any:
		if id, ok := x[schema.IDProperty].(string); ok && len(x) == 1 {
			return id, nil
		}
	}
	return nil, fieldError(d, "expected a reference to %s", d.Target())
}

// loadFile accepts file metadata. Sizes are computed when content is
// written, never taken from the client.
func loadFile(_ *ValueContext, d *schema.Descriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	in, ok := v.(map[string]any)
	if !ok {
		return nil, fieldError(d, "expected file metadata, got %T", v)
	}
	out := make(map[string]any, 2)
	for k, val := range in {
		switch k {
		case "_id", "_content_type":
			s, ok := val.(string)
			if !ok {
				return nil, fieldError(d, "%s must be a string", k)
			}
			out[k] = s
		case "_size":
		default:
			return nil, fieldError(d, "unknown file attribute %q", k)
		}
	}
	return out, nil
}

func prepareJSON(_ *ValueContext, d *schema.Descriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fieldError(d, "%v", err)
	}
	return string(data), nil
}

// prepareLocalFile rejects file names that would leave the backend root.
func prepareLocalFile(_ *ValueContext, d *schema.Descriptor, v any) (any, error) {
	meta, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}
	name, _ := meta["_id"].(string)
	if name == "" {
		return v, nil
	}
	if strings.ContainsAny(name, `/\`) || !filepath.IsLocal(name) {
		return nil, fieldError(d, "file name %q is not a plain file name", name)
	}
	return v, nil
}

func dumpScalar(_ *ValueContext, d *schema.Descriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if out, err := d.Scalar().Coerce(v); err == nil {
		return out, nil
	}
	return v, nil
}

func dumpSensitive(c *ValueContext, d *schema.Descriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if c.Scope != nil {
		m, ok := c.Graph.Model(d.Model())
		if !ok || !c.Scope.Explicit(m, d, c.Action) {
			return Mask, nil
		}
	}
	return dumpScalar(c, d, v)
}

func dumpObject(c *ValueContext, d *schema.Descriptor, v any) (any, error) {
	in, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}
	out := make(map[string]any, len(in))
	for k, val := range in {
		child, ok := d.Property(k)
		if !ok || child.Hidden() {
			continue
		}
		conv, err := c.Convert(dispatch.OpDump, child, val)
		if err != nil {
			return nil, err
		}
		out[k] = conv
	}
	return out, nil
}

func dumpArray(c *ValueContext, d *schema.Descriptor, v any) (any, error) {
	in, ok := v.([]any)
	if !ok {
		return v, nil
	}
	out := make([]any, len(in))
	for i, it := range in {
		conv, err := c.Convert(dispatch.OpDump, d.Items(), it)
		if err != nil {
			return nil, err
		}
		out[i] = conv
	}
	return out, nil
}

// dumpJSON decodes values a relational backend keeps as JSON text and
// dumps the result as native values.
func dumpJSON(c *ValueContext, d *schema.Descriptor, v any) (any, error) {
	var raw []byte
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		raw = []byte(x)
	case []byte:
		raw = x
	default:
		return c.native().Convert(dispatch.OpDump, d, v)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%s: stored value is not JSON: %w", d, err)
	}
	return c.native().Convert(dispatch.OpDump, d, decoded)
}

func dumpRef(_ *ValueContext, _ *schema.Descriptor, v any) (any, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if id, ok := v.(string); ok {
		return map[string]any{schema.IDProperty: id}, nil
	}
	return v, nil
}
