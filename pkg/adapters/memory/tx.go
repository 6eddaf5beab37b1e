package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/plan"
	"github.com/leapstack-labs/manifold/pkg/planeval"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

func newID() string { return uuid.NewString() }

// tx stages writes in an overlay: a nil document marks a deletion.
type tx struct {
	a       *Adapter
	id      string
	overlay map[schema.ModelID]map[string]planeval.Doc
	wiped   map[schema.ModelID]bool
	models  map[schema.ModelID]*schema.Model
	log     []adapter.Change
	done    bool
}

func (t *tx) touched() map[schema.ModelID]bool {
	out := make(map[schema.ModelID]bool, len(t.overlay)+len(t.wiped))
	for id := range t.overlay {
		out[id] = true
	}
	for id := range t.wiped {
		out[id] = true
	}
	return out
}

// view merges committed documents with the overlay of one model.
func (t *tx) view(id schema.ModelID, committed collection) collection {
	out := make(collection, len(committed))
	if !t.wiped[id] {
		for k, d := range committed {
			out[k] = d
		}
	}
	for k, d := range t.overlay[id] {
		if d == nil {
			delete(out, k)
		} else {
			out[k] = d
		}
	}
	return out
}

// collection returns the view of m. A model that was never migrated in
// this process reads as an empty collection.
func (t *tx) collection(m *schema.Model) (collection, error) {
	t.a.mu.RLock()
	defer t.a.mu.RUnlock()
	if t.a.collections == nil {
		return nil, adapter.ErrNotConnected
	}
	return t.view(m.ID(), t.a.collections[m.ID()]), nil
}

func (t *tx) lookup(_ context.Context, m *schema.Model, id string) (planeval.Doc, error) {
	c, err := t.collection(m)
	if err != nil {
		return nil, err
	}
	return c[id], nil
}

func (t *tx) Execute(ctx context.Context, p *plan.Plan) (adapter.Cursor, error) {
	if t.done {
		return nil, adapter.ErrTxDone
	}
	c, err := t.collection(p.Model)
	if err != nil {
		return nil, err
	}
	docs := make([]planeval.Doc, 0, len(c))
	for _, d := range c {
		docs = append(docs, d)
	}
	rows, err := planeval.Evaluate(ctx, p, docs, t.lookup)
	if err != nil {
		return nil, err
	}
	for i, r := range rows {
		rows[i] = plan.Row(cloneDoc(r))
	}
	return adapter.NewSliceCursor(rows), nil
}

func (t *tx) Stream(_ context.Context, p *plan.Plan) (adapter.Cursor, error) {
	if t.done {
		return nil, adapter.ErrTxDone
	}
	return adapter.NewPagedCursor(t.Execute, p, t.a.cfg.Batch()), nil
}

func (t *tx) stage(m *schema.Model, id string, d planeval.Doc) {
	if t.overlay[m.ID()] == nil {
		t.overlay[m.ID()] = make(map[string]planeval.Doc)
	}
	t.overlay[m.ID()][id] = d
	if t.models == nil {
		t.models = make(map[schema.ModelID]*schema.Model)
	}
	t.models[m.ID()] = m
}

func (t *tx) Apply(ctx context.Context, w adapter.Write) (adapter.Result, error) {
	if t.done {
		return adapter.Result{}, adapter.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return adapter.Result{}, err
	}
	m := w.Model
	op := w.Op.String() + " " + string(m.ID())
	c, err := t.collection(m)
	if err != nil {
		return adapter.Result{}, err
	}
	current, exists := c[w.ID]

	var next planeval.Doc
	switch w.Op {
	case adapter.WriteInsert:
		if exists {
			return adapter.Result{}, t.a.backendError(op, false, fmt.Errorf("%w: duplicate _id %s", adapter.ErrConstraint, w.ID))
		}
		next = cloneDoc(w.Data)
	case adapter.WriteUpdate:
		if !exists {
			return adapter.Result{}, adapter.ErrNotFound
		}
		next = cloneDoc(w.Data)
	case adapter.WritePatch:
		if !exists {
			return adapter.Result{}, adapter.ErrNotFound
		}
		next = merge(current, w.Data)
	case adapter.WriteUpsert:
		next = merge(current, w.Data)
	case adapter.WriteDelete:
		if !exists {
			return adapter.Result{}, adapter.ErrNotFound
		}
		t.stage(m, w.ID, nil)
		t.record(w, nil)
		return adapter.Result{Count: 1}, nil
	case adapter.WriteWipe:
		return t.wipe(m, c, w)
	default:
		return adapter.Result{}, fmt.Errorf("unsupported write %s", w.Op)
	}

	next[schema.IDProperty] = w.ID
	c[w.ID] = next
	if err := t.a.checkUnique(m, c); err != nil {
		return adapter.Result{}, t.a.backendError(op, false, err)
	}
	t.stage(m, w.ID, next)
	t.record(w, next)
	return adapter.Result{Row: cloneDoc(next), Count: 1}, nil
}

func (t *tx) wipe(m *schema.Model, c collection, w adapter.Write) (adapter.Result, error) {
	if w.Property == nil {
		t.wiped[m.ID()] = true
		delete(t.overlay, m.ID())
		if t.models == nil {
			t.models = make(map[schema.ModelID]*schema.Model)
		}
		t.models[m.ID()] = m
		t.record(w, nil)
		return adapter.Result{Count: int64(len(c))}, nil
	}

	var n int64
	for id, d := range c {
		if w.ID != "" && id != w.ID {
			continue
		}
		next := cloneDoc(d)
		delete(next, w.Property.Name())
		t.stage(m, id, next)
		n++
	}
	t.record(w, nil)
	return adapter.Result{Count: n}, nil
}

func (t *tx) record(w adapter.Write, data planeval.Doc) {
	rev, _ := w.Data[schema.RevisionProperty].(string)
	t.log = append(t.log, adapter.Change{
		TxID:     t.id,
		Model:    string(w.Model.ID()),
		ID:       w.ID,
		Revision: rev,
		Op:       w.Op.String(),
		Data:     cloneDoc(data),
	})
}

func (t *tx) Changes(_ context.Context, m *schema.Model, since int64, limit int) ([]adapter.Change, error) {
	if t.done {
		return nil, adapter.ErrTxDone
	}
	t.a.mu.RLock()
	defer t.a.mu.RUnlock()
	var out []adapter.Change
	for _, ch := range t.a.changes[m.ID()] {
		if ch.Seq <= since {
			continue
		}
		ch.Data = cloneDoc(ch.Data)
		out = append(out, ch)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return adapter.ErrTxDone
	}
	t.done = true
	return t.a.commit(t)
}

func (t *tx) Rollback(_ context.Context) error {
	t.done = true
	t.overlay = nil
	t.log = nil
	return nil
}

// merge returns a copy of base with the top-level keys of patch replaced.
func merge(base, patch planeval.Doc) planeval.Doc {
	out := cloneDoc(base)
	if out == nil {
		out = make(planeval.Doc, len(patch))
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneDoc(d map[string]any) map[string]any {
	if d == nil {
		return nil
	}
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneDoc(x)
	case []any:
		out := make([]any, len(x))
		for i, it := range x {
			out[i] = cloneValue(it)
		}
		return out
	}
	return v
}
