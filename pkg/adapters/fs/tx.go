package fs

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/plan"
	"github.com/leapstack-labs/manifold/pkg/planeval"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

type fileKey struct {
	model schema.ModelID
	id    string
	prop  string
}

func compareFileKey(a, b fileKey) int {
	return cmp.Or(cmp.Compare(a.model, b.model), cmp.Compare(a.id, b.id), cmp.Compare(a.prop, b.prop))
}

type stagedFile struct {
	data    []byte
	deleted bool
}

// tx stages documents and file contents until commit. A nil document marks
// a deletion.
type tx struct {
	a      *Adapter
	id     string
	docs   map[schema.ModelID]map[string]planeval.Doc
	wiped  map[schema.ModelID]bool
	files  map[fileKey]*stagedFile
	models map[schema.ModelID]*schema.Model
	log    []adapter.Change
	done   bool
}

func newTx(a *Adapter) *tx {
	return &tx{
		a:      a,
		id:     uuid.NewString(),
		docs:   make(map[schema.ModelID]map[string]planeval.Doc),
		wiped:  make(map[schema.ModelID]bool),
		files:  make(map[fileKey]*stagedFile),
		models: make(map[schema.ModelID]*schema.Model),
	}
}

// view merges committed records with the staged ones.
func (t *tx) view(m *schema.Model) (map[string]planeval.Doc, error) {
	committed, err := t.a.readAll(m)
	if err != nil {
		return nil, err
	}
	if t.wiped[m.ID()] {
		committed = make(map[string]planeval.Doc)
	}
	for id, d := range t.docs[m.ID()] {
		if d == nil {
			delete(committed, id)
		} else {
			committed[id] = d
		}
	}
	return committed, nil
}

func (t *tx) get(m *schema.Model, id string) (planeval.Doc, error) {
	if d, ok := t.docs[m.ID()][id]; ok {
		return d, nil
	}
	if t.wiped[m.ID()] {
		return nil, nil
	}
	return t.a.readDoc(m, id)
}

func (t *tx) lookup(_ context.Context, m *schema.Model, id string) (planeval.Doc, error) {
	if safeName(id) != nil {
		return nil, nil
	}
	return t.get(m, id)
}

func (t *tx) Execute(ctx context.Context, p *plan.Plan) (adapter.Cursor, error) {
	if t.done {
		return nil, adapter.ErrTxDone
	}
	view, err := t.view(p.Model)
	if err != nil {
		return nil, err
	}
	docs := make([]planeval.Doc, 0, len(view))
	for _, d := range view {
		docs = append(docs, d)
	}
	rows, err := planeval.Evaluate(ctx, p, docs, t.lookup)
	if err != nil {
		return nil, err
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
	if t.docs[m.ID()] == nil {
		t.docs[m.ID()] = make(map[string]planeval.Doc)
	}
	t.docs[m.ID()][id] = d
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
	if w.Op == adapter.WriteWipe {
		return t.wipe(m, w)
	}
	if err := safeName(w.ID); err != nil {
		return adapter.Result{}, &adapter.BackendError{Backend: t.a.cfg.Name, Op: op, Cause: err}
	}
	view, err := t.view(m)
	if err != nil {
		return adapter.Result{}, err
	}
	current, exists := view[w.ID]

	var next planeval.Doc
	switch w.Op {
	case adapter.WriteInsert:
		if exists {
			return adapter.Result{}, &adapter.BackendError{Backend: t.a.cfg.Name, Op: op,
				Cause: fmt.Errorf("%w: duplicate _id %s", adapter.ErrConstraint, w.ID)}
		}
		next = copyDoc(w.Data)
	case adapter.WriteUpdate:
		if !exists {
			return adapter.Result{}, adapter.ErrNotFound
		}
		next = copyDoc(w.Data)
	case adapter.WritePatch:
		if !exists {
			return adapter.Result{}, adapter.ErrNotFound
		}
		next = copyDoc(current)
		for k, v := range w.Data {
			next[k] = v
		}
	case adapter.WriteUpsert:
		next = copyDoc(current)
		if next == nil {
			next = make(planeval.Doc, len(w.Data))
		}
		for k, v := range w.Data {
			next[k] = v
		}
	case adapter.WriteDelete:
		if !exists {
			return adapter.Result{}, adapter.ErrNotFound
		}
		t.stage(m, w.ID, nil)
		for k := range t.files {
			if k.model == m.ID() && k.id == w.ID {
				delete(t.files, k)
			}
		}
		t.record(w, nil)
		return adapter.Result{Count: 1}, nil
	default:
		return adapter.Result{}, fmt.Errorf("unsupported write %s", w.Op)
	}

	next[schema.IDProperty] = w.ID
	// Round trip through JSON so staged records look exactly like stored ones.
	next, err = roundTrip(next)
	if err != nil {
		return adapter.Result{}, &adapter.BackendError{Backend: t.a.cfg.Name, Op: op, Cause: err}
	}
	view[w.ID] = next
	if err := checkUnique(m, view); err != nil {
		return adapter.Result{}, &adapter.BackendError{Backend: t.a.cfg.Name, Op: op, Cause: err}
	}
	t.stage(m, w.ID, next)
	t.record(w, next)
	return adapter.Result{Row: copyDoc(next), Count: 1}, nil
}

func (t *tx) wipe(m *schema.Model, w adapter.Write) (adapter.Result, error) {
	view, err := t.view(m)
	if err != nil {
		return adapter.Result{}, err
	}
	if w.Property == nil {
		t.wiped[m.ID()] = true
		t.models[m.ID()] = m
		delete(t.docs, m.ID())
		for k := range t.files {
			if k.model == m.ID() {
				delete(t.files, k)
			}
		}
		t.record(w, nil)
		return adapter.Result{Count: int64(len(view))}, nil
	}

	var n int64
	for id, d := range view {
		if w.ID != "" && id != w.ID {
			continue
		}
		next := copyDoc(d)
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
		Data:     copyDoc(data),
	})
}

func (t *tx) Changes(_ context.Context, m *schema.Model, since int64, limit int) ([]adapter.Change, error) {
	if t.done {
		return nil, adapter.ErrTxDone
	}
	t.a.mu.Lock()
	all, err := t.a.readChangelog()
	t.a.mu.Unlock()
	if err != nil {
		return nil, t.a.backendError("changes", err)
	}
	var out []adapter.Change
	for _, ch := range all {
		if ch.Model != string(m.ID()) || ch.Seq <= since {
			continue
		}
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
	t.docs = nil
	t.files = nil
	t.log = nil
	return nil
}

// ReadFile opens the content of a file property.
func (t *tx) ReadFile(_ context.Context, m *schema.Model, id string, prop *schema.Descriptor) (io.ReadCloser, adapter.FileInfo, error) {
	if t.done {
		return nil, adapter.FileInfo{}, adapter.ErrTxDone
	}
	d, err := t.get(m, id)
	if err != nil {
		return nil, adapter.FileInfo{}, err
	}
	info := storedInfo(d[prop.Name()])
	if info.Name == "" {
		info.Name = prop.Name()
	}

	if f, ok := t.files[fileKey{m.ID(), id, prop.Name()}]; ok {
		if f.deleted {
			return nil, adapter.FileInfo{}, adapter.ErrNotFound
		}
		info.Size = int64(len(f.data))
		return io.NopCloser(bytes.NewReader(f.data)), info, nil
	}

	path, err := t.a.contentPath(m, id, prop.Name())
	if err != nil {
		return nil, adapter.FileInfo{}, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, adapter.FileInfo{}, adapter.ErrNotFound
	}
	if err != nil {
		return nil, adapter.FileInfo{}, t.a.backendError("read file", err)
	}
	if st, err := f.Stat(); err == nil {
		info.Size = st.Size()
	}
	return f, info, nil
}

// WriteFile stages the content of a file property. The owning record may
// live in another backend, so it is not required here.
func (t *tx) WriteFile(ctx context.Context, m *schema.Model, id string, prop *schema.Descriptor, info adapter.FileInfo, r io.Reader) (adapter.FileInfo, error) {
	if t.done {
		return adapter.FileInfo{}, adapter.ErrTxDone
	}
	if _, err := t.a.contentPath(m, id, prop.Name()); err != nil {
		return adapter.FileInfo{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return adapter.FileInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return adapter.FileInfo{}, err
	}
	t.files[fileKey{m.ID(), id, prop.Name()}] = &stagedFile{data: data}
	t.models[m.ID()] = m
	info.Size = int64(len(data))
	if info.Name == "" {
		info.Name = prop.Name()
	}
	return info, nil
}

// DeleteFile stages removal of the content of a file property.
func (t *tx) DeleteFile(_ context.Context, m *schema.Model, id string, prop *schema.Descriptor) error {
	if t.done {
		return adapter.ErrTxDone
	}
	if _, err := t.a.contentPath(m, id, prop.Name()); err != nil {
		return err
	}
	t.files[fileKey{m.ID(), id, prop.Name()}] = &stagedFile{deleted: true}
	t.models[m.ID()] = m
	return nil
}

// storedInfo reads the file metadata kept in the record property.
func storedInfo(v any) adapter.FileInfo {
	var info adapter.FileInfo
	meta, ok := v.(map[string]any)
	if !ok {
		return info
	}
	info.Name, _ = meta["_id"].(string)
	info.ContentType, _ = meta["_content_type"].(string)
	if n, ok := meta["_size"].(int64); ok {
		info.Size = n
	}
	return info
}

func copyDoc(d planeval.Doc) planeval.Doc {
	if d == nil {
		return nil
	}
	out := make(planeval.Doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func roundTrip(d planeval.Doc) (planeval.Doc, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return decodeDoc(data)
}

var (
	_ adapter.Tx        = (*tx)(nil)
	_ adapter.FileStore = (*tx)(nil)
)
