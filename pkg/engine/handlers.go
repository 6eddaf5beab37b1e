package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/auth"
	"github.com/leapstack-labs/manifold/pkg/dispatch"
	"github.com/leapstack-labs/manifold/pkg/execution"
	"github.com/leapstack-labs/manifold/pkg/plan"
	"github.com/leapstack-labs/manifold/pkg/query"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// Record is a client-facing record keyed by property name.
type Record = map[string]any

// File is file content with its metadata.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// Request is one routed operation.
type Request struct {
	Op    dispatch.Op
	Model *schema.Model
	// Prop is set for subresource operations on a property.
	Prop *schema.Descriptor
	ID   string
	Data map[string]any
	// Query is the parsed query of list reads.
	Query  *query.Query
	Stream bool
	Since  int64
	Limit  int
	File   *File
	// Models lists every model of a migrate request.
	Models []*schema.Model
	// Backend is the adapter storing the target, set by the engine.
	Backend adapter.Adapter
}

// Response is the outcome of a Request. Only the fields that apply to the
// operation are set.
type Response struct {
	Record  Record
	Records []Record
	Stream  *Records
	Next    string
	Count   int64
	Changes []Change
	File    *File
}

// Change is a change log entry with its data dumped for the client.
type Change struct {
	adapter.Change
	Data Record `json:"data,omitempty"`
}

// Handler implements an operation for one (kind, backend) shape.
type Handler func(e *Engine, x *execution.Context, r *Request) (*Response, error)

// DefaultHandlers returns the operation table.
func DefaultHandlers() (*dispatch.Table[Handler], error) {
	b := dispatch.NewBuilder[Handler]()

	for _, op := range []dispatch.Op{dispatch.OpInsert, dispatch.OpUpdate, dispatch.OpPatch, dispatch.OpUpsert} {
		b.MustRegister(op, schema.KindModel, schema.BackendAny, writeRecord)
	}
	b.MustRegister(dispatch.OpDelete, schema.KindModel, schema.BackendAny, deleteRecord)
	b.MustRegister(dispatch.OpGetOne, schema.KindModel, schema.BackendAny, getOne)
	b.MustRegister(dispatch.OpGetAll, schema.KindModel, schema.BackendAny, getAll)
	b.MustRegister(dispatch.OpWipe, schema.KindModel, schema.BackendAny, wipeModel)
	b.MustRegister(dispatch.OpChanges, schema.KindModel, schema.BackendAny, changes)
	for _, kind := range []schema.BackendKind{schema.BackendRelational, schema.BackendDocument, schema.BackendFile} {
		b.MustRegister(dispatch.OpMigrate, schema.KindModel, kind, migrate)
	}

	b.MustRegister(dispatch.OpWipe, schema.KindArray, schema.BackendAny, wipeArray)
	b.MustRegister(dispatch.OpGetOne, schema.KindFile, schema.BackendFile, readFile)
	b.MustRegister(dispatch.OpPatch, schema.KindFile, schema.BackendFile, writeFile)
	b.MustRegister(dispatch.OpDelete, schema.KindFile, schema.BackendFile, deleteFile)
	for _, op := range []dispatch.Op{dispatch.OpGetOne, dispatch.OpPatch, dispatch.OpDelete} {
		b.MustRegister(op, schema.KindFile, schema.BackendAny, noFileContent)
	}

	return b.Freeze()
}

var writeActions = map[dispatch.Op]auth.Action{
	dispatch.OpInsert: auth.ActionInsert,
	dispatch.OpUpdate: auth.ActionUpdate,
	dispatch.OpPatch:  auth.ActionPatch,
	dispatch.OpUpsert: auth.ActionUpsert,
	dispatch.OpDelete: auth.ActionDelete,
	dispatch.OpWipe:   auth.ActionWipe,
}

var writeOps = map[dispatch.Op]adapter.WriteOp{
	dispatch.OpInsert: adapter.WriteInsert,
	dispatch.OpUpdate: adapter.WriteUpdate,
	dispatch.OpPatch:  adapter.WritePatch,
	dispatch.OpUpsert: adapter.WriteUpsert,
	dispatch.OpDelete: adapter.WriteDelete,
	dispatch.OpWipe:   adapter.WriteWipe,
}

func authorize(x *execution.Context, m *schema.Model, action auth.Action) error {
	if x.Scope() == nil {
		return nil
	}
	return x.Scope().CheckModel(m, action)
}

func allowed(x *execution.Context, m *schema.Model, d *schema.Descriptor, action auth.Action) bool {
	return x.Scope() == nil || d.IsReserved() || x.Scope().AllowProperty(m, d, action)
}

func forbidden(x *execution.Context, m *schema.Model, d *schema.Descriptor, action auth.Action) error {
	return &auth.ForbiddenError{
		Model:    m.ID(),
		Property: d.Place(),
		Action:   action,
		Missing:  []string{x.Scope().PropertyCapability(m, d, action)},
	}
}

// withTx runs fn on the context's transaction for backend a. Transient
// errors are retried with backoff while that transaction holds no applied
// writes; the transaction is reopened between attempts.
func (e *Engine) withTx(x *execution.Context, a adapter.Adapter, fn func(ctx context.Context, tx adapter.Tx) error) error {
	base := max(e.retry.BaseDelay, time.Millisecond)
	b := retry.NewExponential(base)
	if e.retry.MaxDelay > 0 {
		b = retry.WithCappedDuration(e.retry.MaxDelay, b)
	}
	b = retry.WithMaxRetries(uint64(max(e.retry.MaxAttempts-1, 0)), b)

	attempt := 0
	return retry.Do(x.Context(), b, func(ctx context.Context) error {
		attempt++
		tx, err := x.Tx(a)
		if err == nil {
			err = fn(ctx, tx)
		}
		if !adapter.IsTransient(err) || x.Dirty(a.Name()) {
			return err
		}
		e.logger.Warn("transient backend error",
			slog.String("backend", a.Name()),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if rerr := x.Reset(a.Name()); rerr != nil {
			return errors.Join(err, rerr)
		}
		return retry.RetryableError(err)
	})
}

// fetch reads the stored row of one record, or nil when it does not exist.
func (e *Engine) fetch(x *execution.Context, a adapter.Adapter, m *schema.Model, id string) (plan.Row, error) {
	one := int64(1)
	q := &query.Query{
		Filter: &query.Compare{Field: query.Path{schema.IDProperty}, Op: query.OpEq, Values: []query.Value{query.String(id)}},
		Limit:  &one,
	}
	p, err := plan.Compile(q, e.graph, m.ID(), a.Kind(), nil, plan.Options{})
	if err != nil {
		return nil, err
	}
	var row plan.Row
	err = e.withTx(x, a, func(ctx context.Context, tx adapter.Tx) error {
		cur, err := tx.Execute(ctx, p)
		if err != nil {
			return err
		}
		defer func() { _ = cur.Close() }()
		row = nil
		if cur.Next(ctx) {
			row = cur.Row()
		}
		return cur.Err()
	})
	return row, err
}

func notFound(m *schema.Model, id string) error {
	return fmt.Errorf("%s %s: %w", m.ID(), id, adapter.ErrNotFound)
}

// dumpStored converts a stored row of top-level properties for the client,
// leaving out hidden properties and those the scope may not read.
func (e *Engine) dumpStored(x *execution.Context, m *schema.Model, kind schema.BackendKind, row map[string]any, action auth.Action) (Record, error) {
	if row == nil {
		return nil, nil
	}
	vc := e.values(x, kind, action)
	out := make(Record, len(row))
	for _, d := range m.Properties() {
		if d.Hidden() || !allowed(x, m, d, action) {
			continue
		}
		v, err := vc.Convert(dispatch.OpDump, d, row[d.Name()])
		if err != nil {
			return nil, err
		}
		out[d.Name()] = v
	}
	return out, nil
}

// dumpRow converts a plan result row for the client.
func (e *Engine) dumpRow(vc *ValueContext, p *plan.Plan, row plan.Row) (Record, error) {
	out := make(Record, len(p.Project.Fields))
	for _, f := range p.Project.Fields {
		v, err := vc.Convert(dispatch.OpDump, f.Desc, row[f.Name])
		if err != nil {
			return nil, err
		}
		plan.SetPath(out, f.Name, v)
	}
	return out, nil
}

// load validates a client payload and converts it to native values keyed
// by top-level property name. Reserved properties are returned apart.
func (e *Engine) load(x *execution.Context, r *Request, action auth.Action) (data map[string]any, id, rev string, err error) {
	m := r.Model
	vc := e.values(x, r.Backend.Kind(), action)
	data = make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		switch k {
		case schema.IDProperty:
			s, ok := v.(string)
			if !ok || s == "" {
				return nil, "", "", invalid(m, k, "must be a non-empty string")
			}
			id = s
			continue
		case schema.RevisionProperty:
			s, ok := v.(string)
			if !ok {
				return nil, "", "", invalid(m, k, "must be a string")
			}
			rev = s
			continue
		}
		d, ok := m.Property(k)
		if !ok {
			return nil, "", "", invalid(m, k, "unknown property")
		}
		if !allowed(x, m, d, action) {
			return nil, "", "", forbidden(x, m, d, action)
		}
		conv, err := vc.Convert(dispatch.OpLoad, d, v)
		if err != nil {
			return nil, "", "", err
		}
		data[k] = conv
	}
	return data, id, rev, nil
}

func (e *Engine) prepare(x *execution.Context, m *schema.Model, kind schema.BackendKind, action auth.Action, data map[string]any) (map[string]any, error) {
	vc := e.values(x, kind, action)
	out := make(map[string]any, len(data))
	for k, v := range data {
		d, ok := m.Property(k)
		if !ok {
			out[k] = v
			continue
		}
		conv, err := vc.Convert(dispatch.OpPrepare, d, v)
		if err != nil {
			return nil, err
		}
		out[k] = conv
	}
	return out, nil
}

func (e *Engine) apply(x *execution.Context, a adapter.Adapter, w adapter.Write) (adapter.Result, error) {
	var res adapter.Result
	err := e.withTx(x, a, func(ctx context.Context, tx adapter.Tx) error {
		var err error
		res, err = tx.Apply(ctx, w)
		if err == nil {
			x.MarkDirty(a.Name())
		}
		return err
	})
	if errors.Is(err, adapter.ErrNotFound) {
		return res, notFound(w.Model, w.ID)
	}
	return res, err
}

func writeRecord(e *Engine, x *execution.Context, r *Request) (*Response, error) {
	m := r.Model
	action := writeActions[r.Op]
	if err := authorize(x, m, action); err != nil {
		return nil, err
	}
	data, id, rev, err := e.load(x, r, action)
	if err != nil {
		return nil, err
	}

	switch {
	case r.ID != "" && id != "" && id != r.ID:
		return nil, invalid(m, schema.IDProperty, "does not match the record id %q", r.ID)
	case r.ID != "":
		id = r.ID
	case id == "" && r.Op == dispatch.OpInsert:
		id = uuid.NewString()
	case id == "":
		return nil, invalid(m, schema.IDProperty, "is required for %s", r.Op)
	}

	if r.Op == dispatch.OpInsert || r.Op == dispatch.OpUpdate {
		for _, d := range m.Properties() {
			if d.Required() && !d.IsReserved() && data[d.Name()] == nil {
				return nil, invalid(m, d.Name(), "is required")
			}
		}
	}

	if rev != "" && (r.Op == dispatch.OpUpdate || r.Op == dispatch.OpPatch) {
		row, err := e.fetch(x, r.Backend, m, id)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, notFound(m, id)
		}
		if stored, _ := row[schema.RevisionProperty].(string); stored != rev {
			return nil, &ConflictError{Model: m.ID(), ID: id, Given: rev, Revision: stored}
		}
	}

	data[schema.IDProperty] = id
	data[schema.RevisionProperty] = uuid.NewString()
	prepared, err := e.prepare(x, m, r.Backend.Kind(), action, data)
	if err != nil {
		return nil, err
	}

	res, err := e.apply(x, r.Backend, adapter.Write{Op: writeOps[r.Op], Model: m, ID: id, Data: prepared})
	if err != nil {
		return nil, err
	}
	rec, err := e.dumpStored(x, m, r.Backend.Kind(), res.Row, auth.ActionGetOne)
	if err != nil {
		return nil, err
	}
	return &Response{Record: rec, Count: res.Count}, nil
}

func deleteRecord(e *Engine, x *execution.Context, r *Request) (*Response, error) {
	m := r.Model
	if err := authorize(x, m, auth.ActionDelete); err != nil {
		return nil, err
	}
	res, err := e.apply(x, r.Backend, adapter.Write{Op: adapter.WriteDelete, Model: m, ID: r.ID})
	if err != nil {
		return nil, err
	}

	// File content kept in another backend goes with the record.
	for _, d := range m.Properties() {
		if d.Kind() != schema.KindFile || d.Backend() == "" {
			continue
		}
		store, err := e.storageOf(m, d)
		if err != nil {
			return nil, err
		}
		if !store.Capabilities().Files {
			continue
		}
		err = e.withTx(x, store, func(ctx context.Context, tx adapter.Tx) error {
			fs, ok := tx.(adapter.FileStore)
			if !ok {
				return nil
			}
			err := fs.DeleteFile(ctx, m, r.ID, d)
			if err == nil {
				x.MarkDirty(store.Name())
			}
			if errors.Is(err, adapter.ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return &Response{Count: res.Count}, nil
}

func getOne(e *Engine, x *execution.Context, r *Request) (*Response, error) {
	m := r.Model
	if err := authorize(x, m, auth.ActionGetOne); err != nil {
		return nil, err
	}
	row, err := e.fetch(x, r.Backend, m, r.ID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, notFound(m, r.ID)
	}
	rec, err := e.dumpStored(x, m, r.Backend.Kind(), row, auth.ActionGetOne)
	if err != nil {
		return nil, err
	}
	return &Response{Record: rec}, nil
}

// compile lowers a list query. References may only be followed inside one
// backend.
func (e *Engine) compile(x *execution.Context, r *Request) (*plan.Plan, error) {
	p, err := plan.Compile(r.Query, e.graph, r.Model.ID(), r.Backend.Kind(), x.Scope(), plan.Options{MaxLimit: e.maxLimit})
	if err != nil {
		return nil, err
	}
	if p.Join != nil {
		for _, j := range p.Join.Joins {
			target, err := e.backendOf(j.Target)
			if err != nil {
				return nil, err
			}
			if target != r.Backend {
				return nil, &plan.SemanticError{Field: j.Path, Reason: "references a model stored in another backend"}
			}
		}
	}
	return p, nil
}

func getAll(e *Engine, x *execution.Context, r *Request) (*Response, error) {
	m := r.Model
	if err := authorize(x, m, auth.ActionGetAll); err != nil {
		return nil, err
	}
	p, err := e.compile(x, r)
	if err != nil {
		return nil, err
	}

	var cur adapter.Cursor
	err = e.withTx(x, r.Backend, func(ctx context.Context, tx adapter.Tx) error {
		var err error
		if r.Stream {
			cur, err = tx.Stream(ctx, p)
		} else {
			cur, err = tx.Execute(ctx, p)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	recs := &Records{
		ctx:  x.Context(),
		wrap: x.Wrap,
		cur:  cur,
		plan: p,
		dump: func(row plan.Row) (Record, error) {
			return e.dumpRow(e.values(x, r.Backend.Kind(), auth.ActionGetAll), p, row)
		},
	}
	if r.Stream {
		return &Response{Stream: recs}, nil
	}

	defer func() { _ = recs.Close() }()
	out := []Record{}
	var last plan.Row
	for recs.Next() {
		out = append(out, recs.Record())
		last = recs.row
	}
	if err := recs.Err(); err != nil {
		return nil, err
	}
	resp := &Response{Records: out}
	if p.Paginate.Limit > 0 && int64(len(out)) == p.Paginate.Limit {
		if resp.Next, err = p.Cursor(last); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func wipeModel(e *Engine, x *execution.Context, r *Request) (*Response, error) {
	if err := authorize(x, r.Model, auth.ActionWipe); err != nil {
		return nil, err
	}
	res, err := e.apply(x, r.Backend, adapter.Write{Op: adapter.WriteWipe, Model: r.Model})
	if err != nil {
		return nil, err
	}
	e.logger.Info("wiped model", slog.String("model", string(r.Model.ID())), slog.Int64("count", res.Count))
	return &Response{Count: res.Count}, nil
}

func wipeArray(e *Engine, x *execution.Context, r *Request) (*Response, error) {
	m := r.Model
	if err := authorize(x, m, auth.ActionWipe); err != nil {
		return nil, err
	}
	if !allowed(x, m, r.Prop, auth.ActionWipe) {
		return nil, forbidden(x, m, r.Prop, auth.ActionWipe)
	}
	res, err := e.apply(x, r.Backend, adapter.Write{Op: adapter.WriteWipe, Model: m, ID: r.ID, Property: r.Prop})
	if err != nil {
		return nil, err
	}
	return &Response{Count: res.Count}, nil
}

func changes(e *Engine, x *execution.Context, r *Request) (*Response, error) {
	m := r.Model
	if err := authorize(x, m, auth.ActionChanges); err != nil {
		return nil, err
	}
	if !r.Backend.Capabilities().Changelog {
		return nil, invalid(m, "", "backend %s does not keep a change log", r.Backend.Name())
	}
	var raw []adapter.Change
	err := e.withTx(x, r.Backend, func(ctx context.Context, tx adapter.Tx) error {
		var err error
		raw, err = tx.Changes(ctx, m, r.Since, r.Limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]Change, len(raw))
	for i, ch := range raw {
		data, err := e.dumpStored(x, m, r.Backend.Kind(), ch.Data, auth.ActionChanges)
		if err != nil {
			return nil, err
		}
		ch.Data = nil
		out[i] = Change{Change: ch, Data: data}
	}
	return &Response{Changes: out}, nil
}

func migrate(e *Engine, x *execution.Context, r *Request) (*Response, error) {
	return &Response{}, r.Backend.Migrate(x.Context(), e.graph, r.Models)
}

func noFileContent(_ *Engine, _ *execution.Context, r *Request) (*Response, error) {
	return nil, invalid(r.Model, r.Prop.Place(), "backend %s does not store file content", r.Backend.Name())
}

// fileRecord reads the record owning a file property and its metadata.
func (e *Engine) fileRecord(x *execution.Context, r *Request) (adapter.Adapter, map[string]any, error) {
	owner, err := e.backendOf(r.Model)
	if err != nil {
		return nil, nil, err
	}
	row, err := e.fetch(x, owner, r.Model, r.ID)
	if err != nil {
		return nil, nil, err
	}
	if row == nil {
		return nil, nil, notFound(r.Model, r.ID)
	}
	meta, err := e.values(x, owner.Kind(), auth.ActionGetOne).Convert(dispatch.OpDump, r.Prop, row[r.Prop.Name()])
	if err != nil {
		return nil, nil, err
	}
	m, _ := meta.(map[string]any)
	return owner, m, nil
}

func fileStore(tx adapter.Tx, a adapter.Adapter) (adapter.FileStore, error) {
	fs, ok := tx.(adapter.FileStore)
	if !ok {
		return nil, fmt.Errorf("backend %s does not implement file storage", a.Name())
	}
	return fs, nil
}

func readFile(e *Engine, x *execution.Context, r *Request) (*Response, error) {
	m := r.Model
	if err := authorize(x, m, auth.ActionGetOne); err != nil {
		return nil, err
	}
	if !allowed(x, m, r.Prop, auth.ActionGetOne) {
		return nil, forbidden(x, m, r.Prop, auth.ActionGetOne)
	}
	_, meta, err := e.fileRecord(x, r)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, notFound(m, r.ID+"/"+r.Prop.Name())
	}

	var file *File
	err = e.withTx(x, r.Backend, func(ctx context.Context, tx adapter.Tx) error {
		store, err := fileStore(tx, r.Backend)
		if err != nil {
			return err
		}
		body, info, err := store.ReadFile(ctx, m, r.ID, r.Prop)
		if err != nil {
			return err
		}
		file = &File{Name: info.Name, ContentType: info.ContentType, Size: info.Size, Body: body}
		if name, ok := meta["_id"].(string); ok && name != "" {
			file.Name = name
		}
		if ct, ok := meta["_content_type"].(string); ok && ct != "" {
			file.ContentType = ct
		}
		return nil
	})
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, notFound(m, r.ID+"/"+r.Prop.Name())
	}
	if err != nil {
		return nil, err
	}
	return &Response{File: file}, nil
}

// setFileMeta records file metadata on the owning record.
func (e *Engine) setFileMeta(x *execution.Context, owner adapter.Adapter, r *Request, meta map[string]any) (*Response, error) {
	data := map[string]any{schema.RevisionProperty: uuid.NewString()}
	data[r.Prop.Name()] = nil
	if meta != nil {
		data[r.Prop.Name()] = meta
	}
	prepared, err := e.prepare(x, r.Model, owner.Kind(), auth.ActionPatch, data)
	if err != nil {
		return nil, err
	}
	res, err := e.apply(x, owner, adapter.Write{Op: adapter.WritePatch, Model: r.Model, ID: r.ID, Data: prepared})
	if err != nil {
		return nil, err
	}
	rec, err := e.dumpStored(x, r.Model, owner.Kind(), res.Row, auth.ActionGetOne)
	if err != nil {
		return nil, err
	}
	return &Response{Record: rec, Count: res.Count}, nil
}

func writeFile(e *Engine, x *execution.Context, r *Request) (*Response, error) {
	m := r.Model
	if err := authorize(x, m, auth.ActionPatch); err != nil {
		return nil, err
	}
	if !allowed(x, m, r.Prop, auth.ActionPatch) {
		return nil, forbidden(x, m, r.Prop, auth.ActionPatch)
	}
	if r.File == nil || r.File.Body == nil {
		return nil, invalid(m, r.Prop.Place(), "file content is required")
	}
	defer func() { _ = r.File.Body.Close() }()

	name := r.File.Name
	if name == "" {
		name = r.Prop.Name()
	}
	meta := map[string]any{"_id": name, "_content_type": r.File.ContentType}
	if _, err := e.values(x, r.Backend.Kind(), auth.ActionPatch).Convert(dispatch.OpPrepare, r.Prop, meta); err != nil {
		return nil, err
	}
	owner, _, err := e.fileRecord(x, r)
	if err != nil {
		return nil, err
	}

	var info adapter.FileInfo
	err = e.withTx(x, r.Backend, func(ctx context.Context, tx adapter.Tx) error {
		store, err := fileStore(tx, r.Backend)
		if err != nil {
			return err
		}
		info, err = store.WriteFile(ctx, m, r.ID, r.Prop, adapter.FileInfo{Name: name, ContentType: r.File.ContentType}, r.File.Body)
		if err == nil {
			x.MarkDirty(r.Backend.Name())
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	meta["_size"] = info.Size
	return e.setFileMeta(x, owner, r, meta)
}

func deleteFile(e *Engine, x *execution.Context, r *Request) (*Response, error) {
	m := r.Model
	if err := authorize(x, m, auth.ActionPatch); err != nil {
		return nil, err
	}
	if !allowed(x, m, r.Prop, auth.ActionDelete) {
		return nil, forbidden(x, m, r.Prop, auth.ActionDelete)
	}
	owner, _, err := e.fileRecord(x, r)
	if err != nil {
		return nil, err
	}
	err = e.withTx(x, r.Backend, func(ctx context.Context, tx adapter.Tx) error {
		store, err := fileStore(tx, r.Backend)
		if err != nil {
			return err
		}
		err = store.DeleteFile(ctx, m, r.ID, r.Prop)
		if err == nil {
			x.MarkDirty(r.Backend.Name())
		}
		return err
	})
	if err != nil && !errors.Is(err, adapter.ErrNotFound) {
		return nil, err
	}
	return e.setFileMeta(x, owner, r, nil)
}
