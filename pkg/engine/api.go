package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/manifold/pkg/auth"
	"github.com/leapstack-labs/manifold/pkg/dispatch"
	"github.com/leapstack-labs/manifold/pkg/execution"
	"github.com/leapstack-labs/manifold/pkg/plan"
	"github.com/leapstack-labs/manifold/pkg/query"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// Page is one page of a list read. Next is empty on the last page.
type Page struct {
	Records []Record `json:"_data"`
	Next    string   `json:"_next,omitempty"`
}

func (e *Engine) request(op dispatch.Op, model schema.ModelID) (*Request, error) {
	m, err := e.model(model)
	if err != nil {
		return nil, err
	}
	return &Request{Op: op, Model: m}, nil
}

func (e *Engine) property(r *Request, name string) error {
	d, ok := r.Model.Flat(name)
	if !ok {
		return invalid(r.Model, name, "unknown property")
	}
	r.Prop = d
	return nil
}

// Get reads one record.
func (e *Engine) Get(x *execution.Context, model schema.ModelID, id string) (Record, error) {
	r, err := e.request(dispatch.OpGetOne, model)
	if err != nil {
		return nil, err
	}
	r.ID = id
	resp, err := e.call(x, r)
	if err != nil {
		return nil, err
	}
	return resp.Record, nil
}

// GetAll parses and runs a list query.
func (e *Engine) GetAll(x *execution.Context, model schema.ModelID, q string) (*Page, error) {
	parsed, err := query.Parse(q)
	if err != nil {
		return nil, err
	}
	return e.Query(x, model, parsed)
}

// Query runs a parsed list query and returns one page.
func (e *Engine) Query(x *execution.Context, model schema.ModelID, q *query.Query) (*Page, error) {
	r, err := e.request(dispatch.OpGetAll, model)
	if err != nil {
		return nil, err
	}
	r.Query = q
	resp, err := e.call(x, r)
	if err != nil {
		return nil, err
	}
	return &Page{Records: resp.Records, Next: resp.Next}, nil
}

// Stream runs a list query and returns its records lazily. The caller
// must close the result.
func (e *Engine) Stream(x *execution.Context, model schema.ModelID, q string) (*Records, error) {
	parsed, err := query.Parse(q)
	if err != nil {
		return nil, err
	}
	r, err := e.request(dispatch.OpGetAll, model)
	if err != nil {
		return nil, err
	}
	r.Query = parsed
	r.Stream = true
	resp, err := e.call(x, r)
	if err != nil {
		return nil, err
	}
	return resp.Stream, nil
}

// Plan compiles a list query without running it.
func (e *Engine) Plan(model schema.ModelID, q string, scope *auth.Scope) (*plan.Plan, error) {
	parsed, err := query.Parse(q)
	if err != nil {
		return nil, err
	}
	m, err := e.model(model)
	if err != nil {
		return nil, err
	}
	a, err := e.backendOf(m)
	if err != nil {
		return nil, err
	}
	return plan.Compile(parsed, e.graph, m.ID(), a.Kind(), scope, plan.Options{MaxLimit: e.maxLimit})
}

func (e *Engine) write(x *execution.Context, op dispatch.Op, model schema.ModelID, id string, data map[string]any) (Record, error) {
	r, err := e.request(op, model)
	if err != nil {
		return nil, err
	}
	r.ID = id
	r.Data = data
	resp, err := e.call(x, r)
	if err != nil {
		return nil, err
	}
	return resp.Record, nil
}

// Insert creates a record. The id is taken from _id or generated.
func (e *Engine) Insert(x *execution.Context, model schema.ModelID, data map[string]any) (Record, error) {
	return e.write(x, dispatch.OpInsert, model, "", data)
}

// Update replaces every property of a record.
func (e *Engine) Update(x *execution.Context, model schema.ModelID, id string, data map[string]any) (Record, error) {
	return e.write(x, dispatch.OpUpdate, model, id, data)
}

// Patch changes the given properties of a record.
func (e *Engine) Patch(x *execution.Context, model schema.ModelID, id string, data map[string]any) (Record, error) {
	return e.write(x, dispatch.OpPatch, model, id, data)
}

// Upsert creates a record or patches the existing one.
func (e *Engine) Upsert(x *execution.Context, model schema.ModelID, id string, data map[string]any) (Record, error) {
	return e.write(x, dispatch.OpUpsert, model, id, data)
}

// Delete removes a record.
func (e *Engine) Delete(x *execution.Context, model schema.ModelID, id string) error {
	r, err := e.request(dispatch.OpDelete, model)
	if err != nil {
		return err
	}
	r.ID = id
	_, err = e.call(x, r)
	return err
}

// Wipe removes every record of a model and returns how many there were.
func (e *Engine) Wipe(x *execution.Context, model schema.ModelID) (int64, error) {
	r, err := e.request(dispatch.OpWipe, model)
	if err != nil {
		return 0, err
	}
	resp, err := e.call(x, r)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// WipeAll wipes every model in the graph. Forbidden models are skipped
// when the scope may wipe some but not all of them.
func (e *Engine) WipeAll(x *execution.Context) (map[schema.ModelID]int64, error) {
	out := make(map[schema.ModelID]int64)
	var denied error
	for _, m := range e.graph.Models() {
		n, err := e.Wipe(x, m.ID())
		var fe *auth.ForbiddenError
		if errors.As(err, &fe) {
			denied = err
			continue
		}
		if err != nil {
			return out, err
		}
		out[m.ID()] = n
	}
	if len(out) == 0 && denied != nil {
		return nil, denied
	}
	return out, nil
}

// WipeProperty clears an array property of one record.
func (e *Engine) WipeProperty(x *execution.Context, model schema.ModelID, id, prop string) (int64, error) {
	r, err := e.request(dispatch.OpWipe, model)
	if err != nil {
		return 0, err
	}
	if err := e.property(r, prop); err != nil {
		return 0, err
	}
	if r.Prop.Kind() != schema.KindArray {
		return 0, invalid(r.Model, prop, "is not an array property")
	}
	r.ID = id
	resp, err := e.call(x, r)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Changes lists change log entries of a model with a sequence number
// greater than since. A limit of 0 lists every entry.
func (e *Engine) Changes(x *execution.Context, model schema.ModelID, since int64, limit int) ([]Change, error) {
	r, err := e.request(dispatch.OpChanges, model)
	if err != nil {
		return nil, err
	}
	r.Since = since
	r.Limit = limit
	resp, err := e.call(x, r)
	if err != nil {
		return nil, err
	}
	return resp.Changes, nil
}

func (e *Engine) fileRequest(op dispatch.Op, model schema.ModelID, id, prop string) (*Request, error) {
	r, err := e.request(op, model)
	if err != nil {
		return nil, err
	}
	if err := e.property(r, prop); err != nil {
		return nil, err
	}
	if r.Prop.Kind() != schema.KindFile {
		return nil, invalid(r.Model, prop, "is not a file property")
	}
	r.ID = id
	return r, nil
}

// ReadFile opens the content of a file property. The caller must close
// the returned body.
func (e *Engine) ReadFile(x *execution.Context, model schema.ModelID, id, prop string) (*File, error) {
	r, err := e.fileRequest(dispatch.OpGetOne, model, id, prop)
	if err != nil {
		return nil, err
	}
	resp, err := e.call(x, r)
	if err != nil {
		return nil, err
	}
	return resp.File, nil
}

// WriteFile stores the content of a file property and records its
// metadata on the record. The body is closed.
func (e *Engine) WriteFile(x *execution.Context, model schema.ModelID, id, prop string, f *File) (Record, error) {
	r, err := e.fileRequest(dispatch.OpPatch, model, id, prop)
	if err != nil {
		if f != nil && f.Body != nil {
			_ = f.Body.Close()
		}
		return nil, err
	}
	r.File = f
	resp, err := e.call(x, r)
	if err != nil {
		return nil, err
	}
	return resp.Record, nil
}

// DeleteFile removes the content of a file property and clears its
// metadata.
func (e *Engine) DeleteFile(x *execution.Context, model schema.ModelID, id, prop string) (Record, error) {
	r, err := e.fileRequest(dispatch.OpDelete, model, id, prop)
	if err != nil {
		return nil, err
	}
	resp, err := e.call(x, r)
	if err != nil {
		return nil, err
	}
	return resp.Record, nil
}

// BatchItem is one write of a batch.
type BatchItem struct {
	Op    dispatch.Op
	Model schema.ModelID
	ID    string
	Data  map[string]any
}

// BatchOptions tune Batch.
type BatchOptions struct {
	// Atomic stops at the first failure and returns its error, so the
	// caller's transaction rolls back as a whole.
	Atomic bool
}

// ItemFailure is a failed batch item.
type ItemFailure struct {
	Index int
	Err   error
}

// BatchResult reports the outcome of every batch item.
type BatchResult struct {
	// Records holds the stored record of each applied write, by item
	// index.
	Records   []Record
	Succeeded int
	Failures  []ItemFailure
}

// Batch applies writes in order within x. Unless opts.Atomic is set a
// failed item does not affect the others: its partial effects are rolled
// back and the remaining items still apply. A batch touching a backend
// that cannot roll back a single write runs atomically. Cancellation
// always stops the batch.
func (e *Engine) Batch(x *execution.Context, items []BatchItem, opts BatchOptions) (*BatchResult, error) {
	if !opts.Atomic {
		if name, ok := e.untransactional(items); ok {
			e.logger.Info("batch runs atomically", slog.String("backend", name))
			opts.Atomic = true
		}
	}

	res := &BatchResult{Records: make([]Record, len(items))}
	for i, it := range items {
		var rec Record
		var err error
		switch it.Op {
		case dispatch.OpInsert, dispatch.OpUpdate, dispatch.OpPatch, dispatch.OpUpsert:
			rec, err = e.write(x, it.Op, it.Model, it.ID, it.Data)
		case dispatch.OpDelete:
			err = e.Delete(x, it.Model, it.ID)
		default:
			err = fmt.Errorf("operation %s cannot be batched", it.Op)
		}
		if err == nil {
			res.Records[i] = rec
			res.Succeeded++
			continue
		}
		var ce *execution.CancellationError
		if errors.As(err, &ce) {
			return res, err
		}
		res.Failures = append(res.Failures, ItemFailure{Index: i, Err: err})
		if opts.Atomic {
			return res, fmt.Errorf("batch item %d: %w", i, err)
		}
		e.logger.Debug("batch item failed", slog.Int("index", i), slog.Any("error", err))
	}
	return res, nil
}

// untransactional returns the first backend written by items that does
// not advertise TransactionalBatch. Unknown models are left to the write
// itself to report.
func (e *Engine) untransactional(items []BatchItem) (string, bool) {
	for _, it := range items {
		m, ok := e.graph.Model(it.Model)
		if !ok {
			continue
		}
		a, err := e.backendOf(m)
		if err != nil {
			continue
		}
		if !a.Capabilities().TransactionalBatch {
			return a.Name(), true
		}
	}
	return "", false
}
