package engine

import (
	"context"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/plan"
)

// Records iterates over the results of a streamed list read. Records are
// dumped for the client one at a time as they are read.
type Records struct {
	ctx  context.Context
	wrap func(error) error
	cur  adapter.Cursor
	plan *plan.Plan
	dump func(plan.Row) (Record, error)

	row plan.Row
	rec Record
	err error
}

// Next advances to the next record.
func (r *Records) Next() bool {
	if r.err != nil {
		return false
	}
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return false
	}
	if !r.cur.Next(r.ctx) {
		return false
	}
	r.row = r.cur.Row()
	r.rec, r.err = r.dump(r.row)
	return r.err == nil
}

// Record returns the current record.
func (r *Records) Record() Record { return r.rec }

// Err returns the error that stopped iteration, if any.
func (r *Records) Err() error {
	if r.err != nil {
		return r.wrap(r.err)
	}
	return r.wrap(r.cur.Err())
}

// Close releases the underlying cursor.
func (r *Records) Close() error { return r.cur.Close() }

// Cursor returns the paging token resuming after the current record.
func (r *Records) Cursor() (string, error) {
	if r.row == nil {
		return "", nil
	}
	return r.plan.Cursor(r.row)
}
