package adapter

import (
	"context"

	"github.com/leapstack-labs/manifold/pkg/plan"
)

// SliceCursor iterates rows already in memory.
type SliceCursor struct {
	rows []plan.Row
	pos  int
	err  error
}

// NewSliceCursor returns a cursor over rows.
func NewSliceCursor(rows []plan.Row) *SliceCursor {
	return &SliceCursor{rows: rows, pos: -1}
}

// Next advances to the next row.
func (c *SliceCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.rows) {
		return false
	}
	c.pos++
	return true
}

// Row returns the current row.
func (c *SliceCursor) Row() plan.Row { return c.rows[c.pos] }

// Err returns the error that stopped iteration.
func (c *SliceCursor) Err() error { return c.err }

// Close releases the rows.
func (c *SliceCursor) Close() error {
	c.rows = nil
	c.pos = -1
	return nil
}

// FetchFunc runs one page of a plan.
type FetchFunc func(ctx context.Context, p *plan.Plan) (Cursor, error)

// PagedCursor walks a plan in keyset pages of a fixed size. Only one page
// is open at a time.
type PagedCursor struct {
	fetch FetchFunc
	base  *plan.Plan
	batch int64

	// remaining is the number of rows still allowed by the plan limit;
	// negative when unlimited.
	remaining int64
	after     []any
	started   bool
	page      Cursor
	inPage    int64
	pageSize  int64
	row       plan.Row
	err       error
	done      bool
}

// NewPagedCursor returns a cursor reading p through fetch in pages of batch
// rows. The first page honours the plan's offset and cursor.
func NewPagedCursor(fetch FetchFunc, p *plan.Plan, batch int64) *PagedCursor {
	remaining := int64(-1)
	if p.Paginate.Limit > 0 {
		remaining = p.Paginate.Limit
	}
	return &PagedCursor{fetch: fetch, base: p, batch: batch, remaining: remaining}
}

func (c *PagedCursor) size() int64 {
	if c.remaining >= 0 && c.remaining < c.batch {
		return c.remaining
	}
	return c.batch
}

func (c *PagedCursor) open(ctx context.Context) bool {
	size := c.size()
	if size == 0 {
		c.done = true
		return false
	}
	var p *plan.Plan
	if !c.started {
		cp := *c.base
		cp.Paginate.Limit = size
		p = &cp
		c.started = true
	} else {
		p = c.base.WithPage(c.after, size)
	}
	cur, err := c.fetch(ctx, p)
	if err != nil {
		c.err = err
		return false
	}
	c.page = cur
	c.inPage = 0
	c.pageSize = size
	return true
}

// Next advances to the next row, fetching the next page when the current
// one is exhausted.
func (c *PagedCursor) Next(ctx context.Context) bool {
	for {
		if c.err != nil || c.done {
			return false
		}
		if c.page == nil && !c.open(ctx) {
			return false
		}
		if c.page.Next(ctx) {
			c.row = c.page.Row()
			c.inPage++
			if c.remaining > 0 {
				c.remaining--
			}
			c.after = c.base.SortValues(c.row)
			return true
		}
		err := c.page.Err()
		if cerr := c.page.Close(); err == nil {
			err = cerr
		}
		c.page = nil
		if err != nil {
			c.err = err
			return false
		}
		if c.inPage < c.pageSize {
			c.done = true
			return false
		}
	}
}

// Row returns the current row.
func (c *PagedCursor) Row() plan.Row { return c.row }

// Err returns the error that stopped iteration.
func (c *PagedCursor) Err() error { return c.err }

// Close releases the open page.
func (c *PagedCursor) Close() error {
	c.done = true
	if c.page != nil {
		err := c.page.Close()
		c.page = nil
		return err
	}
	return nil
}
