// Package execution holds per-request state: the authorization scope, the
// backend transactions opened on behalf of the request and its
// cancellation.
//
// A Context owns its transactions exclusively. They are opened lazily, one
// per backend, and are always finished by Close: committed when the
// request succeeded and was not cancelled, rolled back otherwise.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/auth"
)

// ErrClientClosed is the cancellation cause used when the client went away.
var ErrClientClosed = errors.New("client closed request")

// ErrClosed is returned when a finished Context is used.
var ErrClosed = errors.New("execution context is closed")

// CancellationError reports work stopped by cancellation.
type CancellationError struct {
	Cause error
	// Client is true when the client itself cancelled the request.
	Client bool
}

func (e *CancellationError) Error() string {
	if e.Client {
		return "request cancelled by client"
	}
	return fmt.Sprintf("request cancelled: %v", e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

type ctxKey struct{}

type txState struct {
	tx    adapter.Tx
	dirty bool
}

// Context is the state of one request.
type Context struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	scope  *auth.Scope
	logger *slog.Logger

	mu     sync.Mutex
	txs    map[string]*txState
	closed bool
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger used for transaction lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Context derived from parent. A nil scope means the
// request is unrestricted, which only operator tooling should use.
func New(parent context.Context, scope *auth.Scope, opts ...Option) *Context {
	c := &Context{
		scope:  scope,
		logger: slog.New(slog.DiscardHandler),
		txs:    make(map[string]*txState),
	}
	for _, opt := range opts {
		opt(c)
	}
	ctx, cancel := context.WithCancelCause(parent)
	c.ctx = context.WithValue(ctx, ctxKey{}, c)
	c.cancel = cancel
	return c
}

// FromContext returns the Context attached to ctx.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Context)
	return c, ok
}

// Context returns the context.Context to pass to blocking calls.
func (c *Context) Context() context.Context { return c.ctx }

// Scope returns the authorization scope.
func (c *Context) Scope() *auth.Scope { return c.scope }

// Cancel stops the request. Pass ErrClientClosed when the client went away.
func (c *Context) Cancel(cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	c.cancel(cause)
}

// Err returns a *CancellationError once the Context is cancelled.
func (c *Context) Err() error {
	if c.ctx.Err() == nil {
		return nil
	}
	return cancellation(context.Cause(c.ctx))
}

// Wrap converts context errors into a *CancellationError carrying the
// cancellation cause. Other errors are returned unchanged.
func (c *Context) Wrap(err error) error {
	var ce *CancellationError
	if err == nil || errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if cerr := c.Err(); cerr != nil {
			return cerr
		}
		return cancellation(err)
	}
	return err
}

func cancellation(cause error) *CancellationError {
	return &CancellationError{Cause: cause, Client: errors.Is(cause, ErrClientClosed)}
}

// Tx returns the transaction for backend a, beginning one on first use.
func (c *Context) Tx(a adapter.Adapter) (adapter.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	if st, ok := c.txs[a.Name()]; ok {
		return st.tx, nil
	}
	tx, err := a.Begin(c.ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("began transaction", slog.String("backend", a.Name()))
	c.txs[a.Name()] = &txState{tx: tx}
	return tx, nil
}

// MarkDirty records that a write was applied on the backend's transaction.
func (c *Context) MarkDirty(backend string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.txs[backend]; ok {
		st.dirty = true
	}
}

// Dirty reports whether the backend's transaction holds applied writes.
func (c *Context) Dirty(backend string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.txs[backend]
	return ok && st.dirty
}

// Reset rolls back and forgets a clean transaction so the next Tx call
// opens a fresh one. It refuses to drop applied writes.
func (c *Context) Reset(backend string) error {
	c.mu.Lock()
	st, ok := c.txs[backend]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if st.dirty {
		c.mu.Unlock()
		return fmt.Errorf("transaction on backend %s has applied writes", backend)
	}
	delete(c.txs, backend)
	c.mu.Unlock()
	return st.tx.Rollback(context.WithoutCancel(c.ctx))
}

// Close finishes every open transaction. They are committed when commit
// is true and the Context is not cancelled, and rolled back otherwise.
// When a commit fails the remaining transactions are rolled back. Close
// releases the Context; calling it again is a no-op.
func (c *Context) Close(commit bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	txs := c.txs
	c.txs = nil
	c.mu.Unlock()
	defer c.cancel(ErrClosed)

	cancelled := c.Err()
	if cancelled != nil {
		commit = false
	}
	ctx := context.WithoutCancel(c.ctx)

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(txs)) {
		st := txs[name]
		if commit {
			if err := st.tx.Commit(ctx); err != nil {
				c.logger.Error("commit failed", slog.String("backend", name), slog.Any("error", err))
				errs = append(errs, fmt.Errorf("commit %s: %w", name, err))
				commit = false
			}
			continue
		}
		if err := st.tx.Rollback(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", name, err))
		}
		if st.dirty {
			c.logger.Debug("rolled back transaction", slog.String("backend", name))
		}
	}
	return errors.Join(errs...)
}

// Run creates a Context, calls fn and closes the Context: transactions are
// committed when fn returns nil and the Context was not cancelled, and
// rolled back otherwise. A panic in fn rolls back and is re-raised.
func Run(parent context.Context, scope *auth.Scope, fn func(*Context) error, opts ...Option) (err error) {
	c := New(parent, scope, opts...)
	defer func() {
		if r := recover(); r != nil {
			_ = c.Close(false)
			panic(r)
		}
	}()

	err = c.Wrap(fn(c))
	if err == nil {
		if cerr := c.Err(); cerr != nil {
			err = cerr
		}
	}
	if cerr := c.Close(err == nil); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}
