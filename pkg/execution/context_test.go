package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/manifold/internal/testutil"
	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/auth"
	"github.com/leapstack-labs/manifold/pkg/plan"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

type fakeTx struct {
	committed, rolledBack int
	commitErr             error
}

func (t *fakeTx) Execute(context.Context, *plan.Plan) (adapter.Cursor, error) {
	return adapter.NewSliceCursor(nil), nil
}
func (t *fakeTx) Stream(context.Context, *plan.Plan) (adapter.Cursor, error) {
	return adapter.NewSliceCursor(nil), nil
}
func (t *fakeTx) Apply(context.Context, adapter.Write) (adapter.Result, error) {
	return adapter.Result{Count: 1}, nil
}
func (t *fakeTx) Changes(context.Context, *schema.Model, int64, int) ([]adapter.Change, error) {
	return nil, nil
}
func (t *fakeTx) Commit(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	t.committed++
	return t.commitErr
}
func (t *fakeTx) Rollback(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	t.rolledBack++
	return nil
}

type fakeAdapter struct {
	name      string
	txs       []*fakeTx
	commitErr error
}

func (a *fakeAdapter) Name() string                       { return a.name }
func (a *fakeAdapter) Kind() schema.BackendKind           { return schema.BackendDocument }
func (a *fakeAdapter) Capabilities() adapter.Capabilities { return adapter.Capabilities{} }
func (a *fakeAdapter) Connect(context.Context, adapter.Config) error {
	return nil
}
func (a *fakeAdapter) Close() error { return nil }
func (a *fakeAdapter) Begin(context.Context) (adapter.Tx, error) {
	tx := &fakeTx{commitErr: a.commitErr}
	a.txs = append(a.txs, tx)
	return tx, nil
}
func (a *fakeAdapter) Migrate(context.Context, *schema.Graph, []*schema.Model) error {
	return nil
}

func TestRun_Outcomes(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name         string
		fn           func(c *Context) error
		wantErr      error
		wantCommit   int
		wantRollback int
	}{
		{
			name:       "success commits",
			fn:         func(*Context) error { return nil },
			wantCommit: 1,
		},
		{
			name:         "failure rolls back",
			fn:           func(*Context) error { return errBoom },
			wantErr:      errBoom,
			wantRollback: 1,
		},
		{
			name: "cancellation rolls back",
			fn: func(c *Context) error {
				c.Cancel(ErrClientClosed)
				return nil
			},
			wantErr:      ErrClientClosed,
			wantRollback: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAdapter{name: "main"}
			err := Run(context.Background(), auth.Unrestricted(), func(c *Context) error {
				_, err := c.Tx(a)
				require.NoError(t, err)
				return tt.fn(c)
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			require.Len(t, a.txs, 1)
			assert.Equal(t, tt.wantCommit, a.txs[0].committed)
			assert.Equal(t, tt.wantRollback, a.txs[0].rolledBack)
		})
	}
}

func TestRun_LogsTransactionLifecycle(t *testing.T) {
	logger, logs := testutil.NewRecordingLogger(t)
	a := &fakeAdapter{name: "main"}

	err := Run(context.Background(), auth.Unrestricted(), func(c *Context) error {
		_, err := c.Tx(a)
		require.NoError(t, err)
		c.MarkDirty("main")
		return errors.New("boom")
	}, WithLogger(logger))
	require.Error(t, err)

	assert.Equal(t, 1, logs.Count("began transaction"))
	assert.Equal(t, 1, logs.Count("rolled back transaction"))
	backend, ok := logs.Attr("rolled back transaction", "backend")
	require.True(t, ok)
	assert.Equal(t, "main", backend.String())
}

func TestRun_PanicRollsBack(t *testing.T) {
	a := &fakeAdapter{name: "main"}
	assert.PanicsWithValue(t, "bad", func() {
		_ = Run(context.Background(), nil, func(c *Context) error {
			_, _ = c.Tx(a)
			panic("bad")
		})
	})
	require.Len(t, a.txs, 1)
	assert.Equal(t, 1, a.txs[0].rolledBack)
}

func TestContext_TxPerBackend(t *testing.T) {
	c := New(context.Background(), nil)
	a := &fakeAdapter{name: "a"}
	b := &fakeAdapter{name: "b"}

	first, err := c.Tx(a)
	require.NoError(t, err)
	again, err := c.Tx(a)
	require.NoError(t, err)
	assert.Same(t, first, again)
	_, err = c.Tx(b)
	require.NoError(t, err)

	assert.False(t, c.Dirty("a"))
	c.MarkDirty("a")
	assert.True(t, c.Dirty("a"))
	assert.Error(t, c.Reset("a"))

	require.NoError(t, c.Reset("b"))
	_, err = c.Tx(b)
	require.NoError(t, err)
	assert.Len(t, b.txs, 2)
	assert.Equal(t, 1, b.txs[0].rolledBack)

	require.NoError(t, c.Close(true))
	assert.Equal(t, 1, a.txs[0].committed)
	assert.Equal(t, 1, b.txs[1].committed)

	_, err = c.Tx(a)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, c.Close(true))
}

func TestContext_CommitFailureRollsBackTheRest(t *testing.T) {
	errConflict := errors.New("conflict")
	c := New(context.Background(), nil)
	a := &fakeAdapter{name: "a", commitErr: errConflict}
	b := &fakeAdapter{name: "b"}
	_, err := c.Tx(a)
	require.NoError(t, err)
	_, err = c.Tx(b)
	require.NoError(t, err)

	err = c.Close(true)
	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, 0, b.txs[0].committed)
	assert.Equal(t, 1, b.txs[0].rolledBack)
}

func TestContext_Cancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	c := New(parent, nil)
	assert.NoError(t, c.Err())

	got, ok := FromContext(c.Context())
	require.True(t, ok)
	assert.Same(t, c, got)

	cancel()
	var ce *CancellationError
	require.ErrorAs(t, c.Err(), &ce)
	assert.False(t, ce.Client)

	_, err := c.Tx(&fakeAdapter{name: "a"})
	assert.ErrorAs(t, err, &ce)

	c2 := New(context.Background(), nil)
	c2.Cancel(ErrClientClosed)
	require.ErrorAs(t, c2.Wrap(context.Canceled), &ce)
	assert.True(t, ce.Client)
	assert.Equal(t, "request cancelled by client", ce.Error())
}
