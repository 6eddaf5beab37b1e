// Package memory provides an in-process document backend. Records are
// kept as native maps; transactions stage their writes and publish them
// atomically on commit.
//
// Unique properties are checked when a write is applied and again at
// commit, where a conflict with a concurrently committed transaction is
// reported as a transient error.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/planeval"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

type collection map[string]planeval.Doc

// Adapter implements the adapter.Adapter interface for in-memory documents.
type Adapter struct {
	Logger *slog.Logger

	mu          sync.RWMutex
	cfg         adapter.Config
	connected   bool
	collections map[schema.ModelID]collection
	changes     map[schema.ModelID][]adapter.Change
	seq         int64
}

// New creates a new in-memory adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{Logger: logger}
}

// Name returns the configured backend name.
func (a *Adapter) Name() string { return a.cfg.Name }

// Kind reports the document backend family.
func (a *Adapter) Kind() schema.BackendKind { return schema.BackendDocument }

// Capabilities reports staged transactions and a change log.
func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{TransactionalBatch: true, Changelog: true}
}

// Connect initialises empty storage.
func (a *Adapter) Connect(_ context.Context, cfg adapter.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	a.connected = true
	a.collections = make(map[schema.ModelID]collection)
	a.changes = make(map[schema.ModelID][]adapter.Change)
	a.seq = 0
	return nil
}

// Close drops all data.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.collections = nil
	a.changes = nil
	return nil
}

// Migrate creates missing collections.
func (a *Adapter) Migrate(_ context.Context, _ *schema.Graph, models []*schema.Model) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return adapter.ErrNotConnected
	}
	for _, m := range models {
		if _, ok := a.collections[m.ID()]; !ok {
			a.Logger.Debug("creating collection", slog.String("model", string(m.ID())))
			a.collections[m.ID()] = make(collection)
		}
	}
	return nil
}

// Begin starts a staging transaction.
func (a *Adapter) Begin(_ context.Context) (adapter.Tx, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return nil, adapter.ErrNotConnected
	}
	return &tx{
		a:       a,
		id:      newID(),
		overlay: make(map[schema.ModelID]map[string]planeval.Doc),
		wiped:   make(map[schema.ModelID]bool),
	}, nil
}

func (a *Adapter) backendError(op string, transient bool, cause error) error {
	return &adapter.BackendError{Backend: a.cfg.Name, Op: op, Transient: transient, Cause: cause}
}

// commit publishes the staged state of t.
func (a *Adapter) commit(t *tx) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return adapter.ErrNotConnected
	}

	for _, id := range slices.Sorted(maps.Keys(t.touched())) {
		m := t.models[id]
		if err := a.checkUnique(m, t.view(m.ID(), a.collections[id])); err != nil {
			return a.backendError("commit", true, err)
		}
	}

	for id := range t.wiped {
		a.collections[id] = make(collection)
	}
	for id, docs := range t.overlay {
		c := a.collections[id]
		if c == nil {
			c = make(collection)
			a.collections[id] = c
		}
		for key, d := range docs {
			if d == nil {
				delete(c, key)
			} else {
				c[key] = d
			}
		}
	}
	now := time.Now().UTC()
	for _, ch := range t.log {
		a.seq++
		ch.Seq = a.seq
		ch.Time = now
		a.changes[schema.ModelID(ch.Model)] = append(a.changes[schema.ModelID(ch.Model)], ch)
	}
	a.Logger.Debug("committed transaction", slog.String("txn", t.id), slog.Int("changes", len(t.log)))
	return nil
}

// checkUnique verifies unique properties over a collection view.
func (a *Adapter) checkUnique(m *schema.Model, docs collection) error {
	for _, d := range m.Properties() {
		if !d.Unique() || d.Name() == schema.IDProperty {
			continue
		}
		seen := make(map[any]string)
		for _, key := range slices.Sorted(maps.Keys(docs)) {
			v, ok := docs[key][d.Name()]
			if !ok || v == nil {
				continue
			}
			k := fmt.Sprint(v)
			if other, dup := seen[k]; dup {
				return fmt.Errorf("%w: %s.%s %v is used by %s and %s", adapter.ErrConstraint, m.ID(), d.Name(), v, other, key)
			}
			seen[k] = key
		}
	}
	return nil
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
