// Package engine serves typed operations over the configured backends.
//
// Every call is routed through two frozen dispatch tables. Handlers are
// keyed by operation, the kind of the target descriptor (the model root
// or, for subresources, a property) and the kind of the backend storing
// it. Codecs convert property values between client, native and backend
// forms with the same keying. Reads compile their query into a plan
// before any backend I/O happens.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/auth"
	"github.com/leapstack-labs/manifold/pkg/dispatch"
	"github.com/leapstack-labs/manifold/pkg/execution"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// RetryConfig bounds retries of transient backend errors.
type RetryConfig struct {
	// MaxAttempts counts the first attempt; 1 disables retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetry is used when Config.Retry is zero.
var DefaultRetry = RetryConfig{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond, MaxDelay: time.Second}

// Config holds engine configuration.
type Config struct {
	Graph *schema.Graph
	// Backends maps backend names, as used by models, to connected
	// adapters.
	Backends map[string]adapter.Adapter
	// DefaultBackend serves models that do not name a backend.
	DefaultBackend string
	// MaxLimit caps page sizes of list reads; 0 leaves them uncapped.
	MaxLimit int64
	Retry    RetryConfig
	Logger   *slog.Logger

	// Handlers and Codecs replace the default dispatch tables.
	Handlers *dispatch.Table[Handler]
	Codecs   *dispatch.Table[Codec]
}

// Engine routes operations to backends. It is safe for concurrent use.
type Engine struct {
	graph          *schema.Graph
	backends       map[string]adapter.Adapter
	defaultBackend string
	maxLimit       int64
	retry          RetryConfig
	logger         *slog.Logger
	handlers       *dispatch.Table[Handler]
	codecs         *dispatch.Table[Codec]
}

// New creates an engine. Every model must resolve to a configured backend.
func New(cfg Config) (*Engine, error) {
	if cfg.Graph == nil {
		return nil, fmt.Errorf("engine requires a schema graph")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		graph:          cfg.Graph,
		backends:       cfg.Backends,
		defaultBackend: cfg.DefaultBackend,
		maxLimit:       cfg.MaxLimit,
		retry:          cfg.Retry,
		logger:         logger,
		handlers:       cfg.Handlers,
		codecs:         cfg.Codecs,
	}
	if e.retry.MaxAttempts == 0 {
		e.retry = DefaultRetry
	}

	var err error
	if e.handlers == nil {
		if e.handlers, err = DefaultHandlers(); err != nil {
			return nil, err
		}
	}
	if e.codecs == nil {
		if e.codecs, err = DefaultCodecs(); err != nil {
			return nil, err
		}
	}

	for _, m := range e.graph.Models() {
		if _, err := e.backendOf(m); err != nil {
			return nil, err
		}
		for _, d := range m.Properties() {
			if d.Backend() == "" {
				continue
			}
			if _, ok := e.backends[d.Backend()]; !ok {
				return nil, fmt.Errorf("property %s uses unknown backend %q", d, d.Backend())
			}
		}
	}
	return e, nil
}

// Graph returns the schema graph.
func (e *Engine) Graph() *schema.Graph { return e.graph }

func (e *Engine) model(id schema.ModelID) (*schema.Model, error) {
	m, ok := e.graph.Model(id)
	if !ok {
		return nil, &UnknownModelError{Model: id}
	}
	return m, nil
}

func (e *Engine) backendOf(m *schema.Model) (adapter.Adapter, error) {
	name := m.Backend()
	if name == "" {
		name = e.defaultBackend
	}
	a, ok := e.backends[name]
	if !ok {
		return nil, fmt.Errorf("model %s uses unknown backend %q", m.ID(), name)
	}
	return a, nil
}

// storageOf returns the backend holding property d, which is the model
// backend unless the property overrides it.
func (e *Engine) storageOf(m *schema.Model, d *schema.Descriptor) (adapter.Adapter, error) {
	if d == nil || d.Backend() == "" {
		return e.backendOf(m)
	}
	a, ok := e.backends[d.Backend()]
	if !ok {
		return nil, fmt.Errorf("property %s uses unknown backend %q", d, d.Backend())
	}
	return a, nil
}

func (e *Engine) values(x *execution.Context, kind schema.BackendKind, action auth.Action) *ValueContext {
	return &ValueContext{Graph: e.graph, Scope: x.Scope(), Backend: kind, Action: action, codecs: e.codecs}
}

// call resolves the handler for r and runs it.
func (e *Engine) call(x *execution.Context, r *Request) (*Response, error) {
	if err := x.Err(); err != nil {
		return nil, err
	}
	target := r.Model.Descriptor()
	if r.Prop != nil {
		target = r.Prop
	}
	a, err := e.storageOf(r.Model, r.Prop)
	if err != nil {
		return nil, err
	}
	res, err := e.handlers.Resolve(r.Op, target.Kind(), a.Kind())
	if err != nil {
		return nil, err
	}
	e.logger.Debug("dispatch",
		slog.String("op", r.Op.String()),
		slog.String("model", string(r.Model.ID())),
		slog.String("match", res.Key.String()))
	r.Backend = a
	resp, err := res.Impl(e, x, r)
	return resp, x.Wrap(err)
}

// Migrate creates or extends backend storage for every model. Backends
// are migrated concurrently.
func (e *Engine) Migrate(ctx context.Context) error {
	byBackend := make(map[adapter.Adapter][]*schema.Model)
	for _, m := range e.graph.Models() {
		a, err := e.backendOf(m)
		if err != nil {
			return err
		}
		byBackend[a] = append(byBackend[a], m)
	}

	g, ctx := errgroup.WithContext(ctx)
	for a, models := range byBackend {
		res, err := e.handlers.Resolve(dispatch.OpMigrate, schema.KindModel, a.Kind())
		if err != nil {
			return err
		}
		g.Go(func() error {
			e.logger.Info("migrating backend", slog.String("backend", a.Name()), slog.Int("models", len(models)))
			return execution.Run(ctx, nil, func(x *execution.Context) error {
				_, err := res.Impl(e, x, &Request{Op: dispatch.OpMigrate, Model: models[0], Models: models, Backend: a})
				return err
			}, execution.WithLogger(e.logger))
		})
	}
	return g.Wait()
}
