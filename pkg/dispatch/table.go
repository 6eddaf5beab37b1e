package dispatch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/leapstack-labs/manifold/pkg/schema"
)

// Key identifies one registration.
type Key struct {
	Op      Op
	Kind    schema.Kind
	Backend schema.BackendKind
}

func (k Key) String() string {
	return fmt.Sprintf("%s(%s, %s)", k.Op, k.Kind, k.Backend)
}

type entry[F any] struct {
	key  Key
	impl F
}

// Builder collects registrations. It is not safe for concurrent use.
type Builder[F any] struct {
	entries []entry[F]
	seen    map[Key]bool
	frozen  bool
}

// NewBuilder returns an empty Builder.
func NewBuilder[F any]() *Builder[F] {
	return &Builder[F]{seen: make(map[Key]bool)}
}

// Register adds a candidate implementation. Registering the same key twice
// is an AmbiguousMatch.
func (b *Builder[F]) Register(op Op, kind schema.Kind, backend schema.BackendKind, impl F) error {
	if b.frozen {
		return ErrFrozen
	}
	key := Key{Op: op, Kind: kind, Backend: backend}
	if b.seen[key] {
		return &Error{Code: AmbiguousMatch, Key: key, Candidates: []Key{key, key}}
	}
	b.seen[key] = true
	b.entries = append(b.entries, entry[F]{key: key, impl: impl})
	return nil
}

// MustRegister is Register for static tables built at startup.
func (b *Builder[F]) MustRegister(op Op, kind schema.Kind, backend schema.BackendKind, impl F) {
	if err := b.Register(op, kind, backend, impl); err != nil {
		panic(err)
	}
}

// Freeze validates every concrete (kind, backend) pair of every registered
// operation and returns the read-only Table. All ambiguities found are
// reported together.
func (b *Builder[F]) Freeze() (*Table[F], error) {
	if b.frozen {
		return nil, ErrFrozen
	}
	b.frozen = true

	t := &Table[F]{byOp: make(map[Op][]entry[F])}
	for _, e := range b.entries {
		t.byOp[e.key.Op] = append(t.byOp[e.key.Op], e)
	}
	for op := range t.byOp {
		// Stable candidate order keeps error messages deterministic.
		es := t.byOp[op]
		sort.Slice(es, func(i, j int) bool { return lessKey(es[i].key, es[j].key) })
	}

	var errs []error
	for _, op := range t.ops() {
		for _, kind := range schema.ConcreteKinds {
			for _, backend := range schema.ConcreteBackends {
				_, err := t.Resolve(op, kind, backend)
				if IsAmbiguous(err) {
					errs = append(errs, err)
				}
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

// Table is a frozen dispatch table. It is safe for concurrent use.
type Table[F any] struct {
	byOp map[Op][]entry[F]
}

// Resolution is the outcome of a successful lookup.
type Resolution[F any] struct {
	// Key is the registration that matched, which may hold wildcards.
	Key  Key
	Impl F
}

// Resolve returns the most specific implementation for a concrete key.
// The result depends only on the registrations and the arguments.
func (t *Table[F]) Resolve(op Op, kind schema.Kind, backend schema.BackendKind) (Resolution[F], error) {
	want := Key{Op: op, Kind: kind, Backend: backend}

	type candidate struct {
		e      entry[F]
		kd, bd int
	}
	var cands []candidate
	for _, e := range t.byOp[op] {
		kd, ok := kind.Distance(e.key.Kind)
		if !ok {
			continue
		}
		bd, ok := backend.Distance(e.key.Backend)
		if !ok {
			continue
		}
		cands = append(cands, candidate{e: e, kd: kd, bd: bd})
	}
	if len(cands) == 0 {
		return Resolution[F]{}, &Error{Code: NoMatch, Key: want}
	}

	var best []candidate
	for i, c := range cands {
		dominated := false
		for j, o := range cands {
			if i == j {
				continue
			}
			if o.kd <= c.kd && o.bd <= c.bd && (o.kd < c.kd || o.bd < c.bd) {
				dominated = true
				break
			}
		}
		if !dominated {
			best = append(best, c)
		}
	}
	if len(best) > 1 {
		keys := make([]Key, len(best))
		for i, c := range best {
			keys[i] = c.e.key
		}
		return Resolution[F]{}, &Error{Code: AmbiguousMatch, Key: want, Candidates: keys}
	}
	return Resolution[F]{Key: best[0].e.key, Impl: best[0].e.impl}, nil
}

// Keys lists every registration, sorted.
func (t *Table[F]) Keys() []Key {
	var keys []Key
	for _, op := range t.ops() {
		for _, e := range t.byOp[op] {
			keys = append(keys, e.key)
		}
	}
	return keys
}

func (t *Table[F]) ops() []Op {
	ops := make([]Op, 0, len(t.byOp))
	for op := range t.byOp {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

func lessKey(a, b Key) bool {
	if a.Op != b.Op {
		return a.Op < b.Op
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	return a.Backend < b.Backend
}
