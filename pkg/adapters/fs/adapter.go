// Package fs provides a file backend. Every record is one JSON document
// under the backend root and file properties keep their content next to
// it:
//
//	<root>/<table>/<id>.json
//	<root>/<table>/_files/<id>/<property>
//	<root>/_changelog.jsonl
//
// Transactions stage writes in memory and publish them on commit, one
// commit at a time. Every path element derived from data is checked so a
// record id or property name can never escape the root.
package fs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/planeval"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

const (
	docExt        = ".json"
	filesDir      = "_files"
	changelogFile = "_changelog.jsonl"
)

// ErrUnsafeName is returned for ids and names that are not a single local
// path element.
var ErrUnsafeName = errors.New("unsafe file name")

// Adapter implements the adapter.Adapter interface for a directory tree.
type Adapter struct {
	Logger *slog.Logger

	mu        sync.Mutex
	cfg       adapter.Config
	root      string
	connected bool
	seq       int64
}

// New creates a new file adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{Logger: logger}
}

// Name returns the configured backend name.
func (a *Adapter) Name() string { return a.cfg.Name }

// Kind reports the file backend family.
func (a *Adapter) Kind() schema.BackendKind { return schema.BackendFile }

// Capabilities reports staged transactions, a change log and file content.
func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{TransactionalBatch: true, Changelog: true, Files: true}
}

// Connect opens the root directory, creating it when missing, and recovers
// the last change log sequence.
func (a *Adapter) Connect(_ context.Context, cfg adapter.Config) error {
	root := cfg.Path
	if root == "" {
		root = cfg.DSN
	}
	if root == "" {
		return fmt.Errorf("file backend %q requires a path", cfg.Name)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create root %s: %w", root, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	a.root = root
	changes, err := a.readChangelog()
	if err != nil {
		return err
	}
	a.seq = 0
	if n := len(changes); n > 0 {
		a.seq = changes[n-1].Seq
	}
	a.connected = true
	a.Logger.Info("opened file backend", slog.String("root", root), slog.Int64("seq", a.seq))
	return nil
}

// Close marks the adapter disconnected. Data stays on disk.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

// Migrate creates a directory per model.
func (a *Adapter) Migrate(_ context.Context, _ *schema.Graph, models []*schema.Model) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return adapter.ErrNotConnected
	}
	for _, m := range models {
		dir, err := a.modelDir(m)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return a.backendError("migrate "+string(m.ID()), err)
		}
	}
	return nil
}

// Begin starts a staging transaction.
func (a *Adapter) Begin(_ context.Context) (adapter.Tx, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, adapter.ErrNotConnected
	}
	return newTx(a), nil
}

func (a *Adapter) backendError(op string, cause error) error {
	transient := errors.Is(cause, os.ErrDeadlineExceeded)
	return &adapter.BackendError{Backend: a.cfg.Name, Op: op, Transient: transient, Cause: cause}
}

// safeName checks that s is a single path element inside its parent.
func safeName(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) || !filepath.IsLocal(s) {
		return fmt.Errorf("%w: %q", ErrUnsafeName, s)
	}
	return nil
}

func (a *Adapter) modelDir(m *schema.Model) (string, error) {
	if err := safeName(m.Table()); err != nil {
		return "", err
	}
	return filepath.Join(a.root, m.Table()), nil
}

func (a *Adapter) docPath(m *schema.Model, id string) (string, error) {
	dir, err := a.modelDir(m)
	if err != nil {
		return "", err
	}
	if err := safeName(id); err != nil {
		return "", err
	}
	return filepath.Join(dir, id+docExt), nil
}

func (a *Adapter) contentDir(m *schema.Model, id string) (string, error) {
	dir, err := a.modelDir(m)
	if err != nil {
		return "", err
	}
	if err := safeName(id); err != nil {
		return "", err
	}
	return filepath.Join(dir, filesDir, id), nil
}

func (a *Adapter) contentPath(m *schema.Model, id, prop string) (string, error) {
	dir, err := a.contentDir(m, id)
	if err != nil {
		return "", err
	}
	if err := safeName(prop); err != nil {
		return "", err
	}
	return filepath.Join(dir, prop), nil
}

// readDoc returns a committed record, or nil when it does not exist.
func (a *Adapter) readDoc(m *schema.Model, id string) (planeval.Doc, error) {
	path, err := a.docPath(m, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, a.backendError("read "+string(m.ID()), err)
	}
	return decodeDoc(data)
}

// readAll returns every committed record of a model keyed by id.
func (a *Adapter) readAll(m *schema.Model) (map[string]planeval.Doc, error) {
	dir, err := a.modelDir(m)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, a.backendError("read "+string(m.ID()), fmt.Errorf("model %s is not migrated", m.ID()))
	}
	if err != nil {
		return nil, a.backendError("read "+string(m.ID()), err)
	}
	out := make(map[string]planeval.Doc, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, docExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, a.backendError("read "+string(m.ID()), err)
		}
		d, err := decodeDoc(data)
		if err != nil {
			return nil, a.backendError("read "+string(m.ID()), fmt.Errorf("%s: %w", name, err))
		}
		out[strings.TrimSuffix(name, docExt)] = d
	}
	return out, nil
}

// commit publishes the staged state of t.
func (a *Adapter) commit(t *tx) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return adapter.ErrNotConnected
	}

	for _, id := range slices.Sorted(maps.Keys(t.models)) {
		m := t.models[id]
		if len(t.docs[id]) == 0 && !t.wiped[id] {
			continue
		}
		view, err := t.view(m)
		if err != nil {
			return err
		}
		if err := checkUnique(m, view); err != nil {
			return &adapter.BackendError{Backend: a.cfg.Name, Op: "commit", Transient: true, Cause: err}
		}
	}

	for _, id := range slices.Sorted(maps.Keys(t.models)) {
		m := t.models[id]
		if err := a.publish(t, m); err != nil {
			return a.backendError("commit "+string(id), err)
		}
	}
	if err := a.appendChangelog(t.log); err != nil {
		return a.backendError("commit", err)
	}
	a.Logger.Debug("committed transaction", slog.String("txn", t.id), slog.Int("changes", len(t.log)))
	return nil
}

func (a *Adapter) publish(t *tx, m *schema.Model) error {
	dir, err := a.modelDir(m)
	if err != nil {
		return err
	}
	if t.wiped[m.ID()] {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	for _, id := range slices.Sorted(maps.Keys(t.docs[m.ID()])) {
		d := t.docs[m.ID()][id]
		path, err := a.docPath(m, id)
		if err != nil {
			return err
		}
		if d == nil {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			content, _ := a.contentDir(m, id)
			if err := os.RemoveAll(content); err != nil {
				return err
			}
			continue
		}
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		if err := writeAtomic(path, data); err != nil {
			return err
		}
	}
	for _, k := range slices.SortedFunc(maps.Keys(t.files), compareFileKey) {
		if k.model != m.ID() {
			continue
		}
		f := t.files[k]
		path, err := a.contentPath(m, k.id, k.prop)
		if err != nil {
			return err
		}
		if f.deleted {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := writeAtomic(path, f.data); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) appendChangelog(changes []adapter.Change) error {
	if len(changes) == 0 {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(a.root, changelogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	now := time.Now().UTC()
	seq := a.seq
	for _, ch := range changes {
		seq++
		ch.Seq = seq
		ch.Time = now
		if err := enc.Encode(ch); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.seq = seq
	return nil
}

func (a *Adapter) readChangelog() ([]adapter.Change, error) {
	f, err := os.Open(filepath.Join(a.root, changelogFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []adapter.Change
	dec := json.NewDecoder(f)
	dec.UseNumber()
	for {
		var ch adapter.Change
		if err := dec.Decode(&ch); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("corrupt change log: %w", err)
		}
		ch.Data = normalizeDoc(ch.Data)
		out = append(out, ch)
	}
	return out, nil
}

// writeAtomic replaces path with data through a temporary file and rename.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// decodeDoc parses a stored record. Integral numbers become int64 and the
// rest float64.
func decodeDoc(data []byte) (planeval.Doc, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d planeval.Doc
	if err := dec.Decode(&d); err != nil {
		return nil, err
	}
	return normalizeDoc(d), nil
}

func normalizeDoc(d map[string]any) map[string]any {
	for k, v := range d {
		d[k] = normalize(v)
	}
	return d
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		return normalizeDoc(x)
	case []any:
		for i, it := range x {
			x[i] = normalize(it)
		}
	}
	return v
}

// checkUnique verifies unique properties over a model view.
func checkUnique(m *schema.Model, docs map[string]planeval.Doc) error {
	for _, d := range m.Properties() {
		if !d.Unique() || d.Name() == schema.IDProperty {
			continue
		}
		seen := make(map[string]string)
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
