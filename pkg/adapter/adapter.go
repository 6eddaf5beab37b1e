// Package adapter provides the backend adapter contract for manifold's
// data-serving core.
//
// This package contains the public contract that all backend adapters must
// implement. Concrete adapter implementations are in pkg/adapters/
// subdirectories and register themselves by type in init().
//
// Reads return a forward-only Cursor that pulls records on demand. Writes
// are atomic per record: a failing Apply leaves the transaction usable, so
// a batch of writes commits every success even when some items fail.
package adapter

import (
	"context"
	"io"
	"time"

	"github.com/leapstack-labs/manifold/pkg/plan"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

// Config holds the connection settings of one named backend.
type Config struct {
	// Name is the backend name models refer to.
	Name string `koanf:"name"`
	// Type selects the registered adapter, e.g. "sqlite".
	Type string `koanf:"type"`
	// DSN is the driver connection string.
	DSN string `koanf:"dsn"`
	// Path is a filesystem location for file and embedded backends.
	Path string `koanf:"path"`
	// Params holds adapter-specific settings.
	Params map[string]any `koanf:"params"`
	// StreamBatch is the page size Stream reads with. 0 uses DefaultStreamBatch.
	StreamBatch int `koanf:"stream_batch"`
}

// DefaultStreamBatch is the Stream page size when none is configured.
const DefaultStreamBatch = 500

// Batch returns the effective Stream page size.
func (c Config) Batch() int64 {
	if c.StreamBatch > 0 {
		return int64(c.StreamBatch)
	}
	return DefaultStreamBatch
}

// Capabilities advertises optional adapter behaviour.
type Capabilities struct {
	// TransactionalBatch is set when a failed write can be rolled back on
	// its own, leaving the transaction usable for the writes after it.
	TransactionalBatch bool
	// Changelog is set when writes are recorded for Changes.
	Changelog bool
	// Joins is set when references are expanded inside the backend query.
	Joins bool
	// Files is set when transactions implement FileStore.
	Files bool
}

// Adapter defines the interface that all backend adapters must implement.
type Adapter interface {
	// Name returns the configured backend name.
	Name() string

	// Kind returns the backend family used for dispatch.
	Kind() schema.BackendKind

	// Capabilities reports optional behaviour.
	Capabilities() Capabilities

	// Connect establishes a connection to the backend using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the backend connection and releases resources.
	Close() error

	// Begin starts a transaction.
	Begin(ctx context.Context) (Tx, error)

	// Migrate creates or extends storage for the given models.
	Migrate(ctx context.Context, g *schema.Graph, models []*schema.Model) error
}

// Tx is a backend transaction. A Tx is owned by one execution context and
// is not safe for concurrent use.
type Tx interface {
	// Execute runs a compiled plan.
	Execute(ctx context.Context, p *plan.Plan) (Cursor, error)

	// Stream runs a compiled plan reading it in bounded pages, so the
	// result set is never held in memory at once.
	Stream(ctx context.Context, p *plan.Plan) (Cursor, error)

	// Apply performs one write atomically.
	Apply(ctx context.Context, w Write) (Result, error)

	// Changes reads the change log of a model after sequence since.
	Changes(ctx context.Context, m *schema.Model, since int64, limit int) ([]Change, error)

	// Commit commits the transaction.
	Commit(ctx context.Context) error

	// Rollback aborts the transaction.
	Rollback(ctx context.Context) error
}

// Cursor is a forward-only, non-restartable sequence of rows. Callers must
// drain it or Close it.
type Cursor interface {
	// Next advances to the next row. It returns false when the rows are
	// exhausted, the context is done or an error occurred.
	Next(ctx context.Context) bool
	// Row returns the current row.
	Row() plan.Row
	// Err returns the error that stopped iteration, if any.
	Err() error
	// Close releases the cursor.
	Close() error
}

// WriteOp is the kind of a write.
type WriteOp uint8

// Write operations.
const (
	WriteInsert WriteOp = iota + 1
	WriteUpdate
	WritePatch
	WriteUpsert
	WriteDelete
	WriteWipe
)

var writeOpNames = map[WriteOp]string{
	WriteInsert: "insert",
	WriteUpdate: "update",
	WritePatch:  "patch",
	WriteUpsert: "upsert",
	WriteDelete: "delete",
	WriteWipe:   "wipe",
}

func (o WriteOp) String() string {
	if n, ok := writeOpNames[o]; ok {
		return n
	}
	return "unknown"
}

// Write is one record write.
type Write struct {
	Op    WriteOp
	Model *schema.Model
	// ID is the record primary key. Empty for model-wide wipes.
	ID string
	// Data maps top-level property names to backend values. It always
	// holds _revision for insert, update, patch and upsert.
	Data map[string]any
	// Property restricts a wipe to one array property.
	Property *schema.Descriptor
}

// Result is the outcome of a write.
type Result struct {
	// Row is the stored record keyed by property name, when the write
	// leaves one.
	Row map[string]any
	// Count is the number of records affected.
	Count int64
}

// Change is one change log entry.
type Change struct {
	Seq      int64          `json:"_seq"`
	TxID     string         `json:"_txn"`
	Model    string         `json:"_model"`
	ID       string         `json:"_id"`
	Revision string         `json:"_revision"`
	Op       string         `json:"_op"`
	Data     map[string]any `json:"data,omitempty"`
	Time     time.Time      `json:"_created"`
}

// FileInfo describes stored file content.
type FileInfo struct {
	Name        string `json:"_id"`
	ContentType string `json:"_content_type"`
	Size        int64  `json:"_size"`
}

// FileStore is implemented by transactions that hold file content.
type FileStore interface {
	// ReadFile opens the content of a file property.
	ReadFile(ctx context.Context, m *schema.Model, id string, prop *schema.Descriptor) (io.ReadCloser, FileInfo, error)
	// WriteFile stores the content of a file property.
	WriteFile(ctx context.Context, m *schema.Model, id string, prop *schema.Descriptor, info FileInfo, r io.Reader) (FileInfo, error)
	// DeleteFile removes the content of a file property.
	DeleteFile(ctx context.Context, m *schema.Model, id string, prop *schema.Descriptor) error
}
