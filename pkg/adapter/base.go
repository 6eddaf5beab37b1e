package adapter

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/leapstack-labs/manifold/pkg/dialect"
	"github.com/leapstack-labs/manifold/pkg/plan"
	"github.com/leapstack-labs/manifold/pkg/schema"
	"github.com/leapstack-labs/manifold/pkg/sqlgen"
)

// ErrorClassifier reports whether a driver error is transient and whether
// it is a constraint violation.
type ErrorClassifier func(err error) (transient, constraint bool)

// BaseSQLAdapter provides common database/sql functionality for relational
// adapters. Embed this struct in concrete adapter implementations and set
// DB in Connect to get the whole Adapter contract except Connect.
type BaseSQLAdapter struct {
	DB      *sql.DB
	Cfg     Config
	Logger  *slog.Logger
	Dialect *dialect.Dialect

	// Migrations holds goose SQL migrations creating the change log
	// table. A nil FS disables the change log.
	Migrations   fs.FS
	GooseDialect goose.Dialect

	// Classify maps driver errors; nil treats every error as permanent.
	Classify ErrorClassifier
}

// Name returns the configured backend name.
func (b *BaseSQLAdapter) Name() string { return b.Cfg.Name }

// Kind reports the relational backend family.
func (b *BaseSQLAdapter) Kind() schema.BackendKind { return schema.BackendRelational }

// Capabilities reports what the SQL backend supports.
func (b *BaseSQLAdapter) Capabilities() Capabilities {
	return Capabilities{
		TransactionalBatch: b.Dialect.Savepoints,
		Changelog:          b.Migrations != nil,
		Joins:              true,
	}
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.DB.Close()
	}
	return nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

// Generator returns the SQL generator for the adapter's dialect.
func (b *BaseSQLAdapter) Generator() *sqlgen.Generator {
	return sqlgen.New(b.Dialect)
}

// Wrap turns a driver error into a BackendError. Context errors and
// ErrNotFound pass through unchanged.
func (b *BaseSQLAdapter) Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNotFound) {
		return err
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	var transient, constraint bool
	if b.Classify != nil {
		transient, constraint = b.Classify(err)
	}
	if errors.Is(err, driver.ErrBadConn) {
		transient = true
	}
	cause := err
	if constraint {
		cause = fmt.Errorf("%w: %w", ErrConstraint, err)
	}
	return &BackendError{Backend: b.Cfg.Name, Op: op, Transient: transient, Cause: cause}
}

// Begin starts a database transaction.
func (b *BaseSQLAdapter) Begin(ctx context.Context) (Tx, error) {
	if b.DB == nil {
		return nil, ErrNotConnected
	}
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, b.Wrap("begin", err)
	}
	return &sqlTx{b: b, tx: tx, gen: b.Generator(), id: uuid.NewString()}, nil
}

// Migrate applies the change log migrations, creates missing tables and
// adds missing columns. Columns are never dropped or retyped.
func (b *BaseSQLAdapter) Migrate(ctx context.Context, _ *schema.Graph, models []*schema.Model) error {
	if b.DB == nil {
		return ErrNotConnected
	}
	if b.Migrations != nil {
		provider, err := goose.NewProvider(b.GooseDialect, b.DB, b.Migrations)
		if err != nil {
			return fmt.Errorf("failed to create migration provider: %w", err)
		}
		results, err := provider.Up(ctx)
		if err != nil {
			return b.Wrap("migrate changelog", err)
		}
		for _, r := range results {
			b.Logger.Debug("applied migration", slog.String("source", r.Source.Path))
		}
	}

	gen := b.Generator()
	for _, m := range models {
		if _, err := b.DB.ExecContext(ctx, gen.CreateTable(m).SQL); err != nil {
			return b.Wrap("migrate "+string(m.ID()), err)
		}
		existing, err := b.columns(ctx, m.Table())
		if err != nil {
			return err
		}
		for _, d := range m.Properties() {
			if existing[strings.ToLower(d.Column())] {
				continue
			}
			b.Logger.Info("adding column", slog.String("model", string(m.ID())), slog.String("column", d.Column()))
			if _, err := b.DB.ExecContext(ctx, gen.AddColumn(m, d).SQL); err != nil {
				return b.Wrap("migrate "+string(m.ID()), err)
			}
		}
	}
	return nil
}

// columns lists the column names of a table, lower-cased.
func (b *BaseSQLAdapter) columns(ctx context.Context, table string) (map[string]bool, error) {
	//nolint:gosec // table name is quoted by the dialect
	rows, err := b.DB.QueryContext(ctx, "SELECT * FROM "+b.Dialect.QuoteIdentifier(table)+" WHERE 1 = 0")
	if err != nil {
		return nil, b.Wrap("inspect "+table, err)
	}
	defer func() { _ = rows.Close() }()
	names, err := rows.Columns()
	if err != nil {
		return nil, b.Wrap("inspect "+table, err)
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[strings.ToLower(n)] = true
	}
	return out, nil
}

type sqlTx struct {
	b    *BaseSQLAdapter
	tx   *sql.Tx
	gen  *sqlgen.Generator
	id   string
	sp   int
	done bool
}

func (t *sqlTx) Execute(ctx context.Context, p *plan.Plan) (Cursor, error) {
	if t.done {
		return nil, ErrTxDone
	}
	stmt, fields, err := t.gen.Select(p)
	if err != nil {
		return nil, err
	}
	t.b.Logger.Debug("executing query", slog.String("sql", stmt.SQL))
	//nolint:rowserrcheck // rows.Err() is surfaced through Cursor.Err
	rows, err := t.tx.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, t.b.Wrap("query "+string(p.Model.ID()), err)
	}
	return &rowsCursor{b: t.b, rows: rows, fields: fields}, nil
}

func (t *sqlTx) Stream(_ context.Context, p *plan.Plan) (Cursor, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return NewPagedCursor(t.Execute, p, t.b.Cfg.Batch()), nil
}

// Apply runs one write inside a savepoint, so a failed write leaves the
// transaction usable for the next one.
func (t *sqlTx) Apply(ctx context.Context, w Write) (Result, error) {
	if t.done {
		return Result{}, ErrTxDone
	}
	if !t.b.Dialect.Savepoints {
		return t.apply(ctx, w)
	}
	t.sp++
	name := "w" + strconv.Itoa(t.sp)
	if _, err := t.tx.ExecContext(ctx, t.gen.Savepoint(name)); err != nil {
		return Result{}, t.b.Wrap("savepoint", err)
	}
	res, err := t.apply(ctx, w)
	cleanup := context.WithoutCancel(ctx)
	if err != nil {
		if _, rerr := t.tx.ExecContext(cleanup, t.gen.RollbackToSavepoint(name)); rerr != nil {
			return Result{}, errors.Join(err, t.b.Wrap("rollback to savepoint", rerr))
		}
	}
	if _, rerr := t.tx.ExecContext(cleanup, t.gen.ReleaseSavepoint(name)); rerr != nil && err == nil {
		return Result{}, t.b.Wrap("release savepoint", rerr)
	}
	return res, err
}

func (t *sqlTx) apply(ctx context.Context, w Write) (Result, error) {
	m := w.Model
	op := w.Op.String() + " " + string(m.ID())

	var stmt sqlgen.Statement
	mustExist := false
	switch w.Op {
	case WriteInsert:
		stmt = t.gen.Insert(m, w.Data)
	case WriteUpdate:
		stmt, mustExist = t.gen.Update(m, w.ID, w.Data), true
	case WritePatch:
		stmt, mustExist = t.gen.Patch(m, w.ID, w.Data), true
	case WriteUpsert:
		stmt = t.gen.Upsert(m, w.Data)
	case WriteDelete:
		stmt, mustExist = t.gen.Delete(m, w.ID), true
	case WriteWipe:
		if w.Property != nil {
			stmt = t.gen.ClearColumn(m, w.Property, w.ID)
		} else {
			stmt = t.gen.Wipe(m)
		}
	default:
		return Result{}, fmt.Errorf("unsupported write %s", w.Op)
	}

	t.b.Logger.Debug("applying write", slog.String("sql", stmt.SQL))
	res, err := t.tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return Result{}, t.b.Wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Result{}, t.b.Wrap(op, err)
	}
	if mustExist && n == 0 {
		return Result{}, ErrNotFound
	}

	out := Result{Count: n}
	if w.Op != WriteDelete && w.Op != WriteWipe {
		if out.Row, err = t.read(ctx, m, w.ID); err != nil {
			return Result{}, err
		}
		out.Count = 1
	}
	if err := t.log(ctx, w, out.Row); err != nil {
		return Result{}, err
	}
	return out, nil
}

// read loads every top-level column of one record keyed by property name.
func (t *sqlTx) read(ctx context.Context, m *schema.Model, id string) (map[string]any, error) {
	stmt, props := t.gen.SelectByID(m, id)
	vals := make([]any, len(props))
	ptrs := make([]any, len(props))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	err := t.tx.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(ptrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, t.b.Wrap("read "+string(m.ID()), err)
	}
	row := make(map[string]any, len(props))
	for i, d := range props {
		row[d.Name()] = normalize(vals[i])
	}
	return row, nil
}

func (t *sqlTx) log(ctx context.Context, w Write, row map[string]any) error {
	if t.b.Migrations == nil {
		return nil
	}
	var data any
	if row != nil {
		raw, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode change: %w", err)
		}
		data = string(raw)
	}
	rev, _ := w.Data[schema.RevisionProperty].(string)
	stmt := t.gen.LogChange(t.id, string(w.Model.ID()), w.ID, rev, w.Op.String(), data, time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := t.tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
		return t.b.Wrap("log change", err)
	}
	return nil
}

func (t *sqlTx) Changes(ctx context.Context, m *schema.Model, since int64, limit int) ([]Change, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if t.b.Migrations == nil {
		return nil, fmt.Errorf("backend %s: change log: %w", t.b.Cfg.Name, errors.ErrUnsupported)
	}
	stmt := t.gen.Changes(string(m.ID()), since, limit)
	rows, err := t.tx.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, t.b.Wrap("changes "+string(m.ID()), err)
	}
	defer func() { _ = rows.Close() }()

	var out []Change
	for rows.Next() {
		var (
			c       Change
			data    sql.NullString
			created string
		)
		if err := rows.Scan(&c.Seq, &c.TxID, &c.Model, &c.ID, &c.Revision, &c.Op, &data, &created); err != nil {
			return nil, t.b.Wrap("changes "+string(m.ID()), err)
		}
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &c.Data); err != nil {
				return nil, fmt.Errorf("decode change %d: %w", c.Seq, err)
			}
		}
		if c.Time, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("decode change %d: %w", c.Seq, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, t.b.Wrap("changes "+string(m.ID()), err)
	}
	return out, nil
}

func (t *sqlTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.b.Wrap("commit", t.tx.Commit())
}

func (t *sqlTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return t.b.Wrap("rollback", err)
}

// rowsCursor scans database rows into plan rows keyed by field name.
type rowsCursor struct {
	b      *BaseSQLAdapter
	rows   *sql.Rows
	fields []plan.Field
	row    plan.Row
	err    error
}

func (c *rowsCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			c.err = c.b.Wrap("read rows", err)
		}
		return false
	}
	vals := make([]any, len(c.fields))
	ptrs := make([]any, len(c.fields))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		c.err = c.b.Wrap("scan row", err)
		return false
	}
	c.row = make(plan.Row, len(c.fields))
	for i, f := range c.fields {
		c.row[f.Name] = normalize(vals[i])
	}
	return true
}

func (c *rowsCursor) Row() plan.Row { return c.row }

func (c *rowsCursor) Err() error { return c.err }

func (c *rowsCursor) Close() error { return c.rows.Close() }

// normalize converts driver byte slices to strings.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
