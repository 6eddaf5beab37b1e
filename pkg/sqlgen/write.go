package sqlgen

import (
	"strconv"
	"strings"

	"github.com/leapstack-labs/manifold/pkg/schema"
)

// ChangelogTable is the table holding the per-backend change log.
const ChangelogTable = "_changelog"

// ChangelogColumns are the columns read back by Changes, in order.
var ChangelogColumns = []string{"seq", "txn", "model", "record_id", "revision", "action", "data", "created"}

func (g *Generator) table(m *schema.Model) string {
	return g.d.QuoteIdentifier(m.Table())
}

func (g *Generator) pk() string {
	return g.d.QuoteIdentifier(schema.IDProperty)
}

// present returns the top-level properties of m that have a value in data,
// in declaration order.
func present(m *schema.Model, data map[string]any, withID bool) []*schema.Descriptor {
	var out []*schema.Descriptor
	for _, d := range m.Properties() {
		if d.Name() == schema.IDProperty && !withID {
			continue
		}
		if _, ok := data[d.Name()]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Insert renders an INSERT of the given column values.
func (g *Generator) Insert(m *schema.Model, data map[string]any) Statement {
	p := &params{d: g.d}
	cols := present(m, data, true)
	names := make([]string, len(cols))
	phs := make([]string, len(cols))
	for i, d := range cols {
		names[i] = g.d.QuoteIdentifier(d.Column())
		phs[i] = p.add(data[d.Name()])
	}
	return Statement{
		SQL:  "INSERT INTO " + g.table(m) + " (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(phs, ", ") + ")",
		Args: p.args,
	}
}

// Update renders a full replacement of record id: properties missing from
// data are set to NULL.
func (g *Generator) Update(m *schema.Model, id string, data map[string]any) Statement {
	full := make(map[string]any, len(m.Properties()))
	for _, d := range m.Properties() {
		full[d.Name()] = data[d.Name()]
	}
	return g.Patch(m, id, full)
}

// Patch renders an UPDATE of the properties present in data.
func (g *Generator) Patch(m *schema.Model, id string, data map[string]any) Statement {
	p := &params{d: g.d}
	cols := present(m, data, false)
	sets := make([]string, len(cols))
	for i, d := range cols {
		sets[i] = g.d.QuoteIdentifier(d.Column()) + " = " + p.add(data[d.Name()])
	}
	return Statement{
		SQL:  "UPDATE " + g.table(m) + " SET " + strings.Join(sets, ", ") + " WHERE " + g.pk() + " = " + p.add(id),
		Args: p.args,
	}
}

// Upsert renders an insert that replaces the present columns of an
// existing record with the same primary key.
func (g *Generator) Upsert(m *schema.Model, data map[string]any) Statement {
	ins := g.Insert(m, data)
	var sets []string
	for _, d := range present(m, data, false) {
		col := g.d.QuoteIdentifier(d.Column())
		sets = append(sets, col+" = excluded."+col)
	}
	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	ins.SQL += " ON CONFLICT (" + g.pk() + ") " + action
	return ins
}

// Delete renders the removal of record id.
func (g *Generator) Delete(m *schema.Model, id string) Statement {
	p := &params{d: g.d}
	return Statement{
		SQL:  "DELETE FROM " + g.table(m) + " WHERE " + g.pk() + " = " + p.add(id),
		Args: p.args,
	}
}

// Wipe renders the removal of every record of m.
func (g *Generator) Wipe(m *schema.Model) Statement {
	return Statement{SQL: "DELETE FROM " + g.table(m)}
}

// ClearColumn renders setting column d to NULL, for one record when id is
// not empty or for all records otherwise.
func (g *Generator) ClearColumn(m *schema.Model, d *schema.Descriptor, id string) Statement {
	p := &params{d: g.d}
	sql := "UPDATE " + g.table(m) + " SET " + g.d.QuoteIdentifier(d.Column()) + " = NULL"
	if id != "" {
		sql += " WHERE " + g.pk() + " = " + p.add(id)
	}
	return Statement{SQL: sql, Args: p.args}
}

// SelectByID renders a read of every top-level column of record id. The
// returned descriptors give the meaning of each output column.
func (g *Generator) SelectByID(m *schema.Model, id string) (Statement, []*schema.Descriptor) {
	p := &params{d: g.d}
	props := m.Properties()
	cols := make([]string, len(props))
	for i, d := range props {
		cols[i] = g.d.QuoteIdentifier(d.Column())
	}
	return Statement{
		SQL:  "SELECT " + strings.Join(cols, ", ") + " FROM " + g.table(m) + " WHERE " + g.pk() + " = " + p.add(id),
		Args: p.args,
	}, props
}

// CreateTable renders the DDL creating the table of m when missing.
func (g *Generator) CreateTable(m *schema.Model) Statement {
	defs := make([]string, 0, len(m.Properties()))
	for _, d := range m.Properties() {
		defs = append(defs, g.columnDef(d))
	}
	return Statement{SQL: "CREATE TABLE IF NOT EXISTS " + g.table(m) + " (" + strings.Join(defs, ", ") + ")"}
}

// AddColumn renders the DDL adding the column of property d to m.
// Unique constraints are not added to existing tables.
func (g *Generator) AddColumn(m *schema.Model, d *schema.Descriptor) Statement {
	return Statement{SQL: "ALTER TABLE " + g.table(m) + " ADD COLUMN " + g.d.QuoteIdentifier(d.Column()) + " " + g.d.ColumnType(d)}
}

func (g *Generator) columnDef(d *schema.Descriptor) string {
	def := g.d.QuoteIdentifier(d.Column()) + " " + g.d.ColumnType(d)
	switch {
	case d.Name() == schema.IDProperty:
		def += " PRIMARY KEY"
	case d.Unique():
		def += " UNIQUE"
	}
	return def
}

// Savepoint renders the creation of a named savepoint.
func (g *Generator) Savepoint(name string) string { return "SAVEPOINT " + g.d.QuoteIdentifier(name) }

// ReleaseSavepoint renders the release of a named savepoint.
func (g *Generator) ReleaseSavepoint(name string) string {
	return "RELEASE SAVEPOINT " + g.d.QuoteIdentifier(name)
}

// RollbackToSavepoint renders the rollback to a named savepoint.
func (g *Generator) RollbackToSavepoint(name string) string {
	return "ROLLBACK TO SAVEPOINT " + g.d.QuoteIdentifier(name)
}

// LogChange renders the append of one change log entry. Values follow
// ChangelogColumns without the sequence column.
func (g *Generator) LogChange(txn, model, id, revision, action string, data any, created string) Statement {
	p := &params{d: g.d}
	cols := ChangelogColumns[1:]
	quoted := make([]string, len(cols))
	phs := make([]string, len(cols))
	vals := []any{txn, model, id, revision, action, data, created}
	for i, c := range cols {
		quoted[i] = g.d.QuoteIdentifier(c)
		phs[i] = p.add(vals[i])
	}
	return Statement{
		SQL:  "INSERT INTO " + g.d.QuoteIdentifier(ChangelogTable) + " (" + strings.Join(quoted, ", ") + ") VALUES (" + strings.Join(phs, ", ") + ")",
		Args: p.args,
	}
}

// Changes renders a read of the change log of model after sequence since.
func (g *Generator) Changes(model string, since int64, limit int) Statement {
	p := &params{d: g.d}
	quoted := make([]string, len(ChangelogColumns))
	for i, c := range ChangelogColumns {
		quoted[i] = g.d.QuoteIdentifier(c)
	}
	seq := g.d.QuoteIdentifier("seq")
	sql := "SELECT " + strings.Join(quoted, ", ") + " FROM " + g.d.QuoteIdentifier(ChangelogTable) +
		" WHERE " + g.d.QuoteIdentifier("model") + " = " + p.add(model) +
		" AND " + seq + " > " + p.add(since) +
		" ORDER BY " + seq
	if limit > 0 {
		sql += " LIMIT " + strconv.Itoa(limit)
	}
	return Statement{SQL: sql, Args: p.args}
}
