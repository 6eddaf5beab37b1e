package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/plan"
	"github.com/leapstack-labs/manifold/pkg/query"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

func geoGraph(t *testing.T, extra ...schema.PropertySpec) *schema.Graph {
	t.Helper()
	b := schema.NewBuilder()
	require.NoError(t, b.AddModel(schema.ModelSpec{
		ID:         "geo/country",
		Properties: []schema.PropertySpec{{Name: "code", Type: "string", Unique: true}},
	}))
	require.NoError(t, b.AddModel(schema.ModelSpec{
		ID: "geo/city",
		Properties: append([]schema.PropertySpec{
			{Name: "name", Type: "string", Unique: true},
			{Name: "population", Type: "integer"},
			{Name: "country", Type: "ref", Model: "geo/country"},
			{Name: "tags", Type: "array", Items: &schema.PropertySpec{Type: "string"}},
			{Name: "meta", Type: "object", Properties: []schema.PropertySpec{{Name: "size", Type: "integer"}}},
		}, extra...),
	}))
	g, err := b.Freeze()
	require.NoError(t, err)
	return g
}

func connect(t *testing.T, cfg adapter.Config) *Adapter {
	t.Helper()
	a := New(nil)
	require.NoError(t, a.Connect(context.Background(), cfg))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func insert(t *testing.T, tx adapter.Tx, m *schema.Model, data map[string]any) {
	t.Helper()
	data["_revision"] = "r-" + data["_id"].(string)
	_, err := tx.Apply(context.Background(), adapter.Write{Op: adapter.WriteInsert, Model: m, ID: data["_id"].(string), Data: data})
	require.NoError(t, err)
}

func ids(t *testing.T, tx adapter.Tx, g *schema.Graph, text string) []string {
	t.Helper()
	q, err := query.Parse(text)
	require.NoError(t, err)
	p, err := plan.Compile(q, g, "geo/city", schema.BackendRelational, nil, plan.Options{})
	require.NoError(t, err)

	ctx := context.Background()
	cur, err := tx.Execute(ctx, p)
	require.NoError(t, err)
	defer func() { _ = cur.Close() }()
	out := []string{}
	for cur.Next(ctx) {
		out = append(out, cur.Row()["_id"].(string))
	}
	require.NoError(t, cur.Err())
	return out
}

func seed(t *testing.T) (*Adapter, *schema.Graph) {
	t.Helper()
	ctx := context.Background()
	g := geoGraph(t)
	a := connect(t, adapter.Config{Name: "main"})
	require.NoError(t, a.Migrate(ctx, g, g.Models()))

	country, _ := g.Model("geo/country")
	city, _ := g.Model("geo/city")
	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	insert(t, tx, country, map[string]any{"_id": "lv", "code": "lv"})
	insert(t, tx, country, map[string]any{"_id": "ee", "code": "ee"})
	insert(t, tx, city, map[string]any{"_id": "c1", "name": "Riga", "population": int64(600000), "country": "lv", "tags": `["old","port"]`, "meta": `{"size":3}`})
	insert(t, tx, city, map[string]any{"_id": "c2", "name": "Tallinn", "population": int64(450000), "country": "ee", "tags": `["old"]`, "meta": `{"size":2}`})
	insert(t, tx, city, map[string]any{"_id": "c3", "name": "Jurmala", "country": "lv", "tags": `[]`})
	require.NoError(t, tx.Commit(ctx))
	return a, g
}

func TestAdapter_Connect(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(t *testing.T) adapter.Config
	}{
		{
			name: "in-memory",
			cfg:  func(_ *testing.T) adapter.Config { return adapter.Config{} },
		},
		{
			name: "file-based",
			cfg: func(t *testing.T) adapter.Config {
				return adapter.Config{Path: filepath.Join(t.TempDir(), "test.db")}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := connect(t, tt.cfg(t))
			assert.True(t, a.IsConnected())
			assert.Equal(t, schema.BackendRelational, a.Kind())
			assert.True(t, a.Capabilities().Changelog)
		})
	}
}

func TestAdapter_Queries(t *testing.T) {
	a, g := seed(t)
	ctx := context.Background()
	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	tests := []struct {
		query string
		want  []string
	}{
		{`tags="old"`, []string{"c1", "c2"}},
		{`tags="port"`, []string{"c1"}},
		{`country.code="lv"&sort(-population)`, []string{"c1", "c3"}},
		{`sort(population)`, []string{"c3", "c2", "c1"}},
		{`sort(-population)`, []string{"c1", "c2", "c3"}},
		{`meta.size>2`, []string{"c1"}},
		{`name=contains("inn")`, []string{"c2"}},
		{`name=contains("INN")`, []string{}},
		{`name=startswith("R")`, []string{"c1"}},
		{`not(population>500000)`, []string{"c2", "c3"}},
		{`population=null`, []string{"c3"}},
		{`population=in(450000,600000)&sort(-name)`, []string{"c2", "c1"}},
		{`sort(name)&limit(1)&offset(1)`, []string{"c1"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(t, tx, g, tt.query))
		})
	}
}

func TestAdapter_CursorPagination(t *testing.T) {
	a, g := seed(t)
	ctx := context.Background()
	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	q, err := query.Parse(`sort(population)&limit(2)`)
	require.NoError(t, err)
	p, err := plan.Compile(q, g, "geo/city", schema.BackendRelational, nil, plan.Options{})
	require.NoError(t, err)

	cur, err := tx.Execute(ctx, p)
	require.NoError(t, err)
	var last plan.Row
	n := 0
	for cur.Next(ctx) {
		last = cur.Row()
		n++
	}
	require.NoError(t, cur.Close())
	require.Equal(t, 2, n)

	token, err := p.Cursor(last)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(t, tx, g, `sort(population)&limit(2)&cursor("`+token+`")`))
}

func TestAdapter_FailedWriteKeepsTransaction(t *testing.T) {
	a, g := seed(t)
	ctx := context.Background()
	city, _ := g.Model("geo/city")

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Apply(ctx, adapter.Write{Op: adapter.WriteInsert, Model: city, ID: "dup",
		Data: map[string]any{"_id": "dup", "_revision": "r", "name": "Riga"}})
	require.ErrorIs(t, err, adapter.ErrConstraint)
	assert.False(t, adapter.IsTransient(err))

	insert(t, tx, city, map[string]any{"_id": "c4", "name": "Tartu", "country": "ee"})
	require.NoError(t, tx.Commit(ctx))

	tx, err = a.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	assert.Equal(t, []string{"c3", "c1", "c2", "c4"}, ids(t, tx, g, `sort(name)`))
}

func TestAdapter_RollbackDiscardsWrites(t *testing.T) {
	a, g := seed(t)
	ctx := context.Background()
	city, _ := g.Model("geo/city")

	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	insert(t, tx, city, map[string]any{"_id": "c4", "name": "Tartu"})
	require.NoError(t, tx.Rollback(ctx))

	tx, err = a.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids(t, tx, g, ``))
}

func TestAdapter_WritesAndChanges(t *testing.T) {
	a, g := seed(t)
	ctx := context.Background()
	city, _ := g.Model("geo/city")
	tags, _ := city.Property("tags")

	tx, err := a.Begin(ctx)
	require.NoError(t, err)

	res, err := tx.Apply(ctx, adapter.Write{Op: adapter.WritePatch, Model: city, ID: "c1",
		Data: map[string]any{"_revision": "r2", "population": int64(610000)}})
	require.NoError(t, err)
	assert.Equal(t, int64(610000), res.Row["population"])
	assert.Equal(t, "Riga", res.Row["name"])

	res, err = tx.Apply(ctx, adapter.Write{Op: adapter.WriteUpdate, Model: city, ID: "c2",
		Data: map[string]any{"_revision": "r3", "name": "Tallinn"}})
	require.NoError(t, err)
	assert.Nil(t, res.Row["population"])

	res, err = tx.Apply(ctx, adapter.Write{Op: adapter.WriteUpsert, Model: city, ID: "c5",
		Data: map[string]any{"_id": "c5", "_revision": "r4", "name": "Narva"}})
	require.NoError(t, err)
	assert.Equal(t, "Narva", res.Row["name"])

	res, err = tx.Apply(ctx, adapter.Write{Op: adapter.WriteWipe, Model: city, Property: tags})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Count)

	res, err = tx.Apply(ctx, adapter.Write{Op: adapter.WriteDelete, Model: city, ID: "c3"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)

	_, err = tx.Apply(ctx, adapter.Write{Op: adapter.WriteDelete, Model: city, ID: "c3"})
	assert.ErrorIs(t, err, adapter.ErrNotFound)

	assert.Empty(t, ids(t, tx, g, `tags="old"`))

	changes, err := tx.Changes(ctx, city, 0, 0)
	require.NoError(t, err)
	ops := make([]string, len(changes))
	for i, c := range changes {
		ops[i] = c.Op
	}
	assert.Equal(t, []string{"insert", "insert", "insert", "patch", "update", "upsert", "wipe", "delete"}, ops)
	assert.Equal(t, "c1", changes[3].ID)
	assert.Equal(t, "r2", changes[3].Revision)
	assert.EqualValues(t, 610000, changes[3].Data["population"])

	tail, err := tx.Changes(ctx, city, changes[5].Seq, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "wipe", tail[0].Op)
	require.NoError(t, tx.Commit(ctx))
}

func TestAdapter_MigrateAddsColumns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "migrate.db")

	g := geoGraph(t)
	a := connect(t, adapter.Config{Path: path})
	require.NoError(t, a.Migrate(ctx, g, g.Models()))
	require.NoError(t, a.Migrate(ctx, g, g.Models()))
	require.NoError(t, a.Close())

	g2 := geoGraph(t, schema.PropertySpec{Name: "mayor", Type: "string"})
	a = connect(t, adapter.Config{Path: path})
	require.NoError(t, a.Migrate(ctx, g2, g2.Models()))

	city, _ := g2.Model("geo/city")
	tx, err := a.Begin(ctx)
	require.NoError(t, err)
	insert(t, tx, city, map[string]any{"_id": "c1", "name": "Riga", "mayor": "Kleinbergs"})
	require.NoError(t, tx.Commit(ctx))
}
