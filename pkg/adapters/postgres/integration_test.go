//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/leapstack-labs/manifold/pkg/adapter"
	"github.com/leapstack-labs/manifold/pkg/plan"
	"github.com/leapstack-labs/manifold/pkg/query"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("manifold"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgres_EndToEnd(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	b := schema.NewBuilder()
	require.NoError(t, b.AddModel(schema.ModelSpec{
		ID: "geo/city",
		Properties: []schema.PropertySpec{
			{Name: "name", Type: "string", Unique: true},
			{Name: "population", Type: "integer"},
			{Name: "founded", Type: "date"},
			{Name: "tags", Type: "array", Items: &schema.PropertySpec{Type: "string"}},
		},
	}))
	g, err := b.Freeze()
	require.NoError(t, err)
	city, _ := g.Model("geo/city")

	adp := New(nil)
	require.NoError(t, adp.Connect(ctx, adapter.Config{Name: "pg", DSN: dsn}))
	defer func() { _ = adp.Close() }()
	require.NoError(t, adp.Migrate(ctx, g, g.Models()))
	require.NoError(t, adp.Migrate(ctx, g, g.Models()))

	tx, err := adp.Begin(ctx)
	require.NoError(t, err)
	rows := []map[string]any{
		{"_id": "c1", "_revision": "r", "name": "Riga", "population": int64(600000), "founded": "1201-01-01", "tags": `["old","port"]`},
		{"_id": "c2", "_revision": "r", "name": "Tallinn", "population": int64(450000), "tags": `["old"]`},
		{"_id": "c3", "_revision": "r", "name": "Jurmala"},
	}
	for _, r := range rows {
		_, err := tx.Apply(ctx, adapter.Write{Op: adapter.WriteInsert, Model: city, ID: r["_id"].(string), Data: r})
		require.NoError(t, err)
	}
	_, err = tx.Apply(ctx, adapter.Write{Op: adapter.WriteInsert, Model: city, ID: "dup",
		Data: map[string]any{"_id": "dup", "_revision": "r", "name": "Riga"}})
	require.ErrorIs(t, err, adapter.ErrConstraint)
	require.NoError(t, tx.Commit(ctx))

	tx, err = adp.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	tests := []struct {
		query string
		want  []string
	}{
		{`tags="old"`, []string{"c1", "c2"}},
		{`sort(-population)`, []string{"c1", "c2", "c3"}},
		{`name=startswith("T")`, []string{"c2"}},
		{`not(population>500000)`, []string{"c2", "c3"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := query.Parse(tt.query)
			require.NoError(t, err)
			p, err := plan.Compile(q, g, city.ID(), schema.BackendRelational, nil, plan.Options{})
			require.NoError(t, err)
			cur, err := tx.Stream(ctx, p)
			require.NoError(t, err)
			defer func() { _ = cur.Close() }()
			got := []string{}
			for cur.Next(ctx) {
				got = append(got, cur.Row()["_id"].(string))
			}
			require.NoError(t, cur.Err())
			assert.Equal(t, tt.want, got)
		})
	}

	changes, err := tx.Changes(ctx, city, 0, 10)
	require.NoError(t, err)
	assert.Len(t, changes, 3)
}
