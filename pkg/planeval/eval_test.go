package planeval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/manifold/pkg/plan"
	"github.com/leapstack-labs/manifold/pkg/query"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

func testGraph(t *testing.T) *schema.Graph {
	t.Helper()
	b := schema.NewBuilder()
	require.NoError(t, b.AddModel(schema.ModelSpec{
		ID: "country",
		Properties: []schema.PropertySpec{
			{Name: "name", Type: "string"},
		},
	}))
	require.NoError(t, b.AddModel(schema.ModelSpec{
		ID: "city",
		Properties: []schema.PropertySpec{
			{Name: "name", Type: "string"},
			{Name: "population", Type: "integer"},
			{Name: "country", Type: "ref", Model: "country"},
			{Name: "tags", Type: "array", Items: &schema.PropertySpec{Type: "string"}},
			{Name: "meta", Type: "object", Properties: []schema.PropertySpec{{Name: "rank", Type: "integer"}}},
		},
	}))
	g, err := b.Freeze()
	require.NoError(t, err)
	return g
}

var (
	countries = map[string]Doc{
		"lt": {"_id": "lt", "name": "Lithuania"},
		"lv": {"_id": "lv", "name": "Latvia"},
	}
	cities = []Doc{
		{"_id": "c1", "name": "Vilnius", "population": int64(580000), "country": "lt", "tags": []any{"capital", "old"}, "meta": map[string]any{"rank": int64(1)}},
		{"_id": "c2", "name": "Kaunas", "population": int64(300000), "country": "lt", "tags": []any{"old"}},
		{"_id": "c3", "name": "Riga", "population": int64(610000), "country": "lv", "tags": []any{"capital"}, "meta": map[string]any{"rank": int64(2)}},
		{"_id": "c4", "name": "Daugavpils", "population": nil, "country": "lv"},
	}
)

func lookup(calls *int) Lookup {
	return func(_ context.Context, m *schema.Model, id string) (Doc, error) {
		*calls++
		if m.ID() != "country" {
			return nil, fmt.Errorf("unexpected model %s", m.ID())
		}
		return countries[id], nil
	}
}

func run(t *testing.T, text string) []plan.Row {
	t.Helper()
	g := testGraph(t)
	p, err := plan.Compile(query.MustParse(text), g, "city", schema.BackendDocument, nil, plan.Options{})
	require.NoError(t, err)
	calls := 0
	rows, err := Evaluate(context.Background(), p, cities, lookup(&calls))
	require.NoError(t, err)
	return rows
}

func ids(rows []plan.Row) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r["_id"]
	}
	return out
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []any
	}{
		{name: "all by id", query: ``, want: []any{"c1", "c2", "c3", "c4"}},
		{name: "startswith", query: `name=startswith("V")`, want: []any{"c1"}},
		{name: "ordering skips nulls", query: `population>400000`, want: []any{"c1", "c3"}},
		{name: "null equality", query: `population=null`, want: []any{"c4"}},
		{name: "array element", query: `tags="old"`, want: []any{"c1", "c2"}},
		{name: "negated array element", query: `!tags="old"`, want: []any{"c3", "c4"}},
		{name: "object child", query: `meta.rank=2`, want: []any{"c3"}},
		{name: "through reference", query: `country.name="Latvia"`, want: []any{"c3", "c4"}},
		{name: "in", query: `name=in("Riga","Kaunas")`, want: []any{"c2", "c3"}},
		{name: "or", query: `name="Riga"|population<400000`, want: []any{"c2", "c3"}},
		{name: "sort desc nulls last", query: `sort(-population)`, want: []any{"c3", "c1", "c2", "c4"}},
		{name: "sort asc nulls first", query: `sort(population)`, want: []any{"c4", "c2", "c1", "c3"}},
		{name: "sort by reference field", query: `sort(country.name,-name)`, want: []any{"c3", "c4", "c1", "c2"}},
		{name: "window", query: `limit(2)&offset(1)`, want: []any{"c2", "c3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(run(t, tt.query)))
		})
	}
}

func TestEvaluate_Projection(t *testing.T) {
	rows := run(t, `select(name,country.name)&sort(population)&limit(1)&offset(1)`)
	require.Len(t, rows, 1)
	assert.Equal(t, plan.Row{
		"_id":          "c2",
		"_revision":    nil,
		"name":         "Kaunas",
		"country.name": "Lithuania",
		"population":   int64(300000),
	}, rows[0])
}

func TestEvaluate_LookupCached(t *testing.T) {
	g := testGraph(t)
	p, err := plan.Compile(query.MustParse(`country.name!="x"`), g, "city", schema.BackendDocument, nil, plan.Options{})
	require.NoError(t, err)
	calls := 0
	_, err = Evaluate(context.Background(), p, cities, lookup(&calls))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestEvaluate_Cancelled(t *testing.T) {
	g := testGraph(t)
	p, err := plan.Compile(nil, g, "city", schema.BackendDocument, nil, plan.Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Evaluate(ctx, p, cities, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// Keyset pages stay stable when a record sorting before the cursor is
// inserted between page fetches.
func TestEvaluate_CursorSurvivesInsert(t *testing.T) {
	g := testGraph(t)
	var docs []Doc
	for i := 1; i <= 10; i++ {
		docs = append(docs, Doc{"_id": fmt.Sprintf("id%02d", i*2), "name": fmt.Sprint(i)})
	}

	first, err := plan.Compile(query.MustParse(`limit(3)`), g, "city", schema.BackendDocument, nil, plan.Options{})
	require.NoError(t, err)
	page1, err := Evaluate(context.Background(), first, docs, nil)
	require.NoError(t, err)
	require.Equal(t, []any{"id02", "id04", "id06"}, ids(page1))

	tok, err := first.Cursor(page1[len(page1)-1])
	require.NoError(t, err)

	docs = append(docs, Doc{"_id": "id01", "name": "new"})

	next, err := plan.Compile(query.MustParse(`limit(3)&cursor("`+tok+`")`), g, "city", schema.BackendDocument, nil, plan.Options{})
	require.NoError(t, err)
	page2, err := Evaluate(context.Background(), next, docs, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"id08", "id10", "id12"}, ids(page2))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare(int64(2), 2.0))
	assert.Equal(t, -1, Compare(nil, "a"))
	assert.Equal(t, 1, Compare(true, false))
	assert.Equal(t, -1, Compare("a", "b"))
}
