package plan

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/manifold/pkg/auth"
	"github.com/leapstack-labs/manifold/pkg/query"
	"github.com/leapstack-labs/manifold/pkg/schema"
)

func testGraph(t *testing.T) *schema.Graph {
	t.Helper()
	b := schema.NewBuilder()
	require.NoError(t, b.AddModel(schema.ModelSpec{
		ID: "geo/country",
		Properties: []schema.PropertySpec{
			{Name: "code", Type: "string", Unique: true},
			{Name: "name", Type: "string"},
			{Name: "area", Type: "number"},
			{Name: "capital", Type: "ref", Model: "geo/city"},
		},
	}))
	require.NoError(t, b.AddModel(schema.ModelSpec{
		ID: "geo/city",
		Properties: []schema.PropertySpec{
			{Name: "name", Type: "string"},
			{Name: "population", Type: "integer"},
			{Name: "founded", Type: "date"},
			{Name: "capital", Type: "boolean"},
			{Name: "country", Type: "ref", Model: "geo/country"},
			{Name: "tags", Type: "array", Items: &schema.PropertySpec{Type: "string"}},
			{Name: "districts", Type: "array", Items: &schema.PropertySpec{Type: "object", Properties: []schema.PropertySpec{
				{Name: "name", Type: "string"},
			}}},
			{Name: "mayor", Type: "object", Properties: []schema.PropertySpec{
				{Name: "name", Type: "string"},
				{Name: "email", Type: "string", Sensitive: true},
			}},
			{Name: "location", Type: "geometry"},
			{Name: "photo", Type: "file"},
			{Name: "secret", Type: "string", Hidden: true},
		},
	}))
	g, err := b.Freeze()
	require.NoError(t, err)
	return g
}

func compile(t *testing.T, g *schema.Graph, text string) (*Plan, error) {
	t.Helper()
	q, err := query.Parse(text)
	require.NoError(t, err)
	return Compile(q, g, "geo/city", schema.BackendRelational, nil, Options{})
}

func TestCompile_ClauseOrderDoesNotMatter(t *testing.T) {
	g := testGraph(t)
	a, err := compile(t, g, `sort(name)&name=startswith("A")`)
	require.NoError(t, err)
	b, err := compile(t, g, `name=startswith("A")&sort(name)`)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	a, err = compile(t, g, `limit(3)&country.name="X"&sort(-country.code)&select(country.name)`)
	require.NoError(t, err)
	b, err = compile(t, g, `select(country.name)&sort(-country.code)&limit(3)&country.name="X"`)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompile_StageOrder(t *testing.T) {
	g := testGraph(t)
	p, err := compile(t, g, `limit(2)&sort(country.name)&tags="x"&select(name)`)
	require.NoError(t, err)

	var kinds []StageKind
	for _, st := range p.Stages() {
		kinds = append(kinds, st.Kind())
	}
	assert.Equal(t, []StageKind{StageFilter, StageJoin, StageSort, StageProject, StagePaginate}, kinds)

	p, err = compile(t, g, ``)
	require.NoError(t, err)
	kinds = nil
	for _, st := range p.Stages() {
		kinds = append(kinds, st.Kind())
	}
	assert.Equal(t, []StageKind{StageSort, StageProject, StagePaginate}, kinds)
}

func TestCompile_DefaultSortIsPrimaryKey(t *testing.T) {
	g := testGraph(t)
	p, err := compile(t, g, ``)
	require.NoError(t, err)
	require.Len(t, p.Sort.Keys, 1)
	assert.Equal(t, schema.IDProperty, p.Sort.Keys[0].Field.Name)
	assert.False(t, p.Sort.Keys[0].Desc)

	p, err = compile(t, g, `sort(-_id,name)`)
	require.NoError(t, err)
	require.Len(t, p.Sort.Keys, 2)
	assert.True(t, p.Sort.Keys[0].Desc)
}

func TestCompile_Projection(t *testing.T) {
	g := testGraph(t)

	p, err := compile(t, g, ``)
	require.NoError(t, err)
	names := fieldNames(p.Project.Fields)
	assert.Equal(t, "_id, _revision, name, population, founded, capital, country, tags, districts, mayor, location, photo", names)

	p, err = compile(t, g, `select(mayor.name,country.code)&sort(population)`)
	require.NoError(t, err)
	assert.Equal(t, "_id, _revision, mayor.name, country.code", fieldNames(p.Project.Fields))
	assert.Equal(t, "population", fieldNames(p.Project.Hidden))

	f := p.Project.Fields[2]
	assert.Equal(t, "mayor", f.Column)
	assert.Equal(t, []string{"name"}, f.Sub)

	f = p.Project.Fields[3]
	assert.Equal(t, "country", f.Source)
	assert.Equal(t, "code", f.Column)
	p, err = compile(t, g, `select()&sort(name)`)
	require.NoError(t, err)
	assert.Equal(t, "_id, _revision", fieldNames(p.Project.Fields))
	assert.Equal(t, "name", fieldNames(p.Project.Hidden))
}

func TestCompile_Joins(t *testing.T) {
	g := testGraph(t)
	p, err := compile(t, g, `country.capital.name="Riga"&country.code="lv"`)
	require.NoError(t, err)
	require.NotNil(t, p.Join)
	require.Len(t, p.Join.Joins, 2)
	assert.Equal(t, "country", p.Join.Joins[0].Path)
	assert.Equal(t, "", p.Join.Joins[0].From)
	assert.Equal(t, "country.capital", p.Join.Joins[1].Path)
	assert.Equal(t, "country", p.Join.Joins[1].From)
	assert.Equal(t, "capital", p.Join.Joins[1].Column)
	assert.Equal(t, schema.ModelID("geo/city"), p.Join.Joins[1].Target.ID())
	assert.Equal(t, JoinLeft, p.Join.Joins[0].Strategy)

	q := query.MustParse(`country.code="lv"`)
	p, err = Compile(q, g, "geo/city", schema.BackendDocument, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, JoinMultiFetch, p.Join.Joins[0].Strategy)
}

func TestCompile_ArrayPredicatesDedup(t *testing.T) {
	g := testGraph(t)
	p, err := compile(t, g, `districts.name="Old Town"`)
	require.NoError(t, err)
	assert.True(t, p.Paginate.Dedup)
	c := p.Filter.Where.(*Cond)
	assert.Equal(t, "districts", c.Field.Column)
	assert.Equal(t, []string{"name"}, c.Field.Sub)
	require.NotNil(t, c.Field.Array)

	p, err = compile(t, g, `name="x"`)
	require.NoError(t, err)
	assert.False(t, p.Paginate.Dedup)
}

func TestCompile_SemanticErrors(t *testing.T) {
	g := testGraph(t)

	tests := []struct {
		name   string
		query  string
		field  string
		reason string
	}{
		{name: "unknown field", query: `nope=1`, field: "nope", reason: "unknown field"},
		{name: "unknown nested", query: `country.nope=1`, field: "country.nope", reason: "unknown field"},
		{name: "unknown select", query: `select(nope)`, field: "nope", reason: "unknown field"},
		{name: "unknown sort", query: `sort(nope)`, field: "nope", reason: "unknown field"},
		{name: "contains on integer", query: `population=contains("1")`, field: "population", reason: "operator contains does not apply to integer"},
		{name: "ordering on string", query: `name>"a"`, field: "name", reason: "operator gt does not apply to string"},
		{name: "startswith on sensitive", query: `mayor.email=startswith("a")`, field: "mayor.email", reason: "operator startswith does not apply to sensitive"},
		{name: "compare object", query: `mayor="x"`, field: "mayor", reason: "operator eq does not apply to object"},
		{name: "compare file", query: `photo="x"`, field: "photo", reason: "operator eq does not apply to file"},
		{name: "order geometry", query: `location<"x"`, field: "location", reason: "operator lt does not apply to geometry"},
		{name: "ordering on boolean", query: `capital>true`, field: "capital", reason: "operator gt does not apply to boolean"},
		{name: "literal type", query: `population="many"`, field: "population", reason: "cannot use many"},
		{name: "integer overflow", query: `population=9223372036854775808`, field: "population", reason: "cannot use"},
		{name: "integer out of range", query: `population>1e30`, field: "population", reason: "cannot use"},
		{name: "bad date", query: `founded>"yesterday"`, field: "founded", reason: "cannot use yesterday"},
		{name: "null ordering", query: `population>null`, field: "population", reason: "null can only be compared"},
		{name: "sort array", query: `sort(tags)`, field: "tags", reason: "cannot sort by array"},
		{name: "sort sensitive", query: `sort(mayor.email)`, field: "mayor.email", reason: "cannot sort by sensitive"},
		{name: "sort twice", query: `sort(name,-name)`, field: "name", reason: "sorted more than once"},
		{name: "select inside array", query: `select(districts.name)`, field: "districts.name", reason: "cannot select inside array"},
		{name: "cursor with offset", query: `cursor("x")&offset(1)`, field: "cursor", reason: "cannot be combined"},
		{name: "malformed cursor", query: `cursor("!!")`, field: "cursor", reason: "malformed token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, g, tt.query)
			var se *SemanticError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.field, se.Field)
			assert.Contains(t, se.Reason, tt.reason)
		})
	}
}

func TestCompile_Authorization(t *testing.T) {
	g := testGraph(t)
	scope := auth.NewScope([]string{"manifold_geo_city_getall"})

	compileScoped := func(text string) (*Plan, error) {
		return Compile(query.MustParse(text), g, "geo/city", schema.BackendRelational, scope, Options{})
	}

	p, err := compileScoped(`name="x"`)
	require.NoError(t, err)
	assert.NotContains(t, fieldNames(p.Project.Fields), "secret")

	_, err = compileScoped(`secret="x"`)
	var se *SemanticError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "not authorized", se.Reason)

	// The joined model needs its own grant.
	_, err = compileScoped(`sort(country.name)`)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "country.name", se.Field)
}

func TestCompile_SensitiveNeedsExplicitGrant(t *testing.T) {
	g := testGraph(t)
	modelOnly := auth.NewScope([]string{"manifold_geo_city_getall"})
	explicit := auth.NewScope([]string{"manifold_geo_city_getall", "manifold_geo_city_mayor_email_getall"})

	tests := []struct {
		name   string
		scope  *auth.Scope
		query  string
		reason string
	}{
		{name: "filter without grant", scope: modelOnly, query: `mayor.email="a@b.lt"`, reason: "not authorized"},
		{name: "null check without grant", scope: modelOnly, query: `mayor.email=null`, reason: "not authorized"},
		{name: "nested filter without grant", scope: modelOnly, query: `name="x"|(population>1&mayor.email!="a@b.lt")`, reason: "not authorized"},
		{name: "sort without grant", scope: modelOnly, query: `sort(mayor.email)`, reason: "not authorized"},
		{name: "filter with grant", scope: explicit, query: `mayor.email="a@b.lt"`},
		{name: "sort with grant", scope: explicit, query: `sort(mayor.email)`, reason: "cannot sort by sensitive"},
		{name: "select without grant", scope: modelOnly, query: `select(mayor.email)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(query.MustParse(tt.query), g, "geo/city", schema.BackendRelational, tt.scope, Options{})
			if tt.reason == "" {
				require.NoError(t, err)
				return
			}
			var se *SemanticError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "mayor.email", se.Field)
			assert.Equal(t, tt.reason, se.Reason)
		})
	}
}

func TestCompile_Limits(t *testing.T) {
	g := testGraph(t)
	q := query.MustParse(`limit(500)&offset(3)`)
	p, err := Compile(q, g, "geo/city", schema.BackendRelational, nil, Options{MaxLimit: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.Paginate.Limit)
	assert.Equal(t, int64(3), p.Paginate.Offset)

	p, err = Compile(&query.Query{}, g, "geo/city", schema.BackendRelational, nil, Options{MaxLimit: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.Paginate.Limit)

	p, err = Compile(nil, g, "geo/city", schema.BackendRelational, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Paginate.Limit)
}

func TestCursor_RoundTrip(t *testing.T) {
	g := testGraph(t)
	p, err := compile(t, g, `sort(-population,founded)&limit(2)`)
	require.NoError(t, err)

	tok, err := p.Cursor(Row{"population": int64(42), "founded": "2001-02-03", "_id": "abc"})
	require.NoError(t, err)

	next, err := compile(t, g, `sort(-population,founded)&limit(2)&cursor("`+tok+`")`)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(42), "2001-02-03", "abc"}, next.Paginate.After)

	_, err = compile(t, g, `sort(population)&cursor("`+tok+`")`)
	var se *SemanticError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "cursor", se.Field)
	assert.Contains(t, se.Reason, "different model or sort order")
}

func TestCompile_UnknownModel(t *testing.T) {
	g := testGraph(t)
	_, err := Compile(&query.Query{}, g, "nope", schema.BackendRelational, nil, Options{})
	var se *SemanticError
	assert.ErrorAs(t, err, &se)
}

func TestPlan_Explain(t *testing.T) {
	g := testGraph(t)
	text := `name=startswith("V")&tags="old"&country.name!="Latvia"&sort(-population)&select(name,country.code)&limit(10)`

	gd := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	p, err := compile(t, g, text)
	require.NoError(t, err)
	gd.Assert(t, "explain_relational", []byte(p.Explain()))

	q := query.MustParse(`!(population<1000|founded>="1900-01-01")&mayor.name=in("A","B")&offset(5)`)
	p, err = Compile(q, g, "geo/city", schema.BackendDocument, nil, Options{})
	require.NoError(t, err)
	gd.Assert(t, "explain_document", []byte(p.Explain()))
}

func TestRow_Paths(t *testing.T) {
	m := map[string]any{}
	SetPath(m, "country._id", "lt")
	SetPath(m, "country.name", "Lithuania")
	SetPath(m, "name", "Vilnius")

	v, ok := GetPath(m, "country.name")
	assert.True(t, ok)
	assert.Equal(t, "Lithuania", v)
	_, ok = GetPath(m, "name.x")
	assert.False(t, ok)
	assert.Equal(t, map[string]any{"_id": "lt", "name": "Lithuania"}, m["country"])
}
