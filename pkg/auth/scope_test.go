package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/manifold/pkg/schema"
)

func testModel(t *testing.T) *schema.Model {
	t.Helper()
	b := schema.NewBuilder()
	require.NoError(t, b.AddModel(schema.ModelSpec{
		ID: "geo/city",
		Properties: []schema.PropertySpec{
			{Name: "name", Type: "string"},
			{Name: "secret", Type: "string", Hidden: true},
		},
	}))
	g, err := b.Freeze()
	require.NoError(t, err)
	m, _ := g.Model("geo/city")
	return m
}

func TestScope_AllowModel(t *testing.T) {
	m := testModel(t)

	tests := []struct {
		name  string
		caps  []string
		opts  []Option
		allow bool
	}{
		{name: "global", caps: []string{"manifold_getall"}, allow: true},
		{name: "namespace", caps: []string{"manifold_geo_getall"}, allow: true},
		{name: "model", caps: []string{"manifold_geo_city_getall"}, allow: true},
		{name: "other action", caps: []string{"manifold_geo_city_insert"}, allow: false},
		{name: "other prefix", caps: []string{"x_getall"}, allow: false},
		{name: "custom prefix", caps: []string{"x_getall"}, opts: []Option{WithPrefix("x_")}, allow: true},
		{name: "deny overrides", caps: []string{"manifold_getall"}, opts: []Option{WithDecision(DecisionDeny)}, allow: false},
		{name: "none", allow: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScope(tt.caps, tt.opts...)
			assert.Equal(t, tt.allow, s.AllowModel(m, ActionGetAll))
		})
	}
}

func TestScope_AllowProperty(t *testing.T) {
	m := testModel(t)
	name, _ := m.Property("name")
	secret, _ := m.Property("secret")

	s := NewScope([]string{"manifold_geo_city_getall"})
	assert.True(t, s.AllowProperty(m, name, ActionGetAll))
	assert.False(t, s.AllowProperty(m, secret, ActionGetAll))
	assert.False(t, s.Explicit(m, name, ActionGetAll))

	s = NewScope([]string{"manifold_geo_city_secret_getall"})
	assert.True(t, s.AllowProperty(m, secret, ActionGetAll))
	assert.True(t, s.Explicit(m, secret, ActionGetAll))
	assert.False(t, s.AllowProperty(m, name, ActionGetAll))
}

func TestScope_CheckModel(t *testing.T) {
	m := testModel(t)
	err := NewScope(nil).CheckModel(m, ActionInsert)
	var fe *ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"manifold_insert", "manifold_geo_insert", "manifold_geo_city_insert"}, fe.Missing)

	assert.NoError(t, Unrestricted().CheckModel(m, ActionInsert))
}
