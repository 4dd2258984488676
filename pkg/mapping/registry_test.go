package mapping

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/pkg/types"
)

func TestKeyStyle(t *testing.T) {
	tests := []struct {
		style KeyStyle
		in    string
		want  string
	}{
		{KeyStyleSnake, "articleID", "article_id"},
		{KeyStyleSnake, "publishedAt", "published_at"},
		{KeyStyleCamel, "published_at", "publishedAt"},
		{KeyStyleKebab, "publishedAt", "published-at"},
		{KeyStyleExact, "publishedAt", "publishedAt"},
		{KeyStyle("unknown"), "publishedAt", "published_at"},
	}
	for _, tt := range tests {
		t.Run(string(tt.style)+"/"+tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.style.Key(tt.in))
		})
	}
}

func TestParseKeyStyle(t *testing.T) {
	s, err := ParseKeyStyle(" Camel ")
	require.NoError(t, err)
	assert.Equal(t, KeyStyleCamel, s)

	s, err = ParseKeyStyle("")
	require.NoError(t, err)
	assert.Equal(t, KeyStyleSnake, s)

	_, err = ParseKeyStyle("pascal")
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(EntityMapping{
		Entity:     "Article",
		Identifier: &Rule{Attribute: "articleID", Key: "id"},
		Rules: []Rule{
			{Attribute: "title"},
			{Attribute: "publishedAt", Kind: KindDate, Layout: "2006-01-02"},
			{Attribute: "rating", Key: "score", Transform: "value / 10"},
		},
	}))

	m, ok := r.Lookup("Article")
	require.True(t, ok)
	assert.Equal(t, "id", m.Identifier.Key)
	assert.Equal(t, "title", m.Rules[0].Key)
	assert.Equal(t, "published_at", m.Rules[1].Key, "derived with the key style")
	assert.NotNil(t, m.Rules[2].program, "transform compiled")

	_, ok = r.Lookup("Tag")
	assert.False(t, ok)
	assert.Equal(t, []string{"Article"}, r.Entities())

	err := r.Register(EntityMapping{Entity: "Article"})
	assert.ErrorIs(t, err, ErrDuplicateMapping)
}

func TestRegistryRegisterInvalid(t *testing.T) {
	tests := []struct {
		name    string
		mapping EntityMapping
	}{
		{name: "no entity", mapping: EntityMapping{}},
		{name: "rule without attribute", mapping: EntityMapping{Entity: "A", Rules: []Rule{{Key: "x"}}}},
		{name: "unknown kind", mapping: EntityMapping{Entity: "A", Rules: []Rule{{Attribute: "x", Kind: "blob"}}}},
		{name: "duplicate attribute", mapping: EntityMapping{Entity: "A", Rules: []Rule{{Attribute: "x"}, {Attribute: "x", Key: "y"}}}},
		{name: "bad transform", mapping: EntityMapping{Entity: "A", Rules: []Rule{{Attribute: "x", Transform: "value +"}}}},
		{name: "relationship identifier", mapping: EntityMapping{Entity: "A", Identifier: &Rule{Attribute: "x", Kind: KindRelationship}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.mapping)
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestMustRegisterPanics(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(EntityMapping{Entity: "Tag"})
	assert.Panics(t, func() { r.MustRegister(EntityMapping{Entity: "Tag"}) })
}

func TestRegistryCamelKeys(t *testing.T) {
	r := NewRegistry(WithKeyStyle(KeyStyleCamel))
	require.NoError(t, r.Register(EntityMapping{Entity: "Article", Rules: []Rule{{Attribute: "published_at"}}}))
	m, _ := r.Lookup("Article")
	assert.Equal(t, "publishedAt", m.Rules[0].Key)
	assert.Equal(t, KeyStyleCamel, r.KeyStyle())
}

func TestRegistryValidate(t *testing.T) {
	model := testModel(t)

	tests := []struct {
		name    string
		mapping EntityMapping
		wantErr error
	}{
		{
			name:    "valid",
			mapping: EntityMapping{Entity: "Article", Identifier: &Rule{Attribute: "articleID"}, OrderKey: "position", Rules: []Rule{{Attribute: "title"}, {Attribute: "tags"}}},
		},
		{
			name:    "unknown entity",
			mapping: EntityMapping{Entity: "Comment"},
			wantErr: types.ErrEntityNotFound,
		},
		{
			name:    "unknown attribute",
			mapping: EntityMapping{Entity: "Article", Rules: []Rule{{Attribute: "subtitle"}}},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "scalar kind on relationship",
			mapping: EntityMapping{Entity: "Article", Rules: []Rule{{Attribute: "author", Kind: KindString}}},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "relationship kind on attribute",
			mapping: EntityMapping{Entity: "Article", Rules: []Rule{{Attribute: "title", Kind: KindRelationship}}},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "identifier is a relationship",
			mapping: EntityMapping{Entity: "Article", Identifier: &Rule{Attribute: "author"}},
			wantErr: ErrInvalidRule,
		},
		{
			name:    "order key not an integer",
			mapping: EntityMapping{Entity: "Article", OrderKey: "title"},
			wantErr: ErrInvalidRule,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			require.NoError(t, r.Register(tt.mapping))
			err := r.Validate(model)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegistryLoadYAML(t *testing.T) {
	r := NewRegistry()
	err := r.LoadYAML(strings.NewReader(testMappingsYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"Article", "Author", "Tag"}, r.Entities())
	require.NoError(t, r.Validate(testModel(t)))

	m, _ := r.Lookup("Article")
	assert.Equal(t, "position", m.OrderKey)
	assert.Equal(t, "2006-01-02", m.Rules[1].Layout)

	err = NewRegistry().LoadYAML(strings.NewReader("mappings:\n  - entity: Tag\n    colour: red\n"))
	assert.Error(t, err, "unknown fields are rejected")

	assert.NoError(t, NewRegistry().LoadYAML(strings.NewReader("")))
}

func TestDefaultRegistry(t *testing.T) {
	name := "DefaultRegistryProbe"
	require.NoError(t, Register(EntityMapping{Entity: name}))
	_, ok := Default().Lookup(name)
	assert.True(t, ok)
	assert.Panics(t, func() { MustRegister(EntityMapping{Entity: name}) })
}
