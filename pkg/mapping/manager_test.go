package mapping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/pkg/store"
	"github.com/mesh-intelligence/larder/pkg/types"
)

const articlesJSON = `[
  {
    "id": 1,
    "title": "First",
    "published_at": "2024-01-02",
    "score": 45,
    "details": {"lang": "en"},
    "author": {"id": 10, "name": "Ada"},
    "tags": ["go", "db"]
  },
  {
    "id": 2,
    "title": "Second",
    "author": 10,
    "tags": [{"label": "db"}],
    "ignored": true
  }
]`

func titlesOf(objs []*store.Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i], _ = o.Value("title").(string)
	}
	return out
}

func TestManagerUpsertJSON(t *testing.T) {
	s := openStack(t)
	ctx := context.Background()
	c := s.MainContext()

	m, err := NewManager(c, "Article", testRegistry(t))
	require.NoError(t, err)

	articles, err := m.UpsertJSON(ctx, []byte(articlesJSON))
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, []string{"First", "Second"}, titlesOf(articles))

	first, second := articles[0], articles[1]
	assert.Equal(t, int64(1), first.Value("articleID"))
	assert.Equal(t, int64(0), first.Value("position"))
	assert.Equal(t, int64(1), second.Value("position"))
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), first.Value("publishedAt"))
	assert.Equal(t, 4.5, first.Value("rating"))
	assert.NotNil(t, first.Value("meta"))
	assert.Nil(t, second.Value("rating"), "missing keys are skipped")

	require.Len(t, first.RelatedIDs("author"), 1)
	assert.Equal(t, first.RelatedIDs("author"), second.RelatedIDs("author"), "author found by identifier")

	authors, err := first.Related(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, "ADA", authors[0].Value("name"))
	assert.Equal(t, int64(10), authors[0].Value("authorID"))

	tags, err := first.Related(ctx, "tags")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "go", tags[0].Value("label"))
	assert.Equal(t, "db", tags[1].Value("label"))

	secondTags, err := second.Related(ctx, "tags")
	require.NoError(t, err)
	require.Len(t, secondTags, 1)
	assert.Same(t, tags[1], secondTags[0], "unsaved tag reused within the context")

	require.NoError(t, c.Save(ctx))

	counts := map[string]int{}
	for _, entity := range []string{"Article", "Author", "Tag"} {
		n, err := c.Count(ctx, types.FetchRequest{Entity: entity})
		require.NoError(t, err)
		counts[entity] = n
	}
	assert.Equal(t, map[string]int{"Article": 2, "Author": 1, "Tag": 2}, counts)
}

func TestManagerUpdatesExisting(t *testing.T) {
	s := openStack(t)
	ctx := context.Background()
	c := s.MainContext()
	registry := testRegistry(t)

	m, err := NewManager(c, "Article", registry)
	require.NoError(t, err)
	orig, err := m.UpsertOne(ctx, map[string]any{"id": 1, "title": "Draft", "published_at": "2024-01-02"})
	require.NoError(t, err)
	require.NoError(t, c.Save(ctx))

	again, err := m.UpsertOne(ctx, map[string]any{"id": "1", "title": "Final", "published_at": nil})
	require.NoError(t, err)
	assert.Same(t, orig, again)
	assert.Equal(t, "Final", again.Value("title"))
	assert.Nil(t, again.Value("publishedAt"), "null clears the attribute")

	keep, err := NewManager(c, "Article", registry, WithUpdateExisting(false))
	require.NoError(t, err)
	same, err := keep.UpsertOne(ctx, map[string]any{"id": 1, "title": "Ignored"})
	require.NoError(t, err)
	assert.Same(t, orig, same)
	assert.Equal(t, "Final", same.Value("title"))
}

func TestManagerKeepsOrderOfMatchedObjects(t *testing.T) {
	tests := []struct {
		name  string
		input []any
	}{
		{name: "objects", input: []any{map[string]any{"id": 2}, map[string]any{"id": 1}}},
		{name: "references", input: []any{2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openStack(t)
			ctx := context.Background()
			c := s.MainContext()
			registry := testRegistry(t)

			m, err := NewManager(c, "Article", registry)
			require.NoError(t, err)
			saved, err := m.Upsert(ctx, []any{
				map[string]any{"id": 1, "title": "One"},
				map[string]any{"id": 2, "title": "Two"},
			})
			require.NoError(t, err)
			require.NoError(t, c.Save(ctx))

			keep, err := NewManager(c, "Article", registry, WithUpdateExisting(false))
			require.NoError(t, err)
			matched, err := keep.Upsert(ctx, tt.input)
			require.NoError(t, err)
			require.Len(t, matched, 2)
			assert.Same(t, saved[1], matched[0])
			assert.Same(t, saved[0], matched[1])

			assert.Equal(t, int64(0), saved[0].Value("position"))
			assert.Equal(t, int64(1), saved[1].Value("position"))
			assert.False(t, c.HasChanges(), "matched objects are left untouched")
		})
	}
}

func TestManagerClearsRelationshipOnNull(t *testing.T) {
	s := openStack(t)
	ctx := context.Background()
	c := s.MainContext()

	m, err := NewManager(c, "Article", testRegistry(t))
	require.NoError(t, err)
	a, err := m.UpsertOne(ctx, map[string]any{"id": 1, "author": map[string]any{"id": 3}, "tags": []any{"x"}})
	require.NoError(t, err)
	require.Len(t, a.RelatedIDs("author"), 1)

	_, err = m.UpsertOne(ctx, map[string]any{"id": 1, "author": nil, "tags": []any{}})
	require.NoError(t, err)
	assert.Empty(t, a.RelatedIDs("author"))
	assert.Empty(t, a.RelatedIDs("tags"))
}

func TestManagerWithoutIdentifierInserts(t *testing.T) {
	s := openStack(t)
	ctx := context.Background()
	c := s.MainContext()

	r := NewRegistry()
	require.NoError(t, r.Register(EntityMapping{Entity: "Tag", Rules: []Rule{{Attribute: "label"}}}))
	m, err := NewManager(c, "Tag", r)
	require.NoError(t, err)

	objs, err := m.Upsert(ctx, []any{
		map[string]any{"label": "go"},
		map[string]any{"label": "go"},
	})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.NotEqual(t, objs[0].ID(), objs[1].ID())
	assert.Nil(t, objs[0].Value("position"), "no order key configured")

	_, err = m.Upsert(ctx, []any{"go"})
	assert.ErrorIs(t, err, ErrInvalidRule, "scalar references need an identifier")
}

func TestManagerMissingIdentifierInserts(t *testing.T) {
	s := openStack(t)
	ctx := context.Background()
	c := s.MainContext()

	m, err := NewManager(c, "Article", testRegistry(t))
	require.NoError(t, err)
	a, err := m.UpsertOne(ctx, map[string]any{"title": "Anonymous"})
	require.NoError(t, err)
	b, err := m.UpsertOne(ctx, map[string]any{"id": nil, "title": "Anonymous"})
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Nil(t, a.Value("articleID"))
}

func TestManagerMalformedInput(t *testing.T) {
	s := openStack(t)
	ctx := context.Background()
	c := s.MainContext()
	registry := testRegistry(t)

	m, err := NewManager(c, "Article", registry)
	require.NoError(t, err)

	tests := []struct {
		name    string
		run     func() error
		wantErr error
	}{
		{
			name:    "scalar document",
			run:     func() error { _, err := m.Upsert(ctx, "article"); return err },
			wantErr: ErrMalformedJSON,
		},
		{
			name:    "array for UpsertOne",
			run:     func() error { _, err := m.UpsertOne(ctx, []any{}); return err },
			wantErr: ErrMalformedJSON,
		},
		{
			name:    "invalid JSON",
			run:     func() error { _, err := m.UpsertJSON(ctx, []byte(`{"id": `)); return err },
			wantErr: ErrMalformedJSON,
		},
		{
			name:    "identifier of wrong type",
			run:     func() error { _, err := m.UpsertOne(ctx, map[string]any{"id": "one"}); return err },
			wantErr: types.ErrTypeMismatch,
		},
		{
			name:    "bad date",
			run:     func() error { _, err := m.UpsertOne(ctx, map[string]any{"published_at": "02/01/2024"}); return err },
			wantErr: ErrMalformedJSON,
		},
		{
			name:    "array for to-one relationship",
			run:     func() error { _, err := m.UpsertOne(ctx, map[string]any{"author": []any{}}); return err },
			wantErr: types.ErrCardinality,
		},
		{
			name:    "nested array element",
			run:     func() error { _, err := m.Upsert(ctx, []any{map[string]any{"id": 5}, []any{"x"}}); return err },
			wantErr: ErrMalformedJSON,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.wantErr)
		})
	}

	_, err = NewManager(c, "Comment", registry)
	assert.ErrorIs(t, err, types.ErrEntityNotFound)

	_, err = NewManager(c, "Tag", NewRegistry())
	assert.ErrorIs(t, err, ErrNoMapping)
}

func TestMapperApply(t *testing.T) {
	s := openStack(t)
	ctx := context.Background()
	c := s.MainContext()
	mapper := NewMapper(testRegistry(t))

	a, err := c.Insert("Article")
	require.NoError(t, err)
	require.NoError(t, mapper.Apply(ctx, c, a, map[string]any{"title": "Mapped", "score": 80}))
	assert.Equal(t, "Mapped", a.Value("title"))
	assert.Equal(t, 8.0, a.Value("rating"))

	assert.ErrorIs(t, mapper.Apply(ctx, c, a, []any{}), ErrMalformedJSON)

	other := NewMapper(NewRegistry())
	assert.ErrorIs(t, other.Apply(ctx, c, a, map[string]any{}), ErrNoMapping)
}

func TestManagerInChildContext(t *testing.T) {
	s := openStack(t)
	ctx := context.Background()
	main := s.MainContext()
	child := s.NewChildContext(main)

	m, err := NewManager(child, "Article", testRegistry(t))
	require.NoError(t, err)
	_, err = m.UpsertJSON(ctx, []byte(articlesJSON))
	require.NoError(t, err)

	n, err := main.Count(ctx, types.FetchRequest{Entity: "Article"})
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, child.Save(ctx))

	bg := s.NewBackgroundContext()
	stored, err := bg.Fetch(ctx, types.FetchRequest{Entity: "Article", SortBy: "position"})
	require.NoError(t, err)
	assert.Equal(t, []string{"First", "Second"}, titlesOf(stored))
}
