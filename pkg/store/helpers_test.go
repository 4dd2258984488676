package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/pkg/types"
)

const testModelYAML = `
entities:
  - name: Author
    attributes:
      - {name: authorID, type: integer}
      - {name: name, type: string}
  - name: Article
    attributes:
      - {name: articleID, type: integer}
      - {name: title, type: string}
      - {name: rating, type: float, optional: true}
      - {name: publishedAt, type: date, optional: true}
      - {name: draft, type: bool, optional: true}
      - {name: position, type: integer, optional: true}
    relationships:
      - {name: author, destination: Author}
      - {name: tags, destination: Tag, to_many: true, ordered: true}
  - name: Tag
    attributes:
      - {name: label, type: string}
      - {name: position, type: integer, optional: true}
`

func testModel(t *testing.T) *types.Model {
	t.Helper()
	m, err := types.LoadModel(strings.NewReader(testModelYAML))
	require.NoError(t, err)
	return m
}

func openStack(t *testing.T, opts ...Option) *Stack {
	t.Helper()
	s, err := Open(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}, testModel(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertArticle(t *testing.T, c *Context, articleID int64, title string) *Object {
	t.Helper()
	o, err := c.Insert("Article")
	require.NoError(t, err)
	require.NoError(t, o.Set("articleID", articleID))
	require.NoError(t, o.Set("title", title))
	return o
}

var errCommitRefused = errors.New("commit refused")

// failingStore is an empty store whose commits fail.
type failingStore struct {
	commits int
}

func (f *failingStore) Attach(types.Config) error { return nil }
func (f *failingStore) Detach() error             { return nil }

func (f *failingStore) Get(context.Context, string, string) (*types.Record, error) {
	return nil, types.ErrNotFound
}

func (f *failingStore) Fetch(context.Context, types.FetchRequest) ([]*types.Record, error) {
	return nil, nil
}

func (f *failingStore) Count(context.Context, types.FetchRequest) (int, error) {
	return 0, nil
}

func (f *failingStore) Commit(context.Context, types.ChangeSet) error {
	f.commits++
	return errCommitRefused
}
