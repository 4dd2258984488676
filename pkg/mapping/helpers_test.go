package mapping

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/pkg/store"
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
      - {name: meta, type: json, optional: true}
      - {name: position, type: integer, optional: true}
    relationships:
      - {name: author, destination: Author}
      - {name: tags, destination: Tag, to_many: true, ordered: true}
  - name: Tag
    attributes:
      - {name: label, type: string}
      - {name: position, type: integer, optional: true}
`

const testMappingsYAML = `
mappings:
  - entity: Article
    identifier: {attribute: articleID, key: id}
    order_key: position
    rules:
      - {attribute: title}
      - {attribute: publishedAt, layout: "2006-01-02"}
      - {attribute: rating, key: score, transform: "value / 10"}
      - {attribute: meta, key: details}
      - {attribute: author}
      - {attribute: tags}
  - entity: Author
    identifier: {attribute: authorID, key: id}
    rules:
      - {attribute: name, transform: "upper(value)"}
  - entity: Tag
    identifier: {attribute: label}
    order_key: position
    rules:
      - {attribute: label}
`

func testModel(t *testing.T) *types.Model {
	t.Helper()
	m, err := types.LoadModel(strings.NewReader(testModelYAML))
	require.NoError(t, err)
	return m
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.LoadYAML(strings.NewReader(testMappingsYAML)))
	return r
}

func openStack(t *testing.T) *store.Stack {
	t.Helper()
	s, err := store.Open(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}, testModel(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
