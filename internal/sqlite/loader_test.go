// Unit tests for JSONL loading with forward compatibility.
package sqlite

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/pkg/types"
)

func newSchemaDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), DatabaseFile))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, createSchema(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func writeDataFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadJSONLUnknownFields(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		jsonl    string
		countSQL string
		wantRows int
		checkSQL string
		checkVal string
	}{
		{
			name:     "objects with unknown fields load successfully",
			file:     objectsJSONL,
			jsonl:    `{"object_id":"o-1","entity":"Article","attributes":{"title":"Hello"},"created_at":"2025-01-15T10:30:00Z","updated_at":"2025-01-15T10:30:00Z","future_field":"unknown","revision":42}` + "\n",
			countSQL: "SELECT COUNT(*) FROM objects",
			wantRows: 1,
			checkSQL: "SELECT json_extract(attributes, '$.title') FROM objects WHERE object_id = 'o-1'",
			checkVal: "Hello",
		},
		{
			name:     "relationships with unknown fields load successfully",
			file:     relationshipsJSONL,
			jsonl:    `{"object_id":"o-1","name":"tags","target_id":"t-1","ordinal":0,"weight":0.5}` + "\n",
			countSQL: "SELECT COUNT(*) FROM relationships",
			wantRows: 1,
			checkSQL: "SELECT target_id FROM relationships WHERE object_id = 'o-1'",
			checkVal: "t-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, initJSONLFiles(dir))
			writeDataFile(t, dir, tt.file, tt.jsonl)

			db := newSchemaDB(t)
			require.NoError(t, loadAllJSONL(db, dir))

			var n int
			require.NoError(t, db.Get(&n, tt.countSQL))
			assert.Equal(t, tt.wantRows, n)

			var val string
			require.NoError(t, db.Get(&val, tt.checkSQL))
			assert.Equal(t, tt.checkVal, val)
		})
	}
}

func TestLoadJSONLMalformedAndMissingFieldsSkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, initJSONLFiles(dir))
	writeDataFile(t, dir, objectsJSONL,
		`{"object_id":"o-1","entity":"Article","attributes":{},"created_at":"2025-01-15T10:30:00Z","updated_at":"2025-01-15T10:30:00Z"}`+"\n"+
			`{broken`+"\n"+
			`{"object_id":"o-2","entity":"Article"}`+"\n"+
			`{"object_id":"o-3","entity":"Tag","attributes":{"label":"go"},"created_at":"2025-01-15T10:30:00Z","updated_at":"2025-01-15T10:30:00Z","extra":[1,2]}`+"\n")

	db := newSchemaDB(t)
	require.NoError(t, loadAllJSONL(db, dir))

	var ids []string
	require.NoError(t, db.Select(&ids, "SELECT object_id FROM objects ORDER BY object_id"))
	assert.Equal(t, []string{"o-1", "o-3"}, ids, "rows missing NOT NULL columns are skipped")
}

func TestLoadJSONLEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, initJSONLFiles(dir))

	db := newSchemaDB(t)
	require.NoError(t, loadAllJSONL(db, dir))

	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM objects"))
	assert.Zero(t, n)
}

func TestLoadJSONLMissingFile(t *testing.T) {
	db := newSchemaDB(t)
	err := loadAllJSONL(db, t.TempDir())
	assert.Error(t, err)
}

func TestInsertRecordsNestedAttributes(t *testing.T) {
	db := newSchemaDB(t)
	tx, err := db.Beginx()
	require.NoError(t, err)

	records := []json.RawMessage{
		json.RawMessage(`{"object_id":"o-1","entity":"Article","attributes":{"meta":{"a":[1,2]},"n":12345678901},"created_at":"2025-01-15T10:30:00Z","updated_at":"2025-01-15T10:30:00Z"}`),
	}
	require.NoError(t, insertRecords(tx, "objects", jsonlTableMapping[0].columns, records))
	require.NoError(t, tx.Commit())

	var attrs string
	require.NoError(t, db.Get(&attrs, "SELECT attributes FROM objects WHERE object_id = 'o-1'"))
	assert.JSONEq(t, `{"meta":{"a":[1,2]},"n":12345678901}`, attrs)
}

func TestBackendAttachWithUnknownFieldsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, initJSONLFiles(dir))
	writeDataFile(t, dir, objectsJSONL,
		`{"object_id":"o-1","entity":"Article","attributes":{"title":"Old"},"created_at":"2025-01-15T10:30:00Z","updated_at":"2025-01-15T10:30:00Z","shard":7}`+"\n")
	writeDataFile(t, dir, relationshipsJSONL,
		`{"object_id":"o-1","name":"tags","target_id":"t-1","ordinal":0,"weight":1}`+"\n")

	b := attachedBackend(t, dir)
	ctx := context.Background()

	got, err := b.Get(ctx, "Article", "o-1")
	require.NoError(t, err)
	assert.Equal(t, "Old", got.Attributes["title"])
	assert.Equal(t, []string{"t-1"}, got.Relationships["tags"])

	got.Attributes["title"] = "New"
	require.NoError(t, b.Commit(ctx, types.ChangeSet{Updated: []*types.Record{got}}))

	lines := readLines(t, filepath.Join(dir, objectsJSONL))
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "shard", "unknown fields are dropped on rewrite")
	assert.Contains(t, lines[0], `"New"`)
}
