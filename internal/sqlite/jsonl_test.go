// Tests for JSONL persistence in the SQLite backend.
package sqlite

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/pkg/types"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	trimmed := strings.TrimSpace(string(content))
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func TestJSONLFilesCreatedOnAttach(t *testing.T) {
	tmpDir := t.TempDir()
	attachedBackend(t, tmpDir)

	for _, name := range []string{objectsJSONL, relationshipsJSONL} {
		info, err := os.Stat(filepath.Join(tmpDir, name))
		if err != nil {
			t.Errorf("expected %s to be created: %v", name, err)
			continue
		}
		assert.Zero(t, info.Size(), "%s starts empty", name)
	}
}

func TestCommitPersistedToJSONL(t *testing.T) {
	tmpDir := t.TempDir()
	b := attachedBackend(t, tmpDir)

	a := article("a-1", 1, "Persisted", time.Now())
	a.Relationships["tags"] = []string{"t-1", "t-2"}
	require.NoError(t, b.Commit(context.Background(), types.ChangeSet{Inserted: []*types.Record{a}}))

	lines := readLines(t, filepath.Join(tmpDir, objectsJSONL))
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "\n  ", "JSONL must not be pretty printed")

	var obj objectJSON
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &obj))
	assert.Equal(t, "a-1", obj.ObjectID)
	assert.Equal(t, "Article", obj.Entity)
	assert.JSONEq(t, `{"articleID":1,"title":"Persisted"}`, string(obj.Attributes))

	rels := readLines(t, filepath.Join(tmpDir, relationshipsJSONL))
	require.Len(t, rels, 2)
	var first relationshipJSON
	require.NoError(t, json.Unmarshal([]byte(rels[0]), &first))
	assert.Equal(t, relationshipJSON{ObjectID: "a-1", Name: "tags", TargetID: "t-1", Ordinal: 0}, first)
}

func TestDeletePersistedToJSONL(t *testing.T) {
	tmpDir := t.TempDir()
	b := attachedBackend(t, tmpDir)
	ctx := context.Background()

	a := article("a-1", 1, "Gone", time.Now())
	a.Relationships["tags"] = []string{"t-1"}
	require.NoError(t, b.Commit(ctx, types.ChangeSet{Inserted: []*types.Record{a}}))
	require.NoError(t, b.Commit(ctx, types.ChangeSet{Deleted: []*types.Record{a}}))

	assert.Empty(t, readLines(t, filepath.Join(tmpDir, objectsJSONL)))
	assert.Empty(t, readLines(t, filepath.Join(tmpDir, relationshipsJSONL)))
}

func TestJSONLPersistenceAcrossRestarts(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()
	config := types.Config{Backend: types.BackendSQLite, DataDir: tmpDir}

	b := NewBackend()
	require.NoError(t, b.Attach(config))
	a := article("a-1", 42, "Survivor", time.Now())
	a.Attributes["meta"] = map[string]any{"lang": "en"}
	a.Relationships["tags"] = []string{"t-9", "t-3"}
	require.NoError(t, b.Commit(ctx, types.ChangeSet{Inserted: []*types.Record{a}}))
	require.NoError(t, b.Detach())

	b2 := NewBackend()
	require.NoError(t, b2.Attach(config))
	defer b2.Detach()

	got, err := b2.Get(ctx, "Article", "a-1")
	require.NoError(t, err)
	assert.Equal(t, json.Number("42"), got.Attributes["articleID"])
	assert.Equal(t, "Survivor", got.Attributes["title"])
	assert.Equal(t, map[string]any{"lang": "en"}, got.Attributes["meta"])
	assert.Equal(t, []string{"t-9", "t-3"}, got.Relationships["tags"])

	n, err := b2.Count(ctx, types.FetchRequest{Entity: "Article"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSyncStrategyOnClose(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	b := NewBackend()
	require.NoError(t, b.Attach(types.Config{
		Backend:      types.BackendSQLite,
		DataDir:      tmpDir,
		SQLiteConfig: types.SQLiteConfig{SyncStrategy: types.SyncOnClose},
	}))

	require.NoError(t, b.Commit(ctx, types.ChangeSet{Inserted: []*types.Record{article("a-1", 1, "x", time.Now())}}))
	require.NoError(t, b.Commit(ctx, types.ChangeSet{Inserted: []*types.Record{article("a-2", 2, "y", time.Now())}}))

	assert.Equal(t, 2, b.pendingWriteCount())
	assert.Empty(t, readLines(t, filepath.Join(tmpDir, objectsJSONL)), "nothing written before detach")

	require.NoError(t, b.Detach())
	assert.Len(t, readLines(t, filepath.Join(tmpDir, objectsJSONL)), 2)
}

func TestSyncStrategyBatchSize(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	b := NewBackend()
	require.NoError(t, b.Attach(types.Config{
		Backend: types.BackendSQLite,
		DataDir: tmpDir,
		SQLiteConfig: types.SQLiteConfig{
			SyncStrategy:  types.SyncBatch,
			BatchSize:     2,
			BatchInterval: 3600,
		},
	}))
	defer b.Detach()

	require.NoError(t, b.Commit(ctx, types.ChangeSet{Inserted: []*types.Record{article("a-1", 1, "x", time.Now())}}))
	assert.Equal(t, 1, b.pendingWriteCount())
	assert.Empty(t, readLines(t, filepath.Join(tmpDir, objectsJSONL)))

	require.NoError(t, b.Commit(ctx, types.ChangeSet{Inserted: []*types.Record{article("a-2", 2, "y", time.Now())}}))
	assert.Zero(t, b.pendingWriteCount(), "batch flushed at size")
	assert.Len(t, readLines(t, filepath.Join(tmpDir, objectsJSONL)), 2)
}

func TestReadJSONLSkipsEmptyAndMalformedLines(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.jsonl")
	content := "{\"key\":\"value1\"}\n\n{not json\n{\"key\":\"value2\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records, err := readJSONL(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.JSONEq(t, `{"key":"value2"}`, string(records[1]))
}

func TestReadJSONLMissingFile(t *testing.T) {
	_, err := readJSONL(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestWriteJSONLAtomic(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"old\":true}\n"), 0o644))

	records := []json.RawMessage{
		json.RawMessage(`{"key":"value1"}`),
		json.RawMessage(`{"key":"value2"}`),
	}
	require.NoError(t, writeJSONL(path, records))

	assert.Equal(t, []string{`{"key":"value1"}`, `{"key":"value2"}`}, readLines(t, path))

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file renamed away")
}
