// This file provides JSONL read/write helpers with atomic persistence.
package sqlite

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
)

// readJSONL reads a JSONL file and returns each non-empty, parseable line as
// a json.RawMessage. Malformed lines are skipped.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// initJSONLFiles creates empty JSONL files that do not exist yet.
func initJSONLFiles(dataDir string) error {
	for _, name := range []string{objectsJSONL, relationshipsJSONL} {
		path := filepath.Join(dataDir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", name, err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}
	}
	return nil
}

// persistAllJSONL rewrites both JSONL files from the current SQLite state.
func persistAllJSONL(ctx context.Context, db *sqlx.DB, dataDir string) error {
	var objects []objectRow
	if err := db.SelectContext(ctx, &objects,
		"SELECT object_id, entity, attributes, created_at, updated_at FROM objects ORDER BY created_at, object_id"); err != nil {
		return fmt.Errorf("selecting objects: %w", err)
	}
	records := make([]json.RawMessage, 0, len(objects))
	for _, o := range objects {
		line, err := json.Marshal(objectJSON{
			ObjectID:   o.ObjectID,
			Entity:     o.Entity,
			Attributes: json.RawMessage(o.Attributes),
			CreatedAt:  o.CreatedAt,
			UpdatedAt:  o.UpdatedAt,
		})
		if err != nil {
			return fmt.Errorf("marshaling object %s: %w", o.ObjectID, err)
		}
		records = append(records, line)
	}
	if err := writeJSONL(filepath.Join(dataDir, objectsJSONL), records); err != nil {
		return fmt.Errorf("persisting %s: %w", objectsJSONL, err)
	}

	var rels []relationshipRow
	if err := db.SelectContext(ctx, &rels,
		"SELECT object_id, name, target_id, ordinal FROM relationships ORDER BY object_id, name, ordinal"); err != nil {
		return fmt.Errorf("selecting relationships: %w", err)
	}
	records = make([]json.RawMessage, 0, len(rels))
	for _, r := range rels {
		line, err := json.Marshal(relationshipJSON(r))
		if err != nil {
			return fmt.Errorf("marshaling relationship: %w", err)
		}
		records = append(records, line)
	}
	if err := writeJSONL(filepath.Join(dataDir, relationshipsJSONL), records); err != nil {
		return fmt.Errorf("persisting %s: %w", relationshipsJSONL, err)
	}
	return nil
}
