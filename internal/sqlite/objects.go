// This file implements record reads and change-set commits for the SQLite
// backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// timeLayout is fixed width so that created_at sorts lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectObjects = "SELECT object_id, entity, attributes, created_at, updated_at FROM objects"

// Get retrieves a record by ID. An empty entity matches any entity.
// Returns ErrInvalidID if id is empty, ErrNotFound if not found.
func (b *Backend) Get(ctx context.Context, entity, id string) (*types.Record, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStoreDetached
	}

	query := selectObjects + " WHERE object_id = ?"
	args := []any{id}
	if entity != "" {
		query += " AND entity = ?"
		args = append(args, entity)
	}

	var row objectRow
	if err := b.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("getting object %s: %w", id, err)
	}

	records, err := b.hydrate(ctx, []objectRow{row})
	if err != nil {
		return nil, err
	}
	return records[0], nil
}

// Fetch returns the records matching req, sorted and paged.
func (b *Backend) Fetch(ctx context.Context, req types.FetchRequest) ([]*types.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStoreDetached
	}

	where, args := buildWhere(req)
	query := selectObjects + where + buildOrder(req, &args)
	if req.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, req.Limit)
	} else if req.Offset > 0 {
		query += " LIMIT -1"
	}
	if req.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, req.Offset)
	}

	var rows []objectRow
	if err := b.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", req.Entity, err)
	}
	return b.hydrate(ctx, rows)
}

// Count returns the number of records matching req, ignoring sort and paging.
func (b *Backend) Count(ctx context.Context, req types.FetchRequest) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return 0, types.ErrStoreDetached
	}

	where, args := buildWhere(req)
	var n int
	if err := b.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM objects"+where, args...); err != nil {
		return 0, fmt.Errorf("counting %s: %w", req.Entity, err)
	}
	return n, nil
}

// Commit applies the change set in one transaction, then mirrors the result
// to JSONL according to the sync strategy. A failed transaction is rolled
// back. A failed JSONL write is returned after the transaction committed, so
// the database already holds the change set; committing it again is an
// idempotent upsert.
func (b *Backend) Commit(ctx context.Context, changes types.ChangeSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrStoreDetached
	}
	if changes.IsEmpty() {
		return nil
	}

	if err := commitChanges(ctx, b.db, changes); err != nil {
		return err
	}

	b.logger.Debug("committed change set",
		zap.Int("inserted", len(changes.Inserted)),
		zap.Int("updated", len(changes.Updated)),
		zap.Int("deleted", len(changes.Deleted)))

	if err := b.syncJSONL(changes.Len()); err != nil {
		return fmt.Errorf("persisting JSONL: %w", err)
	}
	return nil
}

func commitChanges(ctx context.Context, db *sqlx.DB, changes types.ChangeSet) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning commit: %w", err)
	}
	defer tx.Rollback()

	for _, r := range changes.Inserted {
		if err := upsertRecord(ctx, tx, r); err != nil {
			return err
		}
	}
	for _, r := range changes.Updated {
		if err := upsertRecord(ctx, tx, r); err != nil {
			return err
		}
	}
	for _, r := range changes.Deleted {
		if err := deleteRecord(ctx, tx, r.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing change set: %w", err)
	}
	return nil
}

func upsertRecord(ctx context.Context, tx *sqlx.Tx, r *types.Record) error {
	if r.ID == "" {
		return types.ErrInvalidID
	}
	attrs := r.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshaling attributes of %s: %w", r.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO objects (object_id, entity, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(object_id) DO UPDATE SET
			attributes = excluded.attributes,
			updated_at = excluded.updated_at`,
		r.ID, r.Entity, string(attrJSON),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting object %s: %w", r.ID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM relationships WHERE object_id = ?", r.ID); err != nil {
		return fmt.Errorf("clearing relationships of %s: %w", r.ID, err)
	}
	for name, ids := range r.Relationships {
		for ordinal, target := range ids {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO relationships (object_id, name, target_id, ordinal) VALUES (?, ?, ?, ?)",
				r.ID, name, target, ordinal); err != nil {
				return fmt.Errorf("inserting relationship %s.%s: %w", r.ID, name, err)
			}
		}
	}
	return nil
}

// deleteRecord removes an object and every relationship edge that touches it.
func deleteRecord(ctx context.Context, tx *sqlx.Tx, id string) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM relationships WHERE object_id = ? OR target_id = ?", id, id); err != nil {
		return fmt.Errorf("deleting relationships of %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM objects WHERE object_id = ?", id); err != nil {
		return fmt.Errorf("deleting object %s: %w", id, err)
	}
	return nil
}

// hydrate turns object rows into records and attaches their relationships.
func (b *Backend) hydrate(ctx context.Context, rows []objectRow) ([]*types.Record, error) {
	records := make([]*types.Record, 0, len(rows))
	if len(rows) == 0 {
		return records, nil
	}

	byID := make(map[string]*types.Record, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		r, err := rowToRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}

	query, args, err := sqlx.In(
		"SELECT object_id, name, target_id, ordinal FROM relationships WHERE object_id IN (?) ORDER BY object_id, name, ordinal",
		ids)
	if err != nil {
		return nil, fmt.Errorf("building relationship query: %w", err)
	}
	var rels []relationshipRow
	if err := b.db.SelectContext(ctx, &rels, query, args...); err != nil {
		return nil, fmt.Errorf("loading relationships: %w", err)
	}
	for _, rel := range rels {
		r := byID[rel.ObjectID]
		r.Relationships[rel.Name] = append(r.Relationships[rel.Name], rel.TargetID)
	}
	return records, nil
}

func rowToRecord(row objectRow) (*types.Record, error) {
	r := &types.Record{
		Entity:        row.Entity,
		ID:            row.ObjectID,
		Attributes:    map[string]any{},
		Relationships: map[string][]string{},
	}
	dec := json.NewDecoder(strings.NewReader(row.Attributes))
	dec.UseNumber()
	if err := dec.Decode(&r.Attributes); err != nil {
		return nil, fmt.Errorf("parsing attributes of %s: %w", row.ObjectID, err)
	}
	var err error
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, row.CreatedAt); err != nil {
		return nil, fmt.Errorf("parsing created_at of %s: %w", row.ObjectID, err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, row.UpdatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at of %s: %w", row.ObjectID, err)
	}
	return r, nil
}

// buildWhere renders the entity and equality predicates of req.
func buildWhere(req types.FetchRequest) (string, []any) {
	var conditions []string
	var args []any
	if req.Entity != "" {
		conditions = append(conditions, "entity = ?")
		args = append(args, req.Entity)
	}
	for _, p := range req.Predicates {
		v := predicateValue(p.Value)
		if v == nil {
			conditions = append(conditions, "json_extract(attributes, ?) IS NULL")
			args = append(args, jsonPath(p.Attribute))
			continue
		}
		conditions = append(conditions, "json_extract(attributes, ?) = ?")
		args = append(args, jsonPath(p.Attribute), v)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func buildOrder(req types.FetchRequest, args *[]any) string {
	dir := " ASC"
	if req.Descending {
		dir = " DESC"
	}
	if req.SortBy == "" {
		return " ORDER BY created_at" + dir + ", object_id" + dir
	}
	*args = append(*args, jsonPath(req.SortBy))
	return " ORDER BY json_extract(attributes, ?)" + dir + ", created_at ASC, object_id ASC"
}

func jsonPath(attribute string) string {
	return `$."` + strings.ReplaceAll(attribute, `"`, `\"`) + `"`
}

// predicateValue maps a canonical attribute value onto what json_extract
// returns for the stored JSON.
func predicateValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		if x {
			return 1
		}
		return 0
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case int:
		return int64(x)
	case int32:
		return int64(x)
	default:
		return v
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}
