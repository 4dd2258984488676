// JSON record structures for SQLite backend persistence.
// These structures define the JSONL record format for data files.
package sqlite

import "encoding/json"

// JSONL file names in DataDir.
const (
	objectsJSONL       = "objects.jsonl"
	relationshipsJSONL = "relationships.jsonl"
)

// objectJSON represents an object in objects.jsonl.
type objectJSON struct {
	ObjectID   string          `json:"object_id"`
	Entity     string          `json:"entity"`
	Attributes json.RawMessage `json:"attributes"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

// relationshipJSON represents one relationship edge in relationships.jsonl.
type relationshipJSON struct {
	ObjectID string `json:"object_id"`
	Name     string `json:"name"`
	TargetID string `json:"target_id"`
	Ordinal  int    `json:"ordinal"`
}

// objectRow is the sqlx scan target for the objects table.
type objectRow struct {
	ObjectID   string `db:"object_id"`
	Entity     string `db:"entity"`
	Attributes string `db:"attributes"`
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

// relationshipRow is the sqlx scan target for the relationships table.
type relationshipRow struct {
	ObjectID string `db:"object_id"`
	Name     string `db:"name"`
	TargetID string `db:"target_id"`
	Ordinal  int    `db:"ordinal"`
}
