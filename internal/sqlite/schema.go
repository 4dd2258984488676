// Package sqlite implements the SQLite backend for the larder object store.
// SQLite is the query engine; the JSONL files in DataDir are the source of
// truth and are reloaded on every Attach.
package sqlite

// Schema DDL. Attribute values live in a JSON column so that one table
// serves every entity in the model.
const (
	createObjects = `CREATE TABLE objects (
    object_id TEXT PRIMARY KEY,
    entity TEXT NOT NULL,
    attributes TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createRelationships = `CREATE TABLE relationships (
    object_id TEXT NOT NULL,
    name TEXT NOT NULL,
    target_id TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    PRIMARY KEY (object_id, name, target_id)
);`
)

// Index DDL for common queries.
const (
	idxObjectsEntity       = `CREATE INDEX idx_objects_entity ON objects(entity, created_at);`
	idxRelationshipsTarget = `CREATE INDEX idx_relationships_target ON relationships(target_id);`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createObjects,
	createRelationships,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxObjectsEntity,
	idxRelationshipsTarget,
}
