package types

import (
	"errors"
	"time"
)

// Record is the persisted form of one object: its attribute values and the
// IDs of the objects it relates to, keyed by relationship name. Relationship
// ID slices keep the order they were assigned in.
type Record struct {
	Entity        string
	ID            string
	Attributes    map[string]any
	Relationships map[string][]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy of the record maps. Attribute values are copied
// by assignment; json attributes holding maps or slices stay shared.
func (r *Record) Clone() *Record {
	c := *r
	c.Attributes = make(map[string]any, len(r.Attributes))
	for k, v := range r.Attributes {
		c.Attributes[k] = v
	}
	c.Relationships = make(map[string][]string, len(r.Relationships))
	for k, ids := range r.Relationships {
		c.Relationships[k] = append([]string(nil), ids...)
	}
	return &c
}

// Predicate matches records whose attribute equals Value.
type Predicate struct {
	Attribute string
	Value     any
}

// FetchRequest selects records of one entity. Empty Predicates match all.
// Without SortBy, records come back in creation order.
type FetchRequest struct {
	Entity     string
	Predicates []Predicate
	SortBy     string
	Descending bool
	Limit      int
	Offset     int
}

// Where returns a copy of the request with an extra equality predicate.
func (r FetchRequest) Where(attribute string, value any) FetchRequest {
	r.Predicates = append(append([]Predicate(nil), r.Predicates...), Predicate{Attribute: attribute, Value: value})
	return r
}

// ChangeSet groups the records written by one save.
type ChangeSet struct {
	Inserted []*Record
	Updated  []*Record
	Deleted  []*Record
}

// IsEmpty reports whether the change set carries no changes.
func (cs ChangeSet) IsEmpty() bool {
	return len(cs.Inserted) == 0 && len(cs.Updated) == 0 && len(cs.Deleted) == 0
}

// Len returns the number of records in the change set.
func (cs ChangeSet) Len() int {
	return len(cs.Inserted) + len(cs.Updated) + len(cs.Deleted)
}

// Record and model errors.
var (
	ErrNotFound             = errors.New("object not found")
	ErrInvalidID            = errors.New("invalid object ID")
	ErrEntityNotFound       = errors.New("entity not found")
	ErrAttributeNotFound    = errors.New("attribute not found")
	ErrRelationshipNotFound = errors.New("relationship not found")
	ErrTypeMismatch         = errors.New("type mismatch")
	ErrCardinality          = errors.New("to-one relationship takes at most one object")
	ErrInvalidModel         = errors.New("invalid model")
)
