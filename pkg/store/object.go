package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// Object is one managed instance of a model entity. An object belongs to the
// context that registered it; its state is guarded by that context's lock.
type Object struct {
	c      *Context
	entity *types.Entity
	id     string

	values    map[string]any
	related   map[string][]string
	createdAt time.Time
	updatedAt time.Time

	// snapshot is the state last saved or received from a parent or the
	// store. Nil for objects inserted in this context.
	snapshot *types.Record
	inserted bool
	deleted  bool
}

func newObject(c *Context, entity *types.Entity, r *types.Record) *Object {
	o := &Object{
		c:      c,
		entity: entity,
		id:     r.ID,
	}
	o.applyRecordLocked(r)
	return o
}

// ID returns the object's identifier.
func (o *Object) ID() string { return o.id }

// Entity returns the name of the object's entity.
func (o *Object) Entity() string { return o.entity.Name }

// Context returns the context that owns the object.
func (o *Object) Context() *Context { return o.c }

// Value returns the attribute value, or nil if unset.
func (o *Object) Value(name string) any {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	return o.values[name]
}

// Values returns a copy of every set attribute.
func (o *Object) Values() map[string]any {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	out := make(map[string]any, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}

// Set assigns an attribute. The value is coerced to the attribute type; nil
// clears it. Setting an equal value leaves the object unchanged.
func (o *Object) Set(name string, v any) error {
	attr, ok := o.entity.Attribute(name)
	if !ok {
		return fmt.Errorf("%s.%s: %w", o.entity.Name, name, types.ErrAttributeNotFound)
	}
	coerced, err := attr.Type.Coerce(v)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", o.entity.Name, name, err)
	}

	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	if o.deleted {
		return fmt.Errorf("%s %s: %w", o.entity.Name, o.id, ErrObjectDeleted)
	}
	old, had := o.values[name]
	if coerced == nil {
		if !had {
			return nil
		}
		delete(o.values, name)
	} else {
		if had && equalValues(old, coerced) {
			return nil
		}
		o.values[name] = coerced
	}
	o.touchLocked()
	return nil
}

// SetRelated replaces the objects a relationship points at. A to-one
// relationship takes at most one object; no objects clears it. Every object
// must belong to the same context and be an instance of the destination.
func (o *Object) SetRelated(name string, objs ...*Object) error {
	rel, ok := o.entity.Relationship(name)
	if !ok {
		return fmt.Errorf("%s.%s: %w", o.entity.Name, name, types.ErrRelationshipNotFound)
	}
	if !rel.ToMany && len(objs) > 1 {
		return fmt.Errorf("%s.%s: %w", o.entity.Name, name, types.ErrCardinality)
	}
	ids := make([]string, 0, len(objs))
	for _, target := range objs {
		if target.c != o.c {
			return fmt.Errorf("%s.%s: %w", o.entity.Name, name, ErrForeignObject)
		}
		if target.entity.Name != rel.Destination {
			return fmt.Errorf("%w: %s.%s expects %s, got %s",
				types.ErrTypeMismatch, o.entity.Name, name, rel.Destination, target.entity.Name)
		}
		ids = append(ids, target.id)
	}

	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	if o.deleted {
		return fmt.Errorf("%s %s: %w", o.entity.Name, o.id, ErrObjectDeleted)
	}
	if reflect.DeepEqual(o.related[name], ids) || (len(ids) == 0 && len(o.related[name]) == 0) {
		return nil
	}
	if len(ids) == 0 {
		delete(o.related, name)
	} else {
		o.related[name] = ids
	}
	o.touchLocked()
	return nil
}

// RelatedIDs returns the IDs a relationship points at, in assigned order.
func (o *Object) RelatedIDs(name string) []string {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	return append([]string(nil), o.related[name]...)
}

// Related returns the objects a relationship points at, in assigned order.
// Targets that no longer exist are skipped.
func (o *Object) Related(ctx context.Context, name string) ([]*Object, error) {
	if _, ok := o.entity.Relationship(name); !ok {
		return nil, fmt.Errorf("%s.%s: %w", o.entity.Name, name, types.ErrRelationshipNotFound)
	}
	ids := o.RelatedIDs(name)
	out := make([]*Object, 0, len(ids))
	for _, id := range ids {
		target, err := o.c.Object(ctx, id)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return out, nil
}

// CreatedAt returns when the object was first inserted.
func (o *Object) CreatedAt() time.Time {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	return o.createdAt
}

// UpdatedAt returns when the object last changed.
func (o *Object) UpdatedAt() time.Time {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	return o.updatedAt
}

// IsInserted reports whether the object was inserted in its context and not
// yet saved.
func (o *Object) IsInserted() bool {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	return o.inserted
}

// IsDeleted reports whether the object was deleted from its context.
func (o *Object) IsDeleted() bool {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	return o.deleted
}

func (o *Object) touchLocked() {
	o.updatedAt = time.Now().UTC()
	o.c.markUpdatedLocked(o)
}

// recordLocked returns the persisted form of the object's current state.
func (o *Object) recordLocked() *types.Record {
	r := &types.Record{
		Entity:        o.entity.Name,
		ID:            o.id,
		Attributes:    make(map[string]any, len(o.values)),
		Relationships: make(map[string][]string, len(o.related)),
		CreatedAt:     o.createdAt,
		UpdatedAt:     o.updatedAt,
	}
	for k, v := range o.values {
		r.Attributes[k] = v
	}
	for k, ids := range o.related {
		r.Relationships[k] = append([]string(nil), ids...)
	}
	return r
}

// applyRecordLocked replaces the object's state with r, coercing attribute
// values to their model types.
func (o *Object) applyRecordLocked(r *types.Record) {
	o.values = normalizeAttributes(o.entity, r.Attributes)
	o.related = make(map[string][]string, len(r.Relationships))
	for k, ids := range r.Relationships {
		if len(ids) > 0 {
			o.related[k] = append([]string(nil), ids...)
		}
	}
	o.createdAt = r.CreatedAt
	o.updatedAt = r.UpdatedAt
}

// normalizeAttributes coerces stored values to their attribute types. Values
// the model does not describe, or that fail to coerce, are kept as stored.
func normalizeAttributes(entity *types.Entity, attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if v == nil {
			continue
		}
		if attr, ok := entity.Attribute(k); ok {
			if coerced, err := attr.Type.Coerce(v); err == nil {
				v = coerced
			}
		}
		out[k] = v
	}
	return out
}
