package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// Fetch returns the objects matching req as this context sees them: unsaved
// inserts that match are included, unsaved updates are matched on their new
// values, and deleted objects are left out.
func (c *Context) Fetch(ctx context.Context, req types.FetchRequest) ([]*Object, error) {
	req, err := c.normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	var records []*types.Record
	if !c.chainHasChanges() {
		records, err = c.stack.store.Fetch(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", req.Entity, err)
		}
	} else {
		records, err = c.view(ctx, unpaged(req))
		if err != nil {
			return nil, err
		}
		sortRecords(records, req)
		records = page(records, req.Offset, req.Limit)
	}

	objects := make([]*Object, 0, len(records))
	for _, r := range records {
		o, err := c.register(r)
		if err != nil {
			return nil, err
		}
		objects = append(objects, o)
	}
	return objects, nil
}

// FindBy returns the first object of entity whose attribute equals value.
// Returns ErrNotFound if none matches.
func (c *Context) FindBy(ctx context.Context, entity, attribute string, value any) (*Object, error) {
	objects, err := c.Fetch(ctx, types.FetchRequest{Entity: entity, Limit: 1}.Where(attribute, value))
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("%s with %s=%v: %w", entity, attribute, value, types.ErrNotFound)
	}
	return objects[0], nil
}

// Count returns how many objects match req as this context sees them,
// ignoring paging.
func (c *Context) Count(ctx context.Context, req types.FetchRequest) (int, error) {
	req, err := c.normalizeRequest(unpaged(req))
	if err != nil {
		return 0, err
	}
	if !c.chainHasChanges() {
		n, err := c.stack.store.Count(ctx, req)
		if err != nil {
			return 0, fmt.Errorf("counting %s: %w", req.Entity, err)
		}
		return n, nil
	}
	records, err := c.view(ctx, req)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// view returns the unsorted records matching req with the changes of this
// context and its ancestors applied.
func (c *Context) view(ctx context.Context, req types.FetchRequest) ([]*types.Record, error) {
	var base []*types.Record
	var err error
	if c.parent != nil {
		base, err = c.parent.view(ctx, req)
	} else {
		base, err = c.stack.store.Fetch(ctx, req)
		if err != nil {
			err = fmt.Errorf("fetching %s: %w", req.Entity, err)
		} else if entity, lookupErr := c.stack.model.Entity(req.Entity); lookupErr == nil {
			for _, r := range base {
				r.Attributes = normalizeAttributes(entity, r.Attributes)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*types.Record, 0, len(base))
	seen := make(map[string]bool, len(base))
	for _, r := range base {
		if o, ok := c.objects[r.ID]; ok {
			if o.deleted {
				continue
			}
			if c.isChangedLocked(o) {
				r = o.recordLocked()
				if !matches(r, req.Predicates) {
					continue
				}
			}
		}
		out = append(out, r)
		seen[r.ID] = true
	}

	for _, o := range c.changedLocked() {
		if seen[o.id] || o.deleted || o.entity.Name != req.Entity {
			continue
		}
		if r := o.recordLocked(); matches(r, req.Predicates) {
			out = append(out, r)
		}
	}
	return out, nil
}

// normalizeRequest checks the entity and coerces predicate values to the
// attribute types so they compare equal to stored values.
func (c *Context) normalizeRequest(req types.FetchRequest) (types.FetchRequest, error) {
	entity, err := c.stack.model.Entity(req.Entity)
	if err != nil {
		return req, err
	}
	preds := make([]types.Predicate, len(req.Predicates))
	for i, p := range req.Predicates {
		attr, ok := entity.Attribute(p.Attribute)
		if !ok {
			return req, fmt.Errorf("%s.%s: %w", req.Entity, p.Attribute, types.ErrAttributeNotFound)
		}
		v, err := attr.Type.Coerce(p.Value)
		if err != nil {
			return req, fmt.Errorf("%s.%s: %w", req.Entity, p.Attribute, err)
		}
		preds[i] = types.Predicate{Attribute: p.Attribute, Value: v}
	}
	req.Predicates = preds
	return req, nil
}

func unpaged(req types.FetchRequest) types.FetchRequest {
	req.Limit = 0
	req.Offset = 0
	return req
}

func page(records []*types.Record, offset, limit int) []*types.Record {
	if offset > 0 {
		if offset >= len(records) {
			return records[:0]
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

func matches(r *types.Record, preds []types.Predicate) bool {
	for _, p := range preds {
		if !equalValues(r.Attributes[p.Attribute], p.Value) {
			return false
		}
	}
	return true
}

// sortRecords orders records the way the store does: by the sort attribute
// then creation order, or by creation order alone.
func sortRecords(records []*types.Record, req types.FetchRequest) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if req.SortBy != "" {
			if cmp := compareValues(a.Attributes[req.SortBy], b.Attributes[req.SortBy]); cmp != 0 {
				if req.Descending {
					return cmp > 0
				}
				return cmp < 0
			}
			return creationLess(a, b)
		}
		if req.Descending {
			return creationLess(b, a)
		}
		return creationLess(a, b)
	})
}

func creationLess(a, b *types.Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch a.(type) {
	case map[string]any, []any:
		return reflect.DeepEqual(a, b)
	}
	return compareValues(a, b) == 0
}

// compareValues orders nil first, then numbers, dates, bools and strings by
// their natural order. Mixed kinds compare by their text form.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
