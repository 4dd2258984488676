package mapping

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/larder/pkg/store"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Manager upserts objects of one entity from JSON: it finds existing
// objects by the identifier rule, inserts the missing ones, and maps the
// JSON onto them.
type Manager struct {
	c       *store.Context
	entity  *types.Entity
	mapping EntityMapping
	mapper  *Mapper
	options options
}

// NewManager returns a Manager for entity in c. It fails with ErrNoMapping
// when the registry has no mapping for entity.
func NewManager(c *store.Context, entity string, registry *Registry, opts ...Option) (*Manager, error) {
	e, err := c.Model().Entity(entity)
	if err != nil {
		return nil, err
	}
	m, ok := registry.Lookup(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMapping, entity)
	}
	return &Manager{
		c:       c,
		entity:  e,
		mapping: m,
		mapper:  NewMapper(registry, opts...),
		options: buildOptions(opts),
	}, nil
}

// Upsert accepts a JSON object or array. Array elements are upserted in
// order; when the mapping has an order key each inserted or updated object
// receives its index. Objects matched while updating existing objects is
// disabled keep their order. Scalar elements reference objects by identifier.
func (m *Manager) Upsert(ctx context.Context, value any) ([]*store.Object, error) {
	switch v := value.(type) {
	case map[string]any:
		o, err := m.UpsertOne(ctx, v)
		if err != nil {
			return nil, err
		}
		return []*store.Object{o}, nil
	case []any:
		out := make([]*store.Object, 0, len(v))
		for i, elem := range v {
			var (
				o       *store.Object
				touched bool
				err     error
			)
			if obj, ok := elem.(map[string]any); ok {
				o, touched, err = m.upsertOne(ctx, obj)
			} else {
				o, touched, err = m.reference(ctx, elem)
			}
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", m.entity.Name, i, err)
			}
			if touched && m.mapping.OrderKey != "" {
				if err := o.Set(m.mapping.OrderKey, int64(i)); err != nil {
					return nil, err
				}
			}
			out = append(out, o)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s expects an object or array, got %T", ErrMalformedJSON, m.entity.Name, value)
}

// UpsertJSON decodes data and upserts it.
func (m *Manager) UpsertJSON(ctx context.Context, data []byte) ([]*store.Object, error) {
	v, err := decodeJSON(data)
	if err != nil {
		return nil, err
	}
	return m.Upsert(ctx, v)
}

// UpsertOne finds the object identified by value, or inserts it, and maps
// value onto it. Existing objects are mapped only when updating existing
// objects is enabled. A missing or null identifier inserts a new object.
func (m *Manager) UpsertOne(ctx context.Context, value any) (*store.Object, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects an object, got %T", ErrMalformedJSON, m.entity.Name, value)
	}
	o, _, err := m.upsertOne(ctx, obj)
	return o, err
}

// upsertOne reports whether the object was inserted or updated.
func (m *Manager) upsertOne(ctx context.Context, obj map[string]any) (*store.Object, bool, error) {
	var id any
	if rule := m.mapping.Identifier; rule != nil {
		if raw, present := lookup(obj, rule.Key); present && raw != nil {
			var err error
			if id, err = m.identifier(raw, obj); err != nil {
				return nil, false, err
			}
		}
	}

	if id != nil {
		existing, err := m.find(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			if !m.options.updateExisting {
				m.options.logger.Debug("matched existing object",
					zap.String("entity", m.entity.Name), zap.String("id", existing.ID()))
				return existing, false, nil
			}
			if err := m.mapper.Apply(ctx, m.c, existing, obj); err != nil {
				return nil, false, err
			}
			m.options.logger.Debug("updated object",
				zap.String("entity", m.entity.Name), zap.String("id", existing.ID()))
			return existing, true, nil
		}
	}

	o, err := m.insert(id)
	if err != nil {
		return nil, false, err
	}
	if err := m.mapper.Apply(ctx, m.c, o, obj); err != nil {
		return nil, false, err
	}
	m.options.logger.Debug("inserted object",
		zap.String("entity", m.entity.Name), zap.String("id", o.ID()))
	return o, true, nil
}

// Reference returns the object whose identifier equals raw, inserting an
// object that carries only the identifier when none exists.
func (m *Manager) Reference(ctx context.Context, raw any) (*store.Object, error) {
	o, _, err := m.reference(ctx, raw)
	return o, err
}

// reference reports whether the object may be written: it was inserted, or
// updating existing objects is enabled.
func (m *Manager) reference(ctx context.Context, raw any) (*store.Object, bool, error) {
	if m.mapping.Identifier == nil {
		return nil, false, fmt.Errorf("%w: %s is referenced by value but has no identifier rule", ErrInvalidRule, m.entity.Name)
	}
	id, err := m.identifier(raw, nil)
	if err != nil {
		return nil, false, err
	}
	if id == nil {
		return nil, false, fmt.Errorf("%w: %s reference is null", ErrMalformedJSON, m.entity.Name)
	}
	existing, err := m.find(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, m.options.updateExisting, nil
	}
	o, err := m.insert(id)
	if err != nil {
		return nil, false, err
	}
	m.options.logger.Debug("inserted referenced object",
		zap.String("entity", m.entity.Name), zap.String("id", o.ID()))
	return o, true, nil
}

// identifier converts a raw identifier with the identifier rule.
func (m *Manager) identifier(raw any, obj map[string]any) (any, error) {
	rule := *m.mapping.Identifier
	kind, err := ruleKind(m.entity, rule)
	if err != nil {
		return nil, err
	}
	if raw, err = rule.transform(raw, obj); err != nil {
		return nil, fmt.Errorf("%s identifier: %w", m.entity.Name, err)
	}
	if raw == nil {
		return nil, nil
	}
	id, err := kind.convert(raw, rule.Layout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s identifier: %w", ErrMalformedJSON, m.entity.Name, err)
	}
	return id, nil
}

func (m *Manager) find(ctx context.Context, id any) (*store.Object, error) {
	o, err := m.c.FindBy(ctx, m.entity.Name, m.mapping.Identifier.Attribute, id)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (m *Manager) insert(id any) (*store.Object, error) {
	o, err := m.c.Insert(m.entity.Name)
	if err != nil {
		return nil, err
	}
	if id != nil {
		if err := o.Set(m.mapping.Identifier.Attribute, id); err != nil {
			return nil, err
		}
	}
	return o, nil
}
