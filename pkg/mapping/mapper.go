package mapping

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/larder/pkg/store"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Option configures a Mapper or a Manager.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	updateExisting bool
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), updateExisting: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger for upsert traces.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithUpdateExisting chooses whether objects found by identifier are mapped
// again. The default is true; false leaves existing objects untouched.
func WithUpdateExisting(update bool) Option {
	return func(o *options) {
		o.updateExisting = update
	}
}

// Mapper applies registered rules to objects.
type Mapper struct {
	registry *Registry
	opts     []Option
	options  options
}

// NewMapper returns a Mapper driven by registry. The options also apply to
// the managers it creates for nested relationships.
func NewMapper(registry *Registry, opts ...Option) *Mapper {
	return &Mapper{
		registry: registry,
		opts:     opts,
		options:  buildOptions(opts),
	}
}

// Apply sets the attributes and relationships of obj from a JSON object,
// following the rules registered for obj's entity in order. Keys missing
// from value are skipped; a JSON null clears the target. Relationship
// values are upserted into c through managers for the destination entity.
// value must be a decoded JSON object, else ErrMalformedJSON.
func (m *Mapper) Apply(ctx context.Context, c *store.Context, obj *store.Object, value any) error {
	mapping, ok := m.registry.Lookup(obj.Entity())
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoMapping, obj.Entity())
	}
	jsonObj, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: %s expects an object, got %T", ErrMalformedJSON, obj.Entity(), value)
	}
	entity, err := c.Model().Entity(obj.Entity())
	if err != nil {
		return err
	}

	for _, rule := range mapping.Rules {
		raw, present := lookup(jsonObj, rule.Key)
		if !present {
			continue
		}
		kind, err := ruleKind(entity, rule)
		if err != nil {
			return err
		}
		raw, err = rule.transform(raw, jsonObj)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", entity.Name, rule.Attribute, err)
		}

		if kind == KindRelationship {
			if err := m.applyRelationship(ctx, c, obj, entity, rule.Attribute, raw); err != nil {
				return err
			}
			continue
		}

		var v any
		if raw != nil {
			v, err = kind.convert(raw, rule.Layout)
			if err != nil {
				return fmt.Errorf("%w: %s.%s: %w", ErrMalformedJSON, entity.Name, rule.Attribute, err)
			}
		}
		if err := obj.Set(rule.Attribute, v); err != nil {
			return err
		}
	}
	return nil
}

// applyRelationship resolves a relationship value: an object upserts one
// destination object, an array upserts an ordered list, and a scalar
// references a destination object by identifier.
func (m *Mapper) applyRelationship(ctx context.Context, c *store.Context, obj *store.Object, entity *types.Entity, name string, raw any) error {
	rel, ok := entity.Relationship(name)
	if !ok {
		return fmt.Errorf("%s.%s: %w", entity.Name, name, types.ErrRelationshipNotFound)
	}
	if raw == nil {
		return obj.SetRelated(name)
	}

	nested, err := NewManager(c, rel.Destination, m.registry, m.opts...)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", entity.Name, name, err)
	}

	var targets []*store.Object
	switch v := raw.(type) {
	case []any:
		if !rel.ToMany {
			return fmt.Errorf("%w: %s.%s: %w", ErrMalformedJSON, entity.Name, name, types.ErrCardinality)
		}
		targets, err = nested.Upsert(ctx, v)
	case map[string]any:
		var target *store.Object
		target, err = nested.UpsertOne(ctx, v)
		targets = []*store.Object{target}
	default:
		var target *store.Object
		target, err = nested.Reference(ctx, v)
		targets = []*store.Object{target}
	}
	if err != nil {
		return err
	}
	return obj.SetRelated(name, targets...)
}

// ruleKind returns the rule's kind, inferring it from the model when empty.
func ruleKind(entity *types.Entity, rule Rule) (Kind, error) {
	if rule.Kind != "" {
		return rule.Kind, nil
	}
	if attr, ok := entity.Attribute(rule.Attribute); ok {
		return Kind(attr.Type), nil
	}
	if _, ok := entity.Relationship(rule.Attribute); ok {
		return KindRelationship, nil
	}
	return "", fmt.Errorf("%w: %s has no attribute or relationship %q", ErrInvalidRule, entity.Name, rule.Attribute)
}
