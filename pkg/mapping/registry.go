package mapping

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// Mapping errors.
var (
	ErrMalformedJSON    = errors.New("malformed JSON")
	ErrNoMapping        = errors.New("no mapping registered")
	ErrDuplicateMapping = errors.New("mapping already registered")
	ErrInvalidRule      = errors.New("invalid mapping rule")
)

// Rule maps one JSON value onto one attribute or relationship.
type Rule struct {
	// Attribute names the entity attribute or relationship to set.
	Attribute string `yaml:"attribute" json:"attribute"`
	// Key is a dot path into the JSON object, such as "author.name" or
	// "tags.0". Empty derives it from Attribute with the registry key style.
	Key string `yaml:"key,omitempty" json:"key,omitempty"`
	// Kind selects the conversion. Empty infers it from the model.
	Kind Kind `yaml:"kind,omitempty" json:"kind,omitempty"`
	// Layout is a time layout for date values given as strings.
	Layout string `yaml:"layout,omitempty" json:"layout,omitempty"`
	// Transform is an expr expression over value and object, evaluated
	// before conversion.
	Transform string `yaml:"transform,omitempty" json:"transform,omitempty"`

	program *vm.Program
}

// EntityMapping lists the rules that populate one entity from JSON.
type EntityMapping struct {
	Entity string `yaml:"entity" json:"entity"`
	// Identifier finds existing objects during upserts. Without it every
	// JSON object inserts a new object.
	Identifier *Rule `yaml:"identifier,omitempty" json:"identifier,omitempty"`
	// OrderKey names an integer attribute that receives the element index
	// when objects are upserted from a JSON array.
	OrderKey string `yaml:"order_key,omitempty" json:"order_key,omitempty"`
	Rules    []Rule `yaml:"rules" json:"rules"`
}

// Registry holds entity mappings. It is safe for concurrent use; mappings are
// immutable once registered.
type Registry struct {
	mu       sync.RWMutex
	style    KeyStyle
	mappings map[string]EntityMapping
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithKeyStyle sets how keys are derived for rules without one.
func WithKeyStyle(style KeyStyle) RegistryOption {
	return func(r *Registry) {
		r.style = style
	}
}

// NewRegistry returns an empty registry using snake case keys by default.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		style:    KeyStyleSnake,
		mappings: make(map[string]EntityMapping),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// KeyStyle returns the registry's key style.
func (r *Registry) KeyStyle() KeyStyle {
	return r.style
}

// Register validates m, fills in derived keys, compiles transforms and adds
// it to the registry.
func (r *Registry) Register(m EntityMapping) error {
	if m.Entity == "" {
		return fmt.Errorf("%w: mapping without an entity", ErrInvalidRule)
	}

	compiled := EntityMapping{
		Entity:   m.Entity,
		OrderKey: m.OrderKey,
		Rules:    make([]Rule, 0, len(m.Rules)),
	}
	seen := make(map[string]bool, len(m.Rules))
	for _, rule := range m.Rules {
		if seen[rule.Attribute] {
			return fmt.Errorf("%w: %s maps %q twice", ErrInvalidRule, m.Entity, rule.Attribute)
		}
		seen[rule.Attribute] = true
		c, err := r.compileRule(m.Entity, rule)
		if err != nil {
			return err
		}
		compiled.Rules = append(compiled.Rules, c)
	}
	if m.Identifier != nil {
		if m.Identifier.Kind == KindRelationship {
			return fmt.Errorf("%w: %s identifier cannot be a relationship", ErrInvalidRule, m.Entity)
		}
		c, err := r.compileRule(m.Entity, *m.Identifier)
		if err != nil {
			return err
		}
		compiled.Identifier = &c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mappings[m.Entity]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMapping, m.Entity)
	}
	r.mappings[m.Entity] = compiled
	return nil
}

func (r *Registry) compileRule(entity string, rule Rule) (Rule, error) {
	if rule.Attribute == "" {
		return rule, fmt.Errorf("%w: %s has a rule without an attribute", ErrInvalidRule, entity)
	}
	if !rule.Kind.IsValid() {
		return rule, fmt.Errorf("%w: %s.%s has unknown kind %q", ErrInvalidRule, entity, rule.Attribute, rule.Kind)
	}
	if rule.Key == "" {
		rule.Key = r.style.Key(rule.Attribute)
	}
	if rule.Transform != "" {
		program, err := expr.Compile(rule.Transform,
			expr.Env(map[string]any{}),
			expr.AllowUndefinedVariables())
		if err != nil {
			return rule, fmt.Errorf("%w: %s.%s transform: %w", ErrInvalidRule, entity, rule.Attribute, err)
		}
		rule.program = program
	}
	return rule, nil
}

// MustRegister is like Register but panics on error. It suits static
// registration at startup.
func (r *Registry) MustRegister(m EntityMapping) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Lookup returns the mapping registered for entity.
func (r *Registry) Lookup(entity string) (EntityMapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[entity]
	return m, ok
}

// Entities lists the mapped entities in name order.
func (r *Registry) Entities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.mappings))
	for name := range r.mappings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every mapping against model: entities and targets exist,
// relationship kinds point at relationships, identifiers are attributes and
// order keys are integer attributes.
func (r *Registry) Validate(model *types.Model) error {
	for _, name := range r.Entities() {
		m, _ := r.Lookup(name)
		entity, err := model.Entity(name)
		if err != nil {
			return fmt.Errorf("mapping %s: %w", name, err)
		}
		for _, rule := range m.Rules {
			if err := validateRule(entity, rule); err != nil {
				return err
			}
		}
		if m.Identifier != nil {
			if _, ok := entity.Attribute(m.Identifier.Attribute); !ok {
				return fmt.Errorf("%w: %s identifier %q is not an attribute", ErrInvalidRule, name, m.Identifier.Attribute)
			}
		}
		if m.OrderKey != "" {
			attr, ok := entity.Attribute(m.OrderKey)
			if !ok || attr.Type != types.TypeInteger {
				return fmt.Errorf("%w: %s order key %q is not an integer attribute", ErrInvalidRule, name, m.OrderKey)
			}
		}
	}
	return nil
}

func validateRule(entity *types.Entity, rule Rule) error {
	_, isAttr := entity.Attribute(rule.Attribute)
	_, isRel := entity.Relationship(rule.Attribute)
	switch {
	case !isAttr && !isRel:
		return fmt.Errorf("%w: %s has no attribute or relationship %q", ErrInvalidRule, entity.Name, rule.Attribute)
	case isRel && rule.Kind != "" && rule.Kind != KindRelationship:
		return fmt.Errorf("%w: %s.%s is a relationship, not %s", ErrInvalidRule, entity.Name, rule.Attribute, rule.Kind)
	case isAttr && rule.Kind == KindRelationship:
		return fmt.Errorf("%w: %s.%s is an attribute, not a relationship", ErrInvalidRule, entity.Name, rule.Attribute)
	}
	return nil
}

// mappingFile is the YAML layout read by LoadYAML.
type mappingFile struct {
	Mappings []EntityMapping `yaml:"mappings"`
}

// LoadYAML registers every mapping in a YAML document of the form
//
//	mappings:
//	  - entity: Article
//	    identifier: {attribute: articleID, key: id}
//	    order_key: position
//	    rules:
//	      - {attribute: title}
func (r *Registry) LoadYAML(rd io.Reader) error {
	var f mappingFile
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decoding mappings: %w", err)
	}
	for _, m := range f.Mappings {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by Register.
func Default() *Registry { return defaultRegistry }

// Register adds m to the default registry.
func Register(m EntityMapping) error { return defaultRegistry.Register(m) }

// MustRegister adds m to the default registry and panics on error.
func MustRegister(m EntityMapping) { defaultRegistry.MustRegister(m) }
