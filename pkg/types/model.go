package types

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// AttributeType determines what values an entity attribute accepts.
type AttributeType string

// Attribute types.
const (
	TypeInteger AttributeType = "integer"
	TypeFloat   AttributeType = "float"
	TypeString  AttributeType = "string"
	TypeBool    AttributeType = "bool"
	TypeDate    AttributeType = "date"
	TypeJSON    AttributeType = "json"
)

var validAttributeTypes = map[AttributeType]bool{
	TypeInteger: true,
	TypeFloat:   true,
	TypeString:  true,
	TypeBool:    true,
	TypeDate:    true,
	TypeJSON:    true,
}

// IsValid reports whether the attribute type is recognized.
func (t AttributeType) IsValid() bool {
	return validAttributeTypes[t]
}

// Coerce converts v into the canonical Go type for t: int64, float64,
// string, bool, time.Time, or the value unchanged for json. A nil value
// passes through. Conversion failures wrap ErrTypeMismatch.
func (t AttributeType) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var (
		out any
		err error
	)
	switch t {
	case TypeInteger:
		out, err = toInt64(v)
	case TypeFloat:
		if n, ok := v.(json.Number); ok {
			out, err = n.Float64()
		} else {
			out, err = cast.ToFloat64E(v)
		}
	case TypeString:
		if n, ok := v.(json.Number); ok {
			out = n.String()
		} else {
			out, err = cast.ToStringE(v)
		}
	case TypeBool:
		out, err = cast.ToBoolE(v)
	case TypeDate:
		out, err = toTime(v)
	case TypeJSON:
		out = v
	default:
		return nil, fmt.Errorf("attribute type %q: %w", t, ErrInvalidModel)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v as %s: %v", ErrTypeMismatch, v, t, err)
	}
	return out, nil
}

// toInt64 accepts integral numbers in any numeric or string form. Strings
// are parsed in base 10 so that zero-padded identifiers keep their value.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return integral(f)
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		return integral(f)
	case float64:
		return integral(n)
	case float32:
		return integral(float64(n))
	}
	return cast.ToInt64E(v)
}

func integral(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%v is not integral", f)
	}
	return int64(f), nil
}

// toTime normalizes dates to UTC so that stored values compare by text.
func toTime(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d.UTC(), nil
	case json.Number:
		i, err := toInt64(d)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(i, 0).UTC(), nil
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Attribute describes one typed value stored on an entity.
type Attribute struct {
	Name     string        `yaml:"name" json:"name"`
	Type     AttributeType `yaml:"type" json:"type"`
	Optional bool          `yaml:"optional" json:"optional"`
}

// Relationship describes a link from one entity to another.
type Relationship struct {
	Name        string `yaml:"name" json:"name"`
	Destination string `yaml:"destination" json:"destination"`
	ToMany      bool   `yaml:"to_many" json:"to_many"`
	Ordered     bool   `yaml:"ordered" json:"ordered"`
}

// Entity describes a persisted object type.
type Entity struct {
	Name          string         `yaml:"name" json:"name"`
	Attributes    []Attribute    `yaml:"attributes" json:"attributes"`
	Relationships []Relationship `yaml:"relationships" json:"relationships"`
}

// Attribute returns the attribute with the given name.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	for i := range e.Attributes {
		if e.Attributes[i].Name == name {
			return &e.Attributes[i], true
		}
	}
	return nil, false
}

// Relationship returns the relationship with the given name.
func (e *Entity) Relationship(name string) (*Relationship, bool) {
	for i := range e.Relationships {
		if e.Relationships[i].Name == name {
			return &e.Relationships[i], true
		}
	}
	return nil, false
}

// Model is the set of entity descriptions a store persists.
type Model struct {
	Entities []Entity `yaml:"entities" json:"entities"`
}

// Entity returns the entity description with the given name.
func (m *Model) Entity(name string) (*Entity, error) {
	for i := range m.Entities {
		if m.Entities[i].Name == name {
			return &m.Entities[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, name)
}

// EntityNames lists entity names in declaration order.
func (m *Model) EntityNames() []string {
	names := make([]string, len(m.Entities))
	for i, e := range m.Entities {
		names[i] = e.Name
	}
	return names
}

// Validate checks that entity, attribute and relationship names are unique
// within their scope, attribute types are known, and every relationship
// points at a declared entity.
func (m *Model) Validate() error {
	entities := make(map[string]bool, len(m.Entities))
	for _, e := range m.Entities {
		if e.Name == "" {
			return fmt.Errorf("%w: entity without a name", ErrInvalidModel)
		}
		if entities[e.Name] {
			return fmt.Errorf("%w: duplicate entity %s", ErrInvalidModel, e.Name)
		}
		entities[e.Name] = true
	}
	for _, e := range m.Entities {
		fields := make(map[string]bool)
		for _, a := range e.Attributes {
			if a.Name == "" || fields[a.Name] {
				return fmt.Errorf("%w: %s has an empty or duplicate attribute %q", ErrInvalidModel, e.Name, a.Name)
			}
			if !a.Type.IsValid() {
				return fmt.Errorf("%w: %s.%s has unknown type %q", ErrInvalidModel, e.Name, a.Name, a.Type)
			}
			fields[a.Name] = true
		}
		for _, r := range e.Relationships {
			if r.Name == "" || fields[r.Name] {
				return fmt.Errorf("%w: %s has an empty or duplicate relationship %q", ErrInvalidModel, e.Name, r.Name)
			}
			if !entities[r.Destination] {
				return fmt.Errorf("%w: %s.%s points at unknown entity %q", ErrInvalidModel, e.Name, r.Name, r.Destination)
			}
			fields[r.Name] = true
		}
	}
	return nil
}

// LoadModel decodes a YAML model description and validates it.
func LoadModel(r io.Reader) (*Model, error) {
	var m Model
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
