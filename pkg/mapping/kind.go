package mapping

import (
	"fmt"
	"strings"
	"time"

	"github.com/stoewer/go-strcase"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// Kind selects how a JSON value is converted before it is stored.
type Kind string

// Rule kinds. The scalar kinds mirror the model attribute types.
const (
	KindInteger      Kind = "integer"
	KindFloat        Kind = "float"
	KindString       Kind = "string"
	KindBool         Kind = "bool"
	KindDate         Kind = "date"
	KindJSON         Kind = "json"
	KindRelationship Kind = "relationship"
)

// IsValid reports whether k is a known kind. The empty kind is valid and
// means "infer from the model".
func (k Kind) IsValid() bool {
	switch k {
	case "", KindInteger, KindFloat, KindString, KindBool, KindDate, KindJSON, KindRelationship:
		return true
	}
	return false
}

// convert turns a raw JSON value into the Go value for k. Dates honour
// layout when the value is a string.
func (k Kind) convert(raw any, layout string) (any, error) {
	if k == KindDate && layout != "" {
		if s, ok := raw.(string); ok {
			t, err := time.Parse(layout, s)
			if err != nil {
				return nil, fmt.Errorf("%w: %q does not match layout %q", types.ErrTypeMismatch, s, layout)
			}
			return t.UTC(), nil
		}
	}
	return types.AttributeType(k).Coerce(raw)
}

// KeyStyle derives JSON keys from attribute names for rules without a key.
type KeyStyle string

// Key styles.
const (
	KeyStyleSnake KeyStyle = "snake"
	KeyStyleCamel KeyStyle = "camel"
	KeyStyleKebab KeyStyle = "kebab"
	KeyStyleExact KeyStyle = "exact"
)

// Key returns the JSON key for attribute in this style. Unknown styles
// behave like snake.
func (s KeyStyle) Key(attribute string) string {
	switch s {
	case KeyStyleExact:
		return attribute
	case KeyStyleCamel:
		return strcase.LowerCamelCase(attribute)
	case KeyStyleKebab:
		return strcase.KebabCase(attribute)
	default:
		return strcase.SnakeCase(attribute)
	}
}

// ParseKeyStyle parses a key style name case-insensitively.
func ParseKeyStyle(name string) (KeyStyle, error) {
	switch s := KeyStyle(strings.ToLower(strings.TrimSpace(name))); s {
	case KeyStyleSnake, KeyStyleCamel, KeyStyleKebab, KeyStyleExact:
		return s, nil
	case "":
		return KeyStyleSnake, nil
	}
	return "", fmt.Errorf("%w: unknown key style %q", ErrInvalidRule, name)
}
