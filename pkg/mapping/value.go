package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// lookup resolves a dot path in a JSON object. Array elements are addressed
// by index. A key that exists verbatim wins over a dotted walk. present is
// false when any step is missing; an explicit null is present with a nil
// value.
func lookup(obj map[string]any, path string) (value any, present bool) {
	if v, ok := obj[path]; ok {
		return v, true
	}
	var current any = obj
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	return current, true
}

// transform runs the rule's expression with value bound to the raw JSON
// value and object to the enclosing JSON object.
func (r Rule) transform(value any, obj map[string]any) (any, error) {
	if r.program == nil {
		return value, nil
	}
	env := map[string]any{
		"value":  plain(value),
		"object": plain(obj),
	}
	out, err := expr.Run(r.program, env)
	if err != nil {
		return nil, fmt.Errorf("transform %q: %w", r.Transform, err)
	}
	return out, nil
}

// plain replaces json.Number with int or float64 so expressions can do
// arithmetic on decoded JSON.
func plain(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	}
	return v
}

// decodeJSON decodes data keeping numbers as json.Number.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedJSON, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrMalformedJSON)
	}
	return v, nil
}
