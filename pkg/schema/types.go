package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// Type validates a single value.
type Type interface {
	// Name returns the declaration form of the type (e.g. "int", "[string]").
	Name() string
	// Validate checks if a value conforms to this type.
	Validate(value any) error
}

type scalar struct {
	name  string
	match func(any) bool
}

func (t scalar) Name() string { return t.name }

func (t scalar) Validate(value any) error {
	if !t.match(value) {
		return fmt.Errorf("expected %s, got %s", t.name, describe(value))
	}
	return nil
}

type slice struct {
	elem Type
}

func (t slice) Name() string { return "[" + t.elem.Name() + "]" }

func (t slice) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if value == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return fmt.Errorf("expected %s, got %s", t.Name(), describe(value))
	}
	for i := 0; i < rv.Len(); i++ {
		if err := t.elem.Validate(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

type nullable struct {
	Type
}

func (t nullable) Name() string { return t.Type.Name() + "?" }

func (t nullable) Validate(value any) error {
	if value == nil {
		return nil
	}
	return t.Type.Validate(value)
}

type custom struct {
	name     string
	validate func(any) error
}

func (t custom) Name() string { return t.name }

func (t custom) Validate(value any) error { return t.validate(value) }

// String accepts strings.
func String() Type {
	return scalar{name: "string", match: func(v any) bool {
		_, ok := v.(string)
		return ok
	}}
}

// Int accepts integers, including whole floats as produced by JSON decoding.
func Int() Type {
	return scalar{name: "int", match: func(v any) bool {
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	}}
}

// Float accepts any number.
func Float() Type {
	return scalar{name: "float", match: func(v any) bool {
		switch v.(type) {
		case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	}}
}

// Bool accepts booleans.
func Bool() Type {
	return scalar{name: "bool", match: func(v any) bool {
		_, ok := v.(bool)
		return ok
	}}
}

// Object accepts JSON objects.
func Object() Type {
	return scalar{name: "object", match: func(v any) bool {
		rv := reflect.ValueOf(v)
		return v != nil && rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
	}}
}

// Any accepts every value, null included.
func Any() Type {
	return scalar{name: "any", match: func(any) bool { return true }}
}

// Slice accepts slices whose elements all conform to elem.
func Slice(elem Type) Type {
	return slice{elem: elem}
}

// Nullable accepts null in addition to the values t accepts.
func Nullable(t Type) Type {
	return nullable{Type: t}
}

// Custom wraps a validation function under a name. Custom types cannot be parsed
// from declarations; they are for programmatic schemas.
func Custom(name string, validate func(any) error) Type {
	return custom{name: name, validate: validate}
}

// ParseType converts a declaration such as "int", "[string]" or "object?" to a Type.
func ParseType(decl string) (Type, error) {
	decl = strings.TrimSpace(decl)
	if strings.HasSuffix(decl, "?") {
		inner, err := ParseType(strings.TrimSuffix(decl, "?"))
		if err != nil {
			return nil, err
		}
		return Nullable(inner), nil
	}
	if len(decl) > 2 && decl[0] == '[' && decl[len(decl)-1] == ']' {
		elem, err := ParseType(decl[1 : len(decl)-1])
		if err != nil {
			return nil, err
		}
		return Slice(elem), nil
	}

	switch decl {
	case "string":
		return String(), nil
	case "int":
		return Int(), nil
	case "float":
		return Float(), nil
	case "bool":
		return Bool(), nil
	case "object":
		return Object(), nil
	case "any":
		return Any(), nil
	}
	return nil, fmt.Errorf("unsupported type %q", decl)
}

func describe(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
