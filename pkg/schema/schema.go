package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Schema maps shared-context keys to their expected types.
type Schema map[string]Type

// ValidationError is a single key that failed its declared type.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("key %q: %s", e.Key, e.Reason)
}

// Parse builds a Schema from key-to-declaration pairs.
func Parse(decls map[string]string) (Schema, error) {
	if len(decls) == 0 {
		return nil, nil
	}
	s := make(Schema, len(decls))
	for key, decl := range decls {
		t, err := ParseType(decl)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", key, err)
		}
		s[key] = t
	}
	return s, nil
}

// Check validates one key. Undeclared keys always pass.
func (s Schema) Check(key string, value any) error {
	t, ok := s[key]
	if !ok {
		return nil
	}
	if err := t.Validate(value); err != nil {
		return &ValidationError{Key: key, Reason: err.Error()}
	}
	return nil
}

// Validate checks every declared key present in data, in key order.
func (s Schema) Validate(data map[string]any) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		if err := s.Check(k, data[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Declarations returns the declaration form of every key.
func (s Schema) Declarations() map[string]string {
	if s == nil {
		return nil
	}
	out := make(map[string]string, len(s))
	for k, t := range s {
		out[k] = t.Name()
	}
	return out
}

// MarshalJSON writes the schema as key-to-declaration pairs.
func (s Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Declarations())
}

// UnmarshalJSON reads key-to-declaration pairs.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var decls map[string]string
	if err := json.Unmarshal(data, &decls); err != nil {
		return err
	}
	parsed, err := Parse(decls)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalYAML reads key-to-declaration pairs.
func (s *Schema) UnmarshalYAML(node *yaml.Node) error {
	var decls map[string]string
	if err := node.Decode(&decls); err != nil {
		return err
	}
	parsed, err := Parse(decls)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
