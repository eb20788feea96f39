package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		decl    string
		value   any
		wantErr bool
	}{
		{"string", "hi", false},
		{"string", 1, true},
		{"int", 3, false},
		{"int", float64(3), false},
		{"int", 3.5, true},
		{"float", 3, false},
		{"bool", "true", true},
		{"object", map[string]any{"a": 1}, false},
		{"object", []any{}, true},
		{"any", nil, false},
		{"[string]", []any{"a", "b"}, false},
		{"[string]", []any{"a", 2}, true},
		{"[int]", "nope", true},
		{"string?", nil, false},
		{"string", nil, true},
		{"[object]?", []any{map[string]any{}}, false},
	}

	for _, tt := range tests {
		typ, err := ParseType(tt.decl)
		require.NoError(t, err, tt.decl)
		err = typ.Validate(tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s.Validate(%v) error = %v, wantErr %v", tt.decl, tt.value, err, tt.wantErr)
		}
	}
}

func TestParseType_Unsupported(t *testing.T) {
	for _, decl := range []string{"", "date", "[]", "[date]"} {
		_, err := ParseType(decl)
		assert.Error(t, err, decl)
	}
}

func TestSchema_Check(t *testing.T) {
	s, err := Parse(map[string]string{"retries": "int", "plan": "[string]"})
	require.NoError(t, err)

	assert.NoError(t, s.Check("retries", float64(2)))
	assert.NoError(t, s.Check("anything", struct{}{}), "undeclared keys pass")

	err = s.Check("retries", "two")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "retries", verr.Key)
	assert.Contains(t, err.Error(), "expected int, got string")

	var empty Schema
	assert.NoError(t, empty.Check("retries", "two"))
}

func TestSchema_Validate(t *testing.T) {
	s := Schema{
		"a": Int(),
		"b": String(),
		"c": Custom("positive", func(v any) error {
			if n, ok := v.(int); !ok || n <= 0 {
				return errors.New("must be positive")
			}
			return nil
		}),
	}

	assert.NoError(t, s.Validate(map[string]any{"a": 1, "b": "x", "c": 2, "extra": nil}))

	err := s.Validate(map[string]any{"a": "x", "b": 1, "c": -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `key "a"`)
	assert.Contains(t, err.Error(), `key "b"`)
	assert.Contains(t, err.Error(), "must be positive")
}

func TestSchema_Decoding(t *testing.T) {
	var fromYAML struct {
		Schema Schema `yaml:"context_schema"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("context_schema:\n  plan: \"[string]\"\n  owner: string?\n"), &fromYAML))
	assert.Equal(t, map[string]string{"plan": "[string]", "owner": "string?"}, fromYAML.Schema.Declarations())

	var fromJSON Schema
	require.NoError(t, json.Unmarshal([]byte(`{"retries":"int"}`), &fromJSON))
	out, err := json.Marshal(fromJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"retries":"int"}`, string(out))

	err = yaml.Unmarshal([]byte("context_schema:\n  when: date\n"), &fromYAML)
	assert.ErrorContains(t, err, "unsupported type")
}
