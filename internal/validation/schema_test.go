// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

func fields(errs []model.FieldError) map[string]string {
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[e.Field] = e.Code
	}
	return out
}

func TestValidateCollectsAllErrors(t *testing.T) {
	schema := map[string]any{
		"required": []any{"name", "size"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "minLength": 3},
			"size": map[string]any{"type": "integer"},
			"mode": map[string]any{"type": "string", "enum": []any{"fast", "safe"}},
		},
	}
	errs := Validate(map[string]any{"mode": "wild"}, schema)
	got := fields(errs)
	assert.Equal(t, "required", got["name"])
	assert.Equal(t, "required", got["size"])
	assert.Equal(t, "enum", got["mode"])
	assert.Len(t, errs, 3, "every violation reported, not just the first")
}

func TestValidateTypes(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"count":   map[string]any{"type": "integer"},
			"ratio":   map[string]any{"type": "number"},
			"enabled": map[string]any{"type": "boolean"},
			"tags":    map[string]any{"type": "array"},
			"maybe":   map[string]any{"type": []any{"string", "null"}},
		},
	}

	errs := Validate(map[string]any{
		"count":   float64(3), // JSON decoding yields float64
		"ratio":   0.5,
		"enabled": true,
		"tags":    []any{"a"},
		"maybe":   nil,
	}, schema)
	assert.Empty(t, errs)

	errs = Validate(map[string]any{
		"count":   2.5,
		"enabled": "yes",
		"tags":    "not-a-list",
		"maybe":   7,
	}, schema)
	got := fields(errs)
	assert.Equal(t, "type", got["count"], "fractional value is not an integer")
	assert.Equal(t, "type", got["enabled"])
	assert.Equal(t, "type", got["tags"])
	assert.Equal(t, "type", got["maybe"])
}

func TestValidateStringConstraints(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"id":   map[string]any{"type": "string", "pattern": "^[a-z0-9-]+$"},
			"note": map[string]any{"type": "string", "maxLength": 4},
		},
	}

	errs := Validate(map[string]any{"id": "OK_not", "note": "too long"}, schema)
	got := fields(errs)
	assert.Equal(t, "pattern", got["id"])
	assert.Equal(t, "max_length", got["note"])

	errs = Validate(map[string]any{"id": "abc-123", "note": "ok"}, schema)
	assert.Empty(t, errs)
}

func TestValidateNumberBounds(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"priority": map[string]any{"type": "integer", "minimum": 0, "maximum": 9},
		},
	}
	errs := Validate(map[string]any{"priority": float64(12)}, schema)
	require.Len(t, errs, 1)
	assert.Equal(t, "maximum", errs[0].Code)

	errs = Validate(map[string]any{"priority": float64(-1)}, schema)
	require.Len(t, errs, 1)
	assert.Equal(t, "minimum", errs[0].Code)
}

func TestValidateNestedPaths(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"target": map[string]any{
				"type":     "object",
				"required": []any{"host"},
				"properties": map[string]any{
					"host": map[string]any{"type": "string", "minLength": 1},
					"port": map[string]any{"type": "integer", "minimum": 1},
				},
			},
			"steps": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":     "object",
					"required": []any{"name"},
				},
			},
		},
	}

	errs := Validate(map[string]any{
		"target": map[string]any{"port": float64(0)},
		"steps":  []any{map[string]any{}},
	}, schema)
	got := fields(errs)
	assert.Equal(t, "required", got["target.host"])
	assert.Equal(t, "minimum", got["target.port"])
	assert.Equal(t, "required", got["steps[0].name"])

	errs = Validate(map[string]any{
		"target": map[string]any{"host": "db1", "port": float64(5432)},
		"steps":  []any{},
	}, schema)
	got = fields(errs)
	assert.Equal(t, "min_items", got["steps"])
}

func TestAsError(t *testing.T) {
	assert.NoError(t, AsError(nil))

	err := AsError([]model.FieldError{{Field: "x", Code: "type", Message: "bad"}})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
	assert.Contains(t, err.Error(), "x: bad (type)")
}
