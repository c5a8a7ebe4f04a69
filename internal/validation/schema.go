// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package validation implements the self-contained schema validator used for
// order payloads, submissions and parts. It understands a JSON-schema-like
// subset and collects every error instead of failing fast.
package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"

	"github.com/ManuGH/foreman/internal/domain/work/model"
)

// Validate checks value against schema and returns all violations.
// Unknown schema keys are ignored.
func Validate(value map[string]any, schema map[string]any) []model.FieldError {
	var errs []model.FieldError
	validateObject("", value, schema, &errs)
	return errs
}

// AsError converts a non-empty error list into a *model.ValidationError.
func AsError(errs []model.FieldError) error {
	if len(errs) == 0 {
		return nil
	}
	return &model.ValidationError{Errors: errs}
}

func validateObject(path string, value map[string]any, schema map[string]any, errs *[]model.FieldError) {
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := value[name]; !present {
				*errs = append(*errs, model.FieldError{
					Field:   join(path, name),
					Code:    "required",
					Message: "field is required",
				})
			}
		}
	} else if req, ok := schema["required"].([]string); ok {
		for _, name := range req {
			if _, present := value[name]; !present {
				*errs = append(*errs, model.FieldError{
					Field:   join(path, name),
					Code:    "required",
					Message: "field is required",
				})
			}
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for name, raw := range props {
		sub, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		v, present := value[name]
		if !present {
			continue
		}
		validateValue(join(path, name), v, sub, errs)
	}
}

func validateValue(path string, value any, schema map[string]any, errs *[]model.FieldError) {
	if !checkType(path, value, schema, errs) {
		return
	}

	if enum, ok := schema["enum"].([]any); ok {
		found := false
		for _, candidate := range enum {
			if looseEqual(value, candidate) {
				found = true
				break
			}
		}
		if !found {
			*errs = append(*errs, model.FieldError{
				Field:   path,
				Code:    "enum",
				Message: fmt.Sprintf("value %v is not one of the allowed values", value),
			})
		}
	}

	switch v := value.(type) {
	case string:
		validateString(path, v, schema, errs)
	case []any:
		validateArray(path, v, schema, errs)
	case map[string]any:
		validateObject(path, v, schema, errs)
	default:
		if n, ok := asFloat(value); ok {
			validateNumber(path, n, schema, errs)
		}
	}
}

func validateString(path, v string, schema map[string]any, errs *[]model.FieldError) {
	if min, ok := asInt(schema["minLength"]); ok && len(v) < min {
		*errs = append(*errs, model.FieldError{
			Field: path, Code: "min_length",
			Message: fmt.Sprintf("length %d is below minimum %d", len(v), min),
		})
	}
	if max, ok := asInt(schema["maxLength"]); ok && len(v) > max {
		*errs = append(*errs, model.FieldError{
			Field: path, Code: "max_length",
			Message: fmt.Sprintf("length %d exceeds maximum %d", len(v), max),
		})
	}
	if pattern, ok := schema["pattern"].(string); ok && pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			*errs = append(*errs, model.FieldError{
				Field: path, Code: "pattern_invalid",
				Message: "schema pattern does not compile: " + err.Error(),
			})
		} else if !re.MatchString(v) {
			*errs = append(*errs, model.FieldError{
				Field: path, Code: "pattern",
				Message: fmt.Sprintf("value does not match pattern %q", pattern),
			})
		}
	}
}

func validateNumber(path string, v float64, schema map[string]any, errs *[]model.FieldError) {
	if min, ok := asFloat(schema["minimum"]); ok && v < min {
		*errs = append(*errs, model.FieldError{
			Field: path, Code: "minimum",
			Message: fmt.Sprintf("value %v is below minimum %v", v, min),
		})
	}
	if max, ok := asFloat(schema["maximum"]); ok && v > max {
		*errs = append(*errs, model.FieldError{
			Field: path, Code: "maximum",
			Message: fmt.Sprintf("value %v exceeds maximum %v", v, max),
		})
	}
}

func validateArray(path string, v []any, schema map[string]any, errs *[]model.FieldError) {
	if min, ok := asInt(schema["minItems"]); ok && len(v) < min {
		*errs = append(*errs, model.FieldError{
			Field: path, Code: "min_items",
			Message: fmt.Sprintf("array has %d items, minimum is %d", len(v), min),
		})
	}
	if max, ok := asInt(schema["maxItems"]); ok && len(v) > max {
		*errs = append(*errs, model.FieldError{
			Field: path, Code: "max_items",
			Message: fmt.Sprintf("array has %d items, maximum is %d", len(v), max),
		})
	}
	switch items := schema["items"].(type) {
	case map[string]any:
		for i, elem := range v {
			validateValue(fmt.Sprintf("%s[%d]", path, i), elem, items, errs)
		}
	case []any:
		// Tuple form: one schema per position.
		for i, elem := range v {
			if i >= len(items) {
				break
			}
			sub, ok := items[i].(map[string]any)
			if !ok {
				continue
			}
			validateValue(fmt.Sprintf("%s[%d]", path, i), elem, sub, errs)
		}
	}
}

// checkType validates the declared "type" (string or list of strings).
// Returns false when the value's type is wrong; deeper checks are skipped then.
func checkType(path string, value any, schema map[string]any, errs *[]model.FieldError) bool {
	var wanted []string
	switch t := schema["type"].(type) {
	case string:
		wanted = []string{t}
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				wanted = append(wanted, s)
			}
		}
	case []string:
		wanted = t
	default:
		return true
	}
	for _, w := range wanted {
		if matchesType(value, w) {
			return true
		}
	}
	*errs = append(*errs, model.FieldError{
		Field: path, Code: "type",
		Message: fmt.Sprintf("expected type %v, got %T", wanted, value),
	})
	return false
}

func matchesType(value any, typ string) bool {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	case "number":
		_, ok := asFloat(value)
		return ok
	case "integer":
		// Any numeric whose truncation equals itself counts as integer.
		n, ok := asFloat(value)
		return ok && math.Trunc(n) == n
	}
	return false
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok || math.Trunc(f) != f {
		return 0, false
	}
	return int(f), true
}

func looseEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}
