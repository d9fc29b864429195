package handler

import (
	"math"
	"reflect"
)

// TypeMismatch reports a parameter present with an incompatible type.
type TypeMismatch struct {
	Name     string `json:"name"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// ValidationResult is produced for every dispatch.
type ValidationResult struct {
	Valid           bool           `json:"valid"`
	MissingRequired []string       `json:"missing_required,omitempty"`
	InvalidTypes    []TypeMismatch `json:"invalid_types,omitempty"`
	Unexpected      []string       `json:"unexpected,omitempty"`
}

// Validate checks a provided parameter map against the handler's spec list.
// In strict mode, keys with no matching spec are reported as unexpected;
// the default is lenient so extra keys pass through to the handler.
func Validate(specs []ParameterSpec, params map[string]any, strict bool) ValidationResult {
	result := ValidationResult{Valid: true}

	byName := make(map[string]ParameterSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}

	for _, spec := range specs {
		value, present := params[spec.Name]
		if !present {
			if spec.Required {
				result.MissingRequired = append(result.MissingRequired, spec.Name)
				result.Valid = false
			}
			continue
		}
		if !Compatible(spec.Type, value) {
			result.InvalidTypes = append(result.InvalidTypes, TypeMismatch{
				Name:     spec.Name,
				Expected: string(spec.Type),
				Actual:   typeName(value),
			})
			result.Valid = false
		}
	}

	if strict {
		for key := range params {
			if _, known := byName[key]; !known {
				result.Unexpected = append(result.Unexpected, key)
				result.Valid = false
			}
		}
	}

	return result
}

// Compatible reports whether a runtime value satisfies a declared type.
// Primitive kinds match by identity; integer additionally accepts whole
// float64 values because JSON decoding produces float64 for all numbers.
// Containers check the outer kind only.
func Compatible(t ParamType, value any) bool {
	if value == nil {
		// nil satisfies only object, array, and any; a present-but-nil
		// primitive is a type error.
		return t == TypeAny || t == TypeObject || t == TypeArray
	}

	switch t {
	case TypeAny:
		return true
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeInteger:
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return v == math.Trunc(v)
		case float32:
			return float64(v) == math.Trunc(float64(v))
		default:
			return false
		}
	case TypeNumber:
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		default:
			return false
		}
	case TypeArray:
		kind := reflect.TypeOf(value).Kind()
		return kind == reflect.Slice || kind == reflect.Array
	case TypeObject:
		return reflect.TypeOf(value).Kind() == reflect.Map
	default:
		return false
	}
}

func typeName(value any) string {
	if value == nil {
		return "null"
	}
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32, float64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		kind := reflect.TypeOf(value).Kind()
		switch kind {
		case reflect.Slice, reflect.Array:
			return "array"
		case reflect.Map:
			return "object"
		default:
			return kind.String()
		}
	}
}
