package handler

import (
	"testing"
)

func specsForTest() []ParameterSpec {
	return []ParameterSpec{
		{Name: "url", Type: TypeString, Required: true},
		{Name: "method", Type: TypeString, Required: false, Default: "GET"},
		{Name: "timeout", Type: TypeInteger, Required: false},
		{Name: "headers", Type: TypeObject, Required: false},
		{Name: "follow", Type: TypeBoolean, Required: false},
	}
}

func TestValidate_AllValid(t *testing.T) {
	params := map[string]any{
		"url":     "https://example.test",
		"method":  "POST",
		"timeout": 30,
	}

	result := Validate(specsForTest(), params, false)
	if !result.Valid {
		t.Errorf("expected valid result, got %+v", result)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	result := Validate(specsForTest(), map[string]any{"method": "GET"}, false)

	if result.Valid {
		t.Error("expected invalid result")
	}
	if len(result.MissingRequired) != 1 || result.MissingRequired[0] != "url" {
		t.Errorf("missing_required = %v, want [url]", result.MissingRequired)
	}
}

func TestValidate_InvalidType(t *testing.T) {
	params := map[string]any{
		"url":     "https://example.test",
		"timeout": "thirty",
	}

	result := Validate(specsForTest(), params, false)
	if result.Valid {
		t.Error("expected invalid result")
	}
	if len(result.InvalidTypes) != 1 {
		t.Fatalf("invalid_types = %v, want one entry", result.InvalidTypes)
	}
	m := result.InvalidTypes[0]
	if m.Name != "timeout" || m.Expected != "integer" || m.Actual != "string" {
		t.Errorf("mismatch = %+v", m)
	}
}

func TestValidate_StrictModeUnexpected(t *testing.T) {
	params := map[string]any{
		"url":   "https://example.test",
		"extra": 1,
	}

	lenient := Validate(specsForTest(), params, false)
	if !lenient.Valid {
		t.Errorf("lenient mode should accept extra keys, got %+v", lenient)
	}

	strict := Validate(specsForTest(), params, true)
	if strict.Valid {
		t.Error("strict mode should reject extra keys")
	}
	if len(strict.Unexpected) != 1 || strict.Unexpected[0] != "extra" {
		t.Errorf("unexpected = %v, want [extra]", strict.Unexpected)
	}
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		name  string
		t     ParamType
		value any
		want  bool
	}{
		{"string ok", TypeString, "x", true},
		{"string vs int", TypeString, 1, false},
		{"integer from int", TypeInteger, 42, true},
		{"integer from whole float64", TypeInteger, float64(42), true},
		{"integer from fractional float64", TypeInteger, 42.5, false},
		{"number from float", TypeNumber, 3.14, true},
		{"number from int", TypeNumber, 3, true},
		{"boolean ok", TypeBoolean, true, true},
		{"array outer kind only", TypeArray, []any{1, "a"}, true},
		{"array from typed slice", TypeArray, []string{"a"}, true},
		{"object outer kind only", TypeObject, map[string]any{"k": 1}, true},
		{"any accepts everything", TypeAny, struct{}{}, true},
		{"nil satisfies any", TypeAny, nil, true},
		{"nil rejected for string", TypeString, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compatible(tt.t, tt.value); got != tt.want {
				t.Errorf("Compatible(%s, %#v) = %v, want %v", tt.t, tt.value, got, tt.want)
			}
		})
	}
}
