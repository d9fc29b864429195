package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kyra-dev/kyra/pkg/handler"
)

// TransformHandler applies a small set of data-shaping operations to a
// step's input so flows can adapt payloads between connectors without
// custom code.
type TransformHandler struct{}

func (h *TransformHandler) Info() handler.Info {
	return handler.Info{
		Name:        "Transform.apply",
		Description: "Reshape data between flow steps",
		Kind:        handler.KindNode,
		Parameters: []handler.ParameterSpec{
			{Name: "operation", Type: handler.TypeString, Required: true,
				Description: "pick, merge, template, json_parse, json_encode, uppercase, lowercase, trim"},
			{Name: "input", Type: handler.TypeAny, Required: true},
			{Name: "fields", Type: handler.TypeArray, Items: handler.TypeString,
				Description: "Field names for pick"},
			{Name: "with", Type: handler.TypeObject,
				Description: "Values to merge over the input"},
			{Name: "template", Type: handler.TypeString,
				Description: "Text with {{field}} placeholders resolved from the input"},
		},
	}
}

func (h *TransformHandler) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	op, _ := params["operation"].(string)
	input := params["input"]

	switch op {
	case "pick":
		obj, ok := input.(map[string]any)
		if !ok {
			return handler.Errorf("pick requires an object input"), nil
		}
		fields, err := stringSlice(params["fields"])
		if err != nil {
			return handler.Errorf("pick requires a fields list: %v", err), nil
		}
		out := make(map[string]any, len(fields))
		for _, f := range fields {
			if v, ok := obj[f]; ok {
				out[f] = v
			}
		}
		return handler.Success(out), nil

	case "merge":
		obj, ok := input.(map[string]any)
		if !ok {
			return handler.Errorf("merge requires an object input"), nil
		}
		with, _ := params["with"].(map[string]any)
		return handler.Success(handler.Merge(obj, with)), nil

	case "template":
		tmpl, _ := params["template"].(string)
		if tmpl == "" {
			return handler.Errorf("template operation requires a template"), nil
		}
		obj, _ := input.(map[string]any)
		return handler.Success(renderTemplate(tmpl, obj)), nil

	case "json_parse":
		raw, ok := input.(string)
		if !ok {
			return handler.Errorf("json_parse requires a string input"), nil
		}
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return handler.Errorf("invalid JSON: %v", err), nil
		}
		return handler.Success(parsed), nil

	case "json_encode":
		encoded, err := json.Marshal(input)
		if err != nil {
			return handler.Errorf("unserializable input: %v", err), nil
		}
		return handler.Success(string(encoded)), nil

	case "uppercase", "lowercase", "trim":
		s, ok := input.(string)
		if !ok {
			return handler.Errorf("%s requires a string input", op), nil
		}
		switch op {
		case "uppercase":
			s = strings.ToUpper(s)
		case "lowercase":
			s = strings.ToLower(s)
		case "trim":
			s = strings.TrimSpace(s)
		}
		return handler.Success(s), nil

	default:
		return handler.Errorf("unknown operation: %q", op), nil
	}
}

// renderTemplate substitutes {{field}} placeholders from data. Unknown
// fields render empty.
func renderTemplate(tmpl string, data map[string]any) string {
	var b strings.Builder
	for {
		start := strings.Index(tmpl, "{{")
		if start == -1 {
			b.WriteString(tmpl)
			break
		}
		end := strings.Index(tmpl[start:], "}}")
		if end == -1 {
			b.WriteString(tmpl)
			break
		}
		b.WriteString(tmpl[:start])
		field := strings.TrimSpace(tmpl[start+2 : start+end])
		if v, ok := data[field]; ok {
			b.WriteString(fmt.Sprintf("%v", v))
		}
		tmpl = tmpl[start+end+2:]
	}
	return b.String()
}

func stringSlice(v any) ([]string, error) {
	switch vals := v.(type) {
	case []string:
		return vals, nil
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("non-string element %v", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
}

var _ handler.Handler = (*TransformHandler)(nil)
