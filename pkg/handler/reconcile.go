package handler

// Reconciliation classifies an autonomously discovered parameter map
// against a handler's spec. When required input is still missing or
// invalid, FormSchema describes exactly that subset so a minimal user
// facing form can be rendered.
type Reconciliation struct {
	Discovered     map[string]any `json:"discovered"`
	Missing        []string       `json:"missing,omitempty"`
	Invalid        []string       `json:"invalid,omitempty"`
	FormSchema     map[string]any `json:"form_schema,omitempty"`
	NeedsUserInput bool           `json:"needs_user_input"`
}

// Reconcile compares discovered parameters to the spec list. Accepted keys
// (present and type-valid) land in Discovered; required-but-absent keys in
// Missing; present-but-mistyped keys in Invalid. FormSchema covers the
// missing ∪ invalid subset only.
func Reconcile(specs []ParameterSpec, discovered map[string]any) Reconciliation {
	rec := Reconciliation{
		Discovered: make(map[string]any),
	}

	needsInput := make([]ParameterSpec, 0)

	for _, spec := range specs {
		value, present := discovered[spec.Name]
		if !present {
			if spec.Required {
				rec.Missing = append(rec.Missing, spec.Name)
				needsInput = append(needsInput, spec)
			}
			continue
		}
		if !Compatible(spec.Type, value) {
			rec.Invalid = append(rec.Invalid, spec.Name)
			needsInput = append(needsInput, spec)
			continue
		}
		rec.Discovered[spec.Name] = value
	}

	// Extra discovered keys with no spec pass through untouched; the
	// dispatcher validates leniently by default.
	byName := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = struct{}{}
	}
	for key, value := range discovered {
		if _, known := byName[key]; !known {
			rec.Discovered[key] = value
		}
	}

	if len(needsInput) > 0 {
		rec.NeedsUserInput = true
		rec.FormSchema = FormSchema(needsInput)
	}

	return rec
}

// FormSchema builds a JSON-schema-shaped description for the given specs,
// suitable to render a minimal user-facing form.
func FormSchema(specs []ParameterSpec) map[string]any {
	properties := make(map[string]any, len(specs))
	required := make([]string, 0, len(specs))

	for _, spec := range specs {
		prop := map[string]any{
			"type": schemaType(spec.Type),
		}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		if spec.Default != nil {
			prop["default"] = spec.Default
		}
		if spec.Type == TypeArray && spec.Items != "" {
			prop["items"] = map[string]any{"type": schemaType(spec.Items)}
		}
		properties[spec.Name] = prop

		if spec.Required {
			required = append(required, spec.Name)
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func schemaType(t ParamType) string {
	switch t {
	case TypeAny:
		// JSON schema has no "any"; an absent type constraint is closest,
		// but form renderers want a string, so fall back to string.
		return "string"
	case "":
		return "string"
	default:
		return string(t)
	}
}

// Merge overlays user-supplied values on discovered ones. Rightmost wins:
// a user answer always replaces the agent's guess.
func Merge(discovered, userSupplied map[string]any) map[string]any {
	merged := make(map[string]any, len(discovered)+len(userSupplied))
	for k, v := range discovered {
		merged[k] = v
	}
	for k, v := range userSupplied {
		merged[k] = v
	}
	return merged
}
