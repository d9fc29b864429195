package trigger

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// FormPayload is the canonical shape form webhooks reduce provider
// payloads to before flow invocation.
type FormPayload struct {
	FormData map[string]any `json:"form_data"`
	Metadata map[string]any `json:"metadata"`
}

// ParseFormPayload normalizes a provider-specific form submission.
// Recognized providers: typeform, google_forms, jotform, tally. Anything
// else falls through to the generic parser.
func ParseFormPayload(provider string, contentType string, body []byte) (*FormPayload, error) {
	switch strings.ToLower(provider) {
	case "typeform":
		return parseTypeform(body)
	case "google_forms":
		return parseGoogleForms(body)
	case "jotform":
		return parseJotform(contentType, body)
	case "tally":
		return parseTally(body)
	default:
		return parseGeneric(contentType, body)
	}
}

func parseTypeform(body []byte) (*FormPayload, error) {
	var payload struct {
		EventID  string `json:"event_id"`
		FormResp struct {
			FormID      string `json:"form_id"`
			SubmittedAt string `json:"submitted_at"`
			Answers     []struct {
				Type  string   `json:"type"`
				Text  string   `json:"text"`
				Email string   `json:"email"`
				Num   *float64 `json:"number"`
				Bool  *bool    `json:"boolean"`
				Field struct {
					Ref string `json:"ref"`
					ID  string `json:"id"`
				} `json:"field"`
			} `json:"answers"`
		} `json:"form_response"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid typeform payload: %w", err)
	}

	formData := make(map[string]any)
	for _, a := range payload.FormResp.Answers {
		key := a.Field.Ref
		if key == "" {
			key = a.Field.ID
		}
		switch {
		case a.Num != nil:
			formData[key] = *a.Num
		case a.Bool != nil:
			formData[key] = *a.Bool
		case a.Email != "":
			formData[key] = a.Email
		default:
			formData[key] = a.Text
		}
	}

	return &FormPayload{
		FormData: formData,
		Metadata: map[string]any{
			"provider":     "typeform",
			"event_id":     payload.EventID,
			"form_id":      payload.FormResp.FormID,
			"submitted_at": payload.FormResp.SubmittedAt,
		},
	}, nil
}

func parseGoogleForms(body []byte) (*FormPayload, error) {
	var payload struct {
		FormID    string         `json:"formId"`
		Responses map[string]any `json:"responses"`
		Timestamp string         `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid google forms payload: %w", err)
	}
	if payload.Responses == nil {
		payload.Responses = make(map[string]any)
	}
	return &FormPayload{
		FormData: payload.Responses,
		Metadata: map[string]any{
			"provider":  "google_forms",
			"form_id":   payload.FormID,
			"timestamp": payload.Timestamp,
		},
	}, nil
}

func parseJotform(contentType string, body []byte) (*FormPayload, error) {
	// Jotform posts urlencoded with a rawRequest JSON field.
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("invalid jotform payload: %w", err)
		}
		formData := make(map[string]any)
		if raw := values.Get("rawRequest"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &formData); err != nil {
				return nil, fmt.Errorf("invalid jotform rawRequest: %w", err)
			}
		} else {
			for k := range values {
				formData[k] = values.Get(k)
			}
		}
		return &FormPayload{
			FormData: formData,
			Metadata: map[string]any{
				"provider":      "jotform",
				"form_id":       values.Get("formID"),
				"submission_id": values.Get("submissionID"),
			},
		}, nil
	}

	var formData map[string]any
	if err := json.Unmarshal(body, &formData); err != nil {
		return nil, fmt.Errorf("invalid jotform payload: %w", err)
	}
	return &FormPayload{
		FormData: formData,
		Metadata: map[string]any{"provider": "jotform"},
	}, nil
}

func parseTally(body []byte) (*FormPayload, error) {
	var payload struct {
		EventID   string `json:"eventId"`
		CreatedAt string `json:"createdAt"`
		Data      struct {
			FormID string `json:"formId"`
			Fields []struct {
				Key   string `json:"key"`
				Label string `json:"label"`
				Value any    `json:"value"`
			} `json:"fields"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid tally payload: %w", err)
	}

	formData := make(map[string]any)
	for _, f := range payload.Data.Fields {
		key := f.Label
		if key == "" {
			key = f.Key
		}
		formData[key] = f.Value
	}
	return &FormPayload{
		FormData: formData,
		Metadata: map[string]any{
			"provider":   "tally",
			"event_id":   payload.EventID,
			"form_id":    payload.Data.FormID,
			"created_at": payload.CreatedAt,
		},
	}, nil
}

// parseGeneric accepts JSON objects or urlencoded forms.
func parseGeneric(contentType string, body []byte) (*FormPayload, error) {
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("invalid form payload: %w", err)
		}
		formData := make(map[string]any, len(values))
		for k := range values {
			formData[k] = values.Get(k)
		}
		return &FormPayload{
			FormData: formData,
			Metadata: map[string]any{"provider": "generic"},
		}, nil
	}

	var formData map[string]any
	if err := json.Unmarshal(body, &formData); err != nil {
		return nil, fmt.Errorf("invalid form payload: %w", err)
	}
	return &FormPayload{
		FormData: formData,
		Metadata: map[string]any{"provider": "generic"},
	}, nil
}
