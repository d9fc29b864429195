package redact

import (
	"testing"
)

func TestSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"Authorization", true},
		{"api_key", true},
		{"APIKey", true},
		{"bot_token", true},
		{"client_secret", true},
		{"credentials", true},
		{"url", false},
		{"method", false},
		{"chat_id", false},
	}

	for _, tt := range tests {
		if got := SensitiveKey(tt.key); got != tt.want {
			t.Errorf("SensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestMap_Nested(t *testing.T) {
	in := map[string]any{
		"url": "https://example.test",
		"headers": map[string]any{
			"Authorization": "Bearer abc123",
			"Accept":        "application/json",
		},
		"items": []any{
			map[string]any{"token": "t1", "name": "n1"},
		},
	}

	out := Map(in)

	headers := out["headers"].(map[string]any)
	if headers["Authorization"] != Mask {
		t.Errorf("expected Authorization to be masked, got %v", headers["Authorization"])
	}
	if headers["Accept"] != "application/json" {
		t.Errorf("expected Accept to pass through, got %v", headers["Accept"])
	}

	item := out["items"].([]any)[0].(map[string]any)
	if item["token"] != Mask {
		t.Errorf("expected token to be masked, got %v", item["token"])
	}
	if item["name"] != "n1" {
		t.Errorf("expected name to pass through, got %v", item["name"])
	}

	// Input must not be mutated.
	if in["headers"].(map[string]any)["Authorization"] != "Bearer abc123" {
		t.Error("input map was mutated")
	}
}
