package llm

import (
	"context"
	"testing"
	"time"
)

func TestCachingProvider_HitAndMiss(t *testing.T) {
	inner := &fakeProvider{name: "openai"}
	cache := NewCachingProvider(inner, time.Minute)
	ctx := context.Background()

	req := &Request{Model: "gpt-4o", Messages: []Message{{Role: RoleUser, Content: "hi"}}}

	if _, err := cache.Chat(ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Chat(ctx, req); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1 (second is a hit)", inner.calls)
	}

	// A changed temperature is a different key.
	warm := &Request{Model: "gpt-4o", Temperature: 0.9,
		Messages: []Message{{Role: RoleUser, Content: "hi"}}}
	if _, err := cache.Chat(ctx, warm); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
}

func TestCachingProvider_TTLExpiry(t *testing.T) {
	inner := &fakeProvider{name: "openai"}
	cache := NewCachingProvider(inner, time.Minute)
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	ctx := context.Background()
	req := &Request{Model: "gpt-4o", Messages: []Message{{Role: RoleUser, Content: "hi"}}}

	if _, err := cache.Chat(ctx, req); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(2 * time.Minute)
	if _, err := cache.Chat(ctx, req); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2 after expiry", inner.calls)
	}
}

func TestCachingProvider_ToolRequestsBypass(t *testing.T) {
	inner := &fakeProvider{name: "openai"}
	cache := NewCachingProvider(inner, time.Minute)
	ctx := context.Background()

	req := &Request{
		Model:    "gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Tools:    []ToolDefinition{{Name: "echo"}},
	}

	for i := 0; i < 3; i++ {
		if _, err := cache.Chat(ctx, req); err != nil {
			t.Fatal(err)
		}
	}
	if inner.calls != 3 {
		t.Errorf("inner calls = %d, want 3 (tools bypass cache)", inner.calls)
	}
}
