package memory

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestBufferStore_WindowEviction(t *testing.T) {
	store := NewBufferStore()
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		item := ShortTermItem{
			Tool:      fmt.Sprintf("tool-%d", i),
			Timestamp: time.Now(),
		}
		if err := store.Append(ctx, "agent-1", item, 5); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	items, err := store.Load(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("len = %d, want 5", len(items))
	}
	if items[0].Tool != "tool-2" || items[4].Tool != "tool-6" {
		t.Errorf("window = %s..%s, want tool-2..tool-6", items[0].Tool, items[4].Tool)
	}
}

func TestBufferStore_AgentsIsolated(t *testing.T) {
	store := NewBufferStore()
	ctx := context.Background()

	if err := store.Append(ctx, "a", ShortTermItem{Tool: "x"}, 0); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, "b", ShortTermItem{Tool: "y"}, 0); err != nil {
		t.Fatal(err)
	}

	items, _ := store.Load(ctx, "a")
	if len(items) != 1 || items[0].Tool != "x" {
		t.Errorf("agent a sees %+v", items)
	}

	if err := store.Clear(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	items, _ = store.Load(ctx, "a")
	if len(items) != 0 {
		t.Errorf("cleared buffer has %d items", len(items))
	}
	items, _ = store.Load(ctx, "b")
	if len(items) != 1 {
		t.Errorf("agent b lost its buffer")
	}
}
