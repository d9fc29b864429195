package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kyra-dev/kyra/pkg/store"
)

func newTestLongTermStore(t *testing.T) *SQLLongTermStore {
	t.Helper()
	db, err := store.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLLongTermStore(db, "sqlite")
	if err != nil {
		t.Fatalf("NewSQLLongTermStore() error = %v", err)
	}
	return s
}

func TestSQLLongTermStore_RecordAndHistory(t *testing.T) {
	s := newTestLongTermStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, prompt := range []string{"first", "second", "third"} {
		err := s.Record(ctx, LongTermItem{
			AgentID:   "researcher",
			SessionID: "s1",
			Prompt:    prompt,
			Response:  "ok",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := s.Record(ctx, LongTermItem{AgentID: "other", Prompt: "x", Response: "y"}); err != nil {
		t.Fatal(err)
	}

	items, err := s.History(ctx, "researcher", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("History() returned %d items, want 2", len(items))
	}
	if items[0].Prompt != "third" || items[1].Prompt != "second" {
		t.Errorf("History() order = %q, %q", items[0].Prompt, items[1].Prompt)
	}
	if items[0].SessionID != "s1" {
		t.Errorf("SessionID = %q", items[0].SessionID)
	}
}

func TestSQLLongTermStore_RequiresAgentID(t *testing.T) {
	s := newTestLongTermStore(t)
	if err := s.Record(context.Background(), LongTermItem{Prompt: "p"}); err == nil {
		t.Error("Record() accepted empty agent_id")
	}
}

func TestSQLLongTermStore_EmptyHistory(t *testing.T) {
	s := newTestLongTermStore(t)
	items, err := s.History(context.Background(), "ghost", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("History() returned %d items for unknown agent", len(items))
	}
}
