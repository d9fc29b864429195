package memory

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestEpisodeScore_Decay(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		ageHours    float64
		importance  float64
		accessCount int
		want        float64
	}{
		{name: "fresh", ageHours: 0, importance: 0.8, want: 0.8},
		{name: "one week", ageHours: 168, importance: 0.8, want: 0.8 * math.Exp(-1)},
		{name: "two weeks", ageHours: 336, importance: 0.8, want: 0.8 * math.Exp(-2)},
		{name: "access slows decay", ageHours: 336, importance: 0.8, accessCount: 7, want: 0.8 * math.Exp(-336.0/336.0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := &Episode{
				Importance:  tt.importance,
				AccessCount: tt.accessCount,
				CreatedAt:   created,
			}
			now := created.Add(time.Duration(tt.ageHours * float64(time.Hour)))
			got := ep.Score(now)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEpisodeScore_RecentAccessBoost(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created.Add(168 * time.Hour)

	ep := &Episode{
		Importance:   0.8,
		AccessCount:  1,
		CreatedAt:    created,
		LastAccessed: now.Add(-30 * time.Minute),
	}

	base := 0.8 * math.Exp(-168.0/(168.0+24.0))
	got := ep.Score(now)
	if math.Abs(got-base*1.2) > 1e-9 {
		t.Errorf("Score() = %v, want boosted %v", got, base*1.2)
	}
	if got > 1.2*ep.Importance {
		t.Errorf("boosted score %v exceeds cap %v", got, 1.2*ep.Importance)
	}
}

func TestEpisodicStore_RetrieveThresholdAndOrder(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewEpisodicStoreWithClock(func() time.Time { return clock })
	ctx := context.Background()

	if _, err := store.Record(ctx, "agent-1", "deploy failed on staging", 0.9, []string{"deploy"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Record(ctx, "agent-1", "deploy retried successfully", 0.5, []string{"deploy"}); err != nil {
		t.Fatal(err)
	}
	// Low importance decays below the threshold within two days.
	if _, err := store.Record(ctx, "agent-1", "deploy log rotated", 0.35, nil); err != nil {
		t.Fatal(err)
	}

	clock = clock.Add(48 * time.Hour)

	eps, err := store.Retrieve(ctx, "agent-1", "deploy", 0, 10)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("len = %d, want 2 (one decayed out)", len(eps))
	}
	if eps[0].Content != "deploy failed on staging" {
		t.Errorf("first = %q, want highest-scoring episode", eps[0].Content)
	}
	if eps[0].AccessCount != 1 {
		t.Errorf("access count = %d, want 1 after retrieval", eps[0].AccessCount)
	}
}

func TestEpisodicStore_TimeWindow(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewEpisodicStoreWithClock(func() time.Time { return clock })
	ctx := context.Background()

	_, _ = store.Record(ctx, "agent-1", "old incident", 1.0, nil)
	clock = clock.Add(48 * time.Hour)
	_, _ = store.Record(ctx, "agent-1", "new incident", 1.0, nil)

	eps, err := store.Retrieve(ctx, "agent-1", "incident", 24, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 1 || eps[0].Content != "new incident" {
		t.Errorf("window retrieval = %+v, want only the new incident", eps)
	}
}

func TestEpisodicStore_Consolidate(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewEpisodicStoreWithClock(func() time.Time { return clock })
	ctx := context.Background()

	_, _ = store.Record(ctx, "agent-1", "faded note", 0.31, nil)
	_, _ = store.Record(ctx, "agent-1", "important decision", 0.95, nil)

	// Fresh episodes are never consolidated.
	removed, err := store.Consolidate(ctx, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Fatalf("removed %d fresh episodes", removed)
	}

	// After two days the weak episode has decayed below the threshold while
	// the strong one is still well above it.
	clock = clock.Add(48 * time.Hour)

	removed, err = store.Consolidate(ctx, "agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if store.Count("agent-1") != 1 {
		t.Errorf("count = %d, want the important episode kept", store.Count("agent-1"))
	}
}
