package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_FiresAndStops(t *testing.T) {
	s := New()
	var fired atomic.Int32

	err := s.Add(Job{
		ID:   "tick",
		Next: Every(10 * time.Millisecond),
		Run:  func(ctx context.Context) { fired.Add(1) },
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	s.Stop()

	n := fired.Load()
	if n < 2 {
		t.Errorf("fired %d times, want at least 2", n)
	}

	// No firings after Stop.
	time.Sleep(30 * time.Millisecond)
	if fired.Load() != n {
		t.Error("job fired after Stop")
	}
}

func TestScheduler_DuplicateAddRejected(t *testing.T) {
	s := New()
	defer s.Stop()

	job := Job{ID: "x", Next: Every(time.Hour), Run: func(ctx context.Context) {}}
	if err := s.Add(job); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(job); err == nil {
		t.Fatal("duplicate Add() must fail")
	}
	if err := s.Replace(job); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if got := len(s.Jobs()); got != 1 {
		t.Errorf("jobs = %d, want 1", got)
	}
}

func TestScheduler_Remove(t *testing.T) {
	s := New()
	defer s.Stop()

	var fired atomic.Int32
	_ = s.Add(Job{
		ID:   "gone",
		Next: Every(10 * time.Millisecond),
		Run:  func(ctx context.Context) { fired.Add(1) },
	})
	s.Remove("gone")
	before := fired.Load()

	time.Sleep(40 * time.Millisecond)
	if fired.Load() != before {
		t.Error("removed job still fired")
	}
	if len(s.Jobs()) != 0 {
		t.Errorf("jobs = %v, want empty", s.Jobs())
	}
}

func TestScheduler_RetiredJob(t *testing.T) {
	s := New()
	defer s.Stop()

	ran := false
	_ = s.Add(Job{
		ID:   "once",
		Next: func(after time.Time) time.Time { return time.Time{} },
		Run:  func(ctx context.Context) { ran = true },
	})

	time.Sleep(20 * time.Millisecond)
	if ran {
		t.Error("retired job must never run")
	}
}
