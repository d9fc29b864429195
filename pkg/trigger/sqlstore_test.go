package trigger

import (
	"context"
	"testing"

	"github.com/kyra-dev/kyra/pkg/store"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := store.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLStore(db, "sqlite")
	if err != nil {
		t.Fatalf("NewSQLStore() error = %v", err)
	}
	return s
}

func TestSQLStore_SaveGetRoundTrip(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	reg := &Registration{
		ID:     "reg-1",
		FlowID: "flow-1",
		UserID: "user-1",
		Type:   TypeCron,
		State:  StateArmed,
		Args:   map[string]any{"cron_expression": "0 9 * * *"},
		Tokens: map[string]any{"job_id": "cron:flow-1"},
	}
	if err := s.Save(ctx, reg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Get(ctx, "reg-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.FlowID != "flow-1" || got.Type != TypeCron || got.State != StateArmed {
		t.Errorf("got = %+v", got)
	}
	if got.Args["cron_expression"] != "0 9 * * *" {
		t.Errorf("args = %+v", got.Args)
	}

	if _, err := s.Get(ctx, "ghost"); err != ErrNotFound {
		t.Errorf("Get(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestSQLStore_SaveReplacesByID(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	reg := &Registration{ID: "reg-1", FlowID: "flow-1", UserID: "u", Type: TypeCron, State: StateArmed,
		Args: map[string]any{"cron_expression": "0 9 * * *"}}
	if err := s.Save(ctx, reg); err != nil {
		t.Fatal(err)
	}

	reg.Args = map[string]any{"cron_expression": "*/5 * * * *"}
	if err := s.Save(ctx, reg); err != nil {
		t.Fatalf("upsert error = %v", err)
	}

	got, _ := s.Get(ctx, "reg-1")
	if got.Args["cron_expression"] != "*/5 * * * *" {
		t.Errorf("args after upsert = %+v", got.Args)
	}

	regs, err := s.List(ctx, StateArmed)
	if err != nil {
		t.Fatal(err)
	}
	if len(regs) != 1 {
		t.Errorf("list = %d rows, want 1", len(regs))
	}
}

func TestSQLStore_GetByFlow(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	_ = s.Save(ctx, &Registration{ID: "a", FlowID: "flow-1", UserID: "u", Type: TypeCron, State: StateArmed})
	_ = s.Save(ctx, &Registration{ID: "b", FlowID: "flow-1", UserID: "u", Type: TypeWebhook, State: StateArmed})

	got, err := s.GetByFlow(ctx, "flow-1", TypeWebhook)
	if err != nil {
		t.Fatalf("GetByFlow() error = %v", err)
	}
	if got.ID != "b" {
		t.Errorf("got %s, want b", got.ID)
	}

	if _, err := s.GetByFlow(ctx, "flow-2", TypeCron); err != ErrNotFound {
		t.Errorf("GetByFlow(flow-2) error = %v, want ErrNotFound", err)
	}
}

func TestSQLStore_SaveTokensAndState(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	_ = s.Save(ctx, &Registration{ID: "reg-1", FlowID: "f", UserID: "u", Type: TypeGmail, State: StateArmed,
		Tokens: map[string]any{"resume_token": "100"}})

	if err := s.SaveTokens(ctx, "reg-1", map[string]any{"resume_token": "205"}); err != nil {
		t.Fatalf("SaveTokens() error = %v", err)
	}
	got, _ := s.Get(ctx, "reg-1")
	if got.Tokens["resume_token"] != "205" {
		t.Errorf("tokens = %+v", got.Tokens)
	}

	if err := s.SaveTokens(ctx, "ghost", nil); err != ErrNotFound {
		t.Errorf("SaveTokens(ghost) error = %v, want ErrNotFound", err)
	}

	if err := s.SetState(ctx, "reg-1", StateDisarmed); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	got, _ = s.Get(ctx, "reg-1")
	if got.State != StateDisarmed {
		t.Errorf("state = %s", got.State)
	}

	// disarmed -> failed is not a legal transition.
	if err := s.SetState(ctx, "reg-1", StateFailed); err == nil {
		t.Error("illegal transition accepted")
	}
}

func TestSQLStore_WebhookEventLog(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	err := s.LogWebhookEvent(ctx, &WebhookEvent{
		FlowID:  "flow-1",
		Path:    "/webhooks/tok",
		Method:  "POST",
		Body:    `{"n": 7}`,
		Headers: map[string]string{"Content-Type": "application/json"},
	})
	if err != nil {
		t.Fatalf("LogWebhookEvent() error = %v", err)
	}

	events, err := s.WebhookEvents(ctx, "flow-1", 10)
	if err != nil {
		t.Fatalf("WebhookEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Method != "POST" || ev.Body != `{"n": 7}` || ev.Headers["Content-Type"] != "application/json" {
		t.Errorf("event = %+v", ev)
	}
	if ev.ReceivedAt.IsZero() {
		t.Error("received_at not backfilled")
	}
}
