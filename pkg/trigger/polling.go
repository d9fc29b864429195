package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/observability"
	"github.com/kyra-dev/kyra/pkg/scheduler"
)

const (
	// MinPollInterval and MaxPollInterval bound the tick interval for
	// every polling fallback.
	MinPollInterval = 60 * time.Second
	MaxPollInterval = 300 * time.Second

	// DefaultPollCap bounds items processed per tick.
	DefaultPollCap = 5
)

// Poller fetches changes since a resume token. rateLimited signals an
// upstream 429 or rate-limit header; the runtime then doubles the next
// tick delay for one cycle, which skips the slot the base cadence would
// have fired.
type Poller interface {
	Poll(ctx context.Context, resumeToken string, args, creds map[string]any) (items []map[string]any, nextToken string, rateLimited bool, err error)
}

// PollerFunc adapts a function to Poller.
type PollerFunc func(ctx context.Context, resumeToken string, args, creds map[string]any) ([]map[string]any, string, bool, error)

func (f PollerFunc) Poll(ctx context.Context, resumeToken string, args, creds map[string]any) ([]map[string]any, string, bool, error) {
	return f(ctx, resumeToken, args, creds)
}

// PollingTrigger is the fallback for integrations without push. Each
// registration polls on its own interval with a per-tick item cap and a
// monotonic resume token.
type PollingTrigger struct {
	integration string
	store       Store
	sched       *scheduler.Scheduler
	submitter   Submitter
	poller      Poller
	itemCap     int

	mu     sync.Mutex
	pacing map[string]*pollPace
}

// pollPace tracks the per-registration backoff state.
type pollPace struct {
	base    time.Duration
	current time.Duration
}

func NewPollingTrigger(integration string, store Store, sched *scheduler.Scheduler, submitter Submitter, poller Poller, itemCap int) *PollingTrigger {
	if itemCap <= 0 {
		itemCap = DefaultPollCap
	}
	return &PollingTrigger{
		integration: integration,
		store:       store,
		sched:       sched,
		submitter:   submitter,
		poller:      poller,
		itemCap:     itemCap,
		pacing:      make(map[string]*pollPace),
	}
}

func (t *PollingTrigger) Info() handler.Info {
	return handler.Info{
		Name:        fmt.Sprintf("Poll.%s", t.integration),
		Description: fmt.Sprintf("Poll %s for changes on an interval", t.integration),
		Kind:        handler.KindNode,
		Parameters: []handler.ParameterSpec{
			{Name: "flow_id", Type: handler.TypeString, Required: true},
			{Name: "user_id", Type: handler.TypeString, Required: true},
			{Name: "interval_seconds", Type: handler.TypeInteger,
				Description: "Poll interval, floored at 60s and capped at 300s"},
		},
		Capabilities: []string{handler.CapabilitySchedule},
	}
}

func (t *PollingTrigger) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	return t.Schedule(ctx, params, creds)
}

func (t *PollingTrigger) Schedule(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	flowID, _ := params["flow_id"].(string)
	userID, _ := params["user_id"].(string)
	if flowID == "" || userID == "" {
		return handler.Errorf("flow_id and user_id are required"), nil
	}

	interval := MinPollInterval
	if v, ok := params["interval_seconds"].(float64); ok && v > 0 {
		interval = time.Duration(v) * time.Second
	} else if v, ok := params["interval_seconds"].(int); ok && v > 0 {
		interval = time.Duration(v) * time.Second
	}
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	if interval > MaxPollInterval {
		interval = MaxPollInterval
	}

	args := make(map[string]any, len(params)+1)
	for k, v := range params {
		args[k] = v
	}
	args["integration"] = t.integration

	reg := &Registration{
		ID:     uuid.NewString(),
		FlowID: flowID,
		UserID: userID,
		Type:   TypePolling,
		State:  StateNew,
		Args:   args,
		Tokens: map[string]any{"resume_token": ""},
	}
	if err := reg.SetState(StateArmed); err != nil {
		return nil, err
	}
	if err := t.store.Save(ctx, reg); err != nil {
		return nil, fmt.Errorf("failed to persist polling registration: %w", err)
	}

	t.mu.Lock()
	t.pacing[reg.ID] = &pollPace{base: interval, current: interval}
	t.mu.Unlock()

	regID := reg.ID
	err := t.sched.Replace(scheduler.Job{
		ID:   t.jobID(regID),
		Next: func(after time.Time) time.Time { return after.Add(t.interval(regID)) },
		Run: func(jobCtx context.Context) {
			t.tick(jobCtx, regID, args, creds)
		},
	})
	if err != nil {
		_ = t.store.SetState(ctx, regID, StateFailed)
		return nil, fmt.Errorf("failed to schedule polling job: %w", err)
	}

	return handler.Success(map[string]any{
		"registration_id":  reg.ID,
		"interval_seconds": int(interval.Seconds()),
	}), nil
}

// Restore re-arms this integration's persisted polling registrations
// after a restart. Credentials are not persisted; pollers that need them
// read from the registration args.
func (t *PollingTrigger) Restore(ctx context.Context) error {
	regs, err := t.store.List(ctx, StateArmed)
	if err != nil {
		return fmt.Errorf("failed to list armed registrations: %w", err)
	}

	for _, reg := range regs {
		if reg.Type != TypePolling {
			continue
		}
		if integration, _ := reg.Args["integration"].(string); integration != t.integration {
			continue
		}

		interval := MinPollInterval
		if v, ok := reg.Args["interval_seconds"].(float64); ok && v > 0 {
			interval = time.Duration(v) * time.Second
		}
		if interval < MinPollInterval {
			interval = MinPollInterval
		}
		if interval > MaxPollInterval {
			interval = MaxPollInterval
		}

		t.mu.Lock()
		t.pacing[reg.ID] = &pollPace{base: interval, current: interval}
		t.mu.Unlock()

		regID, args := reg.ID, reg.Args
		err := t.sched.Replace(scheduler.Job{
			ID:   t.jobID(regID),
			Next: func(after time.Time) time.Time { return after.Add(t.interval(regID)) },
			Run: func(jobCtx context.Context) {
				t.tick(jobCtx, regID, args, nil)
			},
		})
		if err != nil {
			return fmt.Errorf("failed to restore polling job %s: %w", regID, err)
		}
		slog.Info("Polling registration restored", "integration", t.integration, "registration", regID)
	}
	return nil
}

func (t *PollingTrigger) Unschedule(ctx context.Context, registrationID string) (*handler.Result, error) {
	t.sched.Remove(t.jobID(registrationID))
	t.mu.Lock()
	delete(t.pacing, registrationID)
	t.mu.Unlock()

	if err := t.store.SetState(ctx, registrationID, StateDisarmed); err != nil {
		return nil, err
	}
	return handler.Success(map[string]any{"registration_id": registrationID, "state": StateDisarmed}), nil
}

func (t *PollingTrigger) jobID(regID string) string {
	return fmt.Sprintf("poll:%s:%s", t.integration, regID)
}

// interval returns the current tick interval, reverting any one-cycle
// backoff after it has been consumed.
func (t *PollingTrigger) interval(regID string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	pace, ok := t.pacing[regID]
	if !ok {
		return MinPollInterval
	}
	current := pace.current
	pace.current = pace.base
	return current
}

// tick runs one poll cycle for a registration.
func (t *PollingTrigger) tick(ctx context.Context, regID string, args, creds map[string]any) {
	reg, err := t.store.Get(ctx, regID)
	if err != nil || !reg.Accepting() {
		return
	}

	resumeToken, _ := reg.Tokens["resume_token"].(string)
	items, nextToken, rateLimited, err := t.poller.Poll(ctx, resumeToken, args, creds)
	if rateLimited {
		t.backOff(regID)
		return
	}
	if err != nil {
		observability.GetGlobalMetrics().RecordTriggerError(ctx, string(TypePolling), "poll")
		slog.Warn("Poll failed", "integration", t.integration, "registration", regID, "error", err)
		return
	}

	if len(items) > t.itemCap {
		items = items[:t.itemCap]
	}
	for _, item := range items {
		event := &Event{
			TriggerType: TypePolling,
			FlowID:      reg.FlowID,
			UserID:      reg.UserID,
			Payload:     item,
		}
		if err := t.submitter.Submit(ctx, event); err != nil {
			observability.GetGlobalMetrics().RecordTriggerError(ctx, string(TypePolling), "submit")
			slog.Error("Poll event submission failed", "integration", t.integration, "error", err)
			// Token stays put; the next tick re-fetches this window.
			return
		}
		observability.GetGlobalMetrics().RecordTriggerFire(ctx, string(TypePolling), reg.FlowID)
	}

	if nextToken != "" && tokenAdvances(resumeToken, nextToken) {
		tokens := map[string]any{"resume_token": nextToken}
		if err := t.store.SaveTokens(ctx, regID, tokens); err != nil {
			slog.Error("Failed to advance poll resume token", "registration", regID, "error", err)
		}
	}
}

// backOff doubles the next tick delay. The slot the base cadence would
// have fired never happens; the next poll lands one doubled interval out
// and the cadence then reverts.
func (t *PollingTrigger) backOff(regID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pace, ok := t.pacing[regID]
	if !ok {
		return
	}
	pace.current = pace.base * 2
	if pace.current > MaxPollInterval*2 {
		pace.current = MaxPollInterval * 2
	}
	slog.Info("Polling backed off after rate limit",
		"integration", t.integration, "registration", regID, "next_interval", pace.current)
}

var _ handler.Schedulable = (*PollingTrigger)(nil)
