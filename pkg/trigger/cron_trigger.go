package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/observability"
	"github.com/kyra-dev/kyra/pkg/scheduler"
)

// CronTrigger arms time-based flow schedules. One cron per flow; arming a
// flow that already has one replaces it. Missed ticks are not replayed.
type CronTrigger struct {
	store     Store
	sched     *scheduler.Scheduler
	submitter Submitter
	now       func() time.Time
}

func NewCronTrigger(store Store, sched *scheduler.Scheduler, submitter Submitter) *CronTrigger {
	return &CronTrigger{
		store:     store,
		sched:     sched,
		submitter: submitter,
		now:       time.Now,
	}
}

func (t *CronTrigger) Info() handler.Info {
	return handler.Info{
		Name:        "Schedule.cron",
		Description: "Run a flow on a cron schedule",
		Kind:        handler.KindNode,
		Parameters: []handler.ParameterSpec{
			{Name: "cron_expression", Type: handler.TypeString, Required: true,
				Description: "Five-field cron expression"},
			{Name: "flow_id", Type: handler.TypeString, Required: true},
			{Name: "user_id", Type: handler.TypeString, Required: true},
			{Name: "first_step", Type: handler.TypeObject,
				Description: "Optional payload injected into the first step"},
		},
		Capabilities: []string{handler.CapabilitySchedule},
	}
}

// Execute arms the schedule; the node form of scheduling.
func (t *CronTrigger) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	return t.Schedule(ctx, params, creds)
}

func (t *CronTrigger) Schedule(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	expr, _ := params["cron_expression"].(string)
	flowID, _ := params["flow_id"].(string)
	userID, _ := params["user_id"].(string)
	if expr == "" || flowID == "" || userID == "" {
		return handler.Errorf("cron_expression, flow_id, and user_id are required"), nil
	}

	schedule, err := ParseCron(expr)
	if err != nil {
		return handler.Errorf("invalid cron expression: %v", err), nil
	}

	firstStep, _ := params["first_step"].(map[string]any)

	// One cron registration per flow; arming again replaces.
	reg, err := t.store.GetByFlow(ctx, flowID, TypeCron)
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("failed to look up existing cron registration: %w", err)
	}
	if reg == nil {
		reg = &Registration{
			ID:     uuid.NewString(),
			FlowID: flowID,
			Type:   TypeCron,
			State:  StateNew,
		}
	}
	reg.UserID = userID
	reg.Args = map[string]any{"cron_expression": expr}
	if firstStep != nil {
		reg.Args["first_step"] = firstStep
	}
	reg.Tokens = map[string]any{"job_id": cronJobID(flowID)}

	if err := reg.SetState(StateArmed); err != nil {
		return nil, err
	}
	if err := t.store.Save(ctx, reg); err != nil {
		return nil, fmt.Errorf("failed to persist cron registration: %w", err)
	}

	regID := reg.ID
	job := scheduler.Job{
		ID:   cronJobID(flowID),
		Next: func(after time.Time) time.Time { return schedule.Next(after) },
		Run: func(jobCtx context.Context) {
			t.fire(jobCtx, regID, flowID, userID, firstStep)
		},
	}
	if err := t.sched.Replace(job); err != nil {
		_ = t.store.SetState(ctx, reg.ID, StateFailed)
		return nil, fmt.Errorf("failed to schedule cron job: %w", err)
	}

	return handler.Success(map[string]any{
		"registration_id": reg.ID,
		"next_run":        schedule.Next(t.now()).Format(time.RFC3339),
	}), nil
}

func (t *CronTrigger) Unschedule(ctx context.Context, registrationID string) (*handler.Result, error) {
	reg, err := t.store.Get(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	t.sched.Remove(cronJobID(reg.FlowID))
	if err := t.store.SetState(ctx, registrationID, StateDisarmed); err != nil {
		return nil, err
	}
	return handler.Success(map[string]any{"registration_id": registrationID, "state": StateDisarmed}), nil
}

// Restore re-arms every persisted cron registration after a restart.
// Registrations whose stored expression no longer parses are failed.
func (t *CronTrigger) Restore(ctx context.Context) error {
	regs, err := t.store.List(ctx, StateArmed)
	if err != nil {
		return fmt.Errorf("failed to list armed registrations: %w", err)
	}

	for _, reg := range regs {
		if reg.Type != TypeCron {
			continue
		}
		expr, _ := reg.Args["cron_expression"].(string)
		schedule, err := ParseCron(expr)
		if err != nil {
			slog.Error("Stored cron expression no longer parses", "registration", reg.ID, "error", err)
			_ = t.store.SetState(ctx, reg.ID, StateFailed)
			continue
		}
		firstStep, _ := reg.Args["first_step"].(map[string]any)

		regID, flowID, userID := reg.ID, reg.FlowID, reg.UserID
		err = t.sched.Replace(scheduler.Job{
			ID:   cronJobID(flowID),
			Next: func(after time.Time) time.Time { return schedule.Next(after) },
			Run: func(jobCtx context.Context) {
				t.fire(jobCtx, regID, flowID, userID, firstStep)
			},
		})
		if err != nil {
			return fmt.Errorf("failed to restore cron job for flow %s: %w", flowID, err)
		}
		slog.Info("Cron registration restored", "flow", flowID, "expression", expr)
	}
	return nil
}

func (t *CronTrigger) fire(ctx context.Context, regID, flowID, userID string, firstStep map[string]any) {
	reg, err := t.store.Get(ctx, regID)
	if err != nil || !reg.Accepting() {
		slog.Debug("Dropping cron tick", "registration", regID, "error", err)
		return
	}

	payload := map[string]any{
		"scheduled_at": t.now().UTC().Format(time.RFC3339),
	}
	if firstStep != nil {
		payload["first_step"] = firstStep
	}

	event := &Event{
		TriggerType: TypeCron,
		FlowID:      flowID,
		UserID:      userID,
		Payload:     payload,
	}
	if err := t.submitter.Submit(ctx, event); err != nil {
		observability.GetGlobalMetrics().RecordTriggerError(ctx, string(TypeCron), "submit")
		slog.Error("Cron event submission failed", "flow", flowID, "error", err)
		return
	}
	observability.GetGlobalMetrics().RecordTriggerFire(ctx, string(TypeCron), flowID)
}

func cronJobID(flowID string) string {
	return "cron:" + flowID
}

var _ handler.Schedulable = (*CronTrigger)(nil)
