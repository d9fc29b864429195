package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kyra-dev/kyra/pkg/dispatcher"
	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/trigger"
)

// executionNamespace seeds the deterministic execution ids.
var executionNamespace = uuid.MustParse("7c9e6e1a-55b0-4be8-9d2a-3f1d64f2a7e1")

// ExecutionID derives a stable id from the flow and the upstream event.
// The same delivery always maps to the same id, so downstream steps can
// skip repeat work.
func ExecutionID(flowID, triggerSource, upstreamEventID string) string {
	if upstreamEventID == "" {
		return uuid.NewString()
	}
	data := fmt.Sprintf("%s:%s:%s", flowID, triggerSource, upstreamEventID)
	return uuid.NewSHA1(executionNamespace, []byte(data)).String()
}

// Execution status values.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Skip and error reasons.
const (
	ReasonFlowNotFound = "flow_not_found"
	ReasonInactive     = "inactive"
	ReasonForbidden    = "forbidden"
	ReasonNoSteps      = "no_steps"
	ReasonStepFailed   = "step_failed"
)

// StepOutcome records one step of an execution.
type StepOutcome struct {
	Step       string `json:"step"`
	Handler    string `json:"handler"`
	Status     string `json:"status"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ExecutionResult is the outcome of one flow run.
type ExecutionResult struct {
	ExecutionID   string        `json:"execution_id"`
	FlowID        string        `json:"flow_id"`
	TriggerSource string        `json:"trigger_source,omitempty"`
	Status        string        `json:"status"`
	Reason        string        `json:"reason,omitempty"`
	Steps         []StepOutcome `json:"steps,omitempty"`
	Output        any           `json:"output,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	DurationMS    int64         `json:"duration_ms"`
}

// CredentialResolver turns a step's creds_ref into a credential bundle.
type CredentialResolver interface {
	Resolve(ctx context.Context, userID, ref string) (map[string]any, error)
}

// CredentialResolverFunc adapts a function to CredentialResolver.
type CredentialResolverFunc func(ctx context.Context, userID, ref string) (map[string]any, error)

func (f CredentialResolverFunc) Resolve(ctx context.Context, userID, ref string) (map[string]any, error) {
	return f(ctx, userID, ref)
}

// Executor runs flows step by step through the dispatcher. It also
// implements trigger.Submitter so trigger events feed straight into
// flow executions.
type Executor struct {
	flows        Store
	dispatcher   *dispatcher.Dispatcher
	creds        CredentialResolver
	stepDeadline time.Duration
	now          func() time.Time
}

func NewExecutor(flows Store, d *dispatcher.Dispatcher, creds CredentialResolver) *Executor {
	return &Executor{flows: flows, dispatcher: d, creds: creds, now: time.Now}
}

// WithStepDeadline overrides the dispatcher's default per-step deadline.
func (e *Executor) WithStepDeadline(d time.Duration) *Executor {
	e.stepDeadline = d
	return e
}

// Execute runs a flow to completion. It never returns a Go error for
// flow-level failures; those are encoded in the result.
func (e *Executor) Execute(ctx context.Context, flowID, userID string, triggerData, inputs map[string]any) *ExecutionResult {
	return e.execute(ctx, flowID, userID, "", "", triggerData, inputs)
}

// ExecuteEvent runs the flow a trigger event targets and returns the
// full result. Synchronous callers (delayed-mode webhooks) use this.
func (e *Executor) ExecuteEvent(ctx context.Context, event *trigger.Event) *ExecutionResult {
	return e.execute(ctx, event.FlowID, event.UserID,
		string(event.TriggerType), event.UpstreamEventID, event.Payload, nil)
}

// Submit implements trigger.Submitter. A flow-level routing failure
// (missing flow, ownership mismatch) is reported back to the trigger so
// the delivery is not marked consumed; step failures are not.
func (e *Executor) Submit(ctx context.Context, event *trigger.Event) error {
	res := e.ExecuteEvent(ctx, event)

	if res.Status == StatusError && (res.Reason == ReasonFlowNotFound || res.Reason == ReasonForbidden) {
		return fmt.Errorf("flow %s rejected trigger event: %s", event.FlowID, res.Reason)
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, flowID, userID, triggerSource, upstreamEventID string, triggerData, inputs map[string]any) *ExecutionResult {
	start := e.now()
	res := &ExecutionResult{
		ExecutionID:   ExecutionID(flowID, triggerSource, upstreamEventID),
		FlowID:        flowID,
		TriggerSource: triggerSource,
		StartedAt:     start,
	}
	finish := func(status, reason string) *ExecutionResult {
		res.Status = status
		res.Reason = reason
		res.DurationMS = e.now().Sub(start).Milliseconds()
		return res
	}

	flow, err := e.flows.Get(ctx, flowID)
	if err != nil {
		return finish(StatusError, ReasonFlowNotFound)
	}
	if !flow.IsActive {
		return finish(StatusSkipped, ReasonInactive)
	}
	if flow.OwnerID != userID {
		slog.Warn("Flow execution denied", "flow", flowID, "owner", flow.OwnerID, "caller", userID)
		return finish(StatusError, ReasonForbidden)
	}
	if len(flow.Spec.Steps) == 0 {
		return finish(StatusError, ReasonNoSteps)
	}

	env := handler.Merge(inputs, map[string]any{
		"trigger_data":   triggerData,
		"trigger_source": triggerSource,
		"execution_id":   res.ExecutionID,
	})

	var prior any
	for i, step := range flow.Spec.Steps {
		params := handler.Merge(env, step.Params)
		if i > 0 && step.InputKey != "" {
			params[step.InputKey] = prior
		}

		creds, err := e.resolveCreds(ctx, userID, step.CredsRef)
		if err != nil {
			res.Steps = append(res.Steps, StepOutcome{
				Step:    stepLabel(step, i),
				Handler: step.HandlerName(),
				Status:  StatusError,
				Error:   err.Error(),
			})
			if step.OnError != "continue" {
				return finish(StatusError, ReasonStepFailed)
			}
			continue
		}

		outcome := e.dispatcher.Dispatch(ctx, step.HandlerName(), params, creds, dispatcher.Options{
			Deadline: e.stepDeadline,
		})
		so := stepOutcome(step, i, outcome)
		res.Steps = append(res.Steps, so)

		if so.Status == StatusError {
			if step.OnError == "continue" {
				slog.Debug("Flow step failed, continuing", "flow", flowID, "step", so.Step, "error", so.Error)
				continue
			}
			return finish(StatusError, ReasonStepFailed)
		}
		prior = so.Output
		res.Output = so.Output
	}

	return finish(StatusSuccess, "")
}

func (e *Executor) resolveCreds(ctx context.Context, userID, ref string) (map[string]any, error) {
	if ref == "" || e.creds == nil {
		return nil, nil
	}
	creds, err := e.creds.Resolve(ctx, userID, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials %q: %w", ref, err)
	}
	return creds, nil
}

func stepLabel(step Step, index int) string {
	if step.Name != "" {
		return step.Name
	}
	return fmt.Sprintf("step-%d", index+1)
}

func stepOutcome(step Step, index int, outcome *dispatcher.Outcome) StepOutcome {
	so := StepOutcome{Step: stepLabel(step, index), Handler: outcome.Handler}
	if so.Handler == "" {
		so.Handler = step.HandlerName()
	}

	switch outcome.Kind {
	case dispatcher.OutcomeResult:
		so.Output = outcome.Result.Output
		so.DurationMS = outcome.Result.DurationMS
		if outcome.Result.OK() {
			so.Status = StatusSuccess
		} else {
			so.Status = StatusError
			so.Error = outcome.Result.Error
		}
	case dispatcher.OutcomeNeedsInput:
		// Flows run unattended; a needs-input outcome cannot be serviced.
		so.Status = StatusError
		so.Error = "handler requires user input"
	default:
		so.Status = StatusError
		if outcome.Err != nil {
			so.Error = outcome.Err.Error()
		}
	}
	return so
}

var _ trigger.Submitter = (*Executor)(nil)
