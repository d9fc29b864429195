// Package trigger implements the trigger runtime: cron schedules,
// webhooks, push-notification channels, and polling fallbacks. Every
// trigger type arms registrations that fire TriggerEvents into the
// workflow executor.
package trigger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// headerValue looks a header up case-insensitively; transports differ in
// how they canonicalize names.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Type tags the trigger families the runtime knows.
type Type string

const (
	TypeCron    Type = "cron"
	TypeWebhook Type = "webhook"
	TypeForm    Type = "form_webhook"
	TypeDrive   Type = "drive_push"
	TypeGmail   Type = "gmail_push"
	TypeGitHub  Type = "github_push"
	TypeSlack   Type = "slack_push"
	TypePolling Type = "polling"
)

// State is the registration lifecycle state. Only armed registrations
// accept events.
type State string

const (
	StateNew      State = "new"
	StateArmed    State = "armed"
	StateDisarmed State = "disarmed"
	StateFailed   State = "failed"
)

// transitions encodes the registration state machine. Fire and renew are
// armed self-loops and need no entry here.
var transitions = map[State][]State{
	StateNew:      {StateArmed, StateFailed},
	StateArmed:    {StateArmed, StateDisarmed, StateFailed},
	StateDisarmed: {StateArmed},
	StateFailed:   {StateArmed},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Registration is one armed trigger bound to a flow. Tokens holds the
// type-specific continuation state (cron job id, webhook token, resume
// tokens); it belongs exclusively to the trigger that created it and only
// ever advances.
type Registration struct {
	ID        string         `json:"id"`
	FlowID    string         `json:"flow_id"`
	UserID    string         `json:"user_id"`
	Type      Type           `json:"type"`
	Args      map[string]any `json:"args,omitempty"`
	Tokens    map[string]any `json:"tokens,omitempty"`
	State     State          `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SetState applies a lifecycle transition, rejecting illegal moves.
func (r *Registration) SetState(to State) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("illegal trigger state transition %s -> %s", r.State, to)
	}
	r.State = to
	return nil
}

// Accepting reports whether the registration accepts incoming events.
func (r *Registration) Accepting() bool {
	return r.State == StateArmed
}

// Event is what a firing trigger hands to the workflow executor.
type Event struct {
	TriggerType   Type              `json:"trigger_type"`
	FlowID        string            `json:"flow_id"`
	UserID        string            `json:"user_id"`
	Payload       map[string]any    `json:"payload,omitempty"`
	SourceHeaders map[string]string `json:"source_headers,omitempty"`

	// UpstreamEventID carries the source's idempotency handle when one
	// exists (GitHub delivery id, Drive change id, webhook token+ts).
	UpstreamEventID string `json:"upstream_event_id,omitempty"`
}

// Submitter receives fired events. The workflow executor implements it;
// tests use fakes.
type Submitter interface {
	Submit(ctx context.Context, event *Event) error
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, event *Event) error

func (f SubmitterFunc) Submit(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// RegistrationResult is returned from arming a trigger.
type RegistrationResult struct {
	RegistrationID string         `json:"registration_id"`
	State          State          `json:"state"`
	Detail         map[string]any `json:"detail,omitempty"`
}

// Store persists registrations. Tokens updates must be serialized per
// registration; SaveTokens implementations compare-and-set on UpdatedAt.
type Store interface {
	Save(ctx context.Context, reg *Registration) error
	Get(ctx context.Context, id string) (*Registration, error)
	GetByFlow(ctx context.Context, flowID string, typ Type) (*Registration, error)
	List(ctx context.Context, state State) ([]*Registration, error)
	SaveTokens(ctx context.Context, id string, tokens map[string]any) error
	SetState(ctx context.Context, id string, state State) error
	Delete(ctx context.Context, id string) error
}

// ErrNotFound is returned by stores for unknown registrations.
var ErrNotFound = fmt.Errorf("trigger registration not found")
