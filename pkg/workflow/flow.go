// Package workflow holds flow definitions and the execution helper that
// turns a trigger event into a sequential run of dispatched steps.
package workflow

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a flow id resolves to nothing.
var ErrNotFound = errors.New("flow not found")

// Step is one unit of a flow. Node and Action name the handler
// ("Node.Action", with the registry's fallback rules); Params are the
// static arguments from the flow definition.
type Step struct {
	Name   string         `json:"name,omitempty"`
	Node   string         `json:"node"`
	Action string         `json:"action,omitempty"`
	Params map[string]any `json:"params,omitempty"`

	// InputKey, when set, receives the previous step's output.
	InputKey string `json:"input_key,omitempty"`

	// CredsRef names a stored credential bundle resolved at run time.
	CredsRef string `json:"creds_ref,omitempty"`

	// OnError is "" (short-circuit) or "continue".
	OnError string `json:"on_error,omitempty"`
}

// HandlerName is the dispatch key for the step.
func (s Step) HandlerName() string {
	if s.Action == "" {
		return s.Node
	}
	return s.Node + "." + s.Action
}

// Spec is the executable body of a flow.
type Spec struct {
	Steps []Step `json:"steps"`
}

// Flow is a stored workflow definition.
type Flow struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	Spec      Spec      `json:"spec"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists flow definitions.
type Store interface {
	Save(ctx context.Context, flow *Flow) error
	Get(ctx context.Context, id string) (*Flow, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Flow, error)
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}
