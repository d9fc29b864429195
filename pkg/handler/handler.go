// Package handler defines the atomic executable unit of the engine and the
// process-wide registries that resolve handler names.
//
// A handler is a stateless value registered under a name of the form
// "Domain.action" or a single token. Flows, triggers, and the agent loop
// all invoke handlers through the dispatcher; the Result contract below is
// the only way output and failure cross that boundary.
package handler

import (
	"context"
	"fmt"
	"time"
)

// Kind describes which namespaces a handler belongs to.
type Kind string

const (
	KindTool Kind = "tool"
	KindNode Kind = "node"
	KindBoth Kind = "both"
)

// ParamType is the declared semantic type of a handler parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
	TypeAny     ParamType = "any"
)

// ParameterSpec declares one parameter of a handler's public contract.
type ParameterSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	Description string    `json:"description,omitempty"`
	// Items is the element type for array parameters; empty means any.
	Items ParamType `json:"items,omitempty"`
}

// Capability flags a handler may carry.
const (
	CapabilityMemory    = "memory"
	CapabilitySchedule  = "trigger-schedulable"
	CapabilitySubAgent  = "sub-agent"
	CapabilityConnector = "connector"
)

// Info is a handler's registration metadata and public contract.
type Info struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Kind         Kind            `json:"kind"`
	UsageMode    string          `json:"usage_mode,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Parameters   []ParameterSpec `json:"parameters,omitempty"`
}

// HasCapability reports whether the handler declares the given flag.
func (i Info) HasCapability(cap string) bool {
	for _, c := range i.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Status values for Result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the contract every handler execution must obey. Handlers never
// let raw errors cross the dispatcher boundary; failures are reported here.
type Result struct {
	Status     Status         `json:"status"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// OK reports whether the result is a success.
func (r *Result) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// Success builds a success Result with the given output.
func Success(output any) *Result {
	return &Result{Status: StatusSuccess, Output: output}
}

// Errorf builds an error Result from a message.
func Errorf(format string, args ...any) *Result {
	return &Result{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// WithMeta attaches a metadata key, allocating the map on first use.
func (r *Result) WithMeta(key string, value any) *Result {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// Handler is the atomic executable unit. Implementations must be safe for
// concurrent Execute calls or guard their own state.
type Handler interface {
	// Info returns the handler's metadata and parameter contract.
	Info() Info

	// Execute runs the handler. Credentials flow through creds, never
	// through params. Implementations honor ctx cancellation.
	Execute(ctx context.Context, params map[string]any, creds map[string]any) (*Result, error)
}

// DeadlineOverrider lets a handler extend or shrink the default dispatch
// deadline. The dispatcher caps the returned value at its system maximum.
type DeadlineOverrider interface {
	ExecutionDeadline() time.Duration
}

// Schedulable is the capability pair trigger handlers implement on top of
// Handler. Schedule arms the event source; Unschedule disarms it.
type Schedulable interface {
	Handler

	Schedule(ctx context.Context, params map[string]any, creds map[string]any) (*Result, error)
	Unschedule(ctx context.Context, registrationID string) (*Result, error)
}
