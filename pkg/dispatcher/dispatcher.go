// Package dispatcher resolves handler names and invokes handlers with
// validation, deadlines, and observability. It is the single choke point
// between callers (flows, the agent loop, triggers) and handler code.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/observability"
	"github.com/kyra-dev/kyra/pkg/redact"
)

const (
	// DefaultDeadline bounds a single handler execution.
	DefaultDeadline = 60 * time.Second
	// MaxDeadline is the system cap; handler overrides cannot exceed it.
	MaxDeadline = 300 * time.Second
)

// OutcomeKind discriminates the dispatch result variants. RequiresUserInput
// is deliberately a variant rather than an error: it is a signal, not a fault.
type OutcomeKind string

const (
	OutcomeResult     OutcomeKind = "result"
	OutcomeNeedsInput OutcomeKind = "needs_user_input"
	OutcomeNotFound   OutcomeKind = "not_found"
	OutcomeInvalid    OutcomeKind = "validation_failed"
)

// Outcome is what a dispatch produces. Exactly one of the variant fields
// is meaningful, selected by Kind.
type Outcome struct {
	Kind       OutcomeKind
	Handler    string
	Result     *handler.Result
	FormSchema map[string]any
	Validation handler.ValidationResult
	Err        error
}

// OK reports whether the dispatch produced a successful handler result.
func (o *Outcome) OK() bool {
	return o.Kind == OutcomeResult && o.Result.OK()
}

// Options tune a single dispatch.
type Options struct {
	// Strict rejects parameters with no matching spec. Default is lenient
	// so extra keys pass through to the handler.
	Strict bool

	// SmartInput enables reconciliation: when required input is missing or
	// invalid, the dispatch returns OutcomeNeedsInput with a form schema
	// instead of failing. The dispatcher itself never collects input.
	SmartInput bool

	// UserSupplied is the overlay from a previous needs-input round.
	// User-supplied values take precedence over params.
	UserSupplied map[string]any

	// Deadline overrides the default execution deadline for this dispatch.
	Deadline time.Duration
}

// Dispatcher routes dispatch calls through the handler registry.
type Dispatcher struct {
	registry *handler.Registry
}

func New(registry *handler.Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Registry exposes the underlying registry for status enumeration.
func (d *Dispatcher) Registry() *handler.Registry {
	return d.registry
}

// Dispatch resolves name across the tool and node namespaces, validates
// parameters, and invokes the handler under a deadline. Handler panics and
// raw errors are converted into error results; they never propagate.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, params, creds map[string]any, opts Options) *Outcome {
	start := time.Now()

	tracer := observability.GetTracer("kyra.dispatcher")
	ctx, span := tracer.Start(ctx, observability.SpanHandlerDispatch,
		trace.WithAttributes(
			attribute.String(observability.AttrHandlerName, name),
		),
	)
	defer span.End()

	h, err := d.registry.Resolve(name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler not found")
		observability.GetGlobalMetrics().RecordHandlerDispatch(ctx, name, time.Since(start), err)
		return &Outcome{Kind: OutcomeNotFound, Handler: name, Err: err}
	}

	info := h.Info()

	if len(opts.UserSupplied) > 0 {
		params = handler.Merge(params, opts.UserSupplied)
	}

	if opts.SmartInput {
		rec := handler.Reconcile(info.Parameters, params)
		if rec.NeedsUserInput {
			span.SetStatus(codes.Ok, "needs user input")
			return &Outcome{
				Kind:       OutcomeNeedsInput,
				Handler:    info.Name,
				FormSchema: rec.FormSchema,
			}
		}
		params = rec.Discovered
	}

	validation := handler.Validate(info.Parameters, params, opts.Strict)
	if !validation.Valid {
		verr := &handler.ValidationError{Handler: info.Name, Result: validation}
		span.RecordError(verr)
		span.SetStatus(codes.Error, "validation failed")
		observability.GetGlobalMetrics().RecordHandlerDispatch(ctx, name, time.Since(start), verr)
		slog.Debug("Dispatch validation failed",
			"handler", info.Name, "params", redact.Map(params), "error", verr.Error())
		return &Outcome{
			Kind:       OutcomeInvalid,
			Handler:    info.Name,
			Validation: validation,
			Err:        verr,
		}
	}

	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if override, ok := h.(handler.DeadlineOverrider); ok {
		if custom := override.ExecutionDeadline(); custom > 0 {
			deadline = custom
		}
	}
	if deadline > MaxDeadline {
		deadline = MaxDeadline
	}

	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result := d.invoke(execCtx, h, params, creds)
	duration := time.Since(start)
	result.DurationMS = duration.Milliseconds()

	var recordErr error
	if result.Status == handler.StatusError {
		recordErr = fmt.Errorf("%s", result.Error)
		span.RecordError(recordErr)
		span.SetStatus(codes.Error, result.Error)
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	span.SetAttributes(
		attribute.Bool("handler.success", result.OK()),
		attribute.Int64("handler.duration_ms", result.DurationMS),
	)
	observability.GetGlobalMetrics().RecordHandlerDispatch(ctx, name, duration, recordErr)

	return &Outcome{Kind: OutcomeResult, Handler: info.Name, Result: result}
}

// invoke runs Execute with panic containment. Whatever happens inside the
// handler, the caller gets a Result.
func (d *Dispatcher) invoke(ctx context.Context, h handler.Handler, params, creds map[string]any) (result *handler.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Handler panicked", "handler", h.Info().Name, "panic", r)
			result = handler.Errorf("handler panicked: %v", r)
		}
	}()

	res, err := h.Execute(ctx, params, creds)
	if err != nil {
		return handler.Errorf("%v", err)
	}
	if res == nil {
		return handler.Errorf("handler returned no result")
	}
	return res
}
