package handler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the cross-cutting error taxonomy. The dispatcher, trigger
// runtime, and API envelopes all tag failures with one of these.
type ErrorKind string

const (
	ErrNotFound    ErrorKind = "not_found"
	ErrValidation  ErrorKind = "validation"
	ErrAuth        ErrorKind = "auth"
	ErrRateLimited ErrorKind = "rate_limited"
	ErrTransient   ErrorKind = "transient"
	ErrFatal       ErrorKind = "fatal"
)

// Retryable reports whether errors of this kind may be retried.
func (k ErrorKind) Retryable() bool {
	return k == ErrRateLimited || k == ErrTransient
}

// NotFoundError reports a failed lookup with the keys that were attempted
// and the candidates that exist, so callers can log actionable context.
type NotFoundError struct {
	Namespace  string
	Attempted  []string
	Candidates []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("handler not found in %s namespace (tried: %s)",
		e.Namespace, strings.Join(e.Attempted, ", "))
	if len(e.Candidates) > 0 {
		msg += fmt.Sprintf("; available: %s", strings.Join(e.Candidates, ", "))
	}
	return msg
}

// Kind returns the taxonomy tag for NotFoundError.
func (e *NotFoundError) Kind() ErrorKind { return ErrNotFound }

// ValidationError carries the full validation result. It is fatal to the
// step that produced it but never to the run; the agent may plan around it.
type ValidationError struct {
	Handler string
	Result  ValidationResult
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Result.MissingRequired) > 0 {
		parts = append(parts, fmt.Sprintf("missing required: %s",
			strings.Join(e.Result.MissingRequired, ", ")))
	}
	for _, m := range e.Result.InvalidTypes {
		parts = append(parts, fmt.Sprintf("invalid type for %s: expected %s, got %s",
			m.Name, m.Expected, m.Actual))
	}
	if len(e.Result.Unexpected) > 0 {
		parts = append(parts, fmt.Sprintf("unexpected: %s",
			strings.Join(e.Result.Unexpected, ", ")))
	}
	return fmt.Sprintf("parameter validation failed for %s: %s",
		e.Handler, strings.Join(parts, "; "))
}

// Kind returns the taxonomy tag for ValidationError.
func (e *ValidationError) Kind() ErrorKind { return ErrValidation }

// KindOf classifies an error into the taxonomy. Errors that implement
// Kind() ErrorKind report their own class; everything else is fatal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var kinded interface{ Kind() ErrorKind }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	return ErrFatal
}
