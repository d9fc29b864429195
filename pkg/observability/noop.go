package observability

import (
	"context"
	"net/http"
	"time"
)

// NoopMetrics is a Recorder that does nothing. Installed when metrics are
// disabled so callers never nil-check.
type NoopMetrics struct{}

func (NoopMetrics) RecordHandlerDispatch(_ context.Context, _ string, _ time.Duration, _ error) {}
func (NoopMetrics) RecordTriggerFire(_ context.Context, _, _ string)                            {}
func (NoopMetrics) RecordTriggerError(_ context.Context, _, _ string)                           {}
func (NoopMetrics) RecordAgentRun(_ context.Context, _ string, _ int, _ time.Duration)          {}
func (NoopMetrics) RecordLLMCall(_ context.Context, _ string, _ time.Duration, _ error)         {}
func (NoopMetrics) RecordLLMTokens(_ context.Context, _ string, _, _ int)                       {}
func (NoopMetrics) RecordWebhookRequest(_ context.Context, _ string, _ int)                     {}

// Handler returns 503 Service Unavailable.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

var _ Recorder = NoopMetrics{}
var _ Recorder = (*Metrics)(nil)
