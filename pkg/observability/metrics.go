package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Recorder is the metrics surface the runtime records against.
type Recorder interface {
	RecordHandlerDispatch(ctx context.Context, handler string, duration time.Duration, err error)
	RecordTriggerFire(ctx context.Context, triggerType, flowID string)
	RecordTriggerError(ctx context.Context, triggerType, errorType string)
	RecordAgentRun(ctx context.Context, agentID string, iterations int, duration time.Duration)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, err error)
	RecordLLMTokens(ctx context.Context, model string, inputTokens, outputTokens int)
	RecordWebhookRequest(ctx context.Context, path string, statusCode int)
	Handler() http.Handler
}

// Metrics is the OpenTelemetry-backed Recorder with a Prometheus exporter.
type Metrics struct {
	handlerDuration metric.Float64Histogram
	handlerCalls    metric.Int64Counter
	handlerErrors   metric.Int64Counter
	triggerFires    metric.Int64Counter
	triggerErrors   metric.Int64Counter
	agentRuns       metric.Int64Counter
	agentIterations metric.Int64Counter
	agentDuration   metric.Float64Histogram
	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter
	webhookRequests metric.Int64Counter
}

func InitMetrics(ctx context.Context, cfg MetricsConfig) (Recorder, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("kyra")

	m := &Metrics{}

	m.handlerDuration, err = meter.Float64Histogram(
		"kyra_handler_dispatch_duration_seconds",
		metric.WithDescription("Handler dispatch duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create handler duration histogram: %w", err)
	}

	m.handlerCalls, err = meter.Int64Counter(
		"kyra_handler_dispatches_total",
		metric.WithDescription("Total handler dispatches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create handler calls counter: %w", err)
	}

	m.handlerErrors, err = meter.Int64Counter(
		"kyra_handler_errors_total",
		metric.WithDescription("Total handler dispatch errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create handler errors counter: %w", err)
	}

	m.triggerFires, err = meter.Int64Counter(
		"kyra_trigger_fires_total",
		metric.WithDescription("Total trigger events fired"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trigger fires counter: %w", err)
	}

	m.triggerErrors, err = meter.Int64Counter(
		"kyra_trigger_errors_total",
		metric.WithDescription("Total trigger processing errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trigger errors counter: %w", err)
	}

	m.agentRuns, err = meter.Int64Counter(
		"kyra_agent_runs_total",
		metric.WithDescription("Total agent executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent runs counter: %w", err)
	}

	m.agentIterations, err = meter.Int64Counter(
		"kyra_agent_iterations_total",
		metric.WithDescription("Total agent reasoning iterations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent iterations counter: %w", err)
	}

	m.agentDuration, err = meter.Float64Histogram(
		"kyra_agent_run_duration_seconds",
		metric.WithDescription("Agent run duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent duration histogram: %w", err)
	}

	m.llmDuration, err = meter.Float64Histogram(
		"kyra_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	m.llmInputTokens, err = meter.Int64Counter(
		"kyra_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	m.llmOutputTokens, err = meter.Int64Counter(
		"kyra_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	m.llmErrors, err = meter.Int64Counter(
		"kyra_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	m.webhookRequests, err = meter.Int64Counter(
		"kyra_webhook_requests_total",
		metric.WithDescription("Total webhook requests received"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook requests counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordHandlerDispatch(ctx context.Context, handler string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String(AttrHandlerName, handler))
	m.handlerCalls.Add(ctx, 1, attrs)
	m.handlerDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.handlerErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordTriggerFire(ctx context.Context, triggerType, flowID string) {
	m.triggerFires.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTriggerType, triggerType),
		attribute.String(AttrFlowID, flowID),
	))
}

func (m *Metrics) RecordTriggerError(ctx context.Context, triggerType, errorType string) {
	m.triggerErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrTriggerType, triggerType),
		attribute.String(AttrErrorType, errorType),
	))
}

func (m *Metrics) RecordAgentRun(ctx context.Context, agentID string, iterations int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String(AttrAgentID, agentID))
	m.agentRuns.Add(ctx, 1, attrs)
	m.agentIterations.Add(ctx, int64(iterations), attrs)
	m.agentDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String(AttrLLMModel, model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordLLMTokens(ctx context.Context, model string, inputTokens, outputTokens int) {
	attrs := metric.WithAttributes(attribute.String(AttrLLMModel, model))
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
}

func (m *Metrics) RecordWebhookRequest(ctx context.Context, path string, statusCode int) {
	m.webhookRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.Int(AttrHTTPStatusCode, statusCode),
	))
}

// Handler exposes the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

var (
	globalMetrics   Recorder = NoopMetrics{}
	globalMetricsMu sync.RWMutex
)

func SetGlobalMetrics(m Recorder) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	if m != nil {
		globalMetrics = m
	}
}

func GetGlobalMetrics() Recorder {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()
	return globalMetrics
}
