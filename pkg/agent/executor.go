package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kyra-dev/kyra/pkg/dispatcher"
	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/llm"
	"github.com/kyra-dev/kyra/pkg/memory"
	"github.com/kyra-dev/kyra/pkg/observability"
)

const (
	// DefaultMaxIterations bounds the reason-act loop when neither the
	// agent config nor the request sets a limit.
	DefaultMaxIterations = 10

	// DefaultLoopDeadline bounds one whole run.
	DefaultLoopDeadline = 5 * time.Minute

	// MaxIterationsExceeded is the final output of a run that never
	// converged.
	MaxIterationsExceeded = "max_iterations_exceeded"

	// DefaultContextBudget bounds the tokens sent per LLM request. Older
	// turns are dropped first; the system prompt always survives.
	DefaultContextBudget = 32768
)

// Run status values.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Defaults are the engine-level fallbacks applied when an agent config
// leaves a knob unset.
type Defaults struct {
	Model         string
	Temperature   float64
	MaxIterations int
	MemoryWindow  int
	LoopDeadline  time.Duration
}

// RunRequest is one invocation of an agent.
type RunRequest struct {
	AgentID   string
	Prompt    string
	SessionID string

	// Temperature and MaxIterations override the agent config when set.
	Temperature   *float64
	MaxIterations int

	// Creds is passed through to every tool dispatch.
	Creds map[string]any
}

// RunResult is the outcome of one agent run.
type RunResult struct {
	AgentID    string    `json:"agent_id"`
	Status     string    `json:"status"`
	Final      string    `json:"final"`
	Error      string    `json:"error,omitempty"`
	Iterations int       `json:"iterations"`
	Usage      llm.Usage `json:"usage"`
	Cost       float64   `json:"cost"`
	Model      string    `json:"model"`
	DurationMS int64     `json:"duration_ms"`
}

// Executor runs agents. It is the single authoritative execution path;
// the agent_call connector routes through it as well.
type Executor struct {
	configs    ConfigStore
	providers  *llm.Registry
	dispatcher *dispatcher.Dispatcher
	shortTerm  memory.Store
	longTerm   memory.LongTermStore
	usage      UsageRecorder
	defaults   Defaults
	now        func() time.Time
}

func NewExecutor(configs ConfigStore, providers *llm.Registry, d *dispatcher.Dispatcher, shortTerm memory.Store, defaults Defaults) *Executor {
	if defaults.Model == "" {
		defaults.Model = "gpt-4o"
	}
	if defaults.MaxIterations <= 0 {
		defaults.MaxIterations = DefaultMaxIterations
	}
	if defaults.MemoryWindow <= 0 {
		defaults.MemoryWindow = memory.DefaultWindow
	}
	if defaults.LoopDeadline <= 0 {
		defaults.LoopDeadline = DefaultLoopDeadline
	}
	return &Executor{
		configs:    configs,
		providers:  providers,
		dispatcher: d,
		shortTerm:  shortTerm,
		defaults:   defaults,
		now:        time.Now,
	}
}

// WithLongTerm attaches a long-term store; runs then persist their
// prompt/response pair on completion.
func (e *Executor) WithLongTerm(lt memory.LongTermStore) *Executor {
	e.longTerm = lt
	return e
}

// WithUsageRecorder attaches cumulative usage accounting.
func (e *Executor) WithUsageRecorder(u UsageRecorder) *Executor {
	e.usage = u
	return e
}

// Run executes the bounded reason-act loop for one prompt.
func (e *Executor) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	start := e.now()

	if err := ctx.Err(); err != nil {
		return &RunResult{AgentID: req.AgentID, Status: StatusCancelled, Error: err.Error()}, nil
	}

	cfg, err := e.configs.Get(ctx, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent %q: %w", req.AgentID, err)
	}

	model := cfg.Model
	if model == "" {
		model = e.defaults.Model
	}
	temperature := e.defaults.Temperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxIterations := cfg.MaxIterations
	if req.MaxIterations > 0 {
		maxIterations = req.MaxIterations
	}
	if maxIterations <= 0 {
		maxIterations = e.defaults.MaxIterations
	}
	window := cfg.MemoryWindow
	if window <= 0 {
		window = e.defaults.MemoryWindow
	}

	provider, err := e.providers.ForModel(model)
	if err != nil {
		return nil, fmt.Errorf("no provider for model %q: %w", model, err)
	}

	counter, err := llm.NewTokenCounter(model)
	if err != nil {
		slog.Warn("Token counter unavailable; context trimming disabled", "model", model, "error", err)
		counter = nil
	}

	tracer := observability.GetTracer("kyra.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(
			attribute.String(observability.AttrAgentID, req.AgentID),
			attribute.String(observability.AttrLLMModel, model),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.defaults.LoopDeadline)
	defer cancel()

	// Each run starts from a clean working buffer.
	if err := e.shortTerm.Clear(ctx, req.AgentID); err != nil {
		slog.Warn("Failed to clear short-term memory", "agent", req.AgentID, "error", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: cfg.DefaultPrompt},
		{Role: llm.RoleUser, Content: req.Prompt},
	}
	tools := e.toolDefinitions(cfg.Tools)

	res := &RunResult{AgentID: req.AgentID, Model: model}
	finish := func(status, final, errMsg string) (*RunResult, error) {
		res.Status = status
		res.Final = final
		res.Error = errMsg
		res.DurationMS = e.now().Sub(start).Milliseconds()

		span.SetAttributes(
			attribute.Int("agent.iterations", res.Iterations),
			attribute.Int(observability.AttrLLMTokensIn, res.Usage.PromptTokens),
			attribute.Int(observability.AttrLLMTokensOut, res.Usage.CompletionTokens),
		)
		if status == StatusError {
			span.SetStatus(codes.Error, errMsg)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		observability.GetGlobalMetrics().RecordAgentRun(ctx, req.AgentID, res.Iterations, time.Since(start))

		e.recordUsage(req.AgentID, res)
		if status == StatusSuccess {
			e.persistLongTerm(req, final)
		}
		return res, nil
	}

	for i := 1; i <= maxIterations; i++ {
		if ctx.Err() != nil {
			return finish(StatusCancelled, "", ctx.Err().Error())
		}
		res.Iterations = i

		messages = fitContext(counter, messages)

		llmStart := time.Now()
		resp, err := provider.Chat(ctx, &llm.Request{
			Model:       model,
			Messages:    messages,
			Tools:       tools,
			Temperature: temperature,
		})
		observability.GetGlobalMetrics().RecordLLMCall(ctx, model, time.Since(llmStart), err)
		if err != nil {
			if ctx.Err() == context.Canceled {
				return finish(StatusCancelled, "", ctx.Err().Error())
			}
			return finish(StatusError, "", fmt.Sprintf("llm request failed: %v", err))
		}

		res.Usage = res.Usage.Add(resp.Usage)
		res.Cost += llm.Cost(model, resp.Usage)
		observability.GetGlobalMetrics().RecordLLMTokens(ctx, model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

		if len(resp.ToolCalls) == 0 {
			return finish(StatusSuccess, resp.Text, "")
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			outcome := e.dispatcher.Dispatch(ctx, call.Name, call.Arguments, req.Creds, dispatcher.Options{})
			rendered := renderOutcome(outcome)

			item := memory.ShortTermItem{
				Tool:      call.Name,
				Params:    call.Arguments,
				Result:    rendered,
				Timestamp: e.now().UTC(),
			}
			if err := e.shortTerm.Append(ctx, req.AgentID, item, window); err != nil {
				slog.Warn("Failed to append short-term memory", "agent", req.AgentID, "error", err)
			}

			// Failures flow back to the model as tool output; only the
			// model decides whether to retry or route around them.
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    rendered,
			})
		}
	}

	return finish(StatusSuccess, MaxIterationsExceeded, "")
}

func (e *Executor) recordUsage(agentID string, res *RunResult) {
	if e.usage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.usage.AddUsage(ctx, agentID, res.Usage.PromptTokens, res.Usage.CompletionTokens, res.Cost)
	if err != nil {
		slog.Warn("Failed to record agent usage", "agent", agentID, "error", err)
	}
}

func (e *Executor) persistLongTerm(req RunRequest, final string) {
	if e.longTerm == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.longTerm.Record(ctx, memory.LongTermItem{
		AgentID:   req.AgentID,
		Prompt:    req.Prompt,
		Response:  final,
		SessionID: req.SessionID,
		Timestamp: e.now().UTC(),
	})
	if err != nil {
		slog.Warn("Failed to persist long-term memory", "agent", req.AgentID, "error", err)
	}
}

// toolDefinitions resolves the agent's tool allow-list against the
// handler registry. Unknown names are skipped with a warning rather than
// failing the run.
func (e *Executor) toolDefinitions(names []string) []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	for _, name := range names {
		h, err := e.dispatcher.Registry().Resolve(name)
		if err != nil {
			slog.Warn("Agent references unknown tool", "tool", name)
			continue
		}
		info := h.Info()
		defs = append(defs, llm.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  parameterSchema(info.Parameters),
		})
	}
	return defs
}

// parameterSchema renders a handler's parameter specs as a JSON Schema
// object for the model.
func parameterSchema(specs []handler.ParameterSpec) map[string]any {
	properties := make(map[string]any, len(specs))
	var required []string
	for _, spec := range specs {
		prop := map[string]any{"type": jsonType(spec.Type)}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		if spec.Type == handler.TypeArray && spec.Items != "" {
			prop["items"] = map[string]any{"type": jsonType(spec.Items)}
		}
		properties[spec.Name] = prop
		if spec.Required {
			required = append(required, spec.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonType(t handler.ParamType) string {
	switch t {
	case handler.TypeInteger:
		return "integer"
	case handler.TypeNumber:
		return "number"
	case handler.TypeBoolean:
		return "boolean"
	case handler.TypeArray:
		return "array"
	case handler.TypeObject:
		return "object"
	case handler.TypeAny:
		return "string"
	default:
		return "string"
	}
}

// fitContext drops the oldest non-system turns once the conversation
// outgrows the context budget.
func fitContext(counter *llm.TokenCounter, messages []llm.Message) []llm.Message {
	if counter == nil || len(messages) < 2 {
		return messages
	}
	if counter.CountMessages(messages) <= DefaultContextBudget {
		return messages
	}

	system := messages[0]
	budget := DefaultContextBudget - counter.CountMessages([]llm.Message{system})
	fitted := counter.FitWithinLimit(messages[1:], budget)
	return append([]llm.Message{system}, fitted...)
}

// renderOutcome serializes a dispatch outcome for injection into the
// conversation.
func renderOutcome(outcome *dispatcher.Outcome) string {
	var payload any
	switch outcome.Kind {
	case dispatcher.OutcomeResult:
		payload = outcome.Result
	case dispatcher.OutcomeNeedsInput:
		payload = map[string]any{
			"status":      "needs_user_input",
			"form_schema": outcome.FormSchema,
		}
	case dispatcher.OutcomeInvalid:
		payload = map[string]any{
			"status": "error",
			"error":  outcome.Err.Error(),
			"fields": outcome.Validation,
		}
	default:
		msg := "handler not found"
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		payload = map[string]any{"status": "error", "error": msg}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"status": "error", "error": "unserializable result: %v"}`, err)
	}
	return string(encoded)
}
