package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/kyra-dev/kyra/pkg/dispatcher"
	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/llm"
	"github.com/kyra-dev/kyra/pkg/memory"
	"github.com/kyra-dev/kyra/pkg/store"
)

type scriptedProvider struct {
	responses []*llm.Response
	requests  []*llm.Request
	err       error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Close() error { return nil }

func (p *scriptedProvider) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.requests = append(p.requests, req)
	idx := len(p.requests) - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	return p.responses[idx], nil
}

type echoTool struct {
	calls int
	fail  bool
}

func (h *echoTool) Info() handler.Info {
	return handler.Info{
		Name: "Search.web",
		Kind: handler.KindTool,
		Parameters: []handler.ParameterSpec{
			{Name: "query", Type: handler.TypeString, Required: true},
		},
	}
}

func (h *echoTool) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	h.calls++
	if h.fail {
		return handler.Errorf("upstream unavailable"), nil
	}
	return handler.Success(map[string]any{"answer": "42"}), nil
}

func newTestExecutor(t *testing.T, provider llm.Provider, tool handler.Handler) (*Executor, *SQLStore, *memory.BufferStore) {
	t.Helper()

	db, err := store.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	configs, err := NewSQLStore(db, "sqlite")
	if err != nil {
		t.Fatal(err)
	}
	if err := configs.Save(context.Background(), &Config{
		AgentID:       "researcher",
		DefaultPrompt: "You are a research assistant.",
		Tools:         []string{"Search.web"},
		Model:         "gpt-4o",
		MaxIterations: 3,
	}); err != nil {
		t.Fatal(err)
	}

	reg := handler.NewRegistry()
	if tool != nil {
		if err := reg.RegisterTool("Search.web", tool); err != nil {
			t.Fatal(err)
		}
	}

	providers := llm.NewRegistry()
	if err := providers.RegisterProvider(provider, "gpt-"); err != nil {
		t.Fatal(err)
	}

	buf := memory.NewBufferStore()
	ex := NewExecutor(configs, providers, dispatcher.New(reg), buf, Defaults{}).
		WithUsageRecorder(configs)
	return ex, configs, buf
}

func TestRun_ConvergesAfterToolCall(t *testing.T) {
	tool := &echoTool{}
	provider := &scriptedProvider{responses: []*llm.Response{
		{
			ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "Search.web",
				Arguments: map[string]any{"query": "meaning of life"}}},
			Usage: llm.Usage{PromptTokens: 100, CompletionTokens: 20},
		},
		{
			Text:  "The answer is 42.",
			Usage: llm.Usage{PromptTokens: 150, CompletionTokens: 10},
		},
	}}

	ex, configs, buf := newTestExecutor(t, provider, tool)

	res, err := ex.Run(context.Background(), RunRequest{AgentID: "researcher", Prompt: "What is the answer?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Status != StatusSuccess || res.Final != "The answer is 42." {
		t.Errorf("result = %+v", res)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}
	if tool.calls != 1 {
		t.Errorf("tool calls = %d, want 1", tool.calls)
	}
	if res.Usage.PromptTokens != 250 || res.Usage.CompletionTokens != 30 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if res.Cost <= 0 {
		t.Error("cost not accounted")
	}

	// The second request carries the tool result back to the model.
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "call-1" {
		t.Errorf("last message = %+v", last)
	}
	if !strings.Contains(last.Content, "42") {
		t.Errorf("tool result content = %q", last.Content)
	}

	// Tool definitions were offered from the registry specs.
	if len(second.Tools) != 1 || second.Tools[0].Name != "Search.web" {
		t.Errorf("tools = %+v", second.Tools)
	}

	// The interaction landed in short-term memory.
	items, _ := buf.Load(context.Background(), "researcher")
	if len(items) != 1 || items[0].Tool != "Search.web" {
		t.Errorf("short-term items = %+v", items)
	}

	// Cumulative usage was recorded.
	totals, err := configs.Usage(context.Background(), "researcher")
	if err != nil {
		t.Fatal(err)
	}
	if totals.TotalTokens != 280 || totals.Runs != 1 {
		t.Errorf("totals = %+v", totals)
	}
}

func TestRun_ToolFailureInjectedNotFatal(t *testing.T) {
	tool := &echoTool{fail: true}
	provider := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "Search.web",
			Arguments: map[string]any{"query": "q"}}}},
		{Text: "I could not reach the search service."},
	}}

	ex, _, _ := newTestExecutor(t, provider, tool)

	res, err := ex.Run(context.Background(), RunRequest{AgentID: "researcher", Prompt: "look it up"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != StatusSuccess {
		t.Errorf("status = %s, tool failure must not abort the loop", res.Status)
	}

	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.Contains(last.Content, "upstream unavailable") {
		t.Errorf("failure not surfaced to model: %q", last.Content)
	}
}

func TestRun_MaxIterationsExceeded(t *testing.T) {
	tool := &echoTool{}
	// The model never stops asking for tools.
	provider := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "c", Name: "Search.web",
			Arguments: map[string]any{"query": "again"}}}},
	}}

	ex, _, _ := newTestExecutor(t, provider, tool)

	res, err := ex.Run(context.Background(), RunRequest{AgentID: "researcher", Prompt: "loop"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Final != MaxIterationsExceeded {
		t.Errorf("final = %q", res.Final)
	}
	if res.Iterations != 3 {
		t.Errorf("iterations = %d, want config limit 3", res.Iterations)
	}
	if tool.calls != 3 {
		t.Errorf("tool calls = %d", tool.calls)
	}
}

func TestRun_Cancelled(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{{Text: "never seen"}}}
	ex, _, _ := newTestExecutor(t, provider, &echoTool{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := ex.Run(ctx, RunRequest{AgentID: "researcher", Prompt: "stop"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", res.Status)
	}
}

func TestRun_LLMErrorAborts(t *testing.T) {
	provider := &scriptedProvider{err: &llm.APIError{Provider: "scripted", StatusCode: 500, Message: "boom"}}
	ex, _, _ := newTestExecutor(t, provider, &echoTool{})

	res, err := ex.Run(context.Background(), RunRequest{AgentID: "researcher", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != StatusError || !strings.Contains(res.Error, "boom") {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_UnknownAgent(t *testing.T) {
	ex, _, _ := newTestExecutor(t, &scriptedProvider{responses: []*llm.Response{{Text: "x"}}}, nil)

	if _, err := ex.Run(context.Background(), RunRequest{AgentID: "ghost", Prompt: "hi"}); err == nil {
		t.Error("unknown agent accepted")
	}
}
