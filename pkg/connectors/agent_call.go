package connectors

import (
	"context"

	"github.com/kyra-dev/kyra/pkg/agent"
	"github.com/kyra-dev/kyra/pkg/handler"
)

// AgentCaller is the slice of the agent executor the handler needs.
// *agent.Executor satisfies it.
type AgentCaller interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)
}

// AgentCallHandler routes sub-agent invocations through the one
// authoritative executor path.
type AgentCallHandler struct {
	runner AgentCaller
}

func NewAgentCallHandler(runner AgentCaller) *AgentCallHandler {
	return &AgentCallHandler{runner: runner}
}

func (h *AgentCallHandler) Info() handler.Info {
	return handler.Info{
		Name:        "agent_call",
		Description: "Run another agent with a prompt and return its final answer",
		Kind:        handler.KindBoth,
		Parameters: []handler.ParameterSpec{
			{Name: "agent_id", Type: handler.TypeString, Required: true},
			{Name: "prompt", Type: handler.TypeString, Required: true},
			{Name: "session_id", Type: handler.TypeString},
		},
		Capabilities: []string{handler.CapabilitySubAgent},
	}
}

func (h *AgentCallHandler) Execute(ctx context.Context, params, creds map[string]any) (*handler.Result, error) {
	agentID, _ := params["agent_id"].(string)
	prompt, _ := params["prompt"].(string)
	if agentID == "" || prompt == "" {
		return handler.Errorf("agent_id and prompt are required"), nil
	}
	sessionID, _ := params["session_id"].(string)

	res, err := h.runner.Run(ctx, agent.RunRequest{
		AgentID:   agentID,
		Prompt:    prompt,
		SessionID: sessionID,
		Creds:     creds,
	})
	if err != nil {
		return handler.Errorf("agent run failed: %v", err), nil
	}
	if res.Status != agent.StatusSuccess {
		return handler.Errorf("agent finished with status %s: %s", res.Status, res.Error), nil
	}

	return handler.Success(map[string]any{
		"final":      res.Final,
		"iterations": res.Iterations,
		"model":      res.Model,
		"cost":       res.Cost,
	}), nil
}

var _ handler.Handler = (*AgentCallHandler)(nil)
