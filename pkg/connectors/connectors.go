// Package connectors holds the built-in handlers shipped with the
// engine. Registration is explicit: the process calls Register once at
// startup, so the registry's contents are deterministic.
package connectors

import (
	"github.com/kyra-dev/kyra/pkg/handler"
	"github.com/kyra-dev/kyra/pkg/memory"
)

// Deps carries the shared infrastructure the built-in handlers use.
type Deps struct {
	ShortTerm memory.Store
	Core      *memory.CoreStore
	Episodic  *memory.EpisodicStore

	// Agent runs sub-agent calls; nil disables the Agent.call handler.
	Agent AgentCaller

	// TelegramBaseURL and SlackBaseURL override the vendor endpoints,
	// mainly for tests.
	TelegramBaseURL string
	SlackBaseURL    string
}

// Register wires every built-in handler into the registry. Handlers that
// lack their dependencies are skipped.
func Register(reg *handler.Registry, deps Deps) error {
	httpHandler := NewHTTPRequestHandler(DefaultHTTPRequestConfig())
	if err := reg.RegisterTool("http_request", httpHandler); err != nil {
		return err
	}
	if err := reg.RegisterNode("HTTP.request", httpHandler); err != nil {
		return err
	}

	telegram := NewTelegramHandler(deps.TelegramBaseURL)
	if err := reg.RegisterNode("Telegram.send_message", telegram); err != nil {
		return err
	}

	slack := NewSlackHandler(deps.SlackBaseURL)
	if err := reg.RegisterNode("Slack.post_message", slack); err != nil {
		return err
	}

	transform := &TransformHandler{}
	if err := reg.RegisterNode("Transform.apply", transform); err != nil {
		return err
	}

	logHandler := &LogHandler{}
	if err := reg.RegisterTool("log", logHandler); err != nil {
		return err
	}
	if err := reg.RegisterNode("Log.write", logHandler); err != nil {
		return err
	}

	if deps.ShortTerm != nil || deps.Core != nil || deps.Episodic != nil {
		for name, h := range memoryHandlers(deps) {
			if err := reg.RegisterTool(name, h); err != nil {
				return err
			}
		}
	}

	if deps.Agent != nil {
		agentCall := NewAgentCallHandler(deps.Agent)
		if err := reg.RegisterTool("agent_call", agentCall); err != nil {
			return err
		}
		if err := reg.RegisterNode("Agent.call", agentCall); err != nil {
			return err
		}
	}

	return nil
}
