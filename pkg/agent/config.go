// Package agent implements the bounded reason-act executor. An agent is
// configuration, not code: a prompt, a tool allow-list, and model
// settings, executed by the shared loop in this package.
package agent

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an agent id resolves to nothing.
var ErrNotFound = errors.New("agent not found")

// Config is a stored agent definition.
type Config struct {
	AgentID       string   `json:"agent_id"`
	Name          string   `json:"name,omitempty"`
	DefaultPrompt string   `json:"default_prompt"`
	Tools         []string `json:"tools,omitempty"`
	MemorySchema  string   `json:"memory_schema,omitempty"`
	Model         string   `json:"model,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty"`
	MemoryWindow  int      `json:"memory_window,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfigStore persists agent definitions.
type ConfigStore interface {
	Save(ctx context.Context, cfg *Config) error
	Get(ctx context.Context, agentID string) (*Config, error)
	List(ctx context.Context) ([]*Config, error)
	Delete(ctx context.Context, agentID string) error
}

// UsageTotals is the cumulative token and cost accounting for one agent.
// Totals only ever grow.
type UsageTotals struct {
	AgentID          string    `json:"agent_id"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	Cost             float64   `json:"cost"`
	Runs             int64     `json:"runs"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UsageRecorder accumulates per-agent usage.
type UsageRecorder interface {
	AddUsage(ctx context.Context, agentID string, promptTokens, completionTokens int, cost float64) error
	Usage(ctx context.Context, agentID string) (*UsageTotals, error)
}
