// Package memory provides the agent memory substrate: short-term buffers
// (in-process or redis-backed), always-in-context core sections, and
// episodic recall with temporal decay.
package memory

import (
	"context"
	"time"
)

// DefaultWindow is the short-term buffer size used when a caller passes
// a non-positive window.
const DefaultWindow = 20

// ShortTermItem is one tool interaction recorded during an agent run.
type ShortTermItem struct {
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params,omitempty"`
	Result    any            `json:"result,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store is the uniform contract all short-term backends implement.
// Append never grows a buffer past the window; the oldest item is evicted
// first.
type Store interface {
	Load(ctx context.Context, agentID string) ([]ShortTermItem, error)
	Append(ctx context.Context, agentID string, item ShortTermItem, window int) error
	Clear(ctx context.Context, agentID string) error
}

// LongTermItem is a persisted prompt/response pair written at the end of
// an agent run.
type LongTermItem struct {
	AgentID   string    `json:"agent_id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LongTermStore persists agent interactions across runs.
type LongTermStore interface {
	Record(ctx context.Context, item LongTermItem) error
	History(ctx context.Context, agentID string, limit int) ([]LongTermItem, error)
}
