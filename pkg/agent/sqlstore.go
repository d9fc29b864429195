package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kyra-dev/kyra/pkg/store"
)

const agentSchema = `
CREATE TABLE IF NOT EXISTS agent_configs (
    agent_id VARCHAR(255) PRIMARY KEY,
    config TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_usage (
    agent_id VARCHAR(255) PRIMARY KEY,
    prompt_tokens BIGINT NOT NULL DEFAULT 0,
    completion_tokens BIGINT NOT NULL DEFAULT 0,
    total_tokens BIGINT NOT NULL DEFAULT 0,
    cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    runs BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

// SQLStore persists agent configurations and cumulative usage.
type SQLStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize agent schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, agentSchema)
	return err
}

func (s *SQLStore) Save(ctx context.Context, cfg *Config) error {
	now := s.now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	encoded, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode agent config: %w", err)
	}

	query := store.Rebind(s.dialect, `
INSERT INTO agent_configs (agent_id, config, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (agent_id) DO UPDATE SET
    config = excluded.config,
    updated_at = excluded.updated_at
`)
	if s.dialect == "mysql" {
		query = `
INSERT INTO agent_configs (agent_id, config, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    config = VALUES(config),
    updated_at = VALUES(updated_at)
`
	}

	_, err = s.db.ExecContext(ctx, query, cfg.AgentID, string(encoded), cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save agent config: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, agentID string) (*Config, error) {
	query := store.Rebind(s.dialect, `SELECT config FROM agent_configs WHERE agent_id = ?`)

	var encoded string
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(encoded), &cfg); err != nil {
		return nil, fmt.Errorf("corrupt agent config: %w", err)
	}
	return &cfg, nil
}

func (s *SQLStore) List(ctx context.Context) ([]*Config, error) {
	query := `SELECT config FROM agent_configs ORDER BY agent_id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent configs: %w", err)
	}
	defer rows.Close()

	var configs []*Config
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, err
		}
		var cfg Config
		if err := json.Unmarshal([]byte(encoded), &cfg); err != nil {
			return nil, fmt.Errorf("corrupt agent config: %w", err)
		}
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, agentID string) error {
	query := store.Rebind(s.dialect, `DELETE FROM agent_configs WHERE agent_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, agentID); err != nil {
		return fmt.Errorf("failed to delete agent config: %w", err)
	}
	return nil
}

// AddUsage accumulates tokens and cost for an agent. Totals are additive,
// so they never move backwards.
func (s *SQLStore) AddUsage(ctx context.Context, agentID string, promptTokens, completionTokens int, cost float64) error {
	total := promptTokens + completionTokens

	query := store.Rebind(s.dialect, `
INSERT INTO agent_usage (agent_id, prompt_tokens, completion_tokens, total_tokens, cost, runs, updated_at)
VALUES (?, ?, ?, ?, ?, 1, ?)
ON CONFLICT (agent_id) DO UPDATE SET
    prompt_tokens = agent_usage.prompt_tokens + excluded.prompt_tokens,
    completion_tokens = agent_usage.completion_tokens + excluded.completion_tokens,
    total_tokens = agent_usage.total_tokens + excluded.total_tokens,
    cost = agent_usage.cost + excluded.cost,
    runs = agent_usage.runs + 1,
    updated_at = excluded.updated_at
`)
	if s.dialect == "mysql" {
		query = `
INSERT INTO agent_usage (agent_id, prompt_tokens, completion_tokens, total_tokens, cost, runs, updated_at)
VALUES (?, ?, ?, ?, ?, 1, ?)
ON DUPLICATE KEY UPDATE
    prompt_tokens = prompt_tokens + VALUES(prompt_tokens),
    completion_tokens = completion_tokens + VALUES(completion_tokens),
    total_tokens = total_tokens + VALUES(total_tokens),
    cost = cost + VALUES(cost),
    runs = runs + 1,
    updated_at = VALUES(updated_at)
`
	}

	_, err := s.db.ExecContext(ctx, query,
		agentID, promptTokens, completionTokens, total, cost, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record agent usage: %w", err)
	}
	return nil
}

func (s *SQLStore) Usage(ctx context.Context, agentID string) (*UsageTotals, error) {
	query := store.Rebind(s.dialect, `
SELECT agent_id, prompt_tokens, completion_tokens, total_tokens, cost, runs, updated_at
FROM agent_usage WHERE agent_id = ?
`)
	var u UsageTotals
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(
		&u.AgentID, &u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.Cost, &u.Runs, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return &UsageTotals{AgentID: agentID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent usage: %w", err)
	}
	return &u, nil
}

var (
	_ ConfigStore   = (*SQLStore)(nil)
	_ UsageRecorder = (*SQLStore)(nil)
)
