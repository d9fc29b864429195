package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kyra-dev/kyra/pkg/store"
)

const longTermSchema = `
CREATE TABLE IF NOT EXISTS agent_long_term (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255),
    prompt TEXT NOT NULL,
    response TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_long_term_agent ON agent_long_term (agent_id, created_at);
`

const longTermSchemaMySQL = `
CREATE TABLE IF NOT EXISTS agent_long_term (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    agent_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255),
    prompt TEXT NOT NULL,
    response TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    INDEX idx_long_term_agent (agent_id, created_at)
);
`

const longTermSchemaPostgres = `
CREATE TABLE IF NOT EXISTS agent_long_term (
    id BIGSERIAL PRIMARY KEY,
    agent_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255),
    prompt TEXT NOT NULL,
    response TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_long_term_agent ON agent_long_term (agent_id, created_at);
`

// SQLLongTermStore is the database-backed LongTermStore. One row per
// completed agent run, append-only.
type SQLLongTermStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

func NewSQLLongTermStore(db *sql.DB, dialect string) (*SQLLongTermStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	s := &SQLLongTermStore{db: db, dialect: dialect, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize long-term memory schema: %w", err)
	}
	return s, nil
}

func (s *SQLLongTermStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := longTermSchema
	switch s.dialect {
	case "mysql":
		schema = longTermSchemaMySQL
	case "postgres":
		schema = longTermSchemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLLongTermStore) Record(ctx context.Context, item LongTermItem) error {
	if item.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = s.now().UTC()
	}

	query := store.Rebind(s.dialect, `
INSERT INTO agent_long_term (agent_id, session_id, prompt, response, created_at)
VALUES (?, ?, ?, ?, ?)
`)
	_, err := s.db.ExecContext(ctx, query,
		item.AgentID, item.SessionID, item.Prompt, item.Response, item.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record long-term memory: %w", err)
	}
	return nil
}

// History returns the most recent interactions for an agent, newest
// first.
func (s *SQLLongTermStore) History(ctx context.Context, agentID string, limit int) ([]LongTermItem, error) {
	if limit <= 0 {
		limit = 50
	}

	query := store.Rebind(s.dialect, `
SELECT agent_id, session_id, prompt, response, created_at
FROM agent_long_term
WHERE agent_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`)
	rows, err := s.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load long-term history: %w", err)
	}
	defer rows.Close()

	var items []LongTermItem
	for rows.Next() {
		var item LongTermItem
		var sessionID sql.NullString
		if err := rows.Scan(&item.AgentID, &sessionID, &item.Prompt, &item.Response, &item.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan long-term row: %w", err)
		}
		item.SessionID = sessionID.String
		items = append(items, item)
	}
	return items, rows.Err()
}

var _ LongTermStore = (*SQLLongTermStore)(nil)
