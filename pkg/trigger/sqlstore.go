package trigger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kyra-dev/kyra/pkg/store"
)

const registrationSchema = `
CREATE TABLE IF NOT EXISTS trigger_registrations (
    id VARCHAR(255) PRIMARY KEY,
    flow_id VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    type VARCHAR(50) NOT NULL,
    args TEXT,
    tokens TEXT,
    state VARCHAR(20) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trigger_reg_flow ON trigger_registrations(flow_id);
CREATE INDEX IF NOT EXISTS idx_trigger_reg_state ON trigger_registrations(state);
`

const webhookEventSchema = `
CREATE TABLE IF NOT EXISTS webhook_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    flow_id VARCHAR(255) NOT NULL,
    path VARCHAR(512) NOT NULL,
    method VARCHAR(10) NOT NULL,
    body TEXT,
    headers TEXT,
    received_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_webhook_events_flow ON webhook_events(flow_id);
`

// postgres and mysql use their own autoincrement spellings.
const webhookEventSchemaPostgres = `
CREATE TABLE IF NOT EXISTS webhook_events (
    id BIGSERIAL PRIMARY KEY,
    flow_id VARCHAR(255) NOT NULL,
    path VARCHAR(512) NOT NULL,
    method VARCHAR(10) NOT NULL,
    body TEXT,
    headers TEXT,
    received_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_webhook_events_flow ON webhook_events(flow_id);
`

const webhookEventSchemaMySQL = `
CREATE TABLE IF NOT EXISTS webhook_events (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    flow_id VARCHAR(255) NOT NULL,
    path VARCHAR(512) NOT NULL,
    method VARCHAR(10) NOT NULL,
    body TEXT,
    headers TEXT,
    received_at TIMESTAMP NOT NULL,
    INDEX idx_webhook_events_flow (flow_id)
);
`

// SQLStore persists trigger registrations and the append-only webhook
// event log in the engine database.
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
		return nil, fmt.Errorf("failed to initialize trigger schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, registrationSchema); err != nil {
		return err
	}

	eventSchema := webhookEventSchema
	switch s.dialect {
	case "postgres":
		eventSchema = webhookEventSchemaPostgres
	case "mysql":
		eventSchema = webhookEventSchemaMySQL
	}
	_, err := s.db.ExecContext(ctx, eventSchema)
	return err
}

func (s *SQLStore) Save(ctx context.Context, reg *Registration) error {
	args, err := json.Marshal(reg.Args)
	if err != nil {
		return fmt.Errorf("failed to encode registration args: %w", err)
	}
	tokens, err := json.Marshal(reg.Tokens)
	if err != nil {
		return fmt.Errorf("failed to encode registration tokens: %w", err)
	}

	now := s.now().UTC()
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = now
	}
	reg.UpdatedAt = now

	query := store.Rebind(s.dialect, `
INSERT INTO trigger_registrations (id, flow_id, user_id, type, args, tokens, state, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    flow_id = excluded.flow_id,
    user_id = excluded.user_id,
    type = excluded.type,
    args = excluded.args,
    tokens = excluded.tokens,
    state = excluded.state,
    updated_at = excluded.updated_at
`)
	if s.dialect == "mysql" {
		query = `
INSERT INTO trigger_registrations (id, flow_id, user_id, type, args, tokens, state, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    flow_id = VALUES(flow_id),
    user_id = VALUES(user_id),
    type = VALUES(type),
    args = VALUES(args),
    tokens = VALUES(tokens),
    state = VALUES(state),
    updated_at = VALUES(updated_at)
`
	}

	_, err = s.db.ExecContext(ctx, query,
		reg.ID, reg.FlowID, reg.UserID, string(reg.Type),
		string(args), string(tokens), string(reg.State),
		reg.CreatedAt, reg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save registration: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Registration, error) {
	query := store.Rebind(s.dialect, `
SELECT id, flow_id, user_id, type, args, tokens, state, created_at, updated_at
FROM trigger_registrations WHERE id = ?
`)
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLStore) GetByFlow(ctx context.Context, flowID string, typ Type) (*Registration, error) {
	query := store.Rebind(s.dialect, `
SELECT id, flow_id, user_id, type, args, tokens, state, created_at, updated_at
FROM trigger_registrations WHERE flow_id = ? AND type = ?
ORDER BY updated_at DESC LIMIT 1
`)
	return s.scanOne(s.db.QueryRowContext(ctx, query, flowID, string(typ)))
}

func (s *SQLStore) List(ctx context.Context, state State) ([]*Registration, error) {
	query := store.Rebind(s.dialect, `
SELECT id, flow_id, user_id, type, args, tokens, state, created_at, updated_at
FROM trigger_registrations WHERE state = ?
ORDER BY created_at
`)
	rows, err := s.db.QueryContext(ctx, query, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	var regs []*Registration
	for rows.Next() {
		reg, err := scanRegistration(rows.Scan)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// SaveTokens advances only the continuation tokens, bumping updated_at so
// concurrent writers can be detected.
func (s *SQLStore) SaveTokens(ctx context.Context, id string, tokens map[string]any) error {
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}

	query := store.Rebind(s.dialect, `
UPDATE trigger_registrations SET tokens = ?, updated_at = ? WHERE id = ?
`)
	res, err := s.db.ExecContext(ctx, query, string(encoded), s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) SetState(ctx context.Context, id string, state State) error {
	reg, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(reg.State, state) {
		return fmt.Errorf("illegal trigger state transition %s -> %s", reg.State, state)
	}

	query := store.Rebind(s.dialect, `
UPDATE trigger_registrations SET state = ?, updated_at = ? WHERE id = ?
`)
	if _, err := s.db.ExecContext(ctx, query, string(state), s.now().UTC(), id); err != nil {
		return fmt.Errorf("failed to set registration state: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	query := store.Rebind(s.dialect, `DELETE FROM trigger_registrations WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete registration: %w", err)
	}
	return nil
}

// FindByToken resolves a webhook registration by its routing token.
func (s *SQLStore) FindByToken(ctx context.Context, token string) (*Registration, error) {
	// Tokens live inside the JSON column; scan armed webhook rows.
	regs, err := s.List(ctx, StateArmed)
	if err != nil {
		return nil, err
	}
	for _, reg := range regs {
		if got, _ := reg.Tokens["token"].(string); got != "" && got == token {
			return reg, nil
		}
	}
	return nil, ErrNotFound
}

func (s *SQLStore) scanOne(row *sql.Row) (*Registration, error) {
	reg, err := scanRegistration(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return reg, err
}

func scanRegistration(scan func(dest ...any) error) (*Registration, error) {
	var reg Registration
	var typ, state, args, tokens string

	err := scan(&reg.ID, &reg.FlowID, &reg.UserID, &typ, &args, &tokens, &state, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return nil, err
	}

	reg.Type = Type(typ)
	reg.State = State(state)
	if args != "" {
		if err := json.Unmarshal([]byte(args), &reg.Args); err != nil {
			return nil, fmt.Errorf("corrupt registration args: %w", err)
		}
	}
	if tokens != "" {
		if err := json.Unmarshal([]byte(tokens), &reg.Tokens); err != nil {
			return nil, fmt.Errorf("corrupt registration tokens: %w", err)
		}
	}
	return &reg, nil
}

// WebhookEvent is one row in the append-only inbound request log.
type WebhookEvent struct {
	FlowID     string            `json:"flow_id"`
	Path       string            `json:"path"`
	Method     string            `json:"method"`
	Body       string            `json:"body"`
	Headers    map[string]string `json:"headers"`
	ReceivedAt time.Time         `json:"received_at"`
}

// LogWebhookEvent persists an inbound request before any flow code runs.
func (s *SQLStore) LogWebhookEvent(ctx context.Context, event *WebhookEvent) error {
	headers, err := json.Marshal(event.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode event headers: %w", err)
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = s.now().UTC()
	}

	query := store.Rebind(s.dialect, `
INSERT INTO webhook_events (flow_id, path, method, body, headers, received_at)
VALUES (?, ?, ?, ?, ?, ?)
`)
	_, err = s.db.ExecContext(ctx, query,
		event.FlowID, event.Path, event.Method, event.Body, string(headers), event.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to log webhook event: %w", err)
	}
	return nil
}

// WebhookEvents returns the logged requests for a flow, oldest first.
func (s *SQLStore) WebhookEvents(ctx context.Context, flowID string, limit int) ([]*WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := store.Rebind(s.dialect, `
SELECT flow_id, path, method, body, headers, received_at
FROM webhook_events WHERE flow_id = ?
ORDER BY id LIMIT ?
`)
	rows, err := s.db.QueryContext(ctx, query, flowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer rows.Close()

	var events []*WebhookEvent
	for rows.Next() {
		var ev WebhookEvent
		var headers string
		if err := rows.Scan(&ev.FlowID, &ev.Path, &ev.Method, &ev.Body, &headers, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		if headers != "" {
			if err := json.Unmarshal([]byte(headers), &ev.Headers); err != nil {
				return nil, fmt.Errorf("corrupt event headers: %w", err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

var _ Store = (*SQLStore)(nil)
