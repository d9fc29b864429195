package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kyra-dev/kyra/pkg/store"
)

const flowSchema = `
CREATE TABLE IF NOT EXISTS flows (
    id VARCHAR(255) PRIMARY KEY,
    owner_id VARCHAR(255) NOT NULL,
    name VARCHAR(255) NOT NULL,
    is_active BOOLEAN NOT NULL,
    spec TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_flows_owner ON flows(owner_id);
`

// SQLStore persists flow definitions in the engine database.
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
		return nil, fmt.Errorf("failed to initialize flow schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, flowSchema)
	return err
}

func (s *SQLStore) Save(ctx context.Context, flow *Flow) error {
	spec, err := json.Marshal(flow.Spec)
	if err != nil {
		return fmt.Errorf("failed to encode flow spec: %w", err)
	}

	now := s.now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}
	flow.UpdatedAt = now

	query := store.Rebind(s.dialect, `
INSERT INTO flows (id, owner_id, name, is_active, spec, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    owner_id = excluded.owner_id,
    name = excluded.name,
    is_active = excluded.is_active,
    spec = excluded.spec,
    updated_at = excluded.updated_at
`)
	if s.dialect == "mysql" {
		query = `
INSERT INTO flows (id, owner_id, name, is_active, spec, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    owner_id = VALUES(owner_id),
    name = VALUES(name),
    is_active = VALUES(is_active),
    spec = VALUES(spec),
    updated_at = VALUES(updated_at)
`
	}

	_, err = s.db.ExecContext(ctx, query,
		flow.ID, flow.OwnerID, flow.Name, flow.IsActive,
		string(spec), flow.CreatedAt, flow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Flow, error) {
	query := store.Rebind(s.dialect, `
SELECT id, owner_id, name, is_active, spec, created_at, updated_at
FROM flows WHERE id = ?
`)
	flow, err := scanFlow(s.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return flow, err
}

func (s *SQLStore) ListByOwner(ctx context.Context, ownerID string) ([]*Flow, error) {
	query := store.Rebind(s.dialect, `
SELECT id, owner_id, name, is_active, spec, created_at, updated_at
FROM flows WHERE owner_id = ?
ORDER BY created_at
`)
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	var flows []*Flow
	for rows.Next() {
		flow, err := scanFlow(rows.Scan)
		if err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

func (s *SQLStore) SetActive(ctx context.Context, id string, active bool) error {
	query := store.Rebind(s.dialect, `
UPDATE flows SET is_active = ?, updated_at = ? WHERE id = ?
`)
	res, err := s.db.ExecContext(ctx, query, active, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set flow active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	query := store.Rebind(s.dialect, `DELETE FROM flows WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFlow(scan func(dest ...any) error) (*Flow, error) {
	var flow Flow
	var spec string

	err := scan(&flow.ID, &flow.OwnerID, &flow.Name, &flow.IsActive, &spec, &flow.CreatedAt, &flow.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if spec != "" {
		if err := json.Unmarshal([]byte(spec), &flow.Spec); err != nil {
			return nil, fmt.Errorf("corrupt flow spec: %w", err)
		}
	}
	return &flow, nil
}

var _ Store = (*SQLStore)(nil)
