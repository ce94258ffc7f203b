package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresBackingStore persists entity states in PostgreSQL as JSONB
// documents keyed by entity ID.
type PostgresBackingStore struct {
	db *sql.DB
}

// NewPostgresBackingStore creates a PostgreSQL-backed state store.
func NewPostgresBackingStore(db *sql.DB) *PostgresBackingStore {
	return &PostgresBackingStore{db: db}
}

// Migrate creates the entity_states table if it doesn't exist.
func (s *PostgresBackingStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS entity_states (
			entity_id   VARCHAR(128) PRIMARY KEY,
			state       JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (s *PostgresBackingStore) Load(ctx context.Context, entityID string) (*EntityState, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM entity_states WHERE entity_id = $1
	`, entityID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entity state: %w", err)
	}

	var st EntityState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode entity state: %w", err)
	}
	return &st, nil
}

func (s *PostgresBackingStore) Save(ctx context.Context, entityID string, state *EntityState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode entity state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entity_states (entity_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_id) DO UPDATE
			SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at
	`, entityID, raw, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save entity state: %w", err)
	}
	return nil
}
