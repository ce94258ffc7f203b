package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/settlr/fraud-service/internal/decision"
	"github.com/settlr/fraud-service/internal/rules"
)

// PostgresStore persists decisions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed decision store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the decisions table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS decisions (
			id             VARCHAR(64) PRIMARY KEY,
			event_id       VARCHAR(128) NOT NULL,
			entity_id      VARCHAR(128) NOT NULL,
			verdict        VARCHAR(10) NOT NULL CHECK (verdict IN ('ALLOW', 'REVIEW', 'BLOCK')),
			score          DOUBLE PRECISION NOT NULL,
			contributions  JSONB NOT NULL DEFAULT '[]',
			flags          JSONB NOT NULL DEFAULT '[]',
			decided_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_decisions_event_id
			ON decisions (event_id);

		CREATE INDEX IF NOT EXISTS idx_decisions_entity_id
			ON decisions (entity_id, decided_at DESC);

		CREATE INDEX IF NOT EXISTS idx_decisions_blocks
			ON decisions (decided_at DESC) WHERE verdict = 'BLOCK';
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, dec *decision.Decision) error {
	contributions, err := json.Marshal(dec.Score.Contributions)
	if err != nil {
		return fmt.Errorf("failed to marshal contributions: %w", err)
	}
	flags, err := json.Marshal(dec.Score.Flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}

	// ON CONFLICT keeps re-published decisions idempotent per event ID.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, event_id, entity_id, verdict, score, contributions, flags, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`,
		dec.ID,
		dec.EventID,
		dec.EntityID,
		string(dec.Verdict),
		dec.Score.Value,
		contributions,
		flags,
		dec.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*decision.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, entity_id, verdict, score, contributions, flags, decided_at
		FROM decisions
		WHERE id = $1
	`, id)

	dec, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return dec, nil
}

func (s *PostgresStore) ListByEntity(ctx context.Context, entityID string, limit int) ([]*decision.Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, entity_id, verdict, score, contributions, flags, decided_at
		FROM decisions
		WHERE entity_id = $1
		ORDER BY decided_at DESC
		LIMIT $2
	`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*decision.Decision
	for rows.Next() {
		dec, err := scanDecision(rows)
		if err != nil {
			continue
		}
		result = append(result, dec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*decision.Decision, error) {
	var dec decision.Decision
	var verdict string
	var contributions, flags []byte

	if err := row.Scan(&dec.ID, &dec.EventID, &dec.EntityID, &verdict,
		&dec.Score.Value, &contributions, &flags, &dec.DecidedAt); err != nil {
		return nil, err
	}

	dec.Verdict = decision.Verdict(verdict)
	dec.Score.Contributions = []rules.Contribution{}
	_ = json.Unmarshal(contributions, &dec.Score.Contributions)
	dec.Score.Flags = nil
	_ = json.Unmarshal(flags, &dec.Score.Flags)
	return &dec, nil
}
