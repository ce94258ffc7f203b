package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists webhook subscriptions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed webhook store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the webhook_subscriptions table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_subscriptions (
			id            VARCHAR(64) PRIMARY KEY,
			url           TEXT NOT NULL,
			secret        TEXT NOT NULL DEFAULT '',
			events        TEXT[] NOT NULL DEFAULT '{}',
			active        BOOLEAN NOT NULL DEFAULT TRUE,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_success  TIMESTAMPTZ,
			last_error    TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_events
			ON webhook_subscriptions USING GIN (events);
	`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	events := make([]string, len(sub.Events))
	for i, et := range sub.Events {
		events[i] = string(et)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sub.ID, sub.URL, sub.Secret, pq.Array(events), sub.Active, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, secret, events, active, created_at, last_success, last_error
		FROM webhook_subscriptions WHERE id = $1
	`, id)

	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

func (s *PostgresStore) List(ctx context.Context) ([]*Subscription, error) {
	return s.query(ctx, `
		SELECT id, url, secret, events, active, created_at, last_success, last_error
		FROM webhook_subscriptions ORDER BY created_at
	`)
}

func (s *PostgresStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	return s.query(ctx, `
		SELECT id, url, secret, events, active, created_at, last_success, last_error
		FROM webhook_subscriptions
		WHERE active AND $1 = ANY(events)
	`, string(eventType))
}

func (s *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	events := make([]string, len(sub.Events))
	for i, et := range sub.Events {
		events[i] = string(et)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		SET url = $2, secret = $3, events = $4, active = $5,
		    last_success = $6, last_error = $7
		WHERE id = $1
	`, sub.ID, sub.URL, sub.Secret, pq.Array(events), sub.Active, sub.LastSuccess, sub.LastError)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			continue
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var sub Subscription
	var events []string
	var lastSuccess sql.NullTime

	if err := row.Scan(&sub.ID, &sub.URL, &sub.Secret, pq.Array(&events),
		&sub.Active, &sub.CreatedAt, &lastSuccess, &sub.LastError); err != nil {
		return nil, err
	}

	sub.Events = make([]EventType, len(events))
	for i, et := range events {
		sub.Events[i] = EventType(et)
	}
	if lastSuccess.Valid {
		sub.LastSuccess = &lastSuccess.Time
	}
	return &sub, nil
}
