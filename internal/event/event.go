// Package event defines the transaction event submitted for risk scoring.
package event

import (
	"fmt"
	"time"
)

// MaxClockSkew is how far in the future an event timestamp may sit before
// the event is rejected as malformed.
const MaxClockSkew = 5 * time.Minute

// TransactionEvent is an immutable record of one attempted transaction.
// It is created by the caller at ingestion and never mutated by the engine.
type TransactionEvent struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entityId"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location,omitempty"` // ISO-3166-1 alpha-2 or opaque geo hash
	Device    string    `json:"device,omitempty"`   // client-side device fingerprint
	Channel   string    `json:"channel,omitempty"`  // "web", "pos", "api", ...
}

// ValidationError marks an event as structurally invalid. The pipeline maps
// it to a REVIEW decision and never mutates entity state for such events.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Message)
}

// Validate checks structural validity. It does not consult entity state;
// anything history-dependent is a signal, not a validation failure.
func (ev *TransactionEvent) Validate(now time.Time) error {
	if ev.ID == "" {
		return &ValidationError{Field: "id", Message: "event ID is required"}
	}
	if ev.EntityID == "" {
		return &ValidationError{Field: "entityId", Message: "entity ID is required"}
	}
	if ev.Amount <= 0 {
		return &ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	if ev.Currency == "" {
		return &ValidationError{Field: "currency", Message: "currency is required"}
	}
	if ev.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp is required"}
	}
	if ev.Timestamp.After(now.Add(MaxClockSkew)) {
		return &ValidationError{Field: "timestamp", Message: "timestamp too far in the future"}
	}
	return nil
}
