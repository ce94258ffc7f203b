// Package audit persists the decision trail for explainability and review.
//
// Every decision the pipeline produces is recorded with its full score
// breakdown so analysts can reconstruct why a transaction was allowed,
// reviewed, or blocked.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/settlr/fraud-service/internal/decision"
)

// Store persists decisions.
type Store interface {
	Record(ctx context.Context, dec *decision.Decision) error
	Get(ctx context.Context, id string) (*decision.Decision, error)
	ListByEntity(ctx context.Context, entityID string, limit int) ([]*decision.Decision, error)
}

// recordTimeout bounds each best-effort audit write.
const recordTimeout = 10 * time.Second

// Recorder adapts a Store to the pipeline's Publisher interface. Writes are
// asynchronous and best-effort: losing an audit row must never block or
// fail a decision.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a publisher that records decisions into store.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Publish records the decision in the background.
func (r *Recorder) Publish(ctx context.Context, dec *decision.Decision) {
	go func() {
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := r.store.Record(recordCtx, dec); err != nil {
			r.logger.Warn("audit record failed", "decision", dec.ID, "error", err)
		}
	}()
}
