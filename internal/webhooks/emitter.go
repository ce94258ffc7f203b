package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/settlr/fraud-service/internal/decision"
	"github.com/settlr/fraud-service/internal/idgen"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudsvc",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudsvc",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// emitTimeout bounds the dispatch of one decision, including subscriber posts.
const emitTimeout = 30 * time.Second

// Emitter adapts a Dispatcher to the pipeline's Publisher interface.
// All emissions are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

// Publish emits a webhook event for the decision's verdict.
func (e *Emitter) Publish(ctx context.Context, dec *decision.Decision) {
	if e == nil || e.d == nil {
		return
	}

	eventType := verdictEventType(dec.Verdict)
	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()

	wevent := &Event{
		ID:        idgen.WithPrefix("whevt_"),
		Type:      eventType,
		Timestamp: dec.DecidedAt,
		Data: map[string]any{
			"decisionId": dec.ID,
			"eventId":    dec.EventID,
			"entityId":   dec.EntityID,
			"verdict":    string(dec.Verdict),
			"score":      dec.Score.Value,
			"flags":      dec.Score.Flags,
		},
	}

	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	go func() {
		defer cancel()
		if err := e.d.Dispatch(emitCtx, wevent); err != nil {
			webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
			e.logger.Warn("webhook emit failed",
				"event", eventType, "decision", dec.ID, "error", err)
		}
	}()
}

func verdictEventType(v decision.Verdict) EventType {
	switch v {
	case decision.Block:
		return EventDecisionBlocked
	case decision.Review:
		return EventDecisionReview
	default:
		return EventDecisionAllowed
	}
}
