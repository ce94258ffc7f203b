// Package pipeline orchestrates per-event fraud decisioning.
//
// For every transaction event: validate → fetch entity state → extract
// signals → evaluate rules → decide → update entity state → publish. The
// pipeline is fail-closed: malformed input and degraded state reads route
// to REVIEW, never to an unexamined ALLOW.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/settlr/fraud-service/internal/decision"
	"github.com/settlr/fraud-service/internal/event"
	"github.com/settlr/fraud-service/internal/idgen"
	"github.com/settlr/fraud-service/internal/metrics"
	"github.com/settlr/fraud-service/internal/retry"
	"github.com/settlr/fraud-service/internal/rules"
	"github.com/settlr/fraud-service/internal/signal"
	"github.com/settlr/fraud-service/internal/state"
	"github.com/settlr/fraud-service/internal/traces"
)

// Publisher receives every produced decision after it is final. Used for
// the audit trail, webhook fan-out, and the live feed. Implementations
// must not block; slow delivery is their problem, not the pipeline's.
type Publisher interface {
	Publish(ctx context.Context, dec *decision.Decision)
}

// Defaults for state store retry behavior.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = 50 * time.Millisecond
	defaultUpdateTimeout = 5 * time.Second
)

// Coordinator runs the decisioning pipeline. Events for different entities
// proceed in parallel; per-entity serialization lives in the state store.
type Coordinator struct {
	store         *state.Store
	extractor     *signal.Extractor
	evaluator     *rules.Evaluator
	engine        *decision.Engine
	dedupe        *dedupeCache
	publishers    []Publisher
	retryAttempts int
	retryBackoff  time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithPublisher registers a decision publisher. May be used repeatedly.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publishers = append(c.publishers, p) }
}

// WithDedupeTTL overrides how long processed event IDs are remembered.
func WithDedupeTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.dedupe = newDedupeCache(ttl) }
}

// WithRetry overrides the state store retry budget.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// withClock injects a time source for tests.
func withClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator over the given components.
func New(store *state.Store, extractor *signal.Extractor, evaluator *rules.Evaluator, engine *decision.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         store,
		extractor:     extractor,
		evaluator:     evaluator,
		engine:        engine,
		dedupe:        newDedupeCache(10 * time.Minute),
		retryAttempts: DefaultRetryAttempts,
		retryBackoff:  DefaultRetryBackoff,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process runs one event through the pipeline and returns its decision.
//
// Idempotency: a repeated event ID returns the previously computed decision
// verbatim with no recomputation and no state mutation.
//
// Errors: a *event.ValidationError is returned alongside a REVIEW decision
// (fail-closed); the context error is returned alone if the caller cancels
// before the state update step. Any other degradation (state store down)
// still yields a decision, flagged in its score.
func (c *Coordinator) Process(ctx context.Context, ev *event.TransactionEvent) (*decision.Decision, error) {
	start := c.now()
	defer func() {
		metrics.PipelineDuration.Observe(c.now().Sub(start).Seconds())
	}()

	ctx, span := traces.StartSpan(ctx, "pipeline.process",
		traces.EventID(ev.ID), traces.EntityID(ev.EntityID))
	defer span.End()

	// Dedupe first so a re-submitted event ID always returns its original
	// decision, even if the event was malformed.
	if ev.ID != "" {
		if dec, ok := c.dedupe.get(ev.ID, start); ok {
			metrics.DedupeHitsTotal.Inc()
			span.SetAttributes(traces.Verdict(string(dec.Verdict)))
			return dec, nil
		}
	}

	if err := ev.Validate(start); err != nil {
		return c.failClosed(ctx, ev, err)
	}

	st, flags := c.fetchState(ctx, ev.EntityID)

	signals := c.extractor.Extract(ev, st)
	score := c.evaluator.Evaluate(signals)
	score.Flags = append(score.Flags, flags...)

	dec := c.decide(ev, score)

	// The pipeline is abandonable up to here. Once the update step begins
	// it runs to completion on a detached context so aggregates are never
	// written partially.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.updateState(ctx, ev, dec)

	c.dedupe.put(ev.ID, dec, start)
	c.publish(ctx, dec)
	c.record(dec)
	span.SetAttributes(traces.Verdict(string(dec.Verdict)), traces.Score(dec.Score.Value))
	return dec, nil
}

// failClosed maps a malformed event to a REVIEW decision without touching
// entity state. The validation error is surfaced to the caller alongside
// the decision so the transaction is examined rather than dropped.
func (c *Coordinator) failClosed(ctx context.Context, ev *event.TransactionEvent, verr error) (*decision.Decision, error) {
	metrics.ValidationFailuresTotal.Inc()
	c.logger.Warn("event failed validation",
		"event", ev.ID, "entity", ev.EntityID, "error", verr)

	dec := &decision.Decision{
		ID:       idgen.WithPrefix("dec_"),
		EventID:  ev.ID,
		EntityID: ev.EntityID,
		Verdict:  decision.Review,
		Score: rules.RiskScore{
			Flags: []string{decision.FlagValidationFailed},
		},
		DecidedAt: c.now(),
	}

	if ev.ID != "" {
		c.dedupe.put(ev.ID, dec, c.now())
	}
	c.publish(ctx, dec)
	c.record(dec)
	return dec, verr
}

// fetchState reads the entity state with bounded retries. On exhaustion it
// falls back to a zero-valued state and flags the degradation so downstream
// consumers know aggregates were unavailable.
func (c *Coordinator) fetchState(ctx context.Context, entityID string) (*state.EntityState, []string) {
	var st *state.EntityState

	attempt := 0
	err := retry.Do(ctx, c.retryAttempts, c.retryBackoff, func() error {
		attempt++
		if attempt > 1 {
			metrics.StateStoreRetriesTotal.WithLabelValues("load").Inc()
		}
		var gerr error
		st, gerr = c.store.Get(ctx, entityID)
		return gerr
	})
	if err != nil {
		metrics.StateStoreFailuresTotal.WithLabelValues("load").Inc()
		c.logger.Error("state load failed, scoring against zero state",
			"entity", entityID, "error", err)
		return state.NewEntityState(entityID), []string{decision.FlagStateUnavailable}
	}
	return st, nil
}

func (c *Coordinator) decide(ev *event.TransactionEvent, score rules.RiskScore) *decision.Decision {
	return &decision.Decision{
		ID:        idgen.WithPrefix("dec_"),
		EventID:   ev.ID,
		EntityID:  ev.EntityID,
		Verdict:   c.engine.Decide(score),
		Score:     score,
		DecidedAt: c.now(),
	}
}

// updateState folds the event into the entity aggregates. It runs on a
// context detached from the caller's cancellation: once begun, the update
// completes. Durable-save failures are retried here; the in-memory
// aggregates are already applied exactly once either way.
func (c *Coordinator) updateState(ctx context.Context, ev *event.TransactionEvent, dec *decision.Decision) {
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultUpdateTimeout)
	defer cancel()

	attempt := 0
	err := retry.Do(updateCtx, c.retryAttempts, c.retryBackoff, func() error {
		attempt++
		if attempt > 1 {
			metrics.StateStoreRetriesTotal.WithLabelValues("save").Inc()
		}
		return c.store.Update(updateCtx, ev, string(dec.Verdict))
	})
	if err != nil {
		var serr *state.StoreError
		if errors.As(err, &serr) {
			metrics.StateStoreFailuresTotal.WithLabelValues(serr.Op).Inc()
		}
		c.logger.Error("state update not durable after retries",
			"event", ev.ID, "entity", ev.EntityID, "error", err)
	}
}

func (c *Coordinator) publish(ctx context.Context, dec *decision.Decision) {
	for _, p := range c.publishers {
		p.Publish(ctx, dec)
	}
}

func (c *Coordinator) record(dec *decision.Decision) {
	metrics.DecisionsTotal.WithLabelValues(string(dec.Verdict)).Inc()
	for _, contrib := range dec.Score.Contributions {
		metrics.RuleTriggeredTotal.WithLabelValues(contrib.Rule).Inc()
	}
}
