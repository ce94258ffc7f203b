package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/settlr/fraud-service/internal/circuitbreaker"
	"github.com/settlr/fraud-service/internal/event"
	"github.com/settlr/fraud-service/internal/syncutil"
)

// DefaultRetention is how long window entries are kept. It must cover the
// largest signal window.
const DefaultRetention = 24 * time.Hour

// BackingStore is the optional durable layer behind the in-memory cache.
// Load returns (nil, nil) for an unseen entity. Implementations must be
// safe for concurrent use.
type BackingStore interface {
	Load(ctx context.Context, entityID string) (*EntityState, error)
	Save(ctx context.Context, entityID string, state *EntityState) error
}

// StoreError wraps a backing-store failure. The pipeline retries these a
// bounded number of times and then falls back to a zero-valued state.
type StoreError struct {
	Op       string // "load" or "save"
	EntityID string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("state store %s failed for entity %s: %v", e.Op, e.EntityID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// record wraps the cached state with a write-behind dirty flag so that a
// failed durable save can be retried without re-applying aggregates.
type record struct {
	state *EntityState
	dirty bool
}

// Store holds per-entity aggregates. Updates for the same entity are
// serialized through a sharded per-key mutex; reads return snapshots and
// may trail an in-flight update by at most one event.
type Store struct {
	locks     syncutil.ShardedMutex
	records   sync.Map // entityID → *record
	retention time.Duration
	backing   BackingStore
	breaker   *circuitbreaker.Breaker
	logger    *slog.Logger
}

// Option configures the store.
type Option func(*Store)

// WithBackingStore attaches a durable layer. Loads hydrate the cache on
// first read; saves run write-behind after every update.
func WithBackingStore(bs BackingStore) Option {
	return func(s *Store) { s.backing = bs }
}

// WithRetention overrides the window entry retention.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates an entity state store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		retention: DefaultRetention,
		breaker:   circuitbreaker.New(5, 30*time.Second),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a snapshot of the entity's state. Unseen entities yield a
// zero-valued state. A non-nil error is always a *StoreError from the
// backing layer; the returned snapshot is still usable (zero-valued) so
// callers can fail over.
func (s *Store) Get(ctx context.Context, entityID string) (*EntityState, error) {
	if v, ok := s.records.Load(entityID); ok {
		unlock := s.locks.Lock(entityID)
		rec := v.(*record)
		rec.state.evict(s.retention, time.Now())
		snap := rec.state.Clone()
		unlock()
		return snap, nil
	}

	if s.backing == nil {
		return NewEntityState(entityID), nil
	}

	// Hydrate from the durable layer under the entity lock so concurrent
	// readers of a cold entity trigger a single load.
	unlock := s.locks.Lock(entityID)
	defer unlock()

	if v, ok := s.records.Load(entityID); ok {
		rec := v.(*record)
		rec.state.evict(s.retention, time.Now())
		return rec.state.Clone(), nil
	}

	loaded, err := s.load(ctx, entityID)
	if err != nil {
		return NewEntityState(entityID), err
	}
	if loaded == nil {
		loaded = NewEntityState(entityID)
	}
	loaded.evict(s.retention, time.Now())
	s.records.Store(entityID, &record{state: loaded})
	return loaded.Clone(), nil
}

// Update folds the event into the entity's aggregates exactly once per
// event ID and persists write-behind. Re-submitting an already applied
// event never double-counts; if its durable save is still pending, the
// save alone is retried. A non-nil error is always a *StoreError and means
// the in-memory aggregates are applied but not yet durable.
func (s *Store) Update(ctx context.Context, ev *event.TransactionEvent, verdict string) error {
	unlock := s.locks.Lock(ev.EntityID)
	defer unlock()

	rec := s.getOrCreateLocked(ctx, ev.EntityID)

	if rec.state.Applied(ev.ID) {
		if !rec.dirty {
			return nil
		}
		return s.persistLocked(ctx, rec)
	}

	rec.state.apply(Entry{
		EventID:   ev.ID,
		Amount:    ev.Amount,
		Timestamp: ev.Timestamp,
		Device:    ev.Device,
		Location:  ev.Location,
	}, verdict)
	rec.state.evict(s.retention, time.Now())

	return s.persistLocked(ctx, rec)
}

// getOrCreateLocked returns the cached record, hydrating from the backing
// store best-effort. Caller must hold the entity lock.
func (s *Store) getOrCreateLocked(ctx context.Context, entityID string) *record {
	if v, ok := s.records.Load(entityID); ok {
		return v.(*record)
	}

	st := NewEntityState(entityID)
	if s.backing != nil {
		loaded, err := s.load(ctx, entityID)
		if err != nil {
			s.logger.Warn("hydrate before update failed, starting from zero state",
				"entity", entityID, "error", err)
		} else if loaded != nil {
			st = loaded
		}
	}

	rec := &record{state: st}
	s.records.Store(entityID, rec)
	return rec
}

func (s *Store) load(ctx context.Context, entityID string) (*EntityState, error) {
	if !s.breaker.Allow("load") {
		return nil, &StoreError{Op: "load", EntityID: entityID, Err: circuitbreaker.ErrOpen}
	}
	st, err := s.backing.Load(ctx, entityID)
	if err != nil {
		s.breaker.RecordFailure("load")
		return nil, &StoreError{Op: "load", EntityID: entityID, Err: err}
	}
	s.breaker.RecordSuccess("load")
	return st, nil
}

func (s *Store) persistLocked(ctx context.Context, rec *record) error {
	if s.backing == nil {
		return nil
	}
	entityID := rec.state.EntityID
	if !s.breaker.Allow("save") {
		rec.dirty = true
		return &StoreError{Op: "save", EntityID: entityID, Err: circuitbreaker.ErrOpen}
	}
	if err := s.backing.Save(ctx, entityID, rec.state.Clone()); err != nil {
		s.breaker.RecordFailure("save")
		rec.dirty = true
		return &StoreError{Op: "save", EntityID: entityID, Err: err}
	}
	s.breaker.RecordSuccess("save")
	rec.dirty = false
	return nil
}
