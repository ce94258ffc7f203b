package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/settlr/fraud-service/internal/decision"
	"github.com/settlr/fraud-service/internal/event"
	"github.com/settlr/fraud-service/internal/rules"
	"github.com/settlr/fraud-service/internal/signal"
	"github.com/settlr/fraud-service/internal/state"
)

func newTestCoordinator(t *testing.T, store *state.Store, opts ...Option) *Coordinator {
	t.Helper()
	policy, err := decision.NewPolicy(50, 90)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	return New(
		store,
		signal.NewExtractor(signal.DefaultWindows()),
		rules.NewEvaluator(rules.Default(rules.DefaultConfig())),
		decision.NewEngine(policy),
		opts...,
	)
}

func txEvent(id string, amount float64, device string) *event.TransactionEvent {
	return &event.TransactionEvent{
		ID:        id,
		EntityID:  "acct_1",
		Amount:    amount,
		Currency:  "USD",
		Timestamp: time.Now(),
		Device:    device,
		Location:  "US",
	}
}

func seedHistory(t *testing.T, store *state.Store, n int, amount float64, device string) {
	t.Helper()
	now := time.Now()
	for i := 0; i < n; i++ {
		ev := &event.TransactionEvent{
			ID:        fmt.Sprintf("seed_%d", i),
			EntityID:  "acct_1",
			Amount:    amount,
			Currency:  "USD",
			Timestamp: now.Add(-time.Duration(i+1) * time.Minute),
			Device:    device,
			Location:  "US",
		}
		if err := store.Update(context.Background(), ev, "ALLOW"); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestProcess_FreshEntityAllows(t *testing.T) {
	c := newTestCoordinator(t, state.NewStore())

	dec, err := c.Process(context.Background(), txEvent("evt_1", 50, "fp_1"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if dec.Verdict != decision.Allow {
		t.Errorf("expected ALLOW, got %s (score %v)", dec.Verdict, dec.Score.Value)
	}
	if dec.Score.Value >= 50 {
		t.Errorf("fresh entity at $50 should score below review threshold, got %v", dec.Score.Value)
	}
}

func TestProcess_VelocitySpikeOnNewDeviceBlocks(t *testing.T) {
	store := state.NewStore()
	seedHistory(t, store, 10, 1000, "fp_known")
	c := newTestCoordinator(t, store)

	dec, err := c.Process(context.Background(), txEvent("evt_hot", 5000, "fp_unknown"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if dec.Verdict != decision.Block {
		t.Fatalf("expected BLOCK, got %s (score %v, %+v)", dec.Verdict, dec.Score.Value, dec.Score.Contributions)
	}
	if dec.Score.Value < 90 {
		t.Errorf("expected score >= 90, got %v", dec.Score.Value)
	}

	triggered := map[string]bool{}
	for _, contrib := range dec.Score.Contributions {
		triggered[contrib.Rule] = true
	}
	if !triggered["hourly_velocity"] {
		t.Errorf("explanation should list the velocity rule: %+v", dec.Score.Contributions)
	}
	if !triggered["new_device"] {
		t.Errorf("explanation should list the context-change rule: %+v", dec.Score.Contributions)
	}
}

func TestProcess_MalformedEventFailsClosed(t *testing.T) {
	store := state.NewStore()
	c := newTestCoordinator(t, store)

	ev := txEvent("evt_bad", 0, "fp_1") // amount = 0

	dec, err := c.Process(context.Background(), ev)
	var verr *event.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if dec == nil || dec.Verdict != decision.Review {
		t.Fatalf("malformed input must map to REVIEW, got %+v", dec)
	}

	found := false
	for _, f := range dec.Score.Flags {
		if f == decision.FlagValidationFailed {
			found = true
		}
	}
	if !found {
		t.Errorf("decision should carry the validation_failed flag: %+v", dec.Score.Flags)
	}

	st, _ := store.Get(context.Background(), "acct_1")
	if st.LifetimeCount != 0 {
		t.Errorf("validation failure must not mutate entity state: %+v", st)
	}
}

func TestProcess_DuplicateEventIsIdempotent(t *testing.T) {
	store := state.NewStore()
	c := newTestCoordinator(t, store)
	ev := txEvent("evt_once", 50, "fp_1")

	first, err := c.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	second, err := c.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}

	if first.ID != second.ID || first.Verdict != second.Verdict {
		t.Errorf("duplicate submission must return the original decision: %+v vs %+v", first, second)
	}

	st, _ := store.Get(context.Background(), "acct_1")
	if st.LifetimeCount != 1 {
		t.Errorf("duplicate submission must mutate state at most once, got %d", st.LifetimeCount)
	}
}

// downBackingStore always fails.
type downBackingStore struct{}

func (downBackingStore) Load(ctx context.Context, entityID string) (*state.EntityState, error) {
	return nil, errors.New("connection refused")
}

func (downBackingStore) Save(ctx context.Context, entityID string, st *state.EntityState) error {
	return errors.New("connection refused")
}

func TestProcess_StateStoreDownStillDecides(t *testing.T) {
	store := state.NewStore(state.WithBackingStore(downBackingStore{}))
	c := newTestCoordinator(t, store, WithRetry(2, time.Millisecond))

	dec, err := c.Process(context.Background(), txEvent("evt_degraded", 50, "fp_1"))
	if err != nil {
		t.Fatalf("degraded state must not drop the event: %v", err)
	}
	if dec.Verdict != decision.Allow {
		t.Errorf("benign event against zero state should still allow, got %s", dec.Verdict)
	}

	found := false
	for _, f := range dec.Score.Flags {
		if f == decision.FlagStateUnavailable {
			found = true
		}
	}
	if !found {
		t.Errorf("decision should be flagged state_unavailable: %+v", dec.Score.Flags)
	}
}

func TestProcess_CancelledBeforeUpdateHasNoSideEffects(t *testing.T) {
	store := state.NewStore()
	c := newTestCoordinator(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dec, err := c.Process(ctx, txEvent("evt_cancelled", 50, "fp_1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v (dec=%+v)", err, dec)
	}

	st, _ := store.Get(context.Background(), "acct_1")
	if st.LifetimeCount != 0 {
		t.Errorf("cancelled event must not mutate state: %+v", st)
	}
	if _, ok := c.dedupe.get("evt_cancelled", time.Now()); ok {
		t.Error("cancelled event must not be recorded as decided")
	}
}

// capturePublisher records every published decision.
type capturePublisher struct {
	mu   sync.Mutex
	seen []*decision.Decision
}

func (p *capturePublisher) Publish(ctx context.Context, dec *decision.Decision) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, dec)
}

func TestProcess_PublishesDecisions(t *testing.T) {
	pub := &capturePublisher{}
	c := newTestCoordinator(t, state.NewStore(), WithPublisher(pub))

	dec, err := c.Process(context.Background(), txEvent("evt_pub", 50, "fp_1"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.seen) != 1 || pub.seen[0].ID != dec.ID {
		t.Errorf("publisher should see exactly the produced decision, got %+v", pub.seen)
	}
}

func TestProcess_FixedClockProducesStableTimestamps(t *testing.T) {
	frozen := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCoordinator(t, state.NewStore(), withClock(func() time.Time { return frozen }))

	ev := txEvent("evt_clock", 50, "fp_1")
	ev.Timestamp = frozen

	dec, err := c.Process(context.Background(), ev)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !dec.DecidedAt.Equal(frozen) {
		t.Errorf("decision timestamp should come from the injected clock, got %v", dec.DecidedAt)
	}
}
