// Package state tracks per-entity rolling transaction aggregates.
//
// Each scored entity (account, card, device) owns an EntityState holding its
// recent window entries plus lifetime statistics. Window eviction is lazy:
// expired entries are dropped when state is read or updated, never by a
// background timer.
package state

import (
	"math"
	"time"
)

const (
	// maxEntries caps the per-entity window buffer regardless of traffic.
	maxEntries = 1000

	// maxAppliedEvents bounds the per-entity dedupe ring used to guarantee
	// exactly-once aggregate application per event ID.
	maxAppliedEvents = 256
)

// Entry records a single transaction inside the retention window.
type Entry struct {
	EventID   string    `json:"eventId"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device,omitempty"`
	Location  string    `json:"location,omitempty"`
}

// EntityState is the mutable aggregate for one entity. It is owned by the
// Store; callers receive copies and must treat them as read-only snapshots.
type EntityState struct {
	EntityID string  `json:"entityId"`
	Entries  []Entry `json:"entries"`

	LastSeenAt   time.Time `json:"lastSeenAt"`
	LastDevice   string    `json:"lastDevice,omitempty"`
	LastLocation string    `json:"lastLocation,omitempty"`
	LastVerdict  string    `json:"lastVerdict,omitempty"`

	// Lifetime statistics survive window eviction and feed deviation signals.
	LifetimeCount   int64   `json:"lifetimeCount"`
	LifetimeTotal   float64 `json:"lifetimeTotal"`
	LifetimeSquares float64 `json:"lifetimeSquares"`

	// AppliedEvents is a bounded ring of recently applied event IDs,
	// newest last.
	AppliedEvents []string `json:"appliedEvents,omitempty"`
}

// NewEntityState returns a zero-valued state for an unseen entity.
func NewEntityState(entityID string) *EntityState {
	return &EntityState{EntityID: entityID}
}

// WindowStats returns the transaction count and amount total inside the
// trailing window ending at now.
func (s *EntityState) WindowStats(window time.Duration, now time.Time) (count int, total float64) {
	cutoff := now.Add(-window)
	for _, e := range s.Entries {
		if e.Timestamp.After(cutoff) {
			count++
			total += e.Amount
		}
	}
	return count, total
}

// HistoricalMean is the lifetime average transaction amount, 0 if unseen.
func (s *EntityState) HistoricalMean() float64 {
	if s.LifetimeCount == 0 {
		return 0
	}
	return s.LifetimeTotal / float64(s.LifetimeCount)
}

// HistoricalStdDev is the lifetime amount standard deviation, 0 with fewer
// than two observations.
func (s *EntityState) HistoricalStdDev() float64 {
	if s.LifetimeCount < 2 {
		return 0
	}
	n := float64(s.LifetimeCount)
	mean := s.LifetimeTotal / n
	variance := s.LifetimeSquares/n - mean*mean
	if variance < 0 {
		variance = 0 // float rounding
	}
	return math.Sqrt(variance)
}

// Applied reports whether the given event ID has already been folded into
// the aggregates.
func (s *EntityState) Applied(eventID string) bool {
	for _, id := range s.AppliedEvents {
		if id == eventID {
			return true
		}
	}
	return false
}

// apply folds one transaction into the aggregates. Caller must hold the
// entity lock and have checked Applied first.
func (s *EntityState) apply(e Entry, verdict string) {
	s.Entries = append(s.Entries, e)
	if e.Timestamp.After(s.LastSeenAt) {
		s.LastSeenAt = e.Timestamp
		if e.Device != "" {
			s.LastDevice = e.Device
		}
		if e.Location != "" {
			s.LastLocation = e.Location
		}
		s.LastVerdict = verdict
	}

	s.LifetimeCount++
	s.LifetimeTotal += e.Amount
	s.LifetimeSquares += e.Amount * e.Amount

	s.AppliedEvents = append(s.AppliedEvents, e.EventID)
	if len(s.AppliedEvents) > maxAppliedEvents {
		s.AppliedEvents = s.AppliedEvents[len(s.AppliedEvents)-maxAppliedEvents:]
	}
}

// evict drops entries older than the retention window and caps the buffer.
func (s *EntityState) evict(retention time.Duration, now time.Time) {
	cutoff := now.Add(-retention)
	kept := s.Entries[:0]
	for _, e := range s.Entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	s.Entries = kept
	if len(s.Entries) > maxEntries {
		s.Entries = s.Entries[len(s.Entries)-maxEntries:]
	}
}

// Clone returns a deep copy safe to hand to readers.
func (s *EntityState) Clone() *EntityState {
	c := *s
	c.Entries = append([]Entry(nil), s.Entries...)
	c.AppliedEvents = append([]string(nil), s.AppliedEvents...)
	return &c
}
