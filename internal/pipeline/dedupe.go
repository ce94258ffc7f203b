package pipeline

import (
	"sync"
	"time"

	"github.com/settlr/fraud-service/internal/decision"
)

// dedupeCache remembers recently decided event IDs so re-submissions return
// the original decision without recomputation or a second state mutation.
// Expiry is lazy: entries are dropped on lookup and swept opportunistically
// on insert once the cache grows past sweepThreshold.
type dedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]dedupeEntry
}

type dedupeEntry struct {
	dec     *decision.Decision
	expires time.Time
}

const sweepThreshold = 4096

func newDedupeCache(ttl time.Duration) *dedupeCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &dedupeCache{
		ttl:     ttl,
		entries: make(map[string]dedupeEntry),
	}
}

// get returns the cached decision for an event ID, if still fresh.
func (c *dedupeCache) get(eventID string, now time.Time) (*decision.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[eventID]
	if !ok {
		return nil, false
	}
	if now.After(e.expires) {
		delete(c.entries, eventID)
		return nil, false
	}
	return e.dec, true
}

// put records a decision for an event ID.
func (c *dedupeCache) put(eventID string, dec *decision.Decision, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= sweepThreshold {
		for id, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, id)
			}
		}
	}
	c.entries[eventID] = dedupeEntry{dec: dec, expires: now.Add(c.ttl)}
}

func (c *dedupeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
