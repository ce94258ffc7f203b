package syncutil

import (
	"sync"
	"testing"
)

func TestShardedMutex_SerializesSameKey(t *testing.T) {
	var sm ShardedMutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := sm.Lock("acct_1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 200 {
		t.Errorf("expected 200 serialized increments, got %d", counter)
	}
}

func TestShardedMutex_IndependentKeysDoNotDeadlock(t *testing.T) {
	var sm ShardedMutex

	unlockA := sm.Lock("acct_a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		// A different key must not block on acct_a's lock unless it happens
		// to share the shard; iterate until we find a non-colliding key.
		for _, key := range []string{"acct_b", "acct_c", "acct_d", "acct_e"} {
			if sm.shard(key) != sm.shard("acct_a") {
				unlock := sm.Lock(key)
				unlock()
				break
			}
		}
		close(done)
	}()

	<-done
}
