// Package syncutil provides shared concurrency primitives.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// shardCount is the fixed size of the lock pool. 256 shards keep contention
// negligible at the event rates the pipeline sees while bounding memory
// regardless of how many entity IDs pass through.
const shardCount = 256

// ShardedMutex serializes operations per string key using a fixed pool of
// mutexes. Keys that hash to the same shard occasionally contend with each
// other, which only costs latency, never correctness.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex covering key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}
