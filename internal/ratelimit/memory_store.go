package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemoryStoreSize caps the number of tracked client keys.
const DefaultMemoryStoreSize = 10000

// MemoryStore keeps per-key hit logs in an expiring LRU. Idle keys are
// evicted once ttl passes without a hit, so ttl must cover the longest
// policy window.
type MemoryStore struct {
	mu   sync.Mutex
	logs *expirable.LRU[string, []time.Time]
}

func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = DefaultMemoryStoreSize
	}
	return &MemoryStore{logs: expirable.NewLRU[string, []time.Time](size, nil, ttl)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hits, _ := s.logs.Get(key)
	hits = prune(hits, now.Add(-window))
	if len(hits) >= limit {
		s.logs.Add(key, hits)
		return Decision{Allowed: false, RetryAfter: hits[0].Add(window).Sub(now)}, nil
	}
	hits = append(hits, now)
	s.logs.Add(key, hits)
	return Decision{Allowed: true, Remaining: limit - len(hits)}, nil
}

// prune drops hits at or before cutoff. The log is kept in ascending order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(hits) && !hits[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return hits
	}
	return append([]time.Time(nil), hits[idx:]...)
}
