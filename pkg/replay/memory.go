package replay

import (
	"context"
	"sync"
	"time"
)

// MemoryNonceStore is a mutex-guarded in-process nonce store. It only
// catches replays against the same server instance; multi-instance
// deployments need the Redis store.
type MemoryNonceStore struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	clock func() time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		seen:  make(map[string]time.Time),
		clock: time.Now,
	}
}

// CheckAndRecord implements NonceStore. Expired entries are swept lazily
// on each call.
func (s *MemoryNonceStore) CheckAndRecord(_ context.Context, requestID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()

	for id, expiry := range s.seen {
		if now.After(expiry) {
			delete(s.seen, id)
		}
	}

	if _, exists := s.seen[requestID]; exists {
		return false, nil
	}

	s.seen[requestID] = now.Add(ttl)

	return true, nil
}
