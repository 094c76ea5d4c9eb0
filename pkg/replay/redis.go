package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const nonceKeyPrefix = "centra:nonce:"

// RedisNonceStore records nonces in Redis with SETNX-with-TTL semantics,
// which is atomic server-side and shared across all instances.
type RedisNonceStore struct {
	client *redis.Client
}

func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

// CheckAndRecord implements NonceStore.
func (s *RedisNonceStore) CheckAndRecord(ctx context.Context, requestID string, ttl time.Duration) (bool, error) {
	fresh, err := s.client.SetNX(ctx, nonceKeyPrefix+requestID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record nonce in redis: %w", err)
	}

	return fresh, nil
}
