package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const revocationKeyPrefix = "tok:revoked:"

// RedisRevocations is the Redis-backed RevocationStore. Marks expire with
// the token they refer to, so the set stays bounded without a sweeper.
type RedisRevocations struct {
	redis redis.UniversalClient
}

// NewRedisRevocations returns a RevocationStore on the given client.
func NewRedisRevocations(client redis.UniversalClient) *RedisRevocations {
	return &RedisRevocations{redis: client}
}

func (s *RedisRevocations) key(tokenID string) string {
	return revocationKeyPrefix + tokenID
}

// Revoke marks tokenID revoked for ttl.
func (s *RedisRevocations) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.redis.Set(ctx, s.key(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether tokenID is marked revoked.
func (s *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}
