package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const blacklistKeyPrefix = "bl:jti:"

// RedisBlacklist stores revoked token ids in Redis with a TTL matching the token's expiry
type RedisBlacklist struct {
	client *redis.Client
}

// NewRedisBlacklist creates a Redis-backed blacklist
func NewRedisBlacklist(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

// Add revokes jti until expiresAt
func (r *RedisBlacklist) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, blacklistKeyPrefix+jti, "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token %s: %w", jti, err)
	}
	return nil
}

// IsBlacklisted reports whether jti has been revoked
func (r *RedisBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	err := r.client.Get(ctx, blacklistKeyPrefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist for %s: %w", jti, err)
	}
	return true, nil
}
