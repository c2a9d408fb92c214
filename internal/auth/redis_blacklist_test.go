package auth

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping integration test: TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisBlacklist(t *testing.T) {
	ctx := context.Background()
	client := setupTestRedis(t)
	b := NewRedisBlacklist(client)

	live := uuid.NewString()
	expired := uuid.NewString()
	unknown := uuid.NewString()
	t.Cleanup(func() { client.Del(ctx, blacklistKeyPrefix+live) })

	require.NoError(t, b.Add(ctx, live, time.Now().Add(time.Hour)))
	require.NoError(t, b.Add(ctx, expired, time.Now().Add(-time.Minute)))

	revoked, err := b.IsBlacklisted(ctx, live)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = b.IsBlacklisted(ctx, expired)
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = b.IsBlacklisted(ctx, unknown)
	require.NoError(t, err)
	assert.False(t, revoked)

	ttl, err := client.TTL(ctx, blacklistKeyPrefix+live).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestRedisBlacklist_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	b := NewRedisBlacklist(client)

	_, err := b.IsBlacklisted(context.Background(), "jti")
	assert.Error(t, err)
	assert.Error(t, b.Add(context.Background(), "jti", time.Now().Add(time.Hour)))
}
