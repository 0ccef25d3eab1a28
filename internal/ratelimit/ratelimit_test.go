package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rubenoroz/closeframe-sub002/internal/config"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNilGuardPassesThrough(t *testing.T) {
	var g *PayoutGuard
	ctx := context.Background()

	ok, wait, err := g.Allow(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, wait)

	token, locked, err := g.Lock(ctx, "1")
	require.NoError(t, err)
	require.True(t, locked)
	require.Empty(t, token)
	require.NoError(t, g.Unlock(ctx, "1", token))
}

func TestNilLocker(t *testing.T) {
	var l *Locker
	_, _, err := l.TryLock(context.Background(), "k", time.Second)
	require.ErrorIs(t, err, ErrLockNotConfigured)
	require.NoError(t, l.Release(context.Background(), "k", "t"))
}

func TestTokenBucketExhaustsBurst(t *testing.T) {
	_, client := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		wait, err := bucket.Take(ctx, "bucket:a", 0.1, 3)
		require.NoError(t, err)
		require.Zero(t, wait, "take %d", i)
	}

	wait, err := bucket.Take(ctx, "bucket:a", 0.1, 3)
	require.NoError(t, err)
	require.Greater(t, wait, time.Duration(0))
	require.LessOrEqual(t, wait, 10*time.Second)

	wait, err = bucket.Take(ctx, "bucket:b", 0.1, 3)
	require.NoError(t, err)
	require.Zero(t, wait)
}

func TestTokenBucketRejectsBadArguments(t *testing.T) {
	_, client := newRedis(t)
	bucket := NewTokenBucket(client)

	_, err := bucket.Take(context.Background(), "bucket", 0, 3)
	require.Error(t, err)

	var nilBucket *TokenBucket
	_, err = nilBucket.Take(context.Background(), "bucket", 1, 1)
	require.ErrorIs(t, err, ErrBucketNotConfigured)
}

func TestLockerOwnership(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "lock:x", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.TryLock(ctx, "lock:x", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	refreshed, err := locker.Refresh(ctx, "lock:x", "someone-else", time.Minute)
	require.NoError(t, err)
	require.False(t, refreshed)

	refreshed, err = locker.Refresh(ctx, "lock:x", token, 2*time.Minute)
	require.NoError(t, err)
	require.True(t, refreshed)
	require.Equal(t, 2*time.Minute, mr.TTL("lock:x"))

	require.NoError(t, locker.Release(ctx, "lock:x", "someone-else"))
	require.True(t, mr.Exists("lock:x"))
	require.NoError(t, locker.Release(ctx, "lock:x", token))
	require.False(t, mr.Exists("lock:x"))
}

func TestPayoutGuardSerializesAssignment(t *testing.T) {
	_, client := newRedis(t)
	cfg := config.Config{}
	cfg.Payout.RateLimitRate = 1
	cfg.Payout.RateLimitBurst = 1
	cfg.Payout.LockTTL = time.Minute
	g := NewPayoutGuard(client, cfg)
	ctx := context.Background()

	allowed, _, err := g.Allow(ctx, "42")
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, wait, err := g.Allow(ctx, "42")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Greater(t, wait, time.Duration(0))

	token, locked, err := g.Lock(ctx, "7")
	require.NoError(t, err)
	require.True(t, locked)
	_, locked, err = g.Lock(ctx, "7")
	require.NoError(t, err)
	require.False(t, locked)

	require.NoError(t, g.Unlock(ctx, "7", token))
	_, locked, err = g.Lock(ctx, "7")
	require.NoError(t, err)
	require.True(t, locked)
}
