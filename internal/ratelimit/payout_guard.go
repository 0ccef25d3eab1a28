package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rubenoroz/closeframe-sub002/internal/config"
)

const (
	keyPayoutAccount    = "payout:ratelimit:account:%s"
	keyPayoutAssignment = "payout:assignment:%s"
)

// PayoutGuard throttles payout requests per account and serializes them per
// assignment. A nil guard allows everything.
type PayoutGuard struct {
	bucket  *TokenBucket
	locker  *Locker
	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewPayoutGuard(client *redis.Client, cfg config.Config) *PayoutGuard {
	if client == nil {
		return nil
	}
	g := &PayoutGuard{
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    cfg.Payout.RateLimitRate,
		burst:   cfg.Payout.RateLimitBurst,
		lockTTL: cfg.Payout.LockTTL,
	}
	if g.rate <= 0 {
		g.rate = 0.1
	}
	if g.burst <= 0 {
		g.burst = 3
	}
	if g.lockTTL <= 0 {
		g.lockTTL = time.Minute
	}
	return g
}

func (g *PayoutGuard) Enabled() bool {
	return g != nil
}

func (g *PayoutGuard) Allow(ctx context.Context, accountID string) (bool, time.Duration, error) {
	if !g.Enabled() {
		return true, 0, nil
	}
	wait, err := g.bucket.Take(ctx, fmt.Sprintf(keyPayoutAccount, strings.TrimSpace(accountID)), g.rate, g.burst)
	if err != nil {
		return false, 0, err
	}
	return wait == 0, wait, nil
}

func (g *PayoutGuard) Lock(ctx context.Context, assignmentID string) (string, bool, error) {
	if !g.Enabled() {
		return "", true, nil
	}
	return g.locker.TryLock(ctx, fmt.Sprintf(keyPayoutAssignment, strings.TrimSpace(assignmentID)), g.lockTTL)
}

func (g *PayoutGuard) Unlock(ctx context.Context, assignmentID, token string) error {
	if !g.Enabled() {
		return nil
	}
	return g.locker.Release(ctx, fmt.Sprintf(keyPayoutAssignment, strings.TrimSpace(assignmentID)), token)
}
