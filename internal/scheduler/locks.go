package scheduler

import (
	"context"
	"sync"
	"time"
)

const leaderLockKey = "scheduler:leader"

// leaderLocker is the slice of ratelimit.Locker the scheduler uses.
type leaderLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// leadership keeps one replica running jobs at a time. A nil leadership
// always leads, which is the single-instance deployment.
type leadership struct {
	mu     sync.Mutex
	locker leaderLocker
	ttl    time.Duration
	token  string
}

func newLeadership(locker leaderLocker, ttl time.Duration) *leadership {
	return &leadership{locker: locker, ttl: ttl}
}

// acquire refreshes a held lock or tries to take a free one.
func (l *leadership) acquire(ctx context.Context) (bool, error) {
	if l == nil {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token != "" {
		ok, err := l.locker.Refresh(ctx, leaderLockKey, l.token, l.ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		l.token = ""
	}

	token, ok, err := l.locker.TryLock(ctx, leaderLockKey, l.ttl)
	if err != nil || !ok {
		return false, err
	}
	l.token = token
	return true, nil
}

func (l *leadership) release(ctx context.Context) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token == "" {
		return
	}
	_ = l.locker.Release(ctx, leaderLockKey, l.token)
	l.token = ""
}
