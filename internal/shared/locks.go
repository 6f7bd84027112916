package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PeriodLockKey builds the redis key guarding a period close.
func PeriodLockKey(periodID int64) string {
	return fmt.Sprintf("ledger:period:%d:lock", periodID)
}

// Locker acquires short-lived exclusive locks used around period close and
// other sections the database cannot serialise on its own.
type Locker struct {
	client *redis.Client
	wait   time.Duration
	ttl    time.Duration
}

// NewLocker builds a Locker. wait is the acquisition ceiling; on expiry the
// caller receives ErrLockTimeout and may retry.
func NewLocker(client *redis.Client, wait, ttl time.Duration) *Locker {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, wait: wait, ttl: ttl}
}

// Acquire polls SETNX until the lock is held or the wait ceiling passes.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			release := func() {
				_ = l.client.Del(context.WithoutCancel(ctx), key).Err()
			}
			return release, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
