// Package redsync implements lock.Locker with the Redlock algorithm over a
// single Redis pool.
package redsync

import (
	"context"
	"errors"
	"time"

	rs "github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/caasmo/certherd/lock"
)

// retryDelay spaces acquisition attempts while waiting for a busy lock.
const retryDelay = 500 * time.Millisecond

type Locker struct {
	rs *rs.Redsync
}

func New(rdb *redis.Client) *Locker {
	return &Locker{rs: rs.New(goredis.NewPool(rdb))}
}

func (l *Locker) Acquire(ctx context.Context, key string, lease, waitBudget time.Duration) (lock.Lease, bool, error) {
	tries := int(waitBudget/retryDelay) + 1

	mutex := l.rs.NewMutex(key,
		rs.WithExpiry(lease),
		rs.WithTries(tries),
		rs.WithRetryDelay(retryDelay),
	)

	acquireCtx, cancel := context.WithTimeout(ctx, waitBudget)
	defer cancel()

	err := mutex.LockContext(acquireCtx)
	if err == nil {
		return &redsyncLease{mutex: mutex}, true, nil
	}

	// Budget exhaustion is the expected contended outcome, not an error.
	var taken *rs.ErrTaken
	if errors.Is(err, rs.ErrFailed) || errors.As(err, &taken) ||
		errors.Is(err, context.DeadlineExceeded) {
		return nil, false, nil
	}
	return nil, false, err
}

type redsyncLease struct {
	mutex *rs.Mutex
}

func (le *redsyncLease) Release(ctx context.Context) (bool, error) {
	ok, err := le.mutex.UnlockContext(ctx)
	if err != nil {
		// An expired or already-released lease is a successful release
		// from the caller's point of view.
		if errors.Is(err, rs.ErrLockAlreadyExpired) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// Token returns the random value guarding the lock; a stale holder cannot
// release or extend a lease carrying someone else's value.
func (le *redsyncLease) Token() string {
	return le.mutex.Value()
}
