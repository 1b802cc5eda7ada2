// Package lock defines the distributed mutual-exclusion contract the
// certificate coordinator serializes issuance with.
package lock

import (
	"context"
	"time"
)

// Lease is a held lock. The holder is guaranteed exclusivity until the
// lease expires or Release is called.
type Lease interface {
	// Release gives the lock up. It is idempotent and never releases a
	// lease owned by another holder; ok is false when the lease had
	// already expired or was not held anymore.
	Release(ctx context.Context) (ok bool, err error)

	// Token is the fencing value identifying this acquisition.
	Token() string
}

// Locker acquires named locks.
type Locker interface {
	// Acquire blocks up to waitBudget for the lock. On success the lease
	// lasts for the given duration; a holder that dies without releasing
	// loses the lock when the lease expires. ok is false when the budget
	// ran out, which is not an error.
	Acquire(ctx context.Context, key string, lease, waitBudget time.Duration) (l Lease, ok bool, err error)
}
