package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a lock obtained from a DistributedLocker.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serializes mutations of one session across processes sharing a store.
// The session manager holds it around every read-modify-write of a session, on top of
// its in-process lock.
type DistributedLocker interface {
	// Lock blocks until the lock on key (a session ID) is held or ctx ends. The lock
	// expires after ttl if the holder never releases it.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
