package services

import (
	"context"
	"time"

	"resqlink/interfaces"
	"resqlink/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultLockTTL bounds how long a crashed holder can block a resource.
	DefaultLockTTL = 30 * time.Second

	lockRetryBaseDelay   = 50 * time.Millisecond
	lockRetryMaxDelay    = 2 * time.Second
	lockRetryMaxAttempts = 8
)

// LockService provides TTL-based advisory locks over a LockStore. Locks are
// advisory: they serialize cooperating maintenance tasks, they do not guard
// the emergency CAS writes, which stay correct without them.
type LockService struct {
	store interfaces.LockStore
	ttl   time.Duration

	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	maxAttempts    int
}

func NewLockService(store interfaces.LockStore) *LockService {
	return &LockService{
		store:          store,
		ttl:            DefaultLockTTL,
		retryBaseDelay: lockRetryBaseDelay,
		retryMaxDelay:  lockRetryMaxDelay,
		maxAttempts:    lockRetryMaxAttempts,
	}
}

// Acquire takes the lock for resourceID or fails immediately with a
// LOCK_UNAVAILABLE error. The returned owner token is required to release.
func (ls *LockService) Acquire(ctx context.Context, resourceID string) (string, error) {
	ownerID := uuid.New().String()

	acquired, err := ls.store.TryAcquire(ctx, resourceID, ownerID, ls.ttl)
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", utils.NewLockUnavailableError(resourceID)
	}

	return ownerID, nil
}

// Release gives the lock back. Releasing a lock that expired and was taken
// by someone else is a no-op, not an error.
func (ls *LockService) Release(ctx context.Context, resourceID, ownerID string) error {
	released, err := ls.store.Release(ctx, resourceID, ownerID)
	if err != nil {
		return err
	}
	if !released {
		logrus.Warnf("Lock %s was not held by %s at release time", resourceID, ownerID)
	}
	return nil
}

// RunExclusive runs fn while holding the lock on resourceID, retrying the
// acquire with exponential backoff up to a fixed attempt count. When the
// attempts exhaust, or ctx ends first, it returns LOCK_UNAVAILABLE without
// running fn. The lock is released on return even if fn fails; if fn
// outlives the TTL the lock may be stolen, which is acceptable for the
// idempotent maintenance work this guards.
func (ls *LockService) RunExclusive(ctx context.Context, resourceID string, fn func(context.Context) error) error {
	ownerID := uuid.New().String()
	delay := ls.retryBaseDelay

	acquired := false
	for attempt := 1; ; attempt++ {
		ok, err := ls.store.TryAcquire(ctx, resourceID, ownerID, ls.ttl)
		if err != nil {
			return err
		}
		if ok {
			acquired = true
			break
		}
		if attempt >= ls.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return utils.NewLockUnavailableError(resourceID)
		case <-time.After(delay):
		}
		delay *= 2
		if delay > ls.retryMaxDelay {
			delay = ls.retryMaxDelay
		}
	}
	if !acquired {
		return utils.NewLockUnavailableError(resourceID)
	}

	defer func() {
		// Release with a fresh context so a cancelled ctx doesn't leak the
		// lock for a full TTL.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ls.Release(releaseCtx, resourceID, ownerID); err != nil {
			logrus.Errorf("Failed to release lock %s: %v", resourceID, err)
		}
	}()

	return fn(ctx)
}
