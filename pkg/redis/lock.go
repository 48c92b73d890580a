package redis

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when trying to release a lock not held
	ErrLockNotHeld = errors.New("lock not held")
	// ErrLockMaxRetries is returned when every acquisition attempt failed
	ErrLockMaxRetries = errors.New("lock acquisition retries exhausted")
)

// RetryPolicy controls the backoff between lock acquisition attempts.
// Attempt n (0-based) sleeps min(BaseDelay*2^n, MaxDelay) scaled by a random
// factor in [0.5, 1.5) when Jitter is set.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// DefaultRetryPolicy matches the webhook pipeline defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Jitter:     true,
	}
}

// Delay returns the sleep duration before retry attempt n (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay << uint(attempt)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	if p.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Lock represents a distributed lock
type Lock struct {
	client *Client
	key    string
	value  string
	ttl    time.Duration
}

// Locker provides distributed locking operations
type Locker struct {
	client    *Client
	keyPrefix string
}

// NewLocker creates a new Locker
func NewLocker(client *Client, keyPrefix string) *Locker {
	if keyPrefix == "" {
		keyPrefix = "lock:"
	}
	return &Locker{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Acquire attempts to acquire a lock
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lockKey := l.keyPrefix + key
	lockValue := uuid.New().String()

	// SET NX: only if not exists, with the lease as TTL
	ok, err := l.client.rdb.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", key)

	return &Lock{
		client: l.client,
		key:    lockKey,
		value:  lockValue,
		ttl:    ttl,
	}, nil
}

// AcquireWithRetry attempts to acquire a lock, retrying with bounded
// exponential backoff. After MaxRetries+1 failed attempts it returns
// ErrLockMaxRetries.
func (l *Locker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, policy RetryPolicy) (*Lock, error) {
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lock, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		if attempt == policy.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(policy.Delay(attempt)):
		}
	}

	l.client.logger.WithContext(ctx).Warnf("Lock %s still held after %d attempts", key, policy.MaxRetries+1)
	return nil, ErrLockMaxRetries
}

// RemainingLockTime reads the TTL left on a held lock key. Returns zero when
// the lock is not held.
func (l *Locker) RemainingLockTime(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.client.TTL(ctx, l.keyPrefix+key)
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Release releases the lock. Failures are reported but safe to ignore; the
// lease expires on its own.
func (lock *Lock) Release(ctx context.Context) error {
	// Only delete if we still own the lock
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	result, err := script.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}

// WithLock executes a function while holding a lock
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, policy RetryPolicy, fn func(ctx context.Context) error) error {
	lock, err := l.AcquireWithRetry(ctx, key, ttl, policy)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil {
			l.client.logger.WithContext(ctx).WithError(releaseErr).Warnf("Failed to release lock %s", key)
		}
	}()

	return fn(ctx)
}
