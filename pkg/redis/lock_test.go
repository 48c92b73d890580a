package redis

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewClientFromRedis(rdb, logger), mr
}

func TestAcquireRelease(t *testing.T) {
	client, _ := newTestClient(t)
	locker := NewLocker(client, "")
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "deal:1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "deal:1", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))

	_, err = locker.Acquire(ctx, "deal:1", time.Minute)
	assert.NoError(t, err)
}

func TestReleaseNotHeld(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewLocker(client, "")
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "deal:2", time.Minute)
	require.NoError(t, err)

	// Someone else took over after our lease expired.
	mr.Set("lock:deal:2", "other-holder")

	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)
}

func TestAcquireWithRetryExhausted(t *testing.T) {
	client, _ := newTestClient(t)
	locker := NewLocker(client, "")
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "deal:3", time.Minute)
	require.NoError(t, err)

	policy := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Jitter: true}
	_, err = locker.AcquireWithRetry(ctx, "deal:3", time.Minute, policy)
	assert.ErrorIs(t, err, ErrLockMaxRetries)
}

func TestAcquireWithRetryEventuallySucceeds(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewLocker(client, "")
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "deal:4", time.Minute)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = lock.Release(ctx)
		close(done)
	}()

	policy := RetryPolicy{MaxRetries: 10, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	second, err := locker.AcquireWithRetry(ctx, "deal:4", time.Minute, policy)
	require.NoError(t, err)
	require.NotNil(t, second)
	<-done

	_ = mr // keep server alive through the goroutine
}

func TestWithLockRunsUnderLock(t *testing.T) {
	client, _ := newTestClient(t)
	locker := NewLocker(client, "")
	ctx := context.Background()

	ran := false
	err := locker.WithLock(ctx, "deal:5", time.Minute, DefaultRetryPolicy(), func(fnCtx context.Context) error {
		ran = true
		// The lock must be held while fn runs.
		_, acquireErr := locker.Acquire(fnCtx, "deal:5", time.Minute)
		assert.ErrorIs(t, acquireErr, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// And released afterwards.
	_, err = locker.Acquire(ctx, "deal:5", time.Minute)
	assert.NoError(t, err)
}

func TestRetryPolicyDelayBounds(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, Jitter: true}

	for attempt := 0; attempt < 10; attempt++ {
		delay := policy.Delay(attempt)
		base := policy.BaseDelay << uint(attempt)
		if base > policy.MaxDelay || base <= 0 {
			base = policy.MaxDelay
		}
		// Jitter scales by [0.5, 1.5).
		assert.GreaterOrEqual(t, delay, base/2)
		assert.Less(t, delay, base+base/2)
	}
}

func TestRemainingLockTime(t *testing.T) {
	client, _ := newTestClient(t)
	locker := NewLocker(client, "")
	ctx := context.Background()

	remaining, err := locker.RemainingLockTime(ctx, "deal:6")
	require.NoError(t, err)
	assert.Zero(t, remaining)

	_, err = locker.Acquire(ctx, "deal:6", time.Minute)
	require.NoError(t, err)

	remaining, err = locker.RemainingLockTime(ctx, "deal:6")
	require.NoError(t, err)
	assert.Greater(t, remaining, 50*time.Second)
}
