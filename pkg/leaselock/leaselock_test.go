package leaselock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_SingleFlight(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	token, err := l.Acquire(ctx, "conv1", time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// A second acquire while the lease is live is contended, not an error.
	token2, err := l.Acquire(ctx, "conv1", time.Second)
	require.NoError(t, err)
	assert.Empty(t, token2)

	// Different key is independent.
	token3, err := l.Acquire(ctx, "conv2", time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, token3)
}

func TestMemoryLocker_ReleaseAllowsReacquire(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	token, err := l.Acquire(ctx, "conv1", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, l.Release(ctx, "conv1", token))

	token, err = l.Acquire(ctx, "conv1", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestMemoryLocker_ExpiredLeaseIsReacquirable(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	token, err := l.Acquire(ctx, "conv1", 10*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	time.Sleep(20 * time.Millisecond)

	// The crashed-holder scenario: TTL elapsed, a new holder may enter.
	token, err = l.Acquire(ctx, "conv1", time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestMemoryLocker_StaleHolderCannotReleaseNewLease(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "conv1", 10*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, stale)

	time.Sleep(20 * time.Millisecond)

	fresh, err := l.Acquire(ctx, "conv1", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, fresh)

	// The first holder lost its lease to TTL expiry; releasing with the old
	// token must leave the successor's lease intact.
	require.NoError(t, l.Release(ctx, "conv1", stale))

	token, err := l.Acquire(ctx, "conv1", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, token, "the fresh lease must still be held")

	// The rightful holder can still release it.
	require.NoError(t, l.Release(ctx, "conv1", fresh))
	token, err = l.Acquire(ctx, "conv1", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestMemoryLocker_ConcurrentAcquireExactlyOneWins(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := l.Acquire(ctx, "hot", time.Minute)
			assert.NoError(t, err)
			if token != "" {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&winners))
}
