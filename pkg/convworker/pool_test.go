package convworker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_DispatchNonBlocking(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	start := time.Now()
	pool.Dispatch(Job{
		TenantID:        "t1",
		ConversationKey: "chat1",
		Handler: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 10*time.Millisecond, "Dispatch must not block the caller")
}

func TestPool_SameConversationSequentialProcessing(t *testing.T) {
	pool := NewPool(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var results []int
	var mu sync.Mutex

	for i := 1; i <= 5; i++ {
		val := i
		pool.Dispatch(Job{
			TenantID:        "t1",
			ConversationKey: "chat1",
			Handler: func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				results = append(results, val)
				mu.Unlock()
				return nil
			},
		})
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3, 4, 5}, results, "same conversation must preserve order")
}

func TestPool_DifferentConversationsRunInParallel(t *testing.T) {
	pool := NewPool(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	var activeCount int32

	for i := 0; i < 4; i++ {
		chat := string(rune('A' + i))
		pool.Dispatch(Job{
			TenantID:        "t1",
			ConversationKey: chat,
			Handler: func(ctx context.Context) error {
				atomic.AddInt32(&activeCount, 1)
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&activeCount, -1)
				return nil
			},
		})
	}

	time.Sleep(10 * time.Millisecond)
	active := atomic.LoadInt32(&activeCount)
	assert.GreaterOrEqual(t, active, int32(2), "different conversations should run in parallel")
}

func TestPool_GracefulShutdownCompletesInFlightJobs(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())

	pool.Start(ctx)

	var completed int32
	for i := 0; i < 2; i++ {
		pool.Dispatch(Job{
			TenantID:        "t1",
			ConversationKey: string(rune('A' + i)),
			Handler: func(ctx context.Context) error {
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&completed, 1)
				return nil
			},
		})
	}

	time.Sleep(10 * time.Millisecond)
	cancel()
	pool.Stop()

	assert.Equal(t, int32(2), atomic.LoadInt32(&completed))
}

func TestPool_ConsistentSharding(t *testing.T) {
	pool := NewPool(4, 100)

	shard1 := pool.shardFor("t1", "chat123")
	shard2 := pool.shardFor("t1", "chat123")
	assert.Equal(t, shard1, shard2)
	assert.GreaterOrEqual(t, shard1, 0)
	assert.Less(t, shard1, 4)

	// A different tenant with the same chat key may shard elsewhere.
	assert.NotPanics(t, func() { pool.shardFor("t2", "chat123") })
}

func TestPool_DispatchAfterStopIsDropped(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	pool.Stop()

	ok := pool.TryDispatch(Job{
		TenantID:        "t1",
		ConversationKey: "chat1",
		Handler:         func(ctx context.Context) error { return nil },
	})
	assert.False(t, ok)
	assert.Equal(t, int64(1), pool.GetStats().TotalDropped)
}

func TestPool_StatsCountProcessedJobs(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)

	for i := 0; i < 5; i++ {
		pool.Dispatch(Job{
			TenantID:        "t1",
			ConversationKey: string(rune('A' + i)),
			Handler:         func(ctx context.Context) error { return nil },
		})
	}
	time.Sleep(50 * time.Millisecond)
	pool.Stop()

	stats := pool.GetStats()
	assert.Equal(t, int64(5), stats.TotalDispatched)
	assert.Equal(t, int64(5), stats.TotalProcessed)
	assert.Zero(t, stats.TotalErrors)
}
