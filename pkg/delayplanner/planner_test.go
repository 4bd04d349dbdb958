package delayplanner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_RandomRangeStaysInBounds(t *testing.T) {
	p := New()

	for i := 0; i < 1000; i++ {
		d := p.compute(10, 30, StrategyRandomRange, 0, "sample")
		require.GreaterOrEqual(t, d, 10.0)
		require.LessOrEqual(t, d, 30.0)
	}
}

func TestCompute_NeverExceedsCeiling(t *testing.T) {
	p := New()
	strategies := []Strategy{StrategyFixed, StrategyRandomRange, StrategyProgressive, StrategyAdaptive}

	for _, s := range strategies {
		for i := 0; i < 200; i++ {
			minS, maxS := clampBounds(40, 500) // caller asks for way too much
			d := p.compute(minS, maxS, s, 25, fmt.Sprintf("ceil_%d", i))
			assert.GreaterOrEqual(t, d, 0.0, "strategy %s", s)
			assert.LessOrEqual(t, d, MaxDelaySeconds, "strategy %s", s)
		}
	}
}

func TestCompute_FixedJitterIsSymmetric(t *testing.T) {
	p := New()

	for i := 0; i < 500; i++ {
		d := p.compute(20, 50, StrategyFixed, 10, "fixed")
		assert.GreaterOrEqual(t, d, 18.0)
		assert.LessOrEqual(t, d, 22.0)
	}
}

func TestCompute_ProgressiveRampsTowardMax(t *testing.T) {
	p := New()

	// Consecutive calls sharing a prefix must ramp up; jitter is ±10%, so we
	// compare the underlying expected base via wide margins at the ends.
	first := p.compute(10, 50, StrategyProgressive, 0, "batch_0")
	assert.LessOrEqual(t, first, 11.0) // base 10 ± 1

	var last float64
	for i := 1; i <= 12; i++ {
		last = p.compute(10, 50, StrategyProgressive, 0, fmt.Sprintf("batch_%d", i))
	}
	// After 10+ calls the base holds at max (50) with negative-only jitter room.
	assert.GreaterOrEqual(t, last, 45.0)
	assert.LessOrEqual(t, last, 50.0)
}

func TestCompute_ProgressivePrefixesAreIndependent(t *testing.T) {
	p := New()

	for i := 0; i < 10; i++ {
		p.compute(10, 50, StrategyProgressive, 0, fmt.Sprintf("campA_%d", i))
	}
	// A fresh prefix starts back at min.
	d := p.compute(10, 50, StrategyProgressive, 0, "campB_0")
	assert.LessOrEqual(t, d, 11.0)
}

func TestCompute_AdaptiveAppliesSignal(t *testing.T) {
	p := New()
	p.SetRateLimitSignal("adapt", 5.0)

	for i := 0; i < 200; i++ {
		d := p.compute(5, 10, StrategyAdaptive, 0, "adapt")
		// The multiplier stretches past the configured range; only the hard
		// ceiling binds.
		assert.GreaterOrEqual(t, d, 25.0)
		assert.LessOrEqual(t, d, MaxDelaySeconds)
	}
}

func TestCompute_AdaptiveSignalScopedByPrefix(t *testing.T) {
	p := New()
	p.SetRateLimitSignal("campaign", 2.0)

	// A "campaign"-scoped signal covers every campaign_<id> delay.
	assert.Equal(t, 20.0, p.compute(10, 10, StrategyAdaptive, 0, "campaign_42"))

	// Delays outside the scoped family are untouched.
	assert.Equal(t, 10.0, p.compute(10, 10, StrategyAdaptive, 0, "reengage_1"))
}

func TestCompute_AdaptiveWithoutSignalIsPlainRange(t *testing.T) {
	p := New()

	for i := 0; i < 200; i++ {
		d := p.compute(10, 30, StrategyAdaptive, 0, "campaign_7")
		assert.GreaterOrEqual(t, d, 10.0)
		assert.LessOrEqual(t, d, 30.0)
	}
}

func TestSetRateLimitSignal_Clamps(t *testing.T) {
	p := New()

	p.SetRateLimitSignal("low", 0.1)
	p.SetRateLimitSignal("high", 100)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 0.5, p.signals["low"])
	assert.Equal(t, 5.0, p.signals["high"])
}

func TestDelay_CompletesAndReportsDuration(t *testing.T) {
	p := New()

	res := p.Delay(context.Background(), Config{
		MinSeconds: 0.01,
		MaxSeconds: 0.02,
		Strategy:   StrategyRandomRange,
	}, "short_1")

	assert.False(t, res.WasCancelled)
	assert.Equal(t, "short_1", res.DelayID)
	assert.GreaterOrEqual(t, res.ActualDurationSeconds, 0.01)
	assert.LessOrEqual(t, res.ActualDurationSeconds, 0.02)
	assert.Empty(t, p.ActiveDelays())
}

func TestDelay_CancelMidWait(t *testing.T) {
	p := New()

	done := make(chan Result, 1)
	go func() {
		done <- p.Delay(context.Background(), Config{
			MinSeconds: 5,
			MaxSeconds: 5,
			Strategy:   StrategyFixed,
		}, "cancel_me")
	}()

	// Wait until the delay is registered before cancelling.
	require.Eventually(t, func() bool {
		return p.Cancel("cancel_me")
	}, time.Second, 5*time.Millisecond)

	res := <-done
	assert.True(t, res.WasCancelled)
	assert.Zero(t, res.ActualDurationSeconds)
	assert.Empty(t, p.ActiveDelays(), "cancelled IDs must not leak")
}

func TestDelay_ContextCancellation(t *testing.T) {
	p := New()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res := p.Delay(ctx, Config{MinSeconds: 10, MaxSeconds: 10, Strategy: StrategyFixed}, "ctx_1")
	assert.True(t, res.WasCancelled)
	assert.Empty(t, p.ActiveDelays())
}

func TestDelay_GeneratesIDWhenMissing(t *testing.T) {
	p := New()

	res := p.Delay(context.Background(), Config{MinSeconds: 0, MaxSeconds: 0.01}, "")
	assert.NotEmpty(t, res.DelayID)
	assert.False(t, res.WasCancelled)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{MinSeconds: -1, MaxSeconds: 10}.Validate())
	assert.Error(t, Config{MinSeconds: 5, MaxSeconds: 80}.Validate())
	assert.Error(t, Config{MinSeconds: 10, MaxSeconds: 5}.Validate())
}
