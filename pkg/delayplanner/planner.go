// Package delayplanner computes and executes pacing delays for outbound
// messaging: campaign throttling (anti-ban), re-engagement timing and
// sequential template content spacing.
package delayplanner

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MaxDelaySeconds is the hard ceiling: no computed delay ever exceeds it,
// regardless of caller configuration. Exceeding configs are clamped, not
// rejected, since pacing is a soft knob rather than a security boundary.
const MaxDelaySeconds = 50.0

// Strategy selects how a delay duration is computed.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"       // min ± symmetric jitter
	StrategyRandomRange Strategy = "random"      // uniform in [min, max]
	StrategyProgressive Strategy = "progressive" // ramps min → max over 10 calls per prefix
	StrategyAdaptive    Strategy = "adaptive"    // random range scaled by an external signal
)

// Config describes the delay behavior for a single call.
type Config struct {
	MinSeconds    float64
	MaxSeconds    float64
	Strategy      Strategy
	JitterPercent float64
}

// DefaultConfig mirrors the platform-wide pacing defaults.
func DefaultConfig() Config {
	return Config{
		MinSeconds:    5,
		MaxSeconds:    MaxDelaySeconds,
		Strategy:      StrategyRandomRange,
		JitterPercent: 10,
	}
}

// Validate rejects structurally broken configs. The planner still clamps at
// call time, so validation failures here are for early operator feedback.
func (c Config) Validate() error {
	return validation.Errors{
		"min_seconds": validation.Validate(c.MinSeconds, validation.Min(0.0)),
		"max_seconds": validation.Validate(c.MaxSeconds,
			validation.Min(c.MinSeconds), validation.Max(MaxDelaySeconds)),
		"strategy": validation.Validate(string(c.Strategy), validation.In(
			string(StrategyFixed), string(StrategyRandomRange),
			string(StrategyProgressive), string(StrategyAdaptive), "")),
	}.Filter()
}

// Result reports what a completed (or cancelled) delay actually did.
type Result struct {
	DelayID               string
	ActualDurationSeconds float64
	StrategyUsed          Strategy
	WasCancelled          bool
}

// Planner executes cancelable delays. Progressive counters and rate-limit
// signals are process-local and reset on restart.
type Planner struct {
	mu          sync.Mutex
	active      map[string]chan struct{}
	progressive map[string]int
	signals     map[string]float64
}

// New creates a Planner.
func New() *Planner {
	return &Planner{
		active:      make(map[string]chan struct{}),
		progressive: make(map[string]int),
		signals:     make(map[string]float64),
	}
}

// Delay computes a duration for cfg and sleeps for it. The wait ends early
// when ctx is cancelled or Cancel(delayID) is called; in both cases the
// result carries WasCancelled=true and a zero duration, and the delayID is
// always deregistered afterward.
func (p *Planner) Delay(ctx context.Context, cfg Config, delayID string) Result {
	if delayID == "" {
		delayID = "delay_" + uuid.New().String()
	}

	minS, maxS := clampBounds(cfg.MinSeconds, cfg.MaxSeconds)
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyRandomRange
	}

	seconds := p.compute(minS, maxS, strategy, cfg.JitterPercent, delayID)

	cancelCh := make(chan struct{})
	p.mu.Lock()
	if prev, ok := p.active[delayID]; ok {
		// Re-entrant use of the same ID cancels the previous wait.
		close(prev)
	}
	p.active[delayID] = cancelCh
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if cur, ok := p.active[delayID]; ok && cur == cancelCh {
			delete(p.active, delayID)
		}
		p.mu.Unlock()
	}()

	logrus.Debugf("[DELAY_PLANNER] Delay started id=%s duration=%.2fs strategy=%s",
		delayID, seconds, strategy)

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-timer.C:
		return Result{
			DelayID:               delayID,
			ActualDurationSeconds: seconds,
			StrategyUsed:          strategy,
		}
	case <-cancelCh:
	case <-ctx.Done():
	}

	logrus.Infof("[DELAY_PLANNER] Delay cancelled id=%s", delayID)
	return Result{
		DelayID:      delayID,
		StrategyUsed: strategy,
		WasCancelled: true,
	}
}

// Cancel interrupts an active delay by ID. Returns false if no delay with
// that ID is currently waiting.
func (p *Planner) Cancel(delayID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.active[delayID]
	if !ok {
		return false
	}
	close(ch)
	delete(p.active, delayID)
	return true
}

// ActiveDelays returns the IDs of delays currently waiting.
func (p *Planner) ActiveDelays() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}

// SetRateLimitSignal stores a multiplier for adaptive delays, clamped to
// [0.5, 5.0]. The key may name one delay ID or a prefix covering a whole ID
// family, so an upstream 429 can slow future pacing without changing caller
// code.
func (p *Planner) SetRateLimitSignal(key string, multiplier float64) {
	if multiplier < 0.5 {
		multiplier = 0.5
	}
	if multiplier > 5.0 {
		multiplier = 5.0
	}
	p.mu.Lock()
	p.signals[key] = multiplier
	p.mu.Unlock()
}

// ResetProgressive clears progressive counters. With an empty prefix every
// counter is cleared.
func (p *Planner) ResetProgressive(prefix string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prefix == "" {
		p.progressive = make(map[string]int)
		return
	}
	for k := range p.progressive {
		if strings.HasPrefix(k, prefix) {
			delete(p.progressive, k)
		}
	}
}

func (p *Planner) compute(minS, maxS float64, strategy Strategy, jitterPercent float64, delayID string) float64 {
	switch strategy {
	case StrategyFixed:
		base := minS
		jitter := base * (jitterPercent / 100)
		return clampSeconds(base+uniform(-jitter, jitter), maxS)

	case StrategyProgressive:
		prefix := progressivePrefix(delayID)
		p.mu.Lock()
		count := p.progressive[prefix]
		p.progressive[prefix] = count + 1
		p.mu.Unlock()

		// Linear ramp from min toward max, holding at max after 10 calls.
		progress := float64(count) / 10
		if progress > 1 {
			progress = 1
		}
		base := minS + (maxS-minS)*progress
		jitter := base * 0.1
		return clampSeconds(base+uniform(-jitter, jitter), maxS)

	case StrategyAdaptive:
		// The multiplier may push past the configured range; only the hard
		// ceiling binds a slowdown.
		return clampSeconds(uniform(minS, maxS)*p.signalFor(delayID), MaxDelaySeconds)

	default: // StrategyRandomRange
		return uniform(minS, maxS)
	}
}

// signalFor returns the rate-limit multiplier for delayID. An exact match
// wins; otherwise the longest registered key that prefixes delayID applies,
// so one "campaign"-scoped signal covers every "campaign_<id>" delay.
func (p *Planner) signalFor(delayID string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.signals[delayID]; ok {
		return s
	}
	best := ""
	for k := range p.signals {
		if strings.HasPrefix(delayID, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return 1.0
	}
	return p.signals[best]
}

// progressivePrefix keys the ramp counter by everything before the last
// separator, so "campaign_42_3" and "campaign_42_4" share one ramp.
func progressivePrefix(delayID string) string {
	if i := strings.LastIndex(delayID, "_"); i > 0 {
		return delayID[:i]
	}
	return delayID
}

func clampBounds(minS, maxS float64) (float64, float64) {
	if maxS <= 0 || maxS > MaxDelaySeconds {
		maxS = MaxDelaySeconds
	}
	if minS < 0 {
		minS = 0
	}
	if minS > maxS {
		minS = maxS
	}
	return minS, maxS
}

func clampSeconds(v, maxS float64) float64 {
	if v < 0 {
		return 0
	}
	if v > maxS {
		return maxS
	}
	return v
}

func uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rand.Float64()*(hi-lo)
}
