package debounce

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ericsoncardosoweb/apollo-ai/pkg/convworker"
)

// ExpiryFeed delivers buffer-expiry events. The Valkey store implements it
// over keyspace notifications; the in-memory store implements it directly.
type ExpiryFeed interface {
	// WatchExpired blocks delivering expired buffer refs to fn until ctx is
	// cancelled. Non-buffer expirations must already be filtered out.
	WatchExpired(ctx context.Context, fn func(ref BufferRef)) error
}

// DefaultShutdownTimeout bounds how long Stop waits for in-flight drains.
const DefaultShutdownTimeout = 10 * time.Second

// Watcher is the long-lived loop that turns buffer expirations into drained
// packets. At-least-once delivery of the expiry notification is acceptable
// because Drain is idempotent-safe: a second caller finds an empty or locked
// buffer and gets nil.
//
// A periodic reconciliation sweep backs up the notification stream: buffers
// whose last push is older than window+grace are drained even if their
// expiry event was lost (store restart, notifications disabled).
type Watcher struct {
	debouncer *Debouncer
	feed      ExpiryFeed
	pool      *convworker.Pool // optional; nil processes inline

	sweepInterval   time.Duration
	sweepGrace      time.Duration
	shutdownTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewWatcher creates a Watcher. pool may be nil to process expirations on
// the notification goroutine. Zero durations disable the sweep.
func NewWatcher(debouncer *Debouncer, feed ExpiryFeed, pool *convworker.Pool, sweepInterval, sweepGrace time.Duration) *Watcher {
	return &Watcher{
		debouncer:       debouncer,
		feed:            feed,
		pool:            pool,
		sweepInterval:   sweepInterval,
		sweepGrace:      sweepGrace,
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// Start launches the subscription loop and the reconciliation sweep.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			err := w.feed.WatchExpired(ctx, func(ref BufferRef) {
				w.dispatch(ctx, ref)
			})
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logrus.WithError(err).Error("[BUFFER_WATCHER] Expiry subscription dropped, reconnecting")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()

	if w.sweepInterval > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			ticker := time.NewTicker(w.sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					w.sweep(ctx)
				}
			}
		}()
	}

	logrus.Infof("[BUFFER_WATCHER] Started (sweep every %s, grace %s)", w.sweepInterval, w.sweepGrace)
}

// Stop unsubscribes and lets in-flight handler calls finish, bounded by the
// shutdown timeout.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			logrus.Info("[BUFFER_WATCHER] Stopped")
		case <-time.After(w.shutdownTimeout):
			logrus.Warn("[BUFFER_WATCHER] Shutdown timeout exceeded, abandoning in-flight work")
		}
	})
}

// dispatch hands one expired buffer to the worker pool, sharded by
// conversation so packets for one conversation stay ordered while different
// conversations drain in parallel.
func (w *Watcher) dispatch(ctx context.Context, ref BufferRef) {
	logrus.Infof("[BUFFER_WATCHER] Buffer expired tenant=%s chat=%s", ref.TenantID, ref.ConversationKey)

	if w.pool == nil {
		w.process(ctx, ref)
		return
	}
	w.pool.Dispatch(convworker.Job{
		TenantID:        ref.TenantID,
		ConversationKey: ref.ConversationKey,
		Handler: func(jobCtx context.Context) error {
			w.process(jobCtx, ref)
			return nil
		},
	})
}

func (w *Watcher) process(ctx context.Context, ref BufferRef) {
	pkt, err := w.debouncer.Drain(ctx, ref.TenantID, ref.ConversationKey)
	if err != nil {
		logrus.WithError(err).Errorf("[BUFFER_WATCHER] Drain failed tenant=%s chat=%s",
			ref.TenantID, ref.ConversationKey)
		return
	}
	if pkt == nil {
		// Contended or already drained; nothing to do.
		return
	}
	w.debouncer.notify(*pkt)
}

// sweep drains buffers the notification stream missed. The cutoff includes
// the debounce window plus a grace period so live buffers are never drained
// early.
func (w *Watcher) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-(w.debouncer.Window() + w.sweepGrace))
	refs, err := w.debouncer.store.StaleRefs(ctx, cutoff)
	if err != nil {
		logrus.WithError(err).Warn("[BUFFER_WATCHER] Reconciliation sweep failed")
		return
	}
	if len(refs) == 0 {
		return
	}

	logrus.Warnf("[BUFFER_WATCHER] Sweep found %d stale buffer(s), draining", len(refs))
	for _, ref := range refs {
		w.dispatch(ctx, ref)
	}
}
