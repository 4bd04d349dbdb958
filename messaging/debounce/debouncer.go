// Package debounce coalesces bursts of rapidly arriving chat messages into a
// single logical packet. Every push extends the buffer's TTL, so a user
// typing three quick messages and a voice note is processed as one
// contextual unit; only when true silence elapses does the window close.
package debounce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ericsoncardosoweb/apollo-ai/messaging/domain"
	"github.com/ericsoncardosoweb/apollo-ai/pkg/leaselock"
)

const (
	// DefaultWindow is the silence window before a buffer is considered ready.
	DefaultWindow = 8 * time.Second
	// DefaultLockTTL bounds how long a drain may hold its lease.
	DefaultLockTTL = 5 * time.Second
)

// ErrStoreUnavailable marks transient shared-store failures. Buffering is a
// quality improvement, not a correctness requirement for inbound receipt:
// callers must not fail the request path on it.
var ErrStoreUnavailable = errors.New("buffer store unavailable")

// BufferRef identifies one conversation buffer.
type BufferRef struct {
	TenantID        string
	ConversationKey string
}

// BufferStore is the shared-store representation of debounce buffers: a
// per-conversation ordered list with an expiring TTL, plus a shadow index of
// last-push times for the reconciliation sweep.
type BufferStore interface {
	// Append adds one serialized entry and resets the buffer TTL to window,
	// in that order (append before TTL reset). Returns the new list length.
	Append(ctx context.Context, ref BufferRef, entry []byte, window time.Duration) (int64, error)
	// ReadAll returns every entry in insertion order without consuming.
	ReadAll(ctx context.Context, ref BufferRef) ([][]byte, error)
	// Delete removes the buffer and its index entry.
	Delete(ctx context.Context, ref BufferRef) error
	// Len returns the buffer length without consuming.
	Len(ctx context.Context, ref BufferRef) (int64, error)
	// StaleRefs returns buffers whose last push is older than the cutoff,
	// according to the shadow index. Used as a backstop when expiry
	// notifications are lost or disabled.
	StaleRefs(ctx context.Context, cutoff time.Time) ([]BufferRef, error)
}

// Debouncer owns per-conversation buffers in the shared store and exposes a
// lock-guarded drain. Safe for concurrent use across replicas: correctness
// depends on the lease lock, not on process-local state.
type Debouncer struct {
	store   BufferStore
	locks   leaselock.Locker
	window  time.Duration
	lockTTL time.Duration

	mu       sync.RWMutex
	handlers []func(domain.MessagePacket)
}

// NewDebouncer creates a Debouncer. Zero durations fall back to defaults.
func NewDebouncer(store BufferStore, locks leaselock.Locker, window, lockTTL time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Debouncer{
		store:   store,
		locks:   locks,
		window:  window,
		lockTTL: lockTTL,
	}
}

// Window returns the configured silence window.
func (d *Debouncer) Window() time.Duration {
	return d.window
}

// OnBufferReady registers a handler invoked at most once per drained buffer.
func (d *Debouncer) OnBufferReady(handler func(domain.MessagePacket)) {
	d.mu.Lock()
	d.handlers = append(d.handlers, handler)
	d.mu.Unlock()
}

// Push appends msg to the conversation's buffer and resets its TTL to the
// debounce window. Returns the new buffer length for observability. On store
// failure it returns (0, ErrStoreUnavailable-wrapped error) and the caller
// should keep acknowledging inbound receipt.
func (d *Debouncer) Push(ctx context.Context, tenantID string, msg domain.InboundMessage) (int, error) {
	if msg.TenantID == "" {
		msg.TenantID = tenantID
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal inbound message: %w", err)
	}

	ref := BufferRef{TenantID: tenantID, ConversationKey: msg.ConversationKey}
	count, err := d.store.Append(ctx, ref, data, d.window)
	if err != nil {
		logrus.WithError(err).Warnf("[DEBOUNCE] Message not buffered tenant=%s chat=%s",
			tenantID, msg.ConversationKey)
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	logrus.Debugf("[DEBOUNCE] Message buffered tenant=%s chat=%s count=%d window=%s",
		tenantID, msg.ConversationKey, count, d.window)
	return int(count), nil
}

// Drain consumes the buffer under a lease lock and returns the aggregated
// packet. Returns (nil, nil) when another drainer holds the lock or the
// buffer is empty; both are normal outcomes, not errors.
func (d *Debouncer) Drain(ctx context.Context, tenantID, conversationKey string) (*domain.MessagePacket, error) {
	ref := BufferRef{TenantID: tenantID, ConversationKey: conversationKey}
	lockKey := "buffer:" + tenantID + ":" + conversationKey

	token, err := d.locks.Acquire(ctx, lockKey, d.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if token == "" {
		logrus.Debugf("[DEBOUNCE] Buffer already being drained tenant=%s chat=%s",
			tenantID, conversationKey)
		return nil, nil
	}
	defer func() {
		if relErr := d.locks.Release(context.WithoutCancel(ctx), lockKey, token); relErr != nil {
			logrus.WithError(relErr).Warnf("[DEBOUNCE] Failed to release drain lock chat=%s", conversationKey)
		}
	}()

	raw, err := d.store.ReadAll(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(raw) == 0 {
		// Raced with a concurrent drain that already emptied it.
		return nil, nil
	}

	if err := d.store.Delete(ctx, ref); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	messages := make([]domain.InboundMessage, 0, len(raw))
	for i, entry := range raw {
		var msg domain.InboundMessage
		if err := json.Unmarshal(entry, &msg); err != nil {
			// Malformed entry: abandon it, keep the rest of the buffer.
			logrus.WithError(err).Warnf("[DEBOUNCE] Skipping malformed buffer entry %d chat=%s",
				i, conversationKey)
			continue
		}
		messages = append(messages, msg)
	}

	pkt := domain.NewMessagePacket(tenantID, conversationKey, messages)
	if pkt == nil {
		return nil, nil
	}
	return pkt, nil
}

// Peek returns the current buffer length without consuming. Diagnostics only.
func (d *Debouncer) Peek(ctx context.Context, tenantID, conversationKey string) int {
	n, err := d.store.Len(ctx, BufferRef{TenantID: tenantID, ConversationKey: conversationKey})
	if err != nil {
		return 0
	}
	return int(n)
}

// Clear force-deletes the buffer, used when a conversation is handed off to
// a human mid-burst and automated processing should stop. No packet is
// emitted.
func (d *Debouncer) Clear(ctx context.Context, tenantID, conversationKey string) bool {
	ref := BufferRef{TenantID: tenantID, ConversationKey: conversationKey}
	n, err := d.store.Len(ctx, ref)
	if err != nil || n == 0 {
		return false
	}
	if err := d.store.Delete(ctx, ref); err != nil {
		logrus.WithError(err).Warnf("[DEBOUNCE] Failed to clear buffer chat=%s", conversationKey)
		return false
	}
	return true
}

// notify invokes every registered handler sequentially, logging and
// swallowing individual handler errors (panics) so one failing handler does
// not block the others.
func (d *Debouncer) notify(pkt domain.MessagePacket) {
	d.mu.RLock()
	handlers := append(([]func(domain.MessagePacket))(nil), d.handlers...)
	d.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logrus.Errorf("[DEBOUNCE] Buffer handler panic chat=%s: %v",
						pkt.ConversationKey, r)
				}
			}()
			h(pkt)
		}()
	}
}
