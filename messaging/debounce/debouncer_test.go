package debounce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericsoncardosoweb/apollo-ai/messaging/domain"
	"github.com/ericsoncardosoweb/apollo-ai/pkg/leaselock"
)

// fakeStore is a minimal BufferStore for unit tests; expiry is driven by the
// tests themselves, not by timers.
type fakeStore struct {
	mu      sync.Mutex
	entries map[BufferRef][][]byte
	windows map[BufferRef]time.Duration
	pushed  map[BufferRef]time.Time
	failing bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: make(map[BufferRef][][]byte),
		windows: make(map[BufferRef]time.Duration),
		pushed:  make(map[BufferRef]time.Time),
	}
}

func (s *fakeStore) Append(_ context.Context, ref BufferRef, entry []byte, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return 0, errors.New("connection refused")
	}
	s.entries[ref] = append(s.entries[ref], entry)
	s.windows[ref] = window
	s.pushed[ref] = time.Now()
	return int64(len(s.entries[ref])), nil
}

func (s *fakeStore) ReadAll(_ context.Context, ref BufferRef) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.New("connection refused")
	}
	return append([][]byte(nil), s.entries[ref]...), nil
}

func (s *fakeStore) Delete(_ context.Context, ref BufferRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, ref)
	delete(s.pushed, ref)
	return nil
}

func (s *fakeStore) Len(_ context.Context, ref BufferRef) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries[ref])), nil
}

func (s *fakeStore) StaleRefs(_ context.Context, cutoff time.Time) ([]BufferRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []BufferRef
	for ref, at := range s.pushed {
		if len(s.entries[ref]) > 0 && at.Before(cutoff) {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func inbound(id, conv, text string, at time.Time) domain.InboundMessage {
	return domain.InboundMessage{
		MessageID:       id,
		ConversationKey: conv,
		Phone:           "5511999990000",
		ContentType:     domain.ContentTypeText,
		Content:         text,
		Timestamp:       at,
	}
}

func TestPush_CoalescesIntoSinglePacketInOrder(t *testing.T) {
	store := newFakeStore()
	d := NewDebouncer(store, leaselock.NewMemoryLocker(), 8*time.Second, 5*time.Second)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 4; i++ {
		count, err := d.Push(ctx, "t1", inbound(
			fmt.Sprintf("m%d", i+1), "chat1", fmt.Sprintf("msg %d", i+1), base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		assert.Equal(t, i+1, count)
	}

	pkt, err := d.Drain(ctx, "t1", "chat1")
	require.NoError(t, err)
	require.NotNil(t, pkt)

	require.Len(t, pkt.Messages, 4)
	for i, m := range pkt.Messages {
		assert.Equal(t, fmt.Sprintf("m%d", i+1), m.MessageID, "push order must be preserved")
	}
	assert.Equal(t, "msg 1\nmsg 2\nmsg 3\nmsg 4", pkt.CombinedText)
	assert.Equal(t, base, pkt.FirstMessageAt)
	assert.Equal(t, base.Add(3*time.Second), pkt.LastMessageAt)
	assert.False(t, pkt.HasAudio)

	// The buffer was consumed destructively.
	assert.Zero(t, d.Peek(ctx, "t1", "chat1"))
}

func TestPush_ResetsWindowOnEveryPush(t *testing.T) {
	store := newFakeStore()
	d := NewDebouncer(store, leaselock.NewMemoryLocker(), 8*time.Second, 5*time.Second)
	ctx := context.Background()

	ref := BufferRef{TenantID: "t1", ConversationKey: "chat1"}
	_, err := d.Push(ctx, "t1", inbound("m1", "chat1", "a", time.Now()))
	require.NoError(t, err)
	_, err = d.Push(ctx, "t1", inbound("m2", "chat1", "b", time.Now()))
	require.NoError(t, err)

	// Each append carried the full window, not the remaining TTL.
	assert.Equal(t, 8*time.Second, store.windows[ref])
}

func TestPush_AudioDerivedFields(t *testing.T) {
	store := newFakeStore()
	d := NewDebouncer(store, leaselock.NewMemoryLocker(), 0, 0)
	ctx := context.Background()

	_, err := d.Push(ctx, "t1", inbound("m1", "chat1", "hello", time.Now()))
	require.NoError(t, err)

	audio := domain.InboundMessage{
		MessageID:            "m2",
		ConversationKey:      "chat1",
		Phone:                "5511999990000",
		ContentType:          domain.ContentTypeAudio,
		MediaURL:             "https://cdn.example.com/a.ogg",
		MediaDurationSeconds: 12,
		Timestamp:            time.Now(),
	}
	_, err = d.Push(ctx, "t1", audio)
	require.NoError(t, err)

	pkt, err := d.Drain(ctx, "t1", "chat1")
	require.NoError(t, err)
	require.NotNil(t, pkt)
	assert.True(t, pkt.HasAudio)
	assert.Equal(t, 12, pkt.TotalAudioSeconds)
	assert.Equal(t, "hello", pkt.CombinedText)
	assert.Equal(t, "t1", pkt.TenantID)
	assert.Equal(t, "5511999990000", pkt.Phone)
}

func TestPush_StoreUnavailableIsSoftError(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	d := NewDebouncer(store, leaselock.NewMemoryLocker(), 0, 0)

	count, err := d.Push(context.Background(), "t1", inbound("m1", "chat1", "a", time.Now()))
	assert.Zero(t, count)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestDrain_EmptyBufferReturnsNilNil(t *testing.T) {
	d := NewDebouncer(newFakeStore(), leaselock.NewMemoryLocker(), 0, 0)

	pkt, err := d.Drain(context.Background(), "t1", "never-pushed")
	assert.NoError(t, err)
	assert.Nil(t, pkt)
}

func TestDrain_SingleFlight(t *testing.T) {
	store := newFakeStore()
	locks := leaselock.NewMemoryLocker()
	d := NewDebouncer(store, locks, 8*time.Second, 5*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := d.Push(ctx, "t1", inbound(fmt.Sprintf("m%d", i), "chat1", "x", time.Now()))
		require.NoError(t, err)
	}

	var packets int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pkt, err := d.Drain(ctx, "t1", "chat1")
			assert.NoError(t, err)
			if pkt != nil {
				assert.Len(t, pkt.Messages, 3)
				atomic.AddInt32(&packets, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&packets),
		"exactly one concurrent drain may produce a packet")
}

func TestDrain_ContendedReturnsNilNil(t *testing.T) {
	store := newFakeStore()
	locks := leaselock.NewMemoryLocker()
	d := NewDebouncer(store, locks, 8*time.Second, 5*time.Second)
	ctx := context.Background()

	_, err := d.Push(ctx, "t1", inbound("m1", "chat1", "a", time.Now()))
	require.NoError(t, err)

	// Simulate another replica holding the drain lease.
	token, err := locks.Acquire(ctx, "buffer:t1:chat1", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	pkt, err := d.Drain(ctx, "t1", "chat1")
	assert.NoError(t, err, "contention is control flow, not an error")
	assert.Nil(t, pkt)
	assert.Equal(t, 1, d.Peek(ctx, "t1", "chat1"), "contended drain must not consume")
}

func TestDrain_SkipsMalformedEntries(t *testing.T) {
	store := newFakeStore()
	d := NewDebouncer(store, leaselock.NewMemoryLocker(), 0, 0)
	ctx := context.Background()

	_, err := d.Push(ctx, "t1", inbound("m1", "chat1", "first", time.Now()))
	require.NoError(t, err)

	ref := BufferRef{TenantID: "t1", ConversationKey: "chat1"}
	store.mu.Lock()
	store.entries[ref] = append(store.entries[ref], []byte("{not json"))
	store.mu.Unlock()

	_, err = d.Push(ctx, "t1", inbound("m3", "chat1", "last", time.Now()))
	require.NoError(t, err)

	pkt, err := d.Drain(ctx, "t1", "chat1")
	require.NoError(t, err)
	require.NotNil(t, pkt)
	require.Len(t, pkt.Messages, 2, "malformed entry abandoned, surrounding work continues")
	assert.Equal(t, "first\nlast", pkt.CombinedText)
}

func TestClear_DiscardsWithoutPacket(t *testing.T) {
	store := newFakeStore()
	d := NewDebouncer(store, leaselock.NewMemoryLocker(), 0, 0)
	ctx := context.Background()

	_, err := d.Push(ctx, "t1", inbound("m1", "chat1", "a", time.Now()))
	require.NoError(t, err)

	assert.True(t, d.Clear(ctx, "t1", "chat1"))
	assert.Zero(t, d.Peek(ctx, "t1", "chat1"))

	// Clearing an already-empty buffer reports false.
	assert.False(t, d.Clear(ctx, "t1", "chat1"))

	pkt, err := d.Drain(ctx, "t1", "chat1")
	assert.NoError(t, err)
	assert.Nil(t, pkt)
}

func TestNotify_OneFailingHandlerDoesNotBlockOthers(t *testing.T) {
	d := NewDebouncer(newFakeStore(), leaselock.NewMemoryLocker(), 0, 0)

	var called int32
	d.OnBufferReady(func(domain.MessagePacket) {
		panic("handler exploded")
	})
	d.OnBufferReady(func(domain.MessagePacket) {
		atomic.AddInt32(&called, 1)
	})

	d.notify(domain.MessagePacket{ConversationKey: "chat1"})
	assert.Equal(t, int32(1), atomic.LoadInt32(&called))
}
