package repository

import (
	"context"
	"sync"
	"time"

	"github.com/ericsoncardosoweb/apollo-ai/messaging/debounce"
)

// MemoryBufferStore implements debounce.BufferStore and debounce.ExpiryFeed
// in process memory. Used by tests and by single-replica deployments that
// run without a shared store.
type MemoryBufferStore struct {
	mu      sync.Mutex
	buffers map[debounce.BufferRef]*memBuffer
	timers  map[debounce.BufferRef]*time.Timer
	expiry  chan debounce.BufferRef
}

type memBuffer struct {
	entries  [][]byte
	lastPush time.Time
}

// NewMemoryBufferStore creates an in-memory buffer store.
func NewMemoryBufferStore() *MemoryBufferStore {
	return &MemoryBufferStore{
		buffers: make(map[debounce.BufferRef]*memBuffer),
		timers:  make(map[debounce.BufferRef]*time.Timer),
		expiry:  make(chan debounce.BufferRef, 64),
	}
}

func (s *MemoryBufferStore) Append(_ context.Context, ref debounce.BufferRef, entry []byte, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.buffers[ref]
	if !ok {
		buf = &memBuffer{}
		s.buffers[ref] = buf
	}
	buf.entries = append(buf.entries, append([]byte(nil), entry...))
	buf.lastPush = time.Now()

	// Every push re-arms the window timer, pushing the deadline forward.
	if t, ok := s.timers[ref]; ok {
		t.Stop()
	}
	s.timers[ref] = time.AfterFunc(window, func() {
		s.mu.Lock()
		delete(s.timers, ref)
		s.mu.Unlock()
		select {
		case s.expiry <- ref:
		default:
		}
	})

	return int64(len(buf.entries)), nil
}

func (s *MemoryBufferStore) ReadAll(_ context.Context, ref debounce.BufferRef) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.buffers[ref]
	if !ok {
		return nil, nil
	}
	out := make([][]byte, len(buf.entries))
	for i, e := range buf.entries {
		out[i] = append([]byte(nil), e...)
	}
	return out, nil
}

func (s *MemoryBufferStore) Delete(_ context.Context, ref debounce.BufferRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.buffers, ref)
	if t, ok := s.timers[ref]; ok {
		t.Stop()
		delete(s.timers, ref)
	}
	return nil
}

func (s *MemoryBufferStore) Len(_ context.Context, ref debounce.BufferRef) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.buffers[ref]
	if !ok {
		return 0, nil
	}
	return int64(len(buf.entries)), nil
}

func (s *MemoryBufferStore) StaleRefs(_ context.Context, cutoff time.Time) ([]debounce.BufferRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var refs []debounce.BufferRef
	for ref, buf := range s.buffers {
		if len(buf.entries) > 0 && buf.lastPush.Before(cutoff) {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// WatchExpired implements debounce.ExpiryFeed.
func (s *MemoryBufferStore) WatchExpired(ctx context.Context, fn func(ref debounce.BufferRef)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ref := <-s.expiry:
			fn(ref)
		}
	}
}
