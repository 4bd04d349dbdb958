package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ericsoncardosoweb/apollo-ai/infrastructure/valkey"
	"github.com/ericsoncardosoweb/apollo-ai/messaging/debounce"
)

// dataRetention keeps buffer contents readable well past the silence window
// so the expiry watcher (or the sweep) can drain them. Anything still unread
// after this is abandoned by design.
const dataRetention = 5 * time.Minute

// ValkeyBufferStore implements debounce.BufferStore and debounce.ExpiryFeed
// over Valkey.
//
// Three keys per conversation:
//   - a data list holding the serialized messages (retention TTL),
//   - a trigger key whose TTL is the silence window; its expiration is what
//     wakes the watcher (the data must outlive the trigger, otherwise the
//     store would have deleted the messages before the notification fires),
//   - one shared sorted set indexing last-push times for the sweep.
type ValkeyBufferStore struct {
	client        *valkey.Client
	dataPrefix    string
	triggerPrefix string
	indexKey      string
}

// NewValkeyBufferStore creates a buffer store over the given client.
func NewValkeyBufferStore(client *valkey.Client) *ValkeyBufferStore {
	return &ValkeyBufferStore{
		client:        client,
		dataPrefix:    client.Key("buffer", "chat") + ":",
		triggerPrefix: client.Key("buffer", "trigger") + ":",
		indexKey:      client.Key("buffer", "index"),
	}
}

func (s *ValkeyBufferStore) dataKey(ref debounce.BufferRef) string {
	return s.dataPrefix + ref.TenantID + ":" + ref.ConversationKey
}

func (s *ValkeyBufferStore) triggerKey(ref debounce.BufferRef) string {
	return s.triggerPrefix + ref.TenantID + ":" + ref.ConversationKey
}

func (s *ValkeyBufferStore) member(ref debounce.BufferRef) string {
	return ref.TenantID + ":" + ref.ConversationKey
}

// Append pushes one entry and resets the silence window. The append happens
// before any TTL write, so a crash mid-operation never leaves a non-expiring
// trigger with no data behind it.
func (s *ValkeyBufferStore) Append(ctx context.Context, ref debounce.BufferRef, entry []byte, window time.Duration) (int64, error) {
	inner := s.client.Inner()

	rpush := inner.B().Rpush().Key(s.dataKey(ref)).Element(string(entry)).Build()
	count, err := inner.Do(ctx, rpush).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to append buffer entry: %w", err)
	}

	retention := inner.B().Expire().Key(s.dataKey(ref)).
		Seconds(int64((window + dataRetention).Seconds())).Build()
	if err := inner.Do(ctx, retention).Error(); err != nil {
		return count, fmt.Errorf("failed to set buffer retention: %w", err)
	}

	// The trigger carries the actual debounce window; every push resets it
	// to the full window, pushing the drain deadline forward.
	trigger := inner.B().Set().Key(s.triggerKey(ref)).Value("1").
		Ex(window).Build()
	if err := inner.Do(ctx, trigger).Error(); err != nil {
		return count, fmt.Errorf("failed to arm buffer trigger: %w", err)
	}

	index := inner.B().Zadd().Key(s.indexKey).ScoreMember().
		ScoreMember(float64(time.Now().Unix()), s.member(ref)).Build()
	if err := inner.Do(ctx, index).Error(); err != nil {
		return count, fmt.Errorf("failed to index buffer: %w", err)
	}

	return count, nil
}

// ReadAll returns every entry in insertion order without consuming.
func (s *ValkeyBufferStore) ReadAll(ctx context.Context, ref debounce.BufferRef) ([][]byte, error) {
	cmd := s.client.Inner().B().Lrange().Key(s.dataKey(ref)).Start(0).Stop(-1).Build()
	values, err := s.client.Inner().Do(ctx, cmd).AsStrSlice()
	if err != nil {
		if valkey.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read buffer: %w", err)
	}

	entries := make([][]byte, len(values))
	for i, v := range values {
		entries[i] = []byte(v)
	}
	return entries, nil
}

// Delete removes the buffer, its trigger and its index entry.
func (s *ValkeyBufferStore) Delete(ctx context.Context, ref debounce.BufferRef) error {
	inner := s.client.Inner()

	del := inner.B().Del().Key(s.dataKey(ref), s.triggerKey(ref)).Build()
	if err := inner.Do(ctx, del).Error(); err != nil {
		return fmt.Errorf("failed to delete buffer: %w", err)
	}

	zrem := inner.B().Zrem().Key(s.indexKey).Member(s.member(ref)).Build()
	if err := inner.Do(ctx, zrem).Error(); err != nil {
		return fmt.Errorf("failed to unindex buffer: %w", err)
	}
	return nil
}

// Len returns the buffer length without consuming.
func (s *ValkeyBufferStore) Len(ctx context.Context, ref debounce.BufferRef) (int64, error) {
	cmd := s.client.Inner().B().Llen().Key(s.dataKey(ref)).Build()
	n, err := s.client.Inner().Do(ctx, cmd).AsInt64()
	if err != nil {
		if valkey.IsNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get buffer length: %w", err)
	}
	return n, nil
}

// StaleRefs returns buffers whose last push is older than the cutoff.
func (s *ValkeyBufferStore) StaleRefs(ctx context.Context, cutoff time.Time) ([]debounce.BufferRef, error) {
	cmd := s.client.Inner().B().Zrangebyscore().Key(s.indexKey).
		Min("-inf").Max(strconv.FormatInt(cutoff.Unix(), 10)).Build()
	members, err := s.client.Inner().Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to scan buffer index: %w", err)
	}

	refs := make([]debounce.BufferRef, 0, len(members))
	for _, m := range members {
		if ref, ok := parseMember(m); ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// WatchExpired implements debounce.ExpiryFeed over keyspace notifications,
// filtered to trigger keys. All other expirations in the store are ignored.
func (s *ValkeyBufferStore) WatchExpired(ctx context.Context, fn func(ref debounce.BufferRef)) error {
	return s.client.SubscribeExpired(ctx, func(key string) {
		if !strings.HasPrefix(key, s.triggerPrefix) {
			return
		}
		if ref, ok := parseMember(strings.TrimPrefix(key, s.triggerPrefix)); ok {
			fn(ref)
		}
	})
}

// parseMember splits "{tenantID}:{conversationKey}" at the first colon.
// Conversation keys may themselves contain colons; tenant IDs may not.
func parseMember(m string) (debounce.BufferRef, bool) {
	parts := strings.SplitN(m, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return debounce.BufferRef{}, false
	}
	return debounce.BufferRef{TenantID: parts[0], ConversationKey: parts[1]}, true
}
