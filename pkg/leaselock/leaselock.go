// Package leaselock provides a distributed single-flight lock with expiring
// leases backed by Valkey. A failed Acquire means "someone else is already
// working on this" and must be treated as skip, not as an error.
package leaselock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/ericsoncardosoweb/apollo-ai/infrastructure/valkey"
)

// Lua script for atomic lock release (only delete if token matches)
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Locker is the single-flight contract used by the coordination components.
//
// Acquire outcomes are tri-state:
//   - (token, nil): the lease is held by this caller; the token is required
//     to release it.
//   - ("", nil): contended, another holder owns the key. Skip the work.
//   - ("", err): the store is unavailable; callers may log/alert differently
//     from contention.
//
// Release only deletes the lease the token belongs to: a holder whose lease
// lapsed to TTL expiry cannot delete a successor's live lease.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Release(ctx context.Context, key, token string) error
}

// ValkeyLocker implements Locker with SET NX PX and a per-acquisition token.
type ValkeyLocker struct {
	client *valkey.Client
	prefix string
}

// NewValkeyLocker creates a Locker over the given Valkey client.
func NewValkeyLocker(client *valkey.Client) *ValkeyLocker {
	return &ValkeyLocker{
		client: client,
		prefix: client.Key("lock") + ":",
	}
}

func (l *ValkeyLocker) fullKey(key string) string {
	return l.prefix + key
}

// Acquire attempts an atomic "set key to a unique token if absent, with TTL".
// It never check-then-sets and never queues.
func (l *ValkeyLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.New().String()

	cmd := l.client.Inner().B().Set().
		Key(l.fullKey(key)).
		Value(token).
		Nx().
		Px(ttl).
		Build()

	err := l.client.Inner().Do(ctx, cmd).Error()
	if err == nil {
		return token, nil
	}
	if valkeylib.IsValkeyNil(err) {
		// SET NX returned nil: the key already exists, someone else holds it.
		return "", nil
	}
	return "", fmt.Errorf("lock store unavailable for %s: %w", key, err)
}

// Release deletes the lease only if it still carries token. Best effort: the
// TTL is the real safety net against stuck locks from crashed holders.
func (l *ValkeyLocker) Release(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}

	cmd := l.client.Inner().B().Eval().
		Script(releaseScript).
		Numkeys(1).
		Key(l.fullKey(key)).
		Arg(token).
		Build()

	if err := l.client.Inner().Do(ctx, cmd).Error(); err != nil {
		logrus.WithError(err).Warnf("[LEASE_LOCK] Failed to release lock %s", key)
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}

// MemoryLocker is an in-process Locker used by tests and by deployments
// without a shared store (single replica only).
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
}

type memoryLease struct {
	token   string
	expires time.Time
}

// NewMemoryLocker creates an in-memory Locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]memoryLease)}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if lease, ok := l.leases[key]; ok && lease.expires.After(now) {
		return "", nil
	}
	token := uuid.New().String()
	l.leases[key] = memoryLease{token: token, expires: now.Add(ttl)}
	return token, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lease, ok := l.leases[key]; ok && lease.token == token {
		delete(l.leases, key)
	}
	return nil
}
