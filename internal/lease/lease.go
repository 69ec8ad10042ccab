// Package lease provides short-lived distributed leases and dedup markers on
// Redis. Workers take a lease on an event before processing it so that at
// most one worker runs a given event at a time; the dedup marker suppresses
// duplicate ingestion of the same idempotency key.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease key only when it is still held by the
// releasing worker, so an expired lease reacquired by another worker is
// never released out from under it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrNotHeld is returned by Release when the lease expired or was taken
// over by another holder.
var ErrNotHeld = fmt.Errorf("lease: not held")

// Manager acquires and releases per-event leases and records dedup markers.
type Manager struct {
	rdb      *redis.Client
	prefix   string
	ttl      time.Duration
	dedupTTL time.Duration
}

func NewManager(rdb *redis.Client, prefix string, ttl, dedupTTL time.Duration) *Manager {
	if prefix == "" {
		prefix = "agent"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if dedupTTL <= 0 {
		dedupTTL = time.Hour
	}
	return &Manager{rdb: rdb, prefix: prefix, ttl: ttl, dedupTTL: dedupTTL}
}

func (m *Manager) leaseKey(name string) string {
	return m.prefix + ":lease:" + name
}

func (m *Manager) dedupKey(key string) string {
	return m.prefix + ":dedup:" + key
}

// TTL reports the lease duration used by Acquire.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// AcquireEvent takes the lease for an event. It returns false when another
// worker already holds it. Store errors also return false: when lease state
// is unknown the event is skipped rather than risking double processing.
func (m *Manager) AcquireEvent(ctx context.Context, eventID uuid.UUID, holderID string) (bool, error) {
	return m.Acquire(ctx, "event:"+eventID.String(), holderID)
}

// ReleaseEvent releases the lease for an event if holderID still holds it.
func (m *Manager) ReleaseEvent(ctx context.Context, eventID uuid.UUID, holderID string) error {
	return m.Release(ctx, "event:"+eventID.String(), holderID)
}

// Acquire takes a named lease. Named leases also serialize access to
// non-reentrant downstream clients shared across workers.
func (m *Manager) Acquire(ctx context.Context, name, holderID string) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, m.leaseKey(name), holderID, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return ok, nil
}

// Release gives up a named lease. Returns ErrNotHeld if the lease expired or
// is now held by someone else.
func (m *Manager) Release(ctx context.Context, name, holderID string) error {
	deleted, err := releaseScript.Run(ctx, m.rdb, []string{m.leaseKey(name)}, holderID).Int()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	if deleted == 0 {
		slog.WarnContext(ctx, "lease no longer held at release",
			"lease", name,
			"holder_id", holderID)
		return ErrNotHeld
	}
	return nil
}

// ExtendEvent refreshes the TTL of a held event lease. The pool heartbeats
// this while the pipeline runs so leases on long-running events never lapse
// mid-processing.
func (m *Manager) ExtendEvent(ctx context.Context, eventID uuid.UUID, holderID string) (bool, error) {
	return m.Extend(ctx, "event:"+eventID.String(), holderID)
}

// HeldEvent reports whether any worker currently holds the event lease.
func (m *Manager) HeldEvent(ctx context.Context, eventID uuid.UUID) (bool, error) {
	n, err := m.rdb.Exists(ctx, m.leaseKey("event:"+eventID.String())).Result()
	if err != nil {
		return false, fmt.Errorf("check lease event:%s: %w", eventID, err)
	}
	return n > 0, nil
}

// Extend refreshes the TTL of a held named lease.
func (m *Manager) Extend(ctx context.Context, name, holderID string) (bool, error) {
	extended, err := extendScript.Run(ctx, m.rdb, []string{m.leaseKey(name)}, holderID, m.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend lease %s: %w", name, err)
	}
	return extended == 1, nil
}

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// MarkSeen records an idempotency key. The first call within the dedup TTL
// returns true; repeats return false.
func (m *Manager) MarkSeen(ctx context.Context, key string) (bool, error) {
	first, err := m.rdb.SetNX(ctx, m.dedupKey(key), "1", m.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark seen %s: %w", key, err)
	}
	return first, nil
}
