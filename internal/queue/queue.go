// Package queue implements the durable priority queue backing the event
// pipeline. Entries live in a Redis sorted set whose score encodes priority
// first and arrival time second, so ZPOPMIN always yields the most urgent,
// oldest entry.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sukru-can1/the-agent/internal/model"
)

// scoreBase spaces priority bands far enough apart that millisecond
// timestamps never bleed into the next band.
const scoreBase = 1e12

// ErrEmpty is returned by Dequeue when no entry is available.
var ErrEmpty = errors.New("queue: empty")

// ErrPaused is returned by Dequeue while consumption is paused.
var ErrPaused = errors.New("queue: paused")

// ComputeScore encodes priority and enqueue time into a single sortable
// score. Lower priority values sort first; within a priority band, earlier
// arrivals sort first.
func ComputeScore(priority model.Priority, enqueuedAt time.Time) float64 {
	return float64(priority)*scoreBase + float64(enqueuedAt.UnixMilli())
}

// dequeueScanLimit bounds how many immature entries Dequeue scans past per
// call. Backed-off retries sort ahead of ready work within higher-priority
// bands, so the script must look beyond the minimum score.
const dequeueScanLimit = 100

// dequeueScript removes and returns the lowest-scored entry whose encoded
// timestamp has passed. Entries scheduled for the future (retry backoff)
// are skipped in place, never popped, so a crash mid-dequeue cannot lose
// them. Returns false when nothing is ready.
var dequeueScript = redis.NewScript(`
local entries = redis.call("ZRANGE", KEYS[1], 0, tonumber(ARGV[3]), "WITHSCORES")
local now = tonumber(ARGV[1])
local base = tonumber(ARGV[2])
for i = 1, #entries, 2 do
	local score = tonumber(entries[i + 1])
	local ts = score - math.floor(score / base) * base
	if ts <= now then
		redis.call("ZREM", KEYS[1], entries[i])
		return entries[i]
	end
end
return false
`)

// PriorityQueue is a Redis-backed priority queue of event IDs.
type PriorityQueue struct {
	rdb    *redis.Client
	prefix string
}

func NewPriorityQueue(rdb *redis.Client, prefix string) *PriorityQueue {
	if prefix == "" {
		prefix = "agent"
	}
	return &PriorityQueue{rdb: rdb, prefix: prefix}
}

func (q *PriorityQueue) queueKey() string {
	return q.prefix + ":events:queue"
}

func (q *PriorityQueue) pauseKey() string {
	return q.prefix + ":events:paused"
}

// Enqueue adds an event to the queue at the given priority. A future
// notBefore delays delivery, which is how retry backoff is implemented.
// Re-enqueueing an ID that is already queued updates its score rather than
// duplicating it.
func (q *PriorityQueue) Enqueue(ctx context.Context, eventID uuid.UUID, priority model.Priority, notBefore time.Time) error {
	score := ComputeScore(priority, notBefore)
	if err := q.rdb.ZAdd(ctx, q.queueKey(), redis.Z{
		Score:  score,
		Member: eventID.String(),
	}).Err(); err != nil {
		return fmt.Errorf("enqueue event %s: %w", eventID, err)
	}

	slog.DebugContext(ctx, "event enqueued",
		"event_id", eventID,
		"priority", priority,
		"score", score)
	return nil
}

// Dequeue atomically removes and returns the lowest-scored ready event ID,
// scanning past backed-off entries whose delivery time has not arrived so a
// delayed high-priority retry cannot stall ready work behind it. It returns
// ErrPaused while the pause flag is set and ErrEmpty when nothing is ready.
func (q *PriorityQueue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	paused, err := q.Paused(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if paused {
		return uuid.Nil, ErrPaused
	}

	member, err := dequeueScript.Run(ctx, q.rdb, []string{q.queueKey()},
		time.Now().UnixMilli(), scoreBase, dequeueScanLimit-1).Text()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrEmpty
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("dequeue: %w", err)
	}

	eventID, err := uuid.Parse(member)
	if err != nil {
		return uuid.Nil, fmt.Errorf("dequeue: malformed member %q: %w", member, err)
	}
	return eventID, nil
}

// Remove deletes a specific event from the queue if it is still pending.
func (q *PriorityQueue) Remove(ctx context.Context, eventID uuid.UUID) error {
	if err := q.rdb.ZRem(ctx, q.queueKey(), eventID.String()).Err(); err != nil {
		return fmt.Errorf("remove event %s: %w", eventID, err)
	}
	return nil
}

// Len reports the number of queued entries.
func (q *PriorityQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Pause sets the pause flag. Queued entries are retained; consumers idle
// until Resume is called.
func (q *PriorityQueue) Pause(ctx context.Context) error {
	if err := q.rdb.Set(ctx, q.pauseKey(), "1", 0).Err(); err != nil {
		return fmt.Errorf("pause queue: %w", err)
	}
	slog.InfoContext(ctx, "queue paused")
	return nil
}

// Resume clears the pause flag.
func (q *PriorityQueue) Resume(ctx context.Context) error {
	if err := q.rdb.Del(ctx, q.pauseKey()).Err(); err != nil {
		return fmt.Errorf("resume queue: %w", err)
	}
	slog.InfoContext(ctx, "queue resumed")
	return nil
}

// Paused reports whether the pause flag is set.
func (q *PriorityQueue) Paused(ctx context.Context) (bool, error) {
	n, err := q.rdb.Exists(ctx, q.pauseKey()).Result()
	if err != nil {
		return false, fmt.Errorf("check pause flag: %w", err)
	}
	return n > 0, nil
}
