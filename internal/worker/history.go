package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sukru-can1/the-agent/internal/model"
)

// historyTTL bounds how long failure trails are kept for events that never
// reach a terminal state.
const historyTTL = 24 * time.Hour

// RedisErrorHistory keeps per-event failure trails in a Redis list.
type RedisErrorHistory struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisErrorHistory(rdb *redis.Client, prefix string) *RedisErrorHistory {
	if prefix == "" {
		prefix = "agent"
	}
	return &RedisErrorHistory{rdb: rdb, prefix: prefix}
}

func (h *RedisErrorHistory) key(eventID uuid.UUID) string {
	return h.prefix + ":errors:" + eventID.String()
}

func (h *RedisErrorHistory) Append(ctx context.Context, eventID uuid.UUID, entry model.ErrorEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode error entry: %w", err)
	}

	pipe := h.rdb.TxPipeline()
	pipe.RPush(ctx, h.key(eventID), raw)
	pipe.Expire(ctx, h.key(eventID), historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append error history for %s: %w", eventID, err)
	}
	return nil
}

func (h *RedisErrorHistory) Get(ctx context.Context, eventID uuid.UUID) ([]model.ErrorEntry, error) {
	raw, err := h.rdb.LRange(ctx, h.key(eventID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read error history for %s: %w", eventID, err)
	}

	entries := make([]model.ErrorEntry, 0, len(raw))
	for _, item := range raw {
		var entry model.ErrorEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue // a corrupt entry should not block dead-lettering
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (h *RedisErrorHistory) Clear(ctx context.Context, eventID uuid.UUID) error {
	if err := h.rdb.Del(ctx, h.key(eventID)).Err(); err != nil {
		return fmt.Errorf("clear error history for %s: %w", eventID, err)
	}
	return nil
}
