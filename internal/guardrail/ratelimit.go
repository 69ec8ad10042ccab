package guardrail

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sukru-can1/the-agent/internal/model"
)

// Counter increments a named fixed-window counter and returns the new
// count. The window TTL is applied when the counter is first created.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter implements Counter on Redis INCR with a window expiry.
type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", key, err)
	}
	return incr.Val(), nil
}

// RateLimiter enforces per-source and global hourly budgets using fixed
// windows aligned to the hour, so the window identity is part of the key
// and stale windows expire on their own.
type RateLimiter struct {
	counter      Counter
	prefix       string
	sourceLimits map[model.EventSource]int64
	globalLimit  int64
	now          func() time.Time
}

func NewRateLimiter(counter Counter, prefix string, sourceLimits map[model.EventSource]int64, globalLimit int64) *RateLimiter {
	if prefix == "" {
		prefix = "agent"
	}
	return &RateLimiter{
		counter:      counter,
		prefix:       prefix,
		sourceLimits: sourceLimits,
		globalLimit:  globalLimit,
		now:          time.Now,
	}
}

// Allow consumes one unit from the source and global windows. The source
// counter is checked first; a source denial still consumed the source unit,
// matching fixed-window semantics where rejected requests count.
func (l *RateLimiter) Allow(ctx context.Context, source model.EventSource) (Verdict, error) {
	window := l.now().UTC().Truncate(time.Hour)
	suffix := window.Format("2006010215")

	if limit, ok := l.sourceLimits[source]; ok && limit > 0 {
		key := fmt.Sprintf("%s:ratelimit:%s:%s", l.prefix, source, suffix)
		count, err := l.counter.Incr(ctx, key, 2*time.Hour)
		if err != nil {
			return Verdict{}, err
		}
		if count > limit {
			return deny("rate_limit_source",
				fmt.Sprintf("source %s exceeded %d events this hour", source, limit)), nil
		}
	}

	if l.globalLimit > 0 {
		key := fmt.Sprintf("%s:ratelimit:global:%s", l.prefix, suffix)
		count, err := l.counter.Incr(ctx, key, 2*time.Hour)
		if err != nil {
			return Verdict{}, err
		}
		if count > l.globalLimit {
			return deny("rate_limit_global",
				fmt.Sprintf("global limit of %d events this hour exceeded", l.globalLimit)), nil
		}
	}

	return allow(), nil
}
