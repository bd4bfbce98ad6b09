package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter and starts the window on the first hit.
// Returns {count, pttl}.
var fixedWindowScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return { count, ttl }
`)

// peekScript reads a window without counting. Returns {count, pttl}.
var peekScript = redis.NewScript(`
	local count = tonumber(redis.call('GET', KEYS[1]) or '0')
	return { count, redis.call('PTTL', KEYS[1]) }
`)

// Redis is a fixed-window limiter shared by every instance using the same Redis.
type Redis struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	period time.Duration
	now    func() time.Time
}

func NewRedis(rdb redis.Scripter, prefix string, limit int, period time.Duration) *Redis {
	return &Redis{
		rdb:    rdb,
		prefix: prefix,
		limit:  limit,
		period: period,
		now:    time.Now,
	}
}

func (r *Redis) Check(ctx context.Context, key string) (Result, error) {
	vals, err := fixedWindowScript.Run(ctx, r.rdb, []string{r.prefix + ":" + key}, r.period.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("rate limit script: unexpected result %v", vals)
	}

	count, ttl := vals[0], vals[1]
	return Result{
		Allowed:   count <= int64(r.limit),
		Limit:     r.limit,
		Remaining: remaining(r.limit, count),
		ResetAt:   r.now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

func (r *Redis) Peek(ctx context.Context, key string) (Result, error) {
	vals, err := peekScript.Run(ctx, r.rdb, []string{r.prefix + ":" + key}).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit peek: %w", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("rate limit peek: unexpected result %v", vals)
	}

	count, ttl := vals[0], vals[1]
	if ttl < 0 {
		ttl = r.period.Milliseconds()
	}
	return Result{
		Allowed:   count < int64(r.limit),
		Limit:     r.limit,
		Remaining: remaining(r.limit, count),
		ResetAt:   r.now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}
