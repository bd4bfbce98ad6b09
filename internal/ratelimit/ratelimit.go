// Package ratelimit implements fixed-window request limiting keyed by an
// arbitrary string (usually client IP plus route).
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Result describes the state of a key's window after a Check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns whole seconds until the window resets, never less than one
// for a blocked result.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter counts a request against key and reports whether it may proceed.
// Peek reports the same state without counting.
type Limiter interface {
	Check(ctx context.Context, key string) (Result, error)
	Peek(ctx context.Context, key string) (Result, error)
}

func remaining(limit int, count int64) int {
	left := int64(limit) - count
	if left < 0 {
		return 0
	}
	return int(left)
}
