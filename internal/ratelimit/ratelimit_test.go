package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryEleventhRequestDenied(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := newMemory(10, time.Minute, clock.Now)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		res, err := m.Check(ctx, "1.2.3.4:/api/form/submit")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied", i)
		}
		if res.Remaining != 10-i {
			t.Errorf("request %d: remaining = %d", i, res.Remaining)
		}
	}

	res, _ := m.Check(ctx, "1.2.3.4:/api/form/submit")
	if res.Allowed {
		t.Fatal("11th request allowed")
	}
	if res.Remaining != 0 {
		t.Errorf("remaining = %d", res.Remaining)
	}
	if got := res.RetryAfter(clock.Now()); got != 60 {
		t.Errorf("retry after = %d, want 60", got)
	}

	other, _ := m.Check(ctx, "5.6.7.8:/api/form/submit")
	if !other.Allowed {
		t.Fatal("other key must have its own window")
	}
}

func TestMemoryWindowResets(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := newMemory(10, time.Minute, clock.Now)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, _ = m.Check(ctx, "k")
	}

	clock.Advance(59 * time.Second)
	if res, _ := m.Check(ctx, "k"); res.Allowed {
		t.Fatal("allowed before window end")
	}

	clock.Advance(time.Second)
	res, _ := m.Check(ctx, "k")
	if !res.Allowed {
		t.Fatal("denied after window end")
	}
	if res.Remaining != 9 {
		t.Errorf("remaining = %d, want 9", res.Remaining)
	}
}

func TestMemorySweepDropsExpiredWindows(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := newMemory(10, time.Minute, clock.Now)

	_, _ = m.Check(context.Background(), "a")
	clock.Advance(30 * time.Second)
	_, _ = m.Check(context.Background(), "b")
	clock.Advance(31 * time.Second)

	m.sweep()
	if got := m.size(); got != 1 {
		t.Fatalf("size = %d, want 1", got)
	}
}

func TestMemoryStopIsIdempotent(t *testing.T) {
	m := NewMemory(10, time.Minute)
	m.Stop()
	m.Stop()
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisFixedWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	limiter := NewRedis(rdb, "rl", 10, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		res, err := limiter.Check(ctx, "1.2.3.4:/api/survey/submit")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}

	res, err := limiter.Check(ctx, "1.2.3.4:/api/survey/submit")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed {
		t.Fatal("11th request allowed")
	}
	if res.ResetAt.Before(time.Now()) {
		t.Fatalf("reset at %v is in the past", res.ResetAt)
	}

	mr.FastForward(time.Minute)

	res, err = limiter.Check(ctx, "1.2.3.4:/api/survey/submit")
	if err != nil {
		t.Fatalf("check after window: %v", err)
	}
	if !res.Allowed || res.Remaining != 9 {
		t.Fatalf("after window: %+v", res)
	}
}

func TestRedisErrorIsReturned(t *testing.T) {
	mr, rdb := newTestRedis(t)
	limiter := NewRedis(rdb, "rl", 10, time.Minute)
	mr.Close()

	if _, err := limiter.Check(context.Background(), "k"); err == nil {
		t.Fatal("expected error from closed redis")
	}
}

func TestMemoryPeekDoesNotCount(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := newMemory(2, time.Minute, clock.Now)
	ctx := context.Background()

	res, _ := m.Peek(ctx, "k")
	if !res.Allowed || res.Remaining != 2 {
		t.Fatalf("fresh peek: %+v", res)
	}

	_, _ = m.Check(ctx, "k")
	for range 3 {
		res, _ = m.Peek(ctx, "k")
	}
	if !res.Allowed || res.Remaining != 1 {
		t.Fatalf("peek after one check: %+v", res)
	}

	_, _ = m.Check(ctx, "k")
	res, _ = m.Peek(ctx, "k")
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("peek at limit: %+v", res)
	}
}

func TestRedisPeekDoesNotCount(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewRedis(rdb, "rl", 10, time.Minute)
	ctx := context.Background()

	res, err := limiter.Peek(ctx, "k")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if !res.Allowed || res.Remaining != 10 {
		t.Fatalf("fresh peek: %+v", res)
	}

	_, _ = limiter.Check(ctx, "k")
	_, _ = limiter.Peek(ctx, "k")
	res, err = limiter.Peek(ctx, "k")
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if res.Remaining != 9 {
		t.Fatalf("remaining = %d, want 9", res.Remaining)
	}
}
