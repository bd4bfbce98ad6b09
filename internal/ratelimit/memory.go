package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	resetAt time.Time
}

// Memory is a process-local fixed-window limiter.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates a limiter allowing limit requests per period for each key.
// It starts a background sweep of expired windows; call Stop to end it.
func NewMemory(limit int, period time.Duration) *Memory {
	m := newMemory(limit, period, time.Now)
	go m.sweepLoop()
	return m
}

func newMemory(limit int, period time.Duration, now func() time.Time) *Memory {
	return &Memory{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     now,
		stop:    make(chan struct{}),
	}
}

func (m *Memory) Check(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(m.period)}
		m.windows[key] = w
	}

	// Stop counting once over the limit so a flood can't grow the counter
	if w.count <= int64(m.limit) {
		w.count++
	}

	return Result{
		Allowed:   w.count <= int64(m.limit),
		Limit:     m.limit,
		Remaining: remaining(m.limit, w.count),
		ResetAt:   w.resetAt,
	}, nil
}

func (m *Memory) Peek(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		return Result{Allowed: true, Limit: m.limit, Remaining: m.limit, ResetAt: now.Add(m.period)}, nil
	}
	return Result{
		Allowed:   w.count < int64(m.limit),
		Limit:     m.limit,
		Remaining: remaining(m.limit, w.count),
		ResetAt:   w.resetAt,
	}, nil
}

// Stop ends the sweep goroutine.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) sweepLoop() {
	interval := m.period
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

// sweep drops windows that have already reset
func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
		}
	}
}

func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
