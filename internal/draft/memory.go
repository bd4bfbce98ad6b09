package draft

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store. Entries expire ttl after their last save.
type Memory struct {
	mu     sync.Mutex
	drafts map[string]*Draft
	ttl    time.Duration
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemory(ttl time.Duration) *Memory {
	m := newMemory(ttl, time.Now)
	go m.sweepLoop()
	return m
}

func newMemory(ttl time.Duration, now func() time.Time) *Memory {
	return &Memory{
		drafts: make(map[string]*Draft),
		ttl:    ttl,
		now:    now,
		stop:   make(chan struct{}),
	}
}

func (m *Memory) Save(_ context.Context, d *Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d.SavedAt = m.now().UTC()
	d.ExpiresAt = d.SavedAt.Add(m.ttl)

	stored := *d
	stored.Responses = append(stored.Responses[:0:0], d.Responses...)
	m.drafts[d.SessionID] = &stored
	return nil
}

func (m *Memory) Get(_ context.Context, sessionID string) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drafts[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if !m.now().Before(d.ExpiresAt) {
		delete(m.drafts, sessionID)
		return nil, ErrNotFound
	}

	out := *d
	return &out, nil
}

func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.drafts, sessionID)
	return nil
}

// Stop ends the sweep goroutine.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(10 * time.Minute)
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

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, d := range m.drafts {
		if !now.Before(d.ExpiresAt) {
			delete(m.drafts, id)
		}
	}
}
