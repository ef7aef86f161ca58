package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepInterval bounds how often Count scans every key for expired entries.
const sweepInterval = time.Minute

type series struct {
	window time.Duration
	stamps []time.Time // ascending
}

func (s *series) prune(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.stamps) && !s.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.stamps = append(s.stamps[:0], s.stamps[i:]...)
	}
}

// MemoryStore is an in-process sliding-window store. Each key is pruned by the
// window it was last written with.
type MemoryStore struct {
	mu        sync.Mutex
	keys      map[string]*series
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*series)}
}

func (m *MemoryStore) Count(_ context.Context, key string, window time.Duration, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeSweep(now)

	s, ok := m.keys[key]
	if !ok {
		return 0, nil
	}
	s.window = window
	s.prune(now)
	if len(s.stamps) == 0 {
		delete(m.keys, key)
		return 0, nil
	}
	return len(s.stamps), nil
}

func (m *MemoryStore) Add(_ context.Context, key string, window time.Duration, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.keys[key]
	if !ok {
		s = &series{}
		m.keys[key] = s
	}
	s.window = window
	s.stamps = append(s.stamps, now)
	return nil
}

func (m *MemoryStore) Size(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys), nil
}

// maybeSweep drops emptied keys at most once per sweepInterval. Caller holds mu.
func (m *MemoryStore) maybeSweep(now time.Time) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.lastSweep = now
	for k, s := range m.keys {
		s.prune(now)
		if len(s.stamps) == 0 {
			delete(m.keys, k)
		}
	}
}
