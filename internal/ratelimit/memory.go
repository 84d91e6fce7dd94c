package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

type memoryWindow struct {
	events  []time.Time
	expires time.Time
}

// MemoryStore is a single-process Store used when no Redis is configured.
// Idle windows are dropped once their expiry passes.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	calls   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*memoryWindow)}
}

func (s *MemoryStore) Admit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls%sweepEvery == 0 {
		s.sweep(now)
	}

	w, ok := s.windows[key]
	if !ok {
		w = &memoryWindow{}
		s.windows[key] = w
	}

	cutoff := now.Add(-window)
	kept := w.events[:0]
	for _, ts := range w.events {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.events = kept

	if len(w.events) >= limit {
		return false, nil
	}

	w.events = append(w.events, now)
	w.expires = now.Add(window)
	return true, nil
}

// Sweep drops every window whose expiry is before now.
func (s *MemoryStore) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(now)
}

func (s *MemoryStore) sweep(now time.Time) {
	for key, w := range s.windows {
		if w.expires.Before(now) {
			delete(s.windows, key)
		}
	}
}

// Len returns the number of keys currently tracked.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
