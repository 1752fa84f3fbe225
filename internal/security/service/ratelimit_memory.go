package service

import (
	"context"
	"sync"
	"time"
)

// CounterStore records sliding-window hits per key. Hit prunes entries
// outside the window, records the new hit, and reports the resulting count
// plus the oldest surviving timestamp (zero when the new hit is the only
// one). Prune-count-record must be atomic per key.
type CounterStore interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (count int, oldest time.Time, err error)
	Reset(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context, maxWindow time.Duration, now time.Time) error
}

// MemoryCounterStore keeps per-key hit timestamps under a single mutex.
// Suitable for a single-process deployment and as the fallback behind the
// Redis store.
type MemoryCounterStore struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{hits: make(map[string][]time.Time)}
}

func (m *MemoryCounterStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	kept := m.hits[key][:0]
	for _, t := range m.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	m.hits[key] = kept

	return len(kept), kept[0], nil
}

func (m *MemoryCounterStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hits, key)
	return nil
}

func (m *MemoryCounterStore) CleanupExpired(_ context.Context, maxWindow time.Duration, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-maxWindow)
	for key, ts := range m.hits {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(m.hits, key)
		}
	}
	return nil
}
