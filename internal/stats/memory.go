package stats

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int64)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Record(e Event) {
	m.mu.Lock()
	m.counts[e.String()]++
	m.mu.Unlock()
}

func (m *MemoryStore) Snapshot(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshotFrom(m.counts), nil
}
