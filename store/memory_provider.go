package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryProvider is an in-memory StorageProvider, grounded on
// core.MemoryStore's mutex-guarded map. It is the default backend: every
// store in this package works against it without Redis configured.
type MemoryProvider struct {
	mu      sync.RWMutex
	values  map[string]memoryEntry
	indices map[string]map[string]float64
	counters map[string]int64
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		values:   make(map[string]memoryEntry),
		indices:  make(map[string]map[string]float64),
		counters: make(map[string]int64),
	}
}

func (m *MemoryProvider) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.values[key]
	if !ok {
		return "", nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return "", nil
	}
	return entry.value, nil
}

func (m *MemoryProvider) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.values[key] = entry
	return nil
}

func (m *MemoryProvider) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *MemoryProvider) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.values[key]
	if !ok {
		return false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return false, nil
	}
	return true, nil
}

func (m *MemoryProvider) AddToIndex(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indices[key]
	if !ok {
		idx = make(map[string]float64)
		m.indices[key] = idx
	}
	idx[member] = score
	return nil
}

func (m *MemoryProvider) ListByScoreDesc(_ context.Context, key string, offset, count int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.indices[key]
	members := make([]string, 0, len(idx))
	for member := range idx {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool { return idx[members[i]] > idx[members[j]] })

	if offset >= int64(len(members)) {
		return nil, nil
	}
	end := int64(len(members))
	if count > 0 && offset+count < end {
		end = offset + count
	}
	return append([]string(nil), members[offset:end]...), nil
}

func (m *MemoryProvider) RemoveFromIndex(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indices[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(idx, member)
	}
	return nil
}

func (m *MemoryProvider) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

var _ StorageProvider = (*MemoryProvider)(nil)
