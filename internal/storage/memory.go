package storage

import (
	"context"
	"sync"
	"time"
)

// memStore keeps everything in process memory. It backs the "none" driver
// and is what package tests use as a fake.
type memStore struct {
	mu       sync.RWMutex
	groups   map[int64]GroupRecord
	progress map[int64]ProgressRecord
	cache    map[string]CacheRecord
	audit    []AuditEntry
}

func NewMemory() Store {
	return &memStore{
		groups:   map[int64]GroupRecord{},
		progress: map[int64]ProgressRecord{},
		cache:    map[string]CacheRecord{},
	}
}

func (m *memStore) Close() error { return nil }

func (m *memStore) GetGroup(_ context.Context, chatID int64) (GroupRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[chatID]
	return g, ok, nil
}

func (m *memStore) PutGroup(_ context.Context, g GroupRecord) error {
	if g.JoinedAt.IsZero() {
		g.JoinedAt = time.Now()
	}
	g.UpdatedAt = time.Now()
	m.mu.Lock()
	m.groups[g.ChatID] = g
	m.mu.Unlock()
	return nil
}

func (m *memStore) ListGroups(_ context.Context) ([]GroupRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]GroupRecord, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	return out, nil
}

func (m *memStore) GetProgress(_ context.Context, chatID int64) (ProgressRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.progress[chatID]
	return p, ok, nil
}

func (m *memStore) PutProgress(_ context.Context, p ProgressRecord) error {
	if p.AdvancedAt.IsZero() {
		p.AdvancedAt = time.Now()
	}
	m.mu.Lock()
	m.progress[p.ChatID] = p
	m.mu.Unlock()
	return nil
}

func (m *memStore) GetCacheEntry(_ context.Context, date string) (CacheRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.cache[date]
	return r, ok, nil
}

func (m *memStore) PutCacheEntry(_ context.Context, r CacheRecord) error {
	m.mu.Lock()
	m.cache[r.Date] = r
	m.mu.Unlock()
	return nil
}

func (m *memStore) ListCacheEntries(_ context.Context) ([]CacheRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CacheRecord, 0, len(m.cache))
	for _, r := range m.cache {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) DeleteCacheEntry(_ context.Context, date string) error {
	m.mu.Lock()
	delete(m.cache, date)
	m.mu.Unlock()
	return nil
}

func (m *memStore) DeleteCacheExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for date, r := range m.cache {
		if r.ExpiresAt.Before(cutoff) {
			delete(m.cache, date)
			n++
		}
	}
	return n, nil
}

func (m *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	m.audit = append(m.audit, e)
	// cap retained entries; memory driver is not an audit system of record
	if len(m.audit) > 1000 {
		m.audit = m.audit[len(m.audit)-1000:]
	}
	m.mu.Unlock()
	return nil
}
