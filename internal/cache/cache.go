// Package cache holds acquisition results keyed by query fingerprint.
package cache

import (
	"context"
	"sync"
	"time"

	"property-acquisition/internal/domain"
)

// Cache stores record lists under a key for a bounded time.
type Cache interface {
	Get(ctx context.Context, key string) ([]domain.PropertyRecord, bool)
	Set(ctx context.Context, key string, records []domain.PropertyRecord, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

type entry struct {
	records   []domain.PropertyRecord
	expiresAt time.Time
}

// Memory is an in-process Cache. Expired entries are evicted on access.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an empty cache. A nil clock uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{entries: make(map[string]entry), now: now}
}

// Get returns a copy of the cached records.
func (m *Memory) Get(_ context.Context, key string) ([]domain.PropertyRecord, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		// re-check, a concurrent Set may have refreshed it
		if cur, ok := m.entries[key]; ok && !m.now().Before(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return clone(e.records), true
}

// Set stores a copy of records. A non-positive ttl is a no-op.
func (m *Memory) Set(_ context.Context, key string, records []domain.PropertyRecord, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.entries[key] = entry{records: clone(records), expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of entries, including expired ones not yet evicted.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Purge evicts every expired entry and returns how many were removed.
func (m *Memory) Purge() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

func clone(records []domain.PropertyRecord) []domain.PropertyRecord {
	if records == nil {
		return nil
	}
	out := make([]domain.PropertyRecord, len(records))
	copy(out, records)
	return out
}
