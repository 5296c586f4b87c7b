// ABOUTME: In-memory CallStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory CallStore implementation for testing.
type MockStore struct {
	mu    sync.RWMutex
	calls map[string]*CallRecord // keyed by record ID
	order []string               // insertion order
}

var _ CallStore = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		calls: make(map[string]*CallRecord),
	}
}

// RecordCall stores a copy of rec.
func (m *MockStore) RecordCall(_ context.Context, rec *CallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.calls[rec.ID]; exists {
		return ErrDuplicateCall
	}
	c := *rec
	m.calls[c.ID] = &c
	m.order = append(m.order, c.ID)
	return nil
}

// GetCall retrieves a call record by ID.
func (m *MockStore) GetCall(_ context.Context, id string) (*CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rec
	return &c, nil
}

// ListCalls returns matching records newest first.
func (m *MockStore) ListCalls(_ context.Context, f CallFilter) ([]CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := []CallRecord{}
	for _, id := range m.order {
		rec := m.calls[id]
		if f.ResourceID != "" && rec.ResourceID != f.ResourceID {
			continue
		}
		records = append(records, *rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if limit := normalizeCallLimit(f.Limit); len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// CallStats returns per-resource totals ordered by resource ID.
func (m *MockStore) CallStats(_ context.Context) ([]CallStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byResource := make(map[string]*CallStats)
	for _, rec := range m.calls {
		st, ok := byResource[rec.ResourceID]
		if !ok {
			st = &CallStats{ResourceID: rec.ResourceID}
			byResource[rec.ResourceID] = st
		}
		st.Total++
		if !rec.Success {
			st.Failures++
		}
	}

	stats := make([]CallStats, 0, len(byResource))
	for _, st := range byResource {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].ResourceID < stats[j].ResourceID
	})
	return stats, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
