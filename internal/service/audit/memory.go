package audit

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Store used by unit tests.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	items  []*Record
}

func NewMemory() *Memory {
	return &Memory{nextID: 1}
}

func (m *Memory) Insert(ctx context.Context, r *Record) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *r
	copied.ID = m.nextID
	m.nextID++
	m.items = append(m.items, &copied)

	result := copied
	return &result, nil
}

func (m *Memory) ListRecent(ctx context.Context, targetType string, targetID int64, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []*Record
	for _, r := range m.items {
		if r.TargetType == targetType && r.TargetID == targetID {
			copied := *r
			records = append(records, &copied)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID > records[j].ID })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// All returns every stored record in insertion order. Test helper.
func (m *Memory) All() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*Record, 0, len(m.items))
	for _, r := range m.items {
		copied := *r
		records = append(records, &copied)
	}

	return records
}
