package plan

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory plan catalog. It backs unit tests and mirrors the
// PGStore semantics exactly.
type Memory struct {
	mu    sync.RWMutex
	plans map[string]*Plan
}

func NewMemory(plans ...*Plan) *Memory {
	m := &Memory{plans: make(map[string]*Plan, len(plans))}
	for _, p := range plans {
		cp := *p
		m.plans[p.ID] = &cp
	}

	return m
}

func (m *Memory) Get(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	if !ok || !p.IsActive {
		return nil, ErrNotFound
	}

	cp := *p
	return &cp, nil
}

func (m *Memory) GetAny(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *p
	return &cp, nil
}

func (m *Memory) ListVisible(_ context.Context) ([]*Plan, error) {
	return m.list(func(p *Plan) bool { return p.IsActive && p.IsVisible }), nil
}

func (m *Memory) ListAll(_ context.Context) ([]*Plan, error) {
	return m.list(func(*Plan) bool { return true }), nil
}

func (m *Memory) Create(_ context.Context, p *Plan) (*Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cp := *p
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.plans[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (m *Memory) Update(_ context.Context, p *Plan) (*Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.plans[p.ID]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *p
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	m.plans[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (m *Memory) list(keep func(*Plan) bool) []*Plan {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var plans []*Plan
	for _, p := range m.plans {
		if keep(p) {
			cp := *p
			plans = append(plans, &cp)
		}
	}

	sort.Slice(plans, func(i, j int) bool {
		if plans[i].DisplayOrder != plans[j].DisplayOrder {
			return plans[i].DisplayOrder < plans[j].DisplayOrder
		}
		return plans[i].Price.LessThan(plans[j].Price)
	})

	return plans
}
