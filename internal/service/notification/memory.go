package notification

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store used by unit tests.
type Memory struct {
	mu     sync.RWMutex
	nextID int64
	items  map[int64]*Notification
}

func NewMemory() *Memory {
	return &Memory{nextID: 1, items: make(map[int64]*Notification)}
}

func (m *Memory) Insert(ctx context.Context, n *Notification) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *n
	copied.ID = m.nextID
	m.nextID++
	m.items[copied.ID] = &copied

	result := copied
	return &result, nil
}

func (m *Memory) HasRecentReminder(ctx context.Context, subscriptionID int64, daysRemaining int, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, n := range m.items {
		if n.Type != TypeSubscriptionExpiring || n.CreatedAt.Before(since) {
			continue
		}
		if dataInt64(n.Data, "subscription_id") == subscriptionID &&
			dataInt64(n.Data, "days_remaining") == int64(daysRemaining) {
			return true, nil
		}
	}

	return false, nil
}

func (m *Memory) DeleteReadOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, n := range m.items {
		if n.Read && n.CreatedAt.Before(cutoff) {
			delete(m.items, id)
			deleted++
		}
	}

	return deleted, nil
}

func (m *Memory) MarkRead(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.items[id]
	if !ok || n.Read {
		return ErrNotFound
	}
	n.Read = true
	readAt := at
	n.ReadAt = &readAt

	return nil
}

func (m *Memory) ListByUser(ctx context.Context, userID int64, limit int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var notifications []*Notification
	for _, n := range m.items {
		if n.UserID != nil && *n.UserID == userID {
			copied := *n
			notifications = append(notifications, &copied)
		}
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	if limit > 0 && len(notifications) > limit {
		notifications = notifications[:limit]
	}

	return notifications, nil
}

// All returns every stored notification, newest first. Test helper.
func (m *Memory) All() []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()

	notifications := make([]*Notification, 0, len(m.items))
	for _, n := range m.items {
		copied := *n
		notifications = append(notifications, &copied)
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].ID > notifications[j].ID
	})

	return notifications
}

func dataInt64(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return -1
	}
}
