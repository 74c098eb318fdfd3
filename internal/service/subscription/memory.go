package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Susan56789/infinite-cargo-sub003/internal/service/plan"
)

// Memory is an in-memory Store with the same conditional-update semantics
// as the PostgreSQL implementation. Used by unit tests.
type Memory struct {
	mu          sync.RWMutex
	nextSubID   int64
	nextAdjID   int64
	subs        map[int64]*Subscription
	adjustments map[int64][]*Adjustment
	users       map[int64]*UserProjection
}

func NewMemory() *Memory {
	return &Memory{
		nextSubID:   1,
		nextAdjID:   1,
		subs:        make(map[int64]*Subscription),
		adjustments: make(map[int64][]*Adjustment),
		users:       make(map[int64]*UserProjection),
	}
}

func (m *Memory) CreatePending(ctx context.Context, sub *Subscription) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Same guarantee as the partial unique index on pending rows.
	for _, existing := range m.subs {
		if existing.UserID == sub.UserID && existing.Status == StatusPending {
			return nil, errors.Wrapf(ErrValidationFailed, "user %d already has a pending subscription request", sub.UserID)
		}
	}

	created := m.insert(sub)
	up := m.user(sub.UserID)
	up.PendingSubscriptionID = &created.ID

	return copySub(created), nil
}

func (m *Memory) EnsureActiveBasic(ctx context.Context, fallback *Subscription) (*Subscription, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.activeByUser(fallback.UserID); existing != nil {
		return copySub(existing), false, nil
	}

	created := m.insert(fallback)
	m.syncUser(created.UserID, created.PlanID, created.Status, created.ExpiresAt, false)

	return copySub(created), true, nil
}

func (m *Memory) Get(ctx context.Context, id int64) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}

	return copySub(sub), nil
}

func (m *Memory) GetActiveByUser(ctx context.Context, userID int64) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if sub := m.activeByUser(userID); sub != nil {
		return copySub(sub), nil
	}

	return nil, ErrNotFound
}

func (m *Memory) GetPendingByUser(ctx context.Context, userID int64) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Subscription
	for _, sub := range m.subs {
		if sub.UserID != userID || sub.Status != StatusPending {
			continue
		}
		if latest == nil || sub.ID > latest.ID {
			latest = sub
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}

	return copySub(latest), nil
}

func (m *Memory) ListByUser(ctx context.Context, userID int64) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var subs []*Subscription
	for _, sub := range m.subs {
		if sub.UserID == userID {
			subs = append(subs, copySub(sub))
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID > subs[j].ID })

	return subs, nil
}

func (m *Memory) Approve(ctx context.Context, mut ApproveMutation) (*Subscription, []int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, err := m.requireConditional(mut.SubscriptionID, StatusPending)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	activatedAt := mut.ActivatedAt
	expiresAt := mut.ExpiresAt
	sub.Status = StatusActive
	sub.PaymentStatus = PaymentCompleted
	sub.ActivatedAt = &activatedAt
	sub.ExpiresAt = &expiresAt
	sub.ApprovedBy = &mut.AdminID
	sub.ApprovedByName = mut.AdminName
	sub.ApprovedAt = &activatedAt
	if mut.Notes != "" {
		sub.AdminNotes = mut.Notes
	}
	sub.UpdatedAt = now

	var replaced []int64
	for _, other := range m.subs {
		if other.UserID == sub.UserID && other.ID != sub.ID &&
			other.Status == StatusActive && other.PlanID != plan.PlanBasic {
			other.Status = StatusReplaced
			other.UpdatedAt = now
			replaced = append(replaced, other.ID)
		}
	}
	sort.Slice(replaced, func(i, j int) bool { return replaced[i] < replaced[j] })

	m.syncUser(sub.UserID, sub.PlanID, sub.Status, sub.ExpiresAt, true)

	return copySub(sub), replaced, nil
}

func (m *Memory) Reject(ctx context.Context, mut RejectMutation) (*Subscription, *Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, err := m.requireConditional(mut.SubscriptionID, StatusPending)
	if err != nil {
		return nil, nil, err
	}

	sub.Status = StatusRejected
	sub.PaymentStatus = PaymentFailed
	sub.RejectionReason = mut.Reason
	sub.RejectionCategory = mut.Category
	sub.RefundRequired = mut.RefundRequired
	sub.ApprovedBy = &mut.AdminID
	sub.ApprovedByName = mut.AdminName
	if mut.Notes != "" {
		sub.AdminNotes = mut.Notes
	}
	sub.UpdatedAt = time.Now()

	up := m.user(sub.UserID)
	up.PendingSubscriptionID = nil

	var fallback *Subscription
	if m.activeByUser(sub.UserID) == nil {
		fallback = m.insert(mut.Fallback)
		m.syncUser(sub.UserID, fallback.PlanID, fallback.Status, fallback.ExpiresAt, false)
		fallback = copySub(fallback)
	}

	return copySub(sub), fallback, nil
}

func (m *Memory) Terminate(ctx context.Context, mut TerminateMutation) (*Subscription, *Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, err := m.requireConditional(mut.SubscriptionID, StatusActive)
	if err != nil {
		return nil, nil, err
	}

	sub.Status = mut.ToStatus
	if mut.Reason != "" {
		sub.AdminNotes = mut.Reason
	}
	sub.UpdatedAt = mut.At

	var fallback *Subscription
	if m.activeByUser(sub.UserID) == nil {
		fallback = m.insert(mut.Fallback)
		m.syncUser(sub.UserID, fallback.PlanID, fallback.Status, fallback.ExpiresAt, false)
		fallback = copySub(fallback)
	}

	return copySub(sub), fallback, nil
}

func (m *Memory) SetExpiry(ctx context.Context, mut SetExpiryMutation) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, err := m.requireConditional(mut.SubscriptionID, mut.ExpectStatus)
	if err != nil {
		return nil, err
	}

	expiresAt := mut.NewExpiresAt
	sub.Status = mut.NewStatus
	sub.ExpiresAt = &expiresAt
	sub.UpdatedAt = time.Now()

	adj := mut.Adjustment
	adj.ID = m.nextAdjID
	m.nextAdjID++
	adj.SubscriptionID = sub.ID
	m.adjustments[sub.ID] = append(m.adjustments[sub.ID], &adj)

	if mut.NewStatus == StatusActive {
		// Reactivation supersedes the basic fallback created at expiry.
		if mut.ExpectStatus != StatusActive {
			for _, other := range m.subs {
				if other.UserID == sub.UserID && other.ID != sub.ID && other.Status == StatusActive {
					other.Status = StatusReplaced
					other.UpdatedAt = sub.UpdatedAt
				}
			}
		}
		m.syncUser(sub.UserID, sub.PlanID, sub.Status, sub.ExpiresAt, false)
	}

	return copySub(sub), nil
}

func (m *Memory) Update(ctx context.Context, mut UpdateMutation) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[mut.SubscriptionID]
	if !ok {
		return nil, ErrNotFound
	}
	if sub.Status != mut.ExpectStatus {
		return nil, errors.Wrapf(ErrAlreadyProcessed, "subscription %d changed status during update", sub.ID)
	}

	if mut.AdminNotes != nil {
		sub.AdminNotes = *mut.AdminNotes
	}
	if mut.PaymentStatus != nil {
		sub.PaymentStatus = *mut.PaymentStatus
	}
	if mut.PaymentMethod != nil {
		sub.PaymentMethod = *mut.PaymentMethod
	}
	sub.UpdatedAt = time.Now()

	return copySub(sub), nil
}

func (m *Memory) ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var subs []*Subscription
	for _, sub := range m.subs {
		if sub.Status == StatusActive && sub.ExpiresAt != nil && sub.ExpiresAt.Before(asOf) {
			subs = append(subs, copySub(sub))
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ExpiresAt.Before(*subs[j].ExpiresAt) })
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}

	return subs, nil
}

func (m *Memory) ListExpiringOn(ctx context.Context, day time.Time) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var subs []*Subscription
	for _, sub := range m.subs {
		if sub.Status != StatusActive || sub.PlanID == plan.PlanBasic || sub.ExpiresAt == nil {
			continue
		}
		if !sub.ExpiresAt.Before(dayStart) && sub.ExpiresAt.Before(dayEnd) {
			subs = append(subs, copySub(sub))
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ExpiresAt.Before(*subs[j].ExpiresAt) })

	return subs, nil
}

func (m *Memory) UpdateUsage(ctx context.Context, id int64, loads int, resetAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	sub.Usage.LoadsThisMonth = loads
	sub.Usage.LastUsageReset = resetAt
	sub.UpdatedAt = time.Now()

	return nil
}

func (m *Memory) ListAdjustments(ctx context.Context, subscriptionID int64) ([]*Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	adjustments := make([]*Adjustment, 0, len(m.adjustments[subscriptionID]))
	for _, adj := range m.adjustments[subscriptionID] {
		copied := *adj
		adjustments = append(adjustments, &copied)
	}

	return adjustments, nil
}

func (m *Memory) MonthlyStats(ctx context.Context, from, to time.Time) ([]PlanStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byPlan := make(map[string]*PlanStats)
	for _, sub := range m.subs {
		if sub.RequestedAt.Before(from) || !sub.RequestedAt.Before(to) {
			continue
		}
		st, ok := byPlan[sub.PlanID]
		if !ok {
			st = &PlanStats{PlanID: sub.PlanID}
			byPlan[sub.PlanID] = st
		}
		st.Requested++
		if sub.ActivatedAt != nil {
			st.Approved++
		}
		if sub.PaymentStatus == PaymentCompleted {
			st.Revenue = st.Revenue.Add(sub.Price)
		}
	}

	stats := make([]PlanStats, 0, len(byPlan))
	for _, st := range byPlan {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].PlanID < stats[j].PlanID })

	return stats, nil
}

func (m *Memory) UserProjection(ctx context.Context, userID int64) (*UserProjection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	up, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *up

	return &copied, nil
}

// ===== helpers (callers hold the lock) =====

func (m *Memory) insert(sub *Subscription) *Subscription {
	copied := *sub
	copied.ID = m.nextSubID
	m.nextSubID++
	now := time.Now()
	copied.CreatedAt = now
	copied.UpdatedAt = now
	if copied.Usage.LastUsageReset.IsZero() {
		copied.Usage.LastUsageReset = copied.RequestedAt
	}
	m.subs[copied.ID] = &copied

	return &copied
}

func (m *Memory) activeByUser(userID int64) *Subscription {
	var latest *Subscription
	for _, sub := range m.subs {
		if sub.UserID != userID || sub.Status != StatusActive {
			continue
		}
		if latest == nil || sub.ID > latest.ID {
			latest = sub
		}
	}

	return latest
}

func (m *Memory) requireConditional(id int64, expect Status) (*Subscription, error) {
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sub.Status != expect {
		return nil, errors.Wrapf(ErrAlreadyProcessed, "subscription %d is now %q", id, sub.Status)
	}

	return sub, nil
}

func (m *Memory) user(userID int64) *UserProjection {
	up, ok := m.users[userID]
	if !ok {
		up = &UserProjection{UserID: userID}
		m.users[userID] = up
	}

	return up
}

func (m *Memory) syncUser(userID int64, planID string, status Status, expiresAt *time.Time, clearPending bool) {
	up := m.user(userID)
	up.CurrentPlanID = planID
	up.SubscriptionStatus = status
	if expiresAt != nil {
		copied := *expiresAt
		up.SubscriptionExpiresAt = &copied
	} else {
		up.SubscriptionExpiresAt = nil
	}
	if clearPending {
		up.PendingSubscriptionID = nil
	}
}

func copySub(sub *Subscription) *Subscription {
	copied := *sub
	if sub.ActivatedAt != nil {
		v := *sub.ActivatedAt
		copied.ActivatedAt = &v
	}
	if sub.ExpiresAt != nil {
		v := *sub.ExpiresAt
		copied.ExpiresAt = &v
	}
	if sub.ApprovedBy != nil {
		v := *sub.ApprovedBy
		copied.ApprovedBy = &v
	}
	if sub.ApprovedAt != nil {
		v := *sub.ApprovedAt
		copied.ApprovedAt = &v
	}

	return &copied
}
