package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Susan56789/infinite-cargo-sub003/internal/log"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/notification"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/plan"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/subscription"
)

var handlerNow = time.Date(2025, time.June, 10, 9, 15, 0, 0, time.UTC)

type fakeSubscriptions struct {
	expirePages []int
	expireCalls []int
	expiring    map[int][]*subscription.Subscription
	report      *subscription.MonthlyReport
	reportMonth time.Time
}

func (f *fakeSubscriptions) ExpireDue(ctx context.Context, limit int) (int, error) {
	f.expireCalls = append(f.expireCalls, limit)
	if len(f.expirePages) == 0 {
		return 0, nil
	}
	n := f.expirePages[0]
	f.expirePages = f.expirePages[1:]

	return n, nil
}

func (f *fakeSubscriptions) ListExpiringInDays(ctx context.Context, days int) ([]*subscription.Subscription, error) {
	return f.expiring[days], nil
}

func (f *fakeSubscriptions) Report(ctx context.Context, month time.Time) (*subscription.MonthlyReport, error) {
	f.reportMonth = month
	return f.report, nil
}

func newHandlerEnv(t *testing.T, subs *fakeSubscriptions) (*Handler, *notification.Memory) {
	t.Helper()

	logger := zerolog.Nop()
	store := notification.NewMemory()
	notes := notification.New(store, &logger)

	h := NewHandler(subs, notes, log.NewJobLogger(&logger), []int{14, 7, 3}, 90, 200)
	h.now = func() time.Time { return handlerNow }

	return h, store
}

func expiringSub(id, userID int64, expiresAt time.Time) *subscription.Subscription {
	return &subscription.Subscription{
		ID:        id,
		UserID:    userID,
		PlanID:    plan.PlanPro,
		PlanName:  "Pro",
		Status:    subscription.StatusActive,
		ExpiresAt: &expiresAt,
	}
}

func TestExpireSubscriptionsPagesUntilShortPage(t *testing.T) {
	subs := &fakeSubscriptions{expirePages: []int{200, 200, 37}}
	h, _ := newHandlerEnv(t, subs)

	require.NoError(t, h.ExpireSubscriptions(context.Background()))

	assert.Equal(t, []int{200, 200, 200}, subs.expireCalls)
}

func TestSendExpiryRemindersMatchesThresholds(t *testing.T) {
	subs := &fakeSubscriptions{expiring: map[int][]*subscription.Subscription{
		7: {expiringSub(5, 42, handlerNow.AddDate(0, 0, 7))},
		3: {expiringSub(6, 43, handlerNow.AddDate(0, 0, 3))},
	}}
	h, store := newHandlerEnv(t, subs)

	require.NoError(t, h.SendExpiryReminders(context.Background()))

	notes := store.All()
	require.Len(t, notes, 2)

	byDays := map[int]*notification.Notification{}
	for _, n := range notes {
		assert.Equal(t, notification.TypeSubscriptionExpiring, n.Type)
		byDays[n.Data["days_remaining"].(int)] = n
	}

	// Closer to expiry means louder.
	assert.Equal(t, notification.PriorityNormal, byDays[7].Priority)
	assert.Equal(t, notification.PriorityHigh, byDays[3].Priority)
}

func TestSendExpiryRemindersIdempotent(t *testing.T) {
	subs := &fakeSubscriptions{expiring: map[int][]*subscription.Subscription{
		7: {expiringSub(5, 42, handlerNow.AddDate(0, 0, 7))},
	}}
	h, store := newHandlerEnv(t, subs)
	ctx := context.Background()

	require.NoError(t, h.SendExpiryReminders(ctx))
	require.NoError(t, h.SendExpiryReminders(ctx))

	assert.Len(t, store.All(), 1)
}

func TestCleanupNotifications(t *testing.T) {
	h, store := newHandlerEnv(t, &fakeSubscriptions{})
	ctx := context.Background()
	userID := int64(42)

	old, err := store.Insert(ctx, &notification.Notification{
		UserID: &userID, UserType: notification.UserCargoOwner,
		Type: notification.TypeSubscriptionApproved, Title: "stale",
		CreatedAt: handlerNow.AddDate(0, 0, -120),
	})
	require.NoError(t, err)
	require.NoError(t, store.MarkRead(ctx, old.ID, handlerNow.AddDate(0, 0, -100)))

	require.NoError(t, h.CleanupNotifications(ctx))

	assert.Empty(t, store.All())
}

func TestMonthlyReportDeliversPriorMonth(t *testing.T) {
	subs := &fakeSubscriptions{report: &subscription.MonthlyReport{
		PeriodStart:    time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		TotalRequested: 12,
		TotalApproved:  9,
		TotalRevenue:   decimal.NewFromInt(22500),
		ByPlan: []subscription.PlanStats{
			{PlanID: plan.PlanPro, Requested: 12, Approved: 9, Revenue: decimal.NewFromInt(22500)},
		},
	}}
	h, store := newHandlerEnv(t, subs)

	require.NoError(t, h.MonthlyReport(context.Background()))

	assert.Equal(t, time.May, subs.reportMonth.Month())

	notes := store.All()
	require.Len(t, notes, 1)
	assert.Equal(t, notification.TypeMonthlyReport, notes[0].Type)
	assert.Equal(t, notification.UserAdmin, notes[0].UserType)
	assert.Nil(t, notes[0].UserID)
	assert.Equal(t, 12, notes[0].Data["total_requested"])
}

func TestMonthlyReportAtMonthEnd(t *testing.T) {
	subs := &fakeSubscriptions{report: &subscription.MonthlyReport{
		PeriodStart: time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
	}}
	h, _ := newHandlerEnv(t, subs)

	// March 31 has no February counterpart; the report must still cover
	// February, not normalize into March.
	h.now = func() time.Time { return time.Date(2025, time.March, 31, 2, 0, 0, 0, time.UTC) }

	require.NoError(t, h.MonthlyReport(context.Background()))

	assert.Equal(t, time.February, subs.reportMonth.Month())
	assert.Equal(t, 2025, subs.reportMonth.Year())
}
