package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Susan56789/infinite-cargo-sub003/internal/bus"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/audit"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/notification"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/plan"
)

var testStart = time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	svc    *Service
	store  *Memory
	notes  *notification.Memory
	audits *audit.Memory

	mu     sync.Mutex
	events []bus.SubscriptionTransition
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zerolog.Nop()

	plans := plan.New(plan.NewMemory(
		&plan.Plan{
			ID: plan.PlanBasic, Name: "Basic", Price: decimal.Zero, Currency: "KES",
			BillingCycleDays: 30, Features: plan.Features{MaxLoads: 3}, IsActive: true, IsVisible: true,
		},
		&plan.Plan{
			ID: plan.PlanPro, Name: "Pro", Price: decimal.NewFromInt(2500), Currency: "KES",
			BillingCycleDays: 30, Features: plan.Features{MaxLoads: 25, PrioritySupport: true}, IsActive: true, IsVisible: true,
		},
		&plan.Plan{
			ID: plan.PlanBusiness, Name: "Business", Price: decimal.NewFromInt(7500), Currency: "KES",
			BillingCycleDays: 30, Features: plan.Features{MaxLoads: plan.UnlimitedLoads}, IsActive: true, IsVisible: true,
		},
	), &logger)

	env := &testEnv{
		store:  NewMemory(),
		notes:  notification.NewMemory(),
		audits: audit.NewMemory(),
	}

	events := bus.New()
	require.NoError(t, events.SubscribeSubscriptionTransition(func(ev bus.SubscriptionTransition) {
		env.mu.Lock()
		env.events = append(env.events, ev)
		env.mu.Unlock()
	}))

	env.svc = New(
		env.store, plans,
		notification.New(env.notes, &logger),
		audit.New(env.audits, &logger),
		events, &logger,
	)
	env.setNow(testStart)

	return env
}

func (e *testEnv) setNow(now time.Time) {
	e.svc.now = func() time.Time { return now }
}

func (e *testEnv) transitions() []bus.SubscriptionTransition {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]bus.SubscriptionTransition, len(e.events))
	copy(out, e.events)

	return out
}

func (e *testEnv) subscribePro(t *testing.T, userID int64) *Subscription {
	t.Helper()

	sub, err := e.svc.Subscribe(context.Background(), userID, plan.PlanPro, SubscribeRequest{
		PaymentMethod:  "mpesa",
		PaymentDetails: PaymentDetails{Reference: "QX12AB34", PayerPhone: "+254700000001"},
	})
	require.NoError(t, err)

	return sub
}

func (e *testEnv) approvedPro(t *testing.T, userID int64) *Subscription {
	t.Helper()

	pending := e.subscribePro(t, userID)
	approved, err := e.svc.Approve(context.Background(), pending.ID, Admin{ID: 1, Name: "admin"}, ApproveOptions{PaymentVerified: true})
	require.NoError(t, err)

	return approved
}

func TestSubscribePaidPlanCreatesPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub := env.subscribePro(t, 42)

	assert.Equal(t, StatusPending, sub.Status)
	assert.Equal(t, PaymentPending, sub.PaymentStatus)
	assert.Equal(t, plan.PlanPro, sub.PlanID)
	assert.Equal(t, 30, sub.DurationDays)
	assert.True(t, decimal.NewFromInt(2500).Equal(sub.Price))
	assert.Nil(t, sub.ExpiresAt)

	up, err := env.svc.UserProjection(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, up.PendingSubscriptionID)
	assert.Equal(t, sub.ID, *up.PendingSubscriptionID)

	notes := env.notes.All()
	require.Len(t, notes, 1)
	assert.Equal(t, notification.TypeSubscriptionRequested, notes[0].Type)
	assert.Equal(t, notification.UserAdmin, notes[0].UserType)
}

func TestSubscribeRejectsDuplicatePending(t *testing.T) {
	env := newTestEnv(t)

	env.subscribePro(t, 42)

	_, err := env.svc.Subscribe(context.Background(), 42, plan.PlanBusiness, SubscribeRequest{PaymentMethod: "mpesa"})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestCreatePendingEnforcesOnePerUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two racing Subscribe calls can both pass the service's duplicate
	// check; the store is the backstop.
	first := env.subscribePro(t, 42)

	_, err := env.store.CreatePending(ctx, &Subscription{
		UserID:      42,
		PlanID:      plan.PlanBusiness,
		PlanName:    "Business",
		Status:      StatusPending,
		RequestedAt: testStart,
	})
	assert.ErrorIs(t, err, ErrValidationFailed)

	pending, err := env.store.GetPendingByUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, first.ID, pending.ID)
}

func TestSubscribeUnknownPlan(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Subscribe(context.Background(), 42, "enterprise", SubscribeRequest{})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestSubscribeBasicActivatesImmediately(t *testing.T) {
	env := newTestEnv(t)

	sub, err := env.svc.Subscribe(context.Background(), 42, plan.PlanBasic, SubscribeRequest{})
	require.NoError(t, err)

	assert.Equal(t, StatusActive, sub.Status)
	assert.True(t, sub.Basic())
	assert.Nil(t, sub.ExpiresAt)
}

func TestApproveActivatesFromApprovalTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := env.subscribePro(t, 42)

	// The expiry clock starts at approval, not at request time.
	approvedAt := testStart.AddDate(0, 0, 2)
	env.setNow(approvedAt)

	approved, err := env.svc.Approve(ctx, pending.ID, Admin{ID: 1, Name: "admin"}, ApproveOptions{PaymentVerified: true})
	require.NoError(t, err)

	assert.Equal(t, StatusActive, approved.Status)
	assert.Equal(t, PaymentCompleted, approved.PaymentStatus)
	require.NotNil(t, approved.ExpiresAt)
	assert.Equal(t, approvedAt.AddDate(0, 0, 30), *approved.ExpiresAt)
	require.NotNil(t, approved.ActivatedAt)
	assert.Equal(t, approvedAt, *approved.ActivatedAt)

	up, err := env.svc.UserProjection(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanPro, up.CurrentPlanID)
	assert.Equal(t, StatusActive, up.SubscriptionStatus)
	assert.Nil(t, up.PendingSubscriptionID)

	records := env.audits.All()
	require.NotEmpty(t, records)
	assert.Equal(t, audit.ActionSubscriptionApproved, records[len(records)-1].Action)

	transitions := env.transitions()
	require.NotEmpty(t, transitions)
	last := transitions[len(transitions)-1]
	assert.Equal(t, string(StatusPending), last.From)
	assert.Equal(t, string(StatusActive), last.To)
}

func TestApproveRequiresVerifiedPayment(t *testing.T) {
	env := newTestEnv(t)

	pending := env.subscribePro(t, 42)

	_, err := env.svc.Approve(context.Background(), pending.ID, Admin{ID: 1, Name: "admin"}, ApproveOptions{})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestApproveCustomDuration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := env.subscribePro(t, 42)

	_, err := env.svc.Approve(ctx, pending.ID, Admin{ID: 1, Name: "admin"},
		ApproveOptions{PaymentVerified: true, CustomDurationDays: 731})
	assert.ErrorIs(t, err, ErrValidationFailed)

	approved, err := env.svc.Approve(ctx, pending.ID, Admin{ID: 1, Name: "admin"},
		ApproveOptions{PaymentVerified: true, CustomDurationDays: 90})
	require.NoError(t, err)
	assert.Equal(t, testStart.AddDate(0, 0, 90), *approved.ExpiresAt)
}

func TestApproveReplacesPreviousActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.approvedPro(t, 42)

	second := env.subscribePro(t, 42)
	approved, err := env.svc.Approve(ctx, second.ID, Admin{ID: 1, Name: "admin"}, ApproveOptions{PaymentVerified: true})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, approved.Status)

	replaced, err := env.svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReplaced, replaced.Status)

	active, err := env.svc.GetCurrentActive(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, approved.ID, active.ID)
}

func TestApproveNonPending(t *testing.T) {
	env := newTestEnv(t)

	approved := env.approvedPro(t, 42)

	_, err := env.svc.Approve(context.Background(), approved.ID, Admin{ID: 1, Name: "admin"}, ApproveOptions{PaymentVerified: true})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestRejectCreatesBasicFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := env.subscribePro(t, 42)

	rejected, err := env.svc.Reject(ctx, pending.ID, Admin{ID: 1, Name: "admin"}, RejectOptions{
		Category: RejectPaymentNotReceived,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, PaymentFailed, rejected.PaymentStatus)

	up, err := env.svc.UserProjection(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanBasic, up.CurrentPlanID)
	assert.Nil(t, up.PendingSubscriptionID)

	active, err := env.svc.GetCurrentActive(ctx, 42)
	require.NoError(t, err)
	assert.True(t, active.Basic())

	var userNote *notification.Notification
	for _, n := range env.notes.All() {
		if n.Type == notification.TypeSubscriptionRejected {
			userNote = n
		}
	}
	require.NotNil(t, userNote)
	assert.Equal(t, rejectionMessages[RejectPaymentNotReceived], userNote.Message)
}

func TestRejectTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := env.subscribePro(t, 42)

	_, err := env.svc.Reject(ctx, pending.ID, Admin{ID: 1, Name: "admin"}, RejectOptions{Category: RejectPaymentNotReceived})
	require.NoError(t, err)

	notesBefore := len(env.notes.All())

	_, err = env.svc.Reject(ctx, pending.ID, Admin{ID: 1, Name: "admin"}, RejectOptions{Category: RejectPaymentNotReceived})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	// The failed second attempt emits nothing.
	assert.Len(t, env.notes.All(), notesBefore)
}

func TestUpdateTerminalRefused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	approved := env.approvedPro(t, 42)
	_, err := env.svc.Cancel(ctx, approved.ID, Admin{ID: 1, Name: "admin"}, "done")
	require.NoError(t, err)

	notes := "too late"
	_, err = env.svc.Update(ctx, approved.ID, Admin{ID: 1, Name: "admin"}, UpdateRequest{AdminNotes: &notes})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestRejectValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := env.subscribePro(t, 42)

	_, err := env.svc.Reject(ctx, pending.ID, Admin{ID: 1, Name: "admin"}, RejectOptions{Category: "bogus"})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = env.svc.Reject(ctx, pending.ID, Admin{ID: 1, Name: "admin"}, RejectOptions{Category: RejectOther})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestCancelDowngradesToBasic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	approved := env.approvedPro(t, 42)

	cancelled, err := env.svc.Cancel(ctx, approved.ID, Admin{ID: 1, Name: "admin"}, "customer request")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	active, err := env.svc.GetCurrentActive(ctx, 42)
	require.NoError(t, err)
	assert.True(t, active.Basic())
}

func TestCancelBasicNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	basic, err := env.svc.GetCurrentActive(ctx, 42)
	require.NoError(t, err)

	_, err = env.svc.Cancel(ctx, basic.ID, Admin{ID: 1, Name: "admin"}, "")
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestExtendActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	approved := env.approvedPro(t, 42)
	originalExpiry := *approved.ExpiresAt

	extended, err := env.svc.Extend(ctx, approved.ID, Admin{ID: 1, Name: "admin"}, 15, "goodwill")
	require.NoError(t, err)
	assert.Equal(t, originalExpiry.AddDate(0, 0, 15), *extended.ExpiresAt)
	assert.Equal(t, StatusActive, extended.Status)

	adjustments, err := env.svc.ListAdjustments(ctx, approved.ID)
	require.NoError(t, err)
	require.Len(t, adjustments, 1)
	assert.Equal(t, AdjustmentExtend, adjustments[0].Kind)
	assert.Equal(t, 15, adjustments[0].DeltaDays)
}

func TestExtendReactivatesExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	approved := env.approvedPro(t, 42)

	// Let the sweep expire it.
	afterExpiry := testStart.AddDate(0, 0, 45)
	env.setNow(afterExpiry)
	n, err := env.svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Extension is the only path back from expired: the new expiry counts
	// from now, not from the lapsed date.
	extended, err := env.svc.Extend(ctx, approved.ID, Admin{ID: 1, Name: "admin"}, 10, "late payment resolved")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, extended.Status)
	assert.Equal(t, afterExpiry.AddDate(0, 0, 10), *extended.ExpiresAt)

	active, err := env.svc.GetCurrentActive(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, approved.ID, active.ID)
}

func TestExtendValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	approved := env.approvedPro(t, 42)

	_, err := env.svc.Extend(ctx, approved.ID, Admin{ID: 1, Name: "admin"}, 0, "")
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = env.svc.Extend(ctx, approved.ID, Admin{ID: 1, Name: "admin"}, 366, "")
	assert.ErrorIs(t, err, ErrValidationFailed)

	basic, err := env.svc.GetCurrentActive(ctx, 7)
	require.NoError(t, err)
	_, err = env.svc.Extend(ctx, basic.ID, Admin{ID: 1, Name: "admin"}, 10, "")
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestAdjustDuration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	approved := env.approvedPro(t, 42)
	originalExpiry := *approved.ExpiresAt

	shortened, err := env.svc.AdjustDuration(ctx, approved.ID, Admin{ID: 1, Name: "admin"}, -10, "billing correction")
	require.NoError(t, err)
	assert.Equal(t, originalExpiry.AddDate(0, 0, -10), *shortened.ExpiresAt)
	assert.Equal(t, StatusActive, shortened.Status)

	adjustments, err := env.svc.ListAdjustments(ctx, approved.ID)
	require.NoError(t, err)
	require.Len(t, adjustments, 1)
	assert.Equal(t, AdjustmentAdjust, adjustments[0].Kind)
	assert.Equal(t, -10, adjustments[0].DeltaDays)

	_, err = env.svc.AdjustDuration(ctx, approved.ID, Admin{ID: 1, Name: "admin"}, 0, "")
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = env.svc.AdjustDuration(ctx, approved.ID, Admin{ID: 1, Name: "admin"}, -400, "")
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestUpdateBookkeepingFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending := env.subscribePro(t, 42)

	notes := "verified by phone"
	status := PaymentCompleted
	updated, err := env.svc.Update(ctx, pending.ID, Admin{ID: 1, Name: "admin"}, UpdateRequest{
		AdminNotes:    &notes,
		PaymentStatus: &status,
	})
	require.NoError(t, err)
	assert.Equal(t, notes, updated.AdminNotes)
	assert.Equal(t, PaymentCompleted, updated.PaymentStatus)
	assert.Equal(t, StatusPending, updated.Status)

	bad := PaymentStatus("refunded")
	_, err = env.svc.Update(ctx, pending.ID, Admin{ID: 1, Name: "admin"}, UpdateRequest{PaymentStatus: &bad})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestExpireDueSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.approvedPro(t, 42)
	second := env.approvedPro(t, 43)

	env.setNow(testStart.AddDate(0, 0, 31))

	n, err := env.svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []int64{first.ID, second.ID} {
		sub, err := env.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, sub.Status)
	}

	for _, userID := range []int64{42, 43} {
		active, err := env.svc.GetCurrentActive(ctx, userID)
		require.NoError(t, err)
		assert.True(t, active.Basic())
	}

	// Nothing left to expire: the sweep is idempotent.
	n, err = env.svc.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	expiredNotes := 0
	for _, note := range env.notes.All() {
		if note.Type == notification.TypeSubscriptionExpired {
			expiredNotes++
			assert.Equal(t, notification.PriorityHigh, note.Priority)
		}
	}
	assert.Equal(t, 2, expiredNotes)
}

func TestGetCurrentActiveCreatesBasicLazily(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.svc.GetCurrentActive(ctx, 42)
	require.NoError(t, err)
	assert.True(t, sub.Basic())
	assert.Equal(t, StatusActive, sub.Status)

	// A second read returns the same subscription, not another insert.
	again, err := env.svc.GetCurrentActive(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)
}

func TestGetCurrentActiveResetsStaleUsage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	approved := env.approvedPro(t, 42)
	require.NoError(t, env.store.UpdateUsage(ctx, approved.ID, 7, testStart.AddDate(0, -1, 0)))

	sub, err := env.svc.GetCurrentActive(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, sub.Usage.LoadsThisMonth)
	assert.Equal(t, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), sub.Usage.LastUsageReset)

	// The reset is persisted, not just an in-memory view.
	stored, err := env.svc.Get(ctx, approved.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.Usage.LoadsThisMonth)
}

func TestMonthlyReportAggregates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.approvedPro(t, 42)
	env.subscribePro(t, 43) // requested but never approved

	report, err := env.svc.Report(ctx, testStart)
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalRequested)
	assert.Equal(t, 1, report.TotalApproved)
	assert.True(t, decimal.NewFromInt(2500).Equal(report.TotalRevenue))
	require.Len(t, report.ByPlan, 1)
	assert.Equal(t, plan.PlanPro, report.ByPlan[0].PlanID)
}
