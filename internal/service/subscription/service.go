package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	uatomic "go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/Susan56789/infinite-cargo-sub003/internal/bus"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/audit"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/notification"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/plan"
)

const (
	// Custom approval durations are bounded to catch admin typos.
	minCustomDurationDays = 1
	maxCustomDurationDays = 730

	// Extensions and duration adjustments are capped per operation.
	maxAdjustmentDays = 365

	// Concurrent terminations per expire-sweep page.
	sweepConcurrency = 4
)

// PlanCatalog resolves plan ids against the catalog. Satisfied by
// *plan.Service.
type PlanCatalog interface {
	GetPlan(ctx context.Context, id string) (*plan.Plan, error)
}

// Notifier emits in-app notifications. Satisfied by *notification.Service.
type Notifier interface {
	Emit(ctx context.Context, msg notification.Message) (*notification.Notification, error)
}

// Auditor appends to the audit trail. Satisfied by *audit.Service.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Service owns the subscription lifecycle: requests, the admin approval
// workflow, duration changes and the expiry sweep. All multi-entity
// mutations go through the Store in a single transaction; notifications,
// audit records and bus events run after commit and never fail the
// operation.
type Service struct {
	store       Store
	plans       PlanCatalog
	notifier    Notifier
	auditor     Auditor
	transitions *bus.Bus
	logger      zerolog.Logger
	now         func() time.Time
}

func New(store Store, plans PlanCatalog, notifier Notifier, auditor Auditor, transitions *bus.Bus, logger *zerolog.Logger) *Service {
	return &Service{
		store:       store,
		plans:       plans,
		notifier:    notifier,
		auditor:     auditor,
		transitions: transitions,
		logger:      logger.With().Str("channel", "subscription-service").Logger(),
		now:         time.Now,
	}
}

// SubscribeRequest carries the user-supplied part of a subscription request.
type SubscribeRequest struct {
	PaymentMethod  string
	PaymentDetails PaymentDetails
}

// Subscribe creates a pending request for a paid plan, or activates the
// free basic plan immediately. A user can hold at most one pending request
// at a time.
func (s *Service) Subscribe(ctx context.Context, userID int64, planID string, req SubscribeRequest) (*Subscription, error) {
	p, err := s.plans.GetPlan(ctx, planID)
	if errors.Is(err, plan.ErrNotFound) {
		return nil, errors.Wrapf(ErrValidationFailed, "unknown plan %q", planID)
	}
	if err != nil {
		return nil, err
	}

	if p.Free() {
		sub, _, err := s.ensureBasic(ctx, userID)
		return sub, err
	}

	if _, err := s.store.GetPendingByUser(ctx, userID); err == nil {
		return nil, errors.Wrap(ErrValidationFailed, "a subscription request is already pending for this user")
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now()
	created, err := s.store.CreatePending(ctx, &Subscription{
		UUID:             uuid.New(),
		UserID:           userID,
		PlanID:           p.ID,
		PlanName:         p.Name,
		Price:            p.Price,
		Currency:         p.Currency,
		BillingCycleDays: p.BillingCycleDays,
		DurationDays:     p.BillingCycleDays,
		Features:         p.Features,
		Status:           StatusPending,
		PaymentMethod:    req.PaymentMethod,
		PaymentStatus:    PaymentPending,
		PaymentDetails:   req.PaymentDetails,
		RequestedAt:      now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("subscription_id", created.ID).
		Int64("user_id", userID).
		Str("plan_id", p.ID).
		Msg("subscription requested")

	runSideEffects(ctx, s.logger, created.ID, []sideEffect{
		{name: "notify-admins", run: func(ctx context.Context) error {
			_, err := s.notifier.Emit(ctx, notification.Message{
				UserType: notification.UserAdmin,
				Type:     notification.TypeSubscriptionRequested,
				Title:    "New subscription request",
				Message:  "A " + p.Name + " subscription request is waiting for review.",
				Data:     s.subscriptionData(created),
			})
			return err
		}},
		{name: "audit", run: func(ctx context.Context) error {
			return s.auditor.Record(ctx, audit.Entry{
				Action:   audit.ActionSubscriptionRequested,
				ActorID:  userID,
				TargetID: created.ID,
				Details:  map[string]interface{}{"plan_id": p.ID},
			})
		}},
	})

	return created, nil
}

// GetCurrentActive resolves the user's active subscription. A user without
// one gets the basic fallback created lazily, so the result never reports
// "no subscription". The embedded usage counter is reset in place when the
// stored window belongs to an earlier month.
func (s *Service) GetCurrentActive(ctx context.Context, userID int64) (*Subscription, error) {
	sub, err := s.store.GetActiveByUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		sub, _, err = s.ensureBasic(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if shouldReset, windowStart := ResolveUsageWindow(now, sub.Usage.LastUsageReset); shouldReset {
		// Best effort: a failed write means the next read retries the reset.
		if err := s.store.UpdateUsage(ctx, sub.ID, 0, windowStart); err != nil {
			s.logger.Warn().
				Err(err).
				Int64("subscription_id", sub.ID).
				Msg("unable to persist usage window reset")
		}
		sub.Usage.LoadsThisMonth = 0
		sub.Usage.LastUsageReset = windowStart
	}

	return sub, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Subscription, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID int64) ([]*Subscription, error) {
	return s.store.ListByUser(ctx, userID)
}

// ApproveOptions tunes an approval.
type ApproveOptions struct {
	// PaymentVerified asserts the admin confirmed the payment out of band.
	PaymentVerified bool
	Notes           string
	// CustomDurationDays overrides the plan billing cycle when non-zero.
	CustomDurationDays int
}

// Approve activates a pending subscription. The expiry clock starts at
// approval time, not request time. Any other active paid subscription of
// the user is demoted to replaced in the same transaction.
func (s *Service) Approve(ctx context.Context, id int64, admin Admin, opts ApproveOptions) (*Subscription, error) {
	if !opts.PaymentVerified {
		return nil, errors.Wrap(ErrValidationFailed, "payment must be verified before approval")
	}

	duration := 0
	if opts.CustomDurationDays != 0 {
		if opts.CustomDurationDays < minCustomDurationDays || opts.CustomDurationDays > maxCustomDurationDays {
			return nil, errors.Wrapf(ErrValidationFailed,
				"custom duration must be between %d and %d days", minCustomDurationDays, maxCustomDurationDays)
		}
		duration = opts.CustomDurationDays
	}

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(sub, StatusPending, "approve"); err != nil {
		return nil, err
	}
	if duration == 0 {
		duration = sub.DurationDays
	}

	now := s.now()
	approved, replaced, err := s.store.Approve(ctx, ApproveMutation{
		SubscriptionID: id,
		AdminID:        admin.ID,
		AdminName:      admin.Name,
		ActivatedAt:    now,
		ExpiresAt:      now.AddDate(0, 0, duration),
		Notes:          opts.Notes,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("subscription_id", approved.ID).
		Int64("user_id", approved.UserID).
		Str("plan_id", approved.PlanID).
		Int("duration_days", duration).
		Ints64("replaced", replaced).
		Msg("subscription approved")

	effects := []sideEffect{
		{name: "notify-user", run: func(ctx context.Context) error {
			_, err := s.notifier.Emit(ctx, notification.Message{
				UserID:  &approved.UserID,
				Type:    notification.TypeSubscriptionApproved,
				Title:   "Subscription activated",
				Message: "Your " + approved.PlanName + " subscription is now active until " + formatDay(*approved.ExpiresAt) + ".",
				Data:    s.subscriptionData(approved),
			})
			return err
		}},
		{name: "audit", run: func(ctx context.Context) error {
			return s.auditor.Record(ctx, audit.Entry{
				Action:    audit.ActionSubscriptionApproved,
				ActorID:   admin.ID,
				ActorName: admin.Name,
				TargetID:  approved.ID,
				Details: map[string]interface{}{
					"plan_id":       approved.PlanID,
					"duration_days": duration,
					"replaced_ids":  replaced,
				},
			})
		}},
		{name: "publish-transition", run: func(ctx context.Context) error {
			s.publishTransition(approved, StatusPending, StatusActive, now)
			for _, replacedID := range replaced {
				s.transitions.PublishSubscriptionTransition(bus.SubscriptionTransition{
					SubscriptionID: replacedID,
					UserID:         approved.UserID,
					From:           string(StatusActive),
					To:             string(StatusReplaced),
					At:             now,
				})
			}
			return nil
		}},
	}
	runSideEffects(ctx, s.logger, approved.ID, effects)

	return approved, nil
}

// RejectOptions describes why a pending request is declined.
type RejectOptions struct {
	Category       RejectionCategory
	Reason         string
	Notes          string
	RefundRequired bool
}

// Reject declines a pending subscription. The user keeps (or lazily gets)
// the basic fallback, so rejection never strands an account without a
// subscription.
func (s *Service) Reject(ctx context.Context, id int64, admin Admin, opts RejectOptions) (*Subscription, error) {
	if !ValidCategory(opts.Category) {
		return nil, errors.Wrapf(ErrValidationFailed, "unknown rejection category %q", opts.Category)
	}
	if opts.Category == RejectOther && opts.Reason == "" {
		return nil, errors.Wrap(ErrValidationFailed, "a reason is required for the 'other' category")
	}

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(sub, StatusPending, "reject"); err != nil {
		return nil, err
	}

	fallback, err := s.basicFallback(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rejected, created, err := s.store.Reject(ctx, RejectMutation{
		SubscriptionID: id,
		AdminID:        admin.ID,
		AdminName:      admin.Name,
		Reason:         opts.Reason,
		Category:       opts.Category,
		Notes:          opts.Notes,
		RefundRequired: opts.RefundRequired,
		Fallback:       fallback,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("subscription_id", rejected.ID).
		Int64("user_id", rejected.UserID).
		Str("category", string(opts.Category)).
		Bool("fallback_created", created != nil).
		Msg("subscription rejected")

	runSideEffects(ctx, s.logger, rejected.ID, []sideEffect{
		{name: "notify-user", run: func(ctx context.Context) error {
			_, err := s.notifier.Emit(ctx, notification.Message{
				UserID:  &rejected.UserID,
				Type:    notification.TypeSubscriptionRejected,
				Title:   "Subscription request declined",
				Message: RejectionMessage(opts.Category, opts.Reason),
				Data:    s.subscriptionData(rejected),
			})
			return err
		}},
		{name: "audit", run: func(ctx context.Context) error {
			return s.auditor.Record(ctx, audit.Entry{
				Action:    audit.ActionSubscriptionRejected,
				ActorID:   admin.ID,
				ActorName: admin.Name,
				TargetID:  rejected.ID,
				Details: map[string]interface{}{
					"category":        string(opts.Category),
					"reason":          opts.Reason,
					"refund_required": opts.RefundRequired,
				},
			})
		}},
		{name: "publish-transition", run: func(ctx context.Context) error {
			s.publishTransition(rejected, StatusPending, StatusRejected, now)
			return nil
		}},
	})

	return rejected, nil
}

// Cancel ends an active paid subscription immediately and downgrades the
// user to basic. The basic subscription itself cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id int64, admin Admin, reason string) (*Subscription, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(sub, StatusActive, "cancel"); err != nil {
		return nil, err
	}
	if sub.Basic() {
		return nil, errors.Wrap(ErrValidationFailed, "the basic plan cannot be cancelled")
	}

	fallback, err := s.basicFallback(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cancelled, created, err := s.store.Terminate(ctx, TerminateMutation{
		SubscriptionID: id,
		ToStatus:       StatusCancelled,
		Reason:         reason,
		At:             now,
		Fallback:       fallback,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("subscription_id", cancelled.ID).
		Int64("user_id", cancelled.UserID).
		Bool("fallback_created", created != nil).
		Msg("subscription cancelled")

	runSideEffects(ctx, s.logger, cancelled.ID, []sideEffect{
		{name: "notify-user", run: func(ctx context.Context) error {
			_, err := s.notifier.Emit(ctx, notification.Message{
				UserID:  &cancelled.UserID,
				Type:    notification.TypeSubscriptionCancelled,
				Title:   "Subscription cancelled",
				Message: "Your " + cancelled.PlanName + " subscription was cancelled. You are now on the Basic plan.",
				Data:    s.subscriptionData(cancelled),
			})
			return err
		}},
		{name: "audit", run: func(ctx context.Context) error {
			return s.auditor.Record(ctx, audit.Entry{
				Action:    audit.ActionSubscriptionCancelled,
				ActorID:   admin.ID,
				ActorName: admin.Name,
				TargetID:  cancelled.ID,
				Details:   map[string]interface{}{"reason": reason},
			})
		}},
		{name: "publish-transition", run: func(ctx context.Context) error {
			s.publishTransition(cancelled, StatusActive, StatusCancelled, now)
			return nil
		}},
	})

	return cancelled, nil
}

// Extend pushes the expiry of an active subscription forward by days, or
// reactivates an expired one with a fresh expiry counted from now. This is
// the only path back from the expired state.
func (s *Service) Extend(ctx context.Context, id int64, admin Admin, days int, reason string) (*Subscription, error) {
	if days <= 0 || days > maxAdjustmentDays {
		return nil, errors.Wrapf(ErrValidationFailed, "extension must be between 1 and %d days", maxAdjustmentDays)
	}

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Basic() {
		return nil, errors.Wrap(ErrValidationFailed, "the basic plan has no expiry to extend")
	}

	now := s.now()
	var (
		newStatus Status
		newExpiry time.Time
	)
	switch sub.Status {
	case StatusActive:
		if sub.ExpiresAt == nil {
			return nil, errors.Wrap(ErrValidationFailed, "subscription has no expiry to extend")
		}
		newStatus = StatusActive
		newExpiry = sub.ExpiresAt.AddDate(0, 0, days)
	case StatusExpired:
		newStatus = StatusActive
		newExpiry = now.AddDate(0, 0, days)
	default:
		return nil, errors.Wrapf(ErrInvalidStateTransition, "cannot extend subscription %d in status %q", id, sub.Status)
	}

	extended, err := s.store.SetExpiry(ctx, SetExpiryMutation{
		SubscriptionID: id,
		ExpectStatus:   sub.Status,
		NewStatus:      newStatus,
		NewExpiresAt:   newExpiry,
		Adjustment: Adjustment{
			AdminID:      admin.ID,
			AdminName:    admin.Name,
			Kind:         AdjustmentExtend,
			DeltaDays:    days,
			OldExpiresAt: sub.ExpiresAt,
			NewExpiresAt: newExpiry,
			Reason:       reason,
			CreatedAt:    now,
		},
	})
	if err != nil {
		return nil, err
	}

	reactivated := sub.Status == StatusExpired
	s.logger.Info().
		Int64("subscription_id", extended.ID).
		Int("days", days).
		Bool("reactivated", reactivated).
		Time("expires_at", newExpiry).
		Msg("subscription extended")

	runSideEffects(ctx, s.logger, extended.ID, []sideEffect{
		{name: "notify-user", run: func(ctx context.Context) error {
			_, err := s.notifier.Emit(ctx, notification.Message{
				UserID:  &extended.UserID,
				Type:    notification.TypeSubscriptionExtended,
				Title:   "Subscription extended",
				Message: "Your " + extended.PlanName + " subscription now runs until " + formatDay(newExpiry) + ".",
				Data:    s.subscriptionData(extended),
			})
			return err
		}},
		{name: "audit", run: func(ctx context.Context) error {
			return s.auditor.Record(ctx, audit.Entry{
				Action:    audit.ActionSubscriptionExtended,
				ActorID:   admin.ID,
				ActorName: admin.Name,
				TargetID:  extended.ID,
				Details: map[string]interface{}{
					"days":        days,
					"reason":      reason,
					"reactivated": reactivated,
					"expires_at":  newExpiry,
				},
			})
		}},
		{name: "publish-transition", run: func(ctx context.Context) error {
			if reactivated {
				s.publishTransition(extended, StatusExpired, StatusActive, now)
			}
			return nil
		}},
	})

	return extended, nil
}

// AdjustDuration moves the expiry of an active paid subscription by a
// signed number of days. Shortening below now is allowed; the next expiry
// sweep picks the subscription up.
func (s *Service) AdjustDuration(ctx context.Context, id int64, admin Admin, deltaDays int, reason string) (*Subscription, error) {
	if deltaDays == 0 {
		return nil, errors.Wrap(ErrValidationFailed, "adjustment delta must be non-zero")
	}
	if deltaDays < -maxAdjustmentDays || deltaDays > maxAdjustmentDays {
		return nil, errors.Wrapf(ErrValidationFailed, "adjustment delta must be within %d days", maxAdjustmentDays)
	}

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(sub, StatusActive, "adjust"); err != nil {
		return nil, err
	}
	if sub.Basic() || sub.ExpiresAt == nil {
		return nil, errors.Wrap(ErrValidationFailed, "the basic plan has no duration to adjust")
	}

	now := s.now()
	newExpiry := sub.ExpiresAt.AddDate(0, 0, deltaDays)

	adjusted, err := s.store.SetExpiry(ctx, SetExpiryMutation{
		SubscriptionID: id,
		ExpectStatus:   StatusActive,
		NewStatus:      StatusActive,
		NewExpiresAt:   newExpiry,
		Adjustment: Adjustment{
			AdminID:      admin.ID,
			AdminName:    admin.Name,
			Kind:         AdjustmentAdjust,
			DeltaDays:    deltaDays,
			OldExpiresAt: sub.ExpiresAt,
			NewExpiresAt: newExpiry,
			Reason:       reason,
			CreatedAt:    now,
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("subscription_id", adjusted.ID).
		Int("delta_days", deltaDays).
		Time("expires_at", newExpiry).
		Msg("subscription duration adjusted")

	runSideEffects(ctx, s.logger, adjusted.ID, []sideEffect{
		{name: "notify-user", run: func(ctx context.Context) error {
			_, err := s.notifier.Emit(ctx, notification.Message{
				UserID:  &adjusted.UserID,
				Type:    notification.TypeSubscriptionAdjusted,
				Title:   "Subscription duration changed",
				Message: "Your " + adjusted.PlanName + " subscription now runs until " + formatDay(newExpiry) + ".",
				Data:    s.subscriptionData(adjusted),
			})
			return err
		}},
		{name: "audit", run: func(ctx context.Context) error {
			return s.auditor.Record(ctx, audit.Entry{
				Action:    audit.ActionSubscriptionAdjusted,
				ActorID:   admin.ID,
				ActorName: admin.Name,
				TargetID:  adjusted.ID,
				Details: map[string]interface{}{
					"delta_days": deltaDays,
					"reason":     reason,
					"expires_at": newExpiry,
				},
			})
		}},
	})

	return adjusted, nil
}

// UpdateRequest edits admin-adjustable fields. Nil fields are left as is.
type UpdateRequest struct {
	AdminNotes    *string
	PaymentStatus *PaymentStatus
	PaymentMethod *string
}

// Update edits bookkeeping fields without changing the lifecycle status.
func (s *Service) Update(ctx context.Context, id int64, admin Admin, req UpdateRequest) (*Subscription, error) {
	if req.PaymentStatus != nil {
		switch *req.PaymentStatus {
		case PaymentPending, PaymentCompleted, PaymentFailed:
		default:
			return nil, errors.Wrapf(ErrValidationFailed, "unknown payment status %q", *req.PaymentStatus)
		}
	}

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status.Terminal() {
		return nil, errors.Wrapf(ErrInvalidStateTransition, "cannot update subscription %d in terminal status %q", id, sub.Status)
	}

	updated, err := s.store.Update(ctx, UpdateMutation{
		SubscriptionID: id,
		ExpectStatus:   sub.Status,
		AdminNotes:     req.AdminNotes,
		PaymentStatus:  req.PaymentStatus,
		PaymentMethod:  req.PaymentMethod,
	})
	if err != nil {
		return nil, err
	}

	runSideEffects(ctx, s.logger, updated.ID, []sideEffect{
		{name: "audit", run: func(ctx context.Context) error {
			details := map[string]interface{}{}
			if req.AdminNotes != nil {
				details["admin_notes"] = *req.AdminNotes
			}
			if req.PaymentStatus != nil {
				details["payment_status"] = string(*req.PaymentStatus)
			}
			if req.PaymentMethod != nil {
				details["payment_method"] = *req.PaymentMethod
			}
			return s.auditor.Record(ctx, audit.Entry{
				Action:    audit.ActionSubscriptionUpdated,
				ActorID:   admin.ID,
				ActorName: admin.Name,
				TargetID:  updated.ID,
				Details:   details,
			})
		}},
	})

	return updated, nil
}

// ExpireDue terminates up to limit active subscriptions whose expiry has
// passed and downgrades each user to basic. Subscriptions already picked up
// by a concurrent sweep are skipped, so overlapping runs are safe. Returns
// the number expired.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	now := s.now()
	due, err := s.store.ListExpiredActive(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	var expired uatomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)

	for _, sub := range due {
		sub := sub
		g.Go(func() error {
			fallback, err := s.basicFallback(gctx, sub.UserID)
			if err != nil {
				return err
			}

			terminated, _, err := s.store.Terminate(gctx, TerminateMutation{
				SubscriptionID: sub.ID,
				ToStatus:       StatusExpired,
				At:             now,
				Fallback:       fallback,
			})
			if errors.Is(err, ErrAlreadyProcessed) || errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			expired.Inc()

			runSideEffects(gctx, s.logger, terminated.ID, []sideEffect{
				{name: "notify-user", run: func(ctx context.Context) error {
					_, err := s.notifier.Emit(ctx, notification.Message{
						UserID:   &terminated.UserID,
						Type:     notification.TypeSubscriptionExpired,
						Title:    "Subscription expired",
						Message:  "Your " + terminated.PlanName + " subscription has expired. You are now on the Basic plan.",
						Data:     s.subscriptionData(terminated),
						Priority: notification.PriorityHigh,
					})
					return err
				}},
				{name: "audit", run: func(ctx context.Context) error {
					return s.auditor.Record(ctx, audit.Entry{
						Action:    audit.ActionSubscriptionExpired,
						ActorName: "system",
						TargetID:  terminated.ID,
						Details:   map[string]interface{}{"expired_at": now},
					})
				}},
				{name: "publish-transition", run: func(ctx context.Context) error {
					s.publishTransition(terminated, StatusActive, StatusExpired, now)
					return nil
				}},
			})

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(expired.Load()), err
	}

	return int(expired.Load()), nil
}

// ListExpiringInDays returns active paid subscriptions expiring exactly
// days from now, by calendar day.
func (s *Service) ListExpiringInDays(ctx context.Context, days int) ([]*Subscription, error) {
	return s.store.ListExpiringOn(ctx, s.now().AddDate(0, 0, days))
}

func (s *Service) ListAdjustments(ctx context.Context, id int64) ([]*Adjustment, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}

	return s.store.ListAdjustments(ctx, id)
}

// Report aggregates the calendar month containing the given time.
func (s *Service) Report(ctx context.Context, month time.Time) (*MonthlyReport, error) {
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	to := from.AddDate(0, 1, 0)

	stats, err := s.store.MonthlyStats(ctx, from, to)
	if err != nil {
		return nil, err
	}

	report := &MonthlyReport{
		PeriodStart: from,
		PeriodEnd:   to,
		ByPlan:      stats,
	}
	report.TotalRequested = lo.SumBy(stats, func(st PlanStats) int { return st.Requested })
	report.TotalApproved = lo.SumBy(stats, func(st PlanStats) int { return st.Approved })
	for _, st := range stats {
		report.TotalRevenue = report.TotalRevenue.Add(st.Revenue)
	}

	return report, nil
}

// UserProjection reads the denormalized subscription pointer kept on the
// user record.
func (s *Service) UserProjection(ctx context.Context, userID int64) (*UserProjection, error) {
	return s.store.UserProjection(ctx, userID)
}

// ===== internal =====

func (s *Service) ensureBasic(ctx context.Context, userID int64) (*Subscription, bool, error) {
	fallback, err := s.basicFallback(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	sub, created, err := s.store.EnsureActiveBasic(ctx, fallback)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info().
			Int64("subscription_id", sub.ID).
			Int64("user_id", userID).
			Msg("basic fallback subscription created")
	}

	return sub, created, nil
}

// basicFallback builds the free plan template inserted whenever a user
// would otherwise end up without an active subscription. It never expires.
func (s *Service) basicFallback(ctx context.Context, userID int64) (*Subscription, error) {
	p, err := s.plans.GetPlan(ctx, plan.PlanBasic)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve the basic plan")
	}

	now := s.now()
	activatedAt := now
	return &Subscription{
		UUID:             uuid.New(),
		UserID:           userID,
		PlanID:           p.ID,
		PlanName:         p.Name,
		Price:            p.Price,
		Currency:         p.Currency,
		BillingCycleDays: p.BillingCycleDays,
		DurationDays:     0,
		Features:         p.Features,
		Status:           StatusActive,
		PaymentStatus:    PaymentCompleted,
		RequestedAt:      now,
		ActivatedAt:      &activatedAt,
	}, nil
}

func (s *Service) publishTransition(sub *Subscription, from, to Status, at time.Time) {
	s.transitions.PublishSubscriptionTransition(bus.SubscriptionTransition{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlanID:         sub.PlanID,
		From:           string(from),
		To:             string(to),
		At:             at,
	})
}

func (s *Service) subscriptionData(sub *Subscription) map[string]interface{} {
	data := map[string]interface{}{
		"subscription_id": sub.ID,
		"plan_id":         sub.PlanID,
		"plan_name":       sub.PlanName,
	}
	if sub.ExpiresAt != nil {
		data["expires_at"] = sub.ExpiresAt.Format(time.RFC3339)
	}

	return data
}

func formatDay(t time.Time) string {
	return t.Format("2 January 2006")
}
