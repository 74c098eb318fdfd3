// Package quota enforces the monthly load limit attached to a user's
// subscription plan.
package quota

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Susan56789/infinite-cargo-sub003/internal/service/plan"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/subscription"
)

// ErrQuotaExceeded reports a legitimately exhausted monthly load quota.
var ErrQuotaExceeded = errors.New("monthly load limit reached for the current plan")

// SubscriptionResolver resolves the user's active subscription. Satisfied
// by *subscription.Service.
type SubscriptionResolver interface {
	GetCurrentActive(ctx context.Context, userID int64) (*subscription.Subscription, error)
}

// LoadCounter counts loads a user created since a point in time.
type LoadCounter interface {
	CountSince(ctx context.Context, userID int64, since time.Time) (int, error)
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Remaining int // -1 when the plan is unlimited
	PlanID    string
	MaxLoads  int
	Used      int
}

// Service decides whether a user may create another load this month.
// Resolution failures fail open: a storage hiccup must not lock paying
// users out of posting loads. Only a counted, legitimately exhausted quota
// denies.
type Service struct {
	subscriptions SubscriptionResolver
	loads         LoadCounter
	logger        zerolog.Logger
	now           func() time.Time
}

func New(subscriptions SubscriptionResolver, loads LoadCounter, logger *zerolog.Logger) *Service {
	return &Service{
		subscriptions: subscriptions,
		loads:         loads,
		logger:        logger.With().Str("channel", "quota-service").Logger(),
		now:           time.Now,
	}
}

// CanCreateLoad checks the user's monthly load allowance. The count is
// taken over the current calendar month, not the subscription period.
func (s *Service) CanCreateLoad(ctx context.Context, userID int64) (Decision, error) {
	sub, err := s.subscriptions.GetCurrentActive(ctx, userID)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Int64("user_id", userID).
			Msg("subscription resolution failed, allowing load creation")
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	maxLoads := sub.Features.MaxLoads
	decision := Decision{PlanID: sub.PlanID, MaxLoads: maxLoads}

	if maxLoads == plan.UnlimitedLoads {
		decision.Allowed = true
		decision.Remaining = -1
		return decision, nil
	}

	now := s.now()
	windowStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	used, err := s.loads.CountSince(ctx, userID, windowStart)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Int64("user_id", userID).
			Msg("load count failed, allowing load creation")
		decision.Allowed = true
		decision.Remaining = -1
		return decision, nil
	}

	decision.Used = used
	decision.Remaining = maxLoads - used
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	decision.Allowed = used < maxLoads

	return decision, nil
}

// EnsureCanCreateLoad is CanCreateLoad with a denial turned into
// ErrQuotaExceeded.
func (s *Service) EnsureCanCreateLoad(ctx context.Context, userID int64) (Decision, error) {
	decision, err := s.CanCreateLoad(ctx, userID)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		return decision, errors.Wrapf(ErrQuotaExceeded,
			"plan %q allows %d loads per month, %d used", decision.PlanID, decision.MaxLoads, decision.Used)
	}

	return decision, nil
}
