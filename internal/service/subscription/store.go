package subscription

import (
	"context"
	"time"
)

// ApproveMutation is the atomic unit of the approval workflow: conditional
// pending->active flip, demotion of any other active non-basic subscription
// of the same user to replaced, and user-pointer sync, all in one
// transaction.
type ApproveMutation struct {
	SubscriptionID int64
	AdminID        int64
	AdminName      string
	ActivatedAt    time.Time
	ExpiresAt      time.Time
	Notes          string
}

// RejectMutation flips pending->rejected and guarantees the basic fallback:
// when the user ends up without an active subscription, Fallback is inserted
// in the same transaction.
type RejectMutation struct {
	SubscriptionID int64
	AdminID        int64
	AdminName      string
	Reason         string
	Category       RejectionCategory
	Notes          string
	RefundRequired bool
	Fallback       *Subscription
}

// TerminateMutation ends an active subscription (cancel by an admin or
// expire by the sweep) and downgrades the user to the basic fallback.
type TerminateMutation struct {
	SubscriptionID int64
	ToStatus       Status // StatusCancelled or StatusExpired
	Reason         string
	At             time.Time
	Fallback       *Subscription
}

// SetExpiryMutation moves expires_at (extend / adjust-duration) with a
// conditional status check and appends the immutable adjustment entry in
// the same transaction. NewStatus differs from ExpectStatus only when an
// expired subscription is reactivated by an extension.
type SetExpiryMutation struct {
	SubscriptionID int64
	ExpectStatus   Status
	NewStatus      Status
	NewExpiresAt   time.Time
	Adjustment     Adjustment
}

// UpdateMutation edits admin-adjustable fields without a status change.
type UpdateMutation struct {
	SubscriptionID int64
	ExpectStatus   Status
	AdminNotes     *string
	PaymentStatus  *PaymentStatus
	PaymentMethod  *string
}

// Store is the authoritative subscription persistence boundary. Mutation
// methods are atomic: either every entity they name is updated or none is.
// A conditional status check that matches zero rows reports
// ErrAlreadyProcessed so concurrent operations on the same subscription
// serialize at subscription-id granularity.
type Store interface {
	// CreatePending inserts a pending request and sets the user's
	// pending-subscription marker.
	CreatePending(ctx context.Context, sub *Subscription) (*Subscription, error)

	// EnsureActiveBasic returns the user's active subscription, inserting
	// the basic fallback template when none exists.
	EnsureActiveBasic(ctx context.Context, fallback *Subscription) (*Subscription, bool, error)

	Get(ctx context.Context, id int64) (*Subscription, error)
	GetActiveByUser(ctx context.Context, userID int64) (*Subscription, error)
	GetPendingByUser(ctx context.Context, userID int64) (*Subscription, error)
	ListByUser(ctx context.Context, userID int64) ([]*Subscription, error)

	// Approve applies the approval mutation and returns the approved
	// subscription plus the ids of subscriptions demoted to replaced.
	Approve(ctx context.Context, m ApproveMutation) (*Subscription, []int64, error)

	// Reject applies the rejection mutation and returns the rejected
	// subscription plus the basic fallback created for the user, if any.
	Reject(ctx context.Context, m RejectMutation) (*Subscription, *Subscription, error)

	// Terminate cancels or expires an active subscription and returns it
	// plus the basic fallback created for the user, if any.
	Terminate(ctx context.Context, m TerminateMutation) (*Subscription, *Subscription, error)

	SetExpiry(ctx context.Context, m SetExpiryMutation) (*Subscription, error)
	Update(ctx context.Context, m UpdateMutation) (*Subscription, error)

	// ListExpiredActive returns up to limit active subscriptions whose
	// expiry has passed, oldest first.
	ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error)

	// ListExpiringOn returns active non-basic subscriptions whose expiry
	// falls on the given calendar day (day-boundary match, not a rolling
	// window).
	ListExpiringOn(ctx context.Context, day time.Time) ([]*Subscription, error)

	// UpdateUsage rewrites the embedded usage counter (self-healing reset).
	UpdateUsage(ctx context.Context, id int64, loads int, resetAt time.Time) error

	ListAdjustments(ctx context.Context, subscriptionID int64) ([]*Adjustment, error)

	// MonthlyStats aggregates per-plan request counts, approvals and
	// completed-payment revenue for subscriptions requested in [from, to).
	MonthlyStats(ctx context.Context, from, to time.Time) ([]PlanStats, error)

	// UserProjection reads the denormalized pointer kept on the user record.
	UserProjection(ctx context.Context, userID int64) (*UserProjection, error)
}
