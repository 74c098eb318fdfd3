package subscription

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/Susan56789/infinite-cargo-sub003/internal/service/plan"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusReplaced  Status = "replaced"
)

// PaymentStatus tracks the manually asserted payment state of the request.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// RejectionCategory keys the fixed category-to-message table shown to users.
type RejectionCategory string

const (
	RejectPaymentNotReceived    RejectionCategory = "payment_not_received"
	RejectInvalidPaymentDetails RejectionCategory = "invalid_payment_details"
	RejectDuplicateRequest      RejectionCategory = "duplicate_request"
	RejectFraudSuspected        RejectionCategory = "fraud_suspected"
	RejectOther                 RejectionCategory = "other"
)

var (
	ErrNotFound               = errors.New("subscription not found")
	ErrInvalidStateTransition = errors.New("operation not permitted from current subscription status")
	ErrAlreadyProcessed       = errors.New("subscription was already processed by a concurrent operation")
	ErrValidationFailed       = errors.New("subscription validation failed")
)

// PaymentDetails carries the payment reference the user supplied with the
// request. Known fields are typed; Extra holds payment-method-specific
// values (e.g. an M-Pesa transaction code) without losing the stable
// contract.
type PaymentDetails struct {
	Reference  string            `json:"reference,omitempty"`
	PayerName  string            `json:"payer_name,omitempty"`
	PayerPhone string            `json:"payer_phone,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Usage is the period-scoped load counter embedded in a subscription. The
// counter self-heals on read: when LastUsageReset falls in an earlier
// calendar month the read path resets it (see ResolveUsageWindow).
type Usage struct {
	LoadsThisMonth int       `json:"loads_this_month"`
	LastUsageReset time.Time `json:"last_usage_reset"`
}

// AdjustmentKind distinguishes extensions from in-place duration edits.
type AdjustmentKind string

const (
	AdjustmentExtend AdjustmentKind = "extend"
	AdjustmentAdjust AdjustmentKind = "adjust"
)

// Adjustment is one immutable history entry for an admin duration change.
type Adjustment struct {
	ID             int64          `json:"id"`
	SubscriptionID int64          `json:"subscription_id"`
	AdminID        int64          `json:"admin_id"`
	AdminName      string         `json:"admin_name"`
	Kind           AdjustmentKind `json:"kind"`
	DeltaDays      int            `json:"delta_days"`
	OldExpiresAt   *time.Time     `json:"old_expires_at,omitempty"`
	NewExpiresAt   time.Time      `json:"new_expires_at"`
	Reason         string         `json:"reason"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Subscription is one billing request/period for one user.
type Subscription struct {
	ID               int64           `json:"id"`
	UUID             uuid.UUID       `json:"uuid"`
	UserID           int64           `json:"user_id"`
	PlanID           string          `json:"plan_id"`
	PlanName         string          `json:"plan_name"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency"`
	BillingCycleDays int             `json:"billing_cycle_days"`
	DurationDays     int             `json:"duration_days"`
	Features         plan.Features   `json:"features"`
	Status           Status          `json:"status"`
	PaymentMethod    string          `json:"payment_method"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentDetails   PaymentDetails  `json:"payment_details"`

	RequestedAt time.Time  `json:"requested_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	ApprovedBy        *int64            `json:"approved_by,omitempty"`
	ApprovedByName    string            `json:"approved_by_name,omitempty"`
	ApprovedAt        *time.Time        `json:"approved_at,omitempty"`
	AdminNotes        string            `json:"admin_notes,omitempty"`
	RejectionReason   string            `json:"rejection_reason,omitempty"`
	RejectionCategory RejectionCategory `json:"rejection_category,omitempty"`
	RefundRequired    bool              `json:"refund_required"`

	Usage Usage `json:"usage"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Basic reports whether this is the free fallback plan subscription.
func (s *Subscription) Basic() bool { return s.PlanID == plan.PlanBasic }

// Admin identifies the administrator performing a workflow operation.
type Admin struct {
	ID   int64
	Name string
}

// UserProjection is the denormalized subscription pointer kept on the user
// record. It is a cache: always re-derivable from the subscription store.
type UserProjection struct {
	UserID                int64      `json:"user_id"`
	CurrentPlanID         string     `json:"current_plan_id"`
	SubscriptionStatus    Status     `json:"subscription_status"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	PendingSubscriptionID *int64     `json:"pending_subscription_id,omitempty"`
}

// PlanStats is one plan's slice of the monthly report.
type PlanStats struct {
	PlanID    string          `json:"plan_id"`
	Requested int             `json:"requested"`
	Approved  int             `json:"approved"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// MonthlyReport aggregates the prior calendar month for the admin summary.
type MonthlyReport struct {
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	TotalRequested int             `json:"total_requested"`
	TotalApproved  int             `json:"total_approved"`
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
	ByPlan         []PlanStats     `json:"by_plan"`
}
