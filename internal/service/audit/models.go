package audit

import (
	"time"

	"github.com/pkg/errors"
)

// Actions recorded by the subscription workflows.
const (
	ActionSubscriptionRequested = "subscription_requested"
	ActionSubscriptionApproved  = "subscription_approved"
	ActionSubscriptionRejected  = "subscription_rejected"
	ActionSubscriptionCancelled = "subscription_cancelled"
	ActionSubscriptionExpired   = "subscription_expired"
	ActionSubscriptionExtended  = "subscription_extended"
	ActionSubscriptionAdjusted  = "subscription_adjusted"
	ActionSubscriptionUpdated   = "subscription_updated"
)

const TargetSubscription = "subscription"

var ErrValidationFailed = errors.New("audit entry validation failed")

// Entry is the request to append one audit record.
type Entry struct {
	Action     string
	ActorID    int64
	ActorName  string
	TargetType string
	TargetID   int64
	Details    map[string]interface{}
}

// Record is one immutable audit log row.
type Record struct {
	ID         int64                  `json:"id"`
	Action     string                 `json:"action"`
	ActorID    int64                  `json:"actor_id"`
	ActorName  string                 `json:"actor_name"`
	TargetType string                 `json:"target_type"`
	TargetID   int64                  `json:"target_id"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
