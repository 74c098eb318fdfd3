package notification

import (
	"time"

	"github.com/pkg/errors"
)

// UserType routes a notification to the audience it belongs to.
type UserType string

const (
	UserCargoOwner UserType = "cargo_owner"
	UserDriver     UserType = "driver"
	UserAdmin      UserType = "admin"
)

// Priority orders notifications in user-facing surfaces.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification types emitted by the subscription workflows.
const (
	TypeSubscriptionRequested = "subscription_requested"
	TypeSubscriptionApproved  = "subscription_approved"
	TypeSubscriptionRejected  = "subscription_rejected"
	TypeSubscriptionCancelled = "subscription_cancelled"
	TypeSubscriptionExpired   = "subscription_expired"
	TypeSubscriptionExpiring  = "subscription_expiring"
	TypeSubscriptionExtended  = "subscription_extended"
	TypeSubscriptionAdjusted  = "subscription_adjusted"
	TypeMonthlyReport         = "monthly_report"
)

var (
	ErrNotFound         = errors.New("notification not found")
	ErrValidationFailed = errors.New("notification validation failed")
)

// Message is the request to emit one notification. UserID is nil for
// admin-audience broadcasts.
type Message struct {
	UserID   *int64
	UserType UserType
	Type     string
	Title    string
	Message  string
	Data     map[string]interface{}
	Priority Priority
}

// Notification is one persisted in-app notification.
type Notification struct {
	ID        int64                  `json:"id"`
	UserID    *int64                 `json:"user_id,omitempty"`
	UserType  UserType               `json:"user_type"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Priority  Priority               `json:"priority"`
	Read      bool                   `json:"read"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
