package plan

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Plan IDs form a closed set; `basic` is the free fallback every user
// effectively always has.
const (
	PlanBasic    = "basic"
	PlanPro      = "pro"
	PlanBusiness = "business"
)

// UnlimitedLoads is the max_loads sentinel meaning "no monthly load limit".
const UnlimitedLoads = -1

var (
	ErrNotFound         = errors.New("subscription plan not found")
	ErrValidationFailed = errors.New("plan validation failed")
)

// Features is the entitlement set of a plan. Known entitlements are typed;
// Extra carries plan-specific extensions without losing compile-time checks
// on the stable contract.
type Features struct {
	MaxLoads          int  `json:"max_loads"`
	PrioritySupport   bool `json:"priority_support"`
	AdvancedAnalytics bool `json:"advanced_analytics"`
	BulkOperations    bool `json:"bulk_operations"`
	APIAccess         bool `json:"api_access"`
	DedicatedManager  bool `json:"dedicated_manager"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Unlimited reports whether the plan has no monthly load limit.
func (f Features) Unlimited() bool { return f.MaxLoads == UnlimitedLoads }

// Plan is one catalog entry. Subscriptions snapshot Features at approval
// time, so later catalog edits never retroactively change entitlements.
type Plan struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Price            decimal.Decimal `json:"price"`
	Currency         string          `json:"currency"`
	BillingCycleDays int             `json:"billing_cycle_days"`
	Features         Features        `json:"features"`
	IsActive         bool            `json:"is_active"`
	IsVisible        bool            `json:"is_visible"`
	DisplayOrder     int             `json:"display_order"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Free reports whether the plan costs nothing.
func (p *Plan) Free() bool { return p.Price.IsZero() }
