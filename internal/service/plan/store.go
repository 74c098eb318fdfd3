package plan

import "context"

// Store is the plan catalog persistence boundary.
type Store interface {
	// Get returns an active plan by id or ErrNotFound.
	Get(ctx context.Context, id string) (*Plan, error)
	// GetAny returns a plan regardless of its active flag (admin use).
	GetAny(ctx context.Context, id string) (*Plan, error)
	// ListVisible returns active, visible plans ordered for display.
	ListVisible(ctx context.Context) ([]*Plan, error)
	// ListAll returns every catalog entry including hidden and inactive ones.
	ListAll(ctx context.Context) ([]*Plan, error)
	Create(ctx context.Context, p *Plan) (*Plan, error)
	Update(ctx context.Context, p *Plan) (*Plan, error)
}
