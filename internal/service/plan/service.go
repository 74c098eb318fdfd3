package plan

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Service exposes the plan catalog to the subscribe path, the admin
// workflow and the CLI.
type Service struct {
	store  Store
	logger *zerolog.Logger
}

func New(store Store, logger *zerolog.Logger) *Service {
	log := logger.With().Str("channel", "plan_service").Logger()
	return &Service{store: store, logger: &log}
}

// GetPlan returns an active plan by id.
func (s *Service) GetPlan(ctx context.Context, id string) (*Plan, error) {
	if id == "" {
		return nil, errors.Wrap(ErrValidationFailed, "plan id is required")
	}

	return s.store.Get(ctx, id)
}

// ListActivePlans returns the plans shown to users, in display order.
func (s *Service) ListActivePlans(ctx context.Context) ([]*Plan, error) {
	return s.store.ListVisible(ctx)
}

// ListAllPlans returns every catalog entry including hidden ones (admin only).
func (s *Service) ListAllPlans(ctx context.Context) ([]*Plan, error) {
	return s.store.ListAll(ctx)
}

// CreatePlan adds a catalog entry (admin only).
func (s *Service) CreatePlan(ctx context.Context, p *Plan) (*Plan, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	if _, err := s.store.GetAny(ctx, p.ID); err == nil {
		return nil, errors.Wrapf(ErrValidationFailed, "plan %q already exists", p.ID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	created, err := s.store.Create(ctx, p)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("plan_id", created.ID).Msg("plan created")
	return created, nil
}

// UpdatePlan edits a catalog entry (admin only). Existing subscriptions keep
// their snapshotted feature set.
func (s *Service) UpdatePlan(ctx context.Context, p *Plan) (*Plan, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	updated, err := s.store.Update(ctx, p)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("plan_id", updated.ID).Msg("plan updated")
	return updated, nil
}

func validate(p *Plan) error {
	switch {
	case p == nil:
		return errors.Wrap(ErrValidationFailed, "plan is required")
	case p.ID == "":
		return errors.Wrap(ErrValidationFailed, "plan id is required")
	case p.Name == "":
		return errors.Wrap(ErrValidationFailed, "plan name is required")
	case p.Price.IsNegative():
		return errors.Wrap(ErrValidationFailed, "plan price cannot be negative")
	case p.BillingCycleDays <= 0:
		return errors.Wrap(ErrValidationFailed, "billing cycle must be positive")
	case p.Features.MaxLoads < UnlimitedLoads:
		return errors.Wrapf(ErrValidationFailed, "max_loads must be %d (unlimited) or non-negative", UnlimitedLoads)
	}

	return nil
}
