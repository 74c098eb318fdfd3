package audit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Service appends records to the immutable audit trail.
type Service struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func New(store Store, logger *zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("channel", "audit-service").Logger(),
		now:    time.Now,
	}
}

func (s *Service) Record(ctx context.Context, e Entry) error {
	if e.Action == "" {
		return errors.Wrap(ErrValidationFailed, "audit action is required")
	}
	if e.TargetType == "" {
		e.TargetType = TargetSubscription
	}

	created, err := s.store.Insert(ctx, &Record{
		Action:     e.Action,
		ActorID:    e.ActorID,
		ActorName:  e.ActorName,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		Details:    e.Details,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return err
	}

	s.logger.Debug().
		Int64("audit_id", created.ID).
		Str("action", created.Action).
		Int64("target_id", created.TargetID).
		Msg("audit record appended")

	return nil
}

func (s *Service) History(ctx context.Context, targetType string, targetID int64, limit int) ([]*Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	return s.store.ListRecent(ctx, targetType, targetID, limit)
}
