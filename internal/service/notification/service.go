package notification

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Service emits and maintains in-app notifications.
type Service struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func New(store Store, logger *zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With().Str("channel", "notification-service").Logger(),
		now:    time.Now,
	}
}

// Emit validates and persists one notification, filling defaults for
// audience and priority.
func (s *Service) Emit(ctx context.Context, msg Message) (*Notification, error) {
	if msg.Type == "" {
		return nil, errors.Wrap(ErrValidationFailed, "notification type is required")
	}
	if msg.Title == "" {
		return nil, errors.Wrap(ErrValidationFailed, "notification title is required")
	}
	if msg.UserType == "" {
		msg.UserType = UserCargoOwner
	}
	if msg.Priority == "" {
		msg.Priority = PriorityNormal
	}

	created, err := s.store.Insert(ctx, &Notification{
		UserID:    msg.UserID,
		UserType:  msg.UserType,
		Type:      msg.Type,
		Title:     msg.Title,
		Message:   msg.Message,
		Data:      msg.Data,
		Priority:  msg.Priority,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Int64("notification_id", created.ID).
		Str("type", created.Type).
		Msg("notification emitted")

	return created, nil
}

// HasRecentReminder reports whether an expiry reminder for the subscription
// and threshold already exists in the last 24 hours.
func (s *Service) HasRecentReminder(ctx context.Context, subscriptionID int64, daysRemaining int) (bool, error) {
	return s.store.HasRecentReminder(ctx, subscriptionID, daysRemaining, s.now().Add(-24*time.Hour))
}

// CleanupRead deletes read notifications older than the retention window.
func (s *Service) CleanupRead(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)

	deleted, err := s.store.DeleteReadOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("read notifications cleaned up")
	}

	return deleted, nil
}

func (s *Service) MarkRead(ctx context.Context, id int64) error {
	return s.store.MarkRead(ctx, id, s.now())
}

func (s *Service) ListByUser(ctx context.Context, userID int64, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	return s.store.ListByUser(ctx, userID, limit)
}
