package notification

import (
	"context"
	"time"
)

// Store persists notifications.
type Store interface {
	Insert(ctx context.Context, n *Notification) (*Notification, error)

	// HasRecentReminder reports whether an expiry reminder for the given
	// subscription and threshold was created at or after since. Keeps the
	// reminder sweep idempotent across reruns.
	HasRecentReminder(ctx context.Context, subscriptionID int64, daysRemaining int, since time.Time) (bool, error)

	// DeleteReadOlderThan removes read notifications created before cutoff
	// and returns the number deleted. Unread ones are never touched.
	DeleteReadOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	MarkRead(ctx context.Context, id int64, at time.Time) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*Notification, error)
}
