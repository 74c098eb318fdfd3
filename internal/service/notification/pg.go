package notification

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
)

const notificationColumns = `id, user_id, user_type, type, title, message, data, priority, is_read, read_at, created_at`

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, n *Notification) (*Notification, error) {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal notification data")
	}

	query := `INSERT INTO notifications (user_id, user_type, type, title, message, data, priority, is_read, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
	          RETURNING ` + notificationColumns

	created, err := scanNotification(s.db.QueryRow(ctx, query,
		n.UserID, n.UserType, n.Type, n.Title, n.Message, data, n.Priority, n.CreatedAt))
	if err != nil {
		return nil, errors.Wrap(err, "unable to insert notification")
	}

	return created, nil
}

func (s *PGStore) HasRecentReminder(ctx context.Context, subscriptionID int64, daysRemaining int, since time.Time) (bool, error) {
	query := `SELECT EXISTS (
	            SELECT 1 FROM notifications
	            WHERE type = $1
	              AND data->>'subscription_id' = $2
	              AND data->>'days_remaining' = $3
	              AND created_at >= $4
	          )`

	var exists bool
	err := s.db.QueryRow(ctx, query,
		TypeSubscriptionExpiring,
		strconv.FormatInt(subscriptionID, 10),
		strconv.Itoa(daysRemaining),
		since,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "unable to check for recent reminder")
	}

	return exists, nil
}

func (s *PGStore) DeleteReadOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM notifications WHERE is_read = TRUE AND created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "unable to delete read notifications")
	}

	return tag.RowsAffected(), nil
}

func (s *PGStore) MarkRead(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE, read_at = $2 WHERE id = $1 AND is_read = FALSE`, id, at)
	if err != nil {
		return errors.Wrap(err, "unable to mark notification read")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PGStore) ListByUser(ctx context.Context, userID int64, limit int) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
	          WHERE user_id = $1
	          ORDER BY created_at DESC
	          LIMIT $2`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list notifications")
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, errors.Wrap(err, "unable to scan notification")
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var (
		n    Notification
		data pgtype.JSONB
	)

	err := row.Scan(
		&n.ID, &n.UserID, &n.UserType, &n.Type, &n.Title, &n.Message,
		&data, &n.Priority, &n.Read, &n.ReadAt, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if data.Status == pgtype.Present {
		if err := json.Unmarshal(data.Bytes, &n.Data); err != nil {
			return nil, errors.Wrap(err, "unable to unmarshal notification data")
		}
	}

	return &n, nil
}
