package subscription

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/Susan56789/infinite-cargo-sub003/internal/service/plan"
	"github.com/Susan56789/infinite-cargo-sub003/internal/util"
)

const subColumns = `id, uuid, user_id, plan_id, plan_name, price, currency, billing_cycle_days, duration_days,
                 features, status, payment_method, payment_status, payment_details,
                 requested_at, activated_at, expires_at,
                 approved_by, approved_by_name, approved_at, admin_notes,
                 rejection_reason, rejection_category, refund_required,
                 loads_this_month, last_usage_reset, created_at, updated_at`

// pendingUniqueViolation is the postgres unique_violation error code.
const pendingUniqueViolation = "23505"

// PGStore is the PostgreSQL subscription store. Multi-entity mutations run
// inside a single transaction; conditional status updates serialize
// concurrent operations at subscription-id granularity.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) CreatePending(ctx context.Context, sub *Subscription) (*Subscription, error) {
	var created *Subscription

	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		var err error
		created, err = insertSubscription(ctx, tx, sub)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE users SET pending_subscription_id = $2, updated_at = NOW() WHERE id = $1`,
			sub.UserID, created.ID)
		return errors.Wrap(err, "unable to set pending subscription marker")
	})
	if err != nil {
		// The partial unique index on pending rows closes the window between
		// the service's duplicate check and this insert.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pendingUniqueViolation && pgErr.ConstraintName == "subscriptions_one_pending_idx" {
			return nil, errors.Wrapf(ErrValidationFailed, "user %d already has a pending subscription request", sub.UserID)
		}
		return nil, err
	}

	return created, nil
}

func (s *PGStore) EnsureActiveBasic(ctx context.Context, fallback *Subscription) (*Subscription, bool, error) {
	var (
		sub     *Subscription
		created bool
	)

	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		// Lock the user row so two concurrent ensures cannot both insert.
		if _, err := tx.Exec(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, fallback.UserID); err != nil {
			return errors.Wrap(err, "unable to lock user row")
		}

		existing, err := getActiveByUser(ctx, tx, fallback.UserID)
		if err == nil {
			sub = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		sub, err = insertSubscription(ctx, tx, fallback)
		if err != nil {
			return err
		}
		created = true

		return syncUserPointer(ctx, tx, sub.UserID, sub.PlanID, sub.Status, sub.ExpiresAt, false)
	})
	if err != nil {
		return nil, false, err
	}

	return sub, created, nil
}

func (s *PGStore) Get(ctx context.Context, id int64) (*Subscription, error) {
	query := `SELECT ` + subColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSub(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to get subscription")
	}

	return sub, nil
}

func (s *PGStore) GetActiveByUser(ctx context.Context, userID int64) (*Subscription, error) {
	return getActiveByUser(ctx, s.db, userID)
}

func (s *PGStore) GetPendingByUser(ctx context.Context, userID int64) (*Subscription, error) {
	query := `SELECT ` + subColumns + ` FROM subscriptions
	          WHERE user_id = $1 AND status = 'pending'
	          ORDER BY id DESC LIMIT 1`

	sub, err := scanSub(s.db.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to get pending subscription")
	}

	return sub, nil
}

func (s *PGStore) ListByUser(ctx context.Context, userID int64) ([]*Subscription, error) {
	query := `SELECT ` + subColumns + ` FROM subscriptions
	          WHERE user_id = $1 ORDER BY created_at DESC`

	return s.list(ctx, query, userID)
}

func (s *PGStore) Approve(ctx context.Context, m ApproveMutation) (*Subscription, []int64, error) {
	var (
		approved *Subscription
		replaced []int64
	)

	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		query := `UPDATE subscriptions SET
		          status = 'active', payment_status = 'completed',
		          activated_at = $2, expires_at = $3,
		          approved_by = $4, approved_by_name = $5, approved_at = $2,
		          admin_notes = COALESCE($6, admin_notes),
		          updated_at = NOW()
		          WHERE id = $1 AND status = 'pending'
		          RETURNING ` + subColumns

		sub, err := scanSub(tx.QueryRow(ctx, query,
			m.SubscriptionID, m.ActivatedAt, m.ExpiresAt, m.AdminID, m.AdminName, util.Strings.Nullable(m.Notes)))
		if errors.Is(err, pgx.ErrNoRows) {
			return classifyConditionalMiss(ctx, tx, m.SubscriptionID)
		}
		if err != nil {
			return errors.Wrap(err, "unable to approve subscription")
		}
		approved = sub

		// At most one active non-basic subscription per user: demote the rest.
		rows, err := tx.Query(ctx,
			`UPDATE subscriptions SET status = 'replaced', updated_at = NOW()
			 WHERE user_id = $1 AND id <> $2 AND status = 'active' AND plan_id <> $3
			 RETURNING id`,
			sub.UserID, sub.ID, plan.PlanBasic)
		if err != nil {
			return errors.Wrap(err, "unable to replace previous subscriptions")
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return errors.Wrap(err, "unable to scan replaced id")
			}
			replaced = append(replaced, id)
		}
		// The cursor must be drained before the next statement on this tx.
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		return syncUserPointer(ctx, tx, sub.UserID, sub.PlanID, sub.Status, sub.ExpiresAt, true)
	})
	if err != nil {
		return nil, nil, err
	}

	return approved, replaced, nil
}

func (s *PGStore) Reject(ctx context.Context, m RejectMutation) (*Subscription, *Subscription, error) {
	var rejected, fallback *Subscription

	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		query := `UPDATE subscriptions SET
		          status = 'rejected', payment_status = 'failed',
		          rejection_reason = $2, rejection_category = $3, refund_required = $4,
		          approved_by = $5, approved_by_name = $6,
		          admin_notes = COALESCE($7, admin_notes),
		          updated_at = NOW()
		          WHERE id = $1 AND status = 'pending'
		          RETURNING ` + subColumns

		sub, err := scanSub(tx.QueryRow(ctx, query,
			m.SubscriptionID, m.Reason, m.Category, m.RefundRequired, m.AdminID, m.AdminName, util.Strings.Nullable(m.Notes)))
		if errors.Is(err, pgx.ErrNoRows) {
			return classifyConditionalMiss(ctx, tx, m.SubscriptionID)
		}
		if err != nil {
			return errors.Wrap(err, "unable to reject subscription")
		}
		rejected = sub

		if _, err := tx.Exec(ctx,
			`UPDATE users SET pending_subscription_id = NULL, updated_at = NOW() WHERE id = $1`,
			sub.UserID); err != nil {
			return errors.Wrap(err, "unable to clear pending subscription marker")
		}

		// Safety net: the user must still resolve to an active subscription.
		if _, err := getActiveByUser(ctx, tx, sub.UserID); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		fallback, err = insertSubscription(ctx, tx, m.Fallback)
		if err != nil {
			return err
		}

		return syncUserPointer(ctx, tx, sub.UserID, fallback.PlanID, fallback.Status, fallback.ExpiresAt, false)
	})
	if err != nil {
		return nil, nil, err
	}

	return rejected, fallback, nil
}

func (s *PGStore) Terminate(ctx context.Context, m TerminateMutation) (*Subscription, *Subscription, error) {
	var terminated, fallback *Subscription

	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		query := `UPDATE subscriptions SET
		          status = $2,
		          admin_notes = CASE WHEN $3 <> '' THEN $3 ELSE admin_notes END,
		          updated_at = $4
		          WHERE id = $1 AND status = 'active'
		          RETURNING ` + subColumns

		sub, err := scanSub(tx.QueryRow(ctx, query, m.SubscriptionID, m.ToStatus, m.Reason, m.At))
		if errors.Is(err, pgx.ErrNoRows) {
			return classifyConditionalMiss(ctx, tx, m.SubscriptionID)
		}
		if err != nil {
			return errors.Wrapf(err, "unable to mark subscription %s", m.ToStatus)
		}
		terminated = sub

		// Downgrade the user to the basic fallback.
		if _, err := getActiveByUser(ctx, tx, sub.UserID); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		fallback, err = insertSubscription(ctx, tx, m.Fallback)
		if err != nil {
			return err
		}

		return syncUserPointer(ctx, tx, sub.UserID, fallback.PlanID, fallback.Status, fallback.ExpiresAt, false)
	})
	if err != nil {
		return nil, nil, err
	}

	return terminated, fallback, nil
}

func (s *PGStore) SetExpiry(ctx context.Context, m SetExpiryMutation) (*Subscription, error) {
	var updated *Subscription

	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		query := `UPDATE subscriptions SET status = $3, expires_at = $4, updated_at = NOW()
		          WHERE id = $1 AND status = $2
		          RETURNING ` + subColumns

		sub, err := scanSub(tx.QueryRow(ctx, query,
			m.SubscriptionID, m.ExpectStatus, m.NewStatus, m.NewExpiresAt))
		if errors.Is(err, pgx.ErrNoRows) {
			return classifyConditionalMiss(ctx, tx, m.SubscriptionID)
		}
		if err != nil {
			return errors.Wrap(err, "unable to update subscription expiry")
		}
		updated = sub

		adj := m.Adjustment
		if _, err := tx.Exec(ctx,
			`INSERT INTO subscription_adjustments
			 (subscription_id, admin_id, admin_name, kind, delta_days, old_expires_at, new_expires_at, reason, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			sub.ID, adj.AdminID, adj.AdminName, adj.Kind, adj.DeltaDays,
			adj.OldExpiresAt, adj.NewExpiresAt, adj.Reason, adj.CreatedAt); err != nil {
			return errors.Wrap(err, "unable to append adjustment history")
		}

		if m.NewStatus == StatusActive {
			// Reactivation supersedes the basic fallback created at expiry.
			if m.ExpectStatus != StatusActive {
				if _, err := tx.Exec(ctx,
					`UPDATE subscriptions SET status = 'replaced', updated_at = NOW()
					 WHERE user_id = $1 AND id <> $2 AND status = 'active'`,
					sub.UserID, sub.ID); err != nil {
					return errors.Wrap(err, "unable to replace fallback subscription")
				}
			}
			return syncUserPointer(ctx, tx, sub.UserID, sub.PlanID, sub.Status, sub.ExpiresAt, false)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (s *PGStore) Update(ctx context.Context, m UpdateMutation) (*Subscription, error) {
	query := `UPDATE subscriptions SET
	          admin_notes = COALESCE($3, admin_notes),
	          payment_status = COALESCE($4, payment_status),
	          payment_method = COALESCE($5, payment_method),
	          updated_at = NOW()
	          WHERE id = $1 AND status = $2
	          RETURNING ` + subColumns

	var paymentStatus *string
	if m.PaymentStatus != nil {
		v := string(*m.PaymentStatus)
		paymentStatus = &v
	}

	sub, err := scanSub(s.db.QueryRow(ctx, query,
		m.SubscriptionID, m.ExpectStatus, m.AdminNotes, paymentStatus, m.PaymentMethod))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrAlreadyProcessed, "subscription %d changed status during update", m.SubscriptionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to update subscription")
	}

	return sub, nil
}

func (s *PGStore) ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error) {
	query := `SELECT ` + subColumns + ` FROM subscriptions
	          WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
	          ORDER BY expires_at ASC
	          LIMIT $2`

	return s.list(ctx, query, asOf, limit)
}

func (s *PGStore) ListExpiringOn(ctx context.Context, day time.Time) ([]*Subscription, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	query := `SELECT ` + subColumns + ` FROM subscriptions
	          WHERE status = 'active' AND plan_id <> $1
	            AND expires_at >= $2 AND expires_at < $3
	          ORDER BY expires_at ASC`

	return s.list(ctx, query, plan.PlanBasic, dayStart, dayEnd)
}

func (s *PGStore) UpdateUsage(ctx context.Context, id int64, loads int, resetAt time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE subscriptions SET loads_this_month = $2, last_usage_reset = $3, updated_at = NOW() WHERE id = $1`,
		id, loads, resetAt)

	return errors.Wrap(err, "unable to update usage counter")
}

func (s *PGStore) ListAdjustments(ctx context.Context, subscriptionID int64) ([]*Adjustment, error) {
	query := `SELECT id, subscription_id, admin_id, admin_name, kind, delta_days,
	                 old_expires_at, new_expires_at, reason, created_at
	          FROM subscription_adjustments
	          WHERE subscription_id = $1
	          ORDER BY id ASC`

	rows, err := s.db.Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list adjustments")
	}
	defer rows.Close()

	var adjustments []*Adjustment
	for rows.Next() {
		var a Adjustment
		if err := rows.Scan(
			&a.ID, &a.SubscriptionID, &a.AdminID, &a.AdminName, &a.Kind, &a.DeltaDays,
			&a.OldExpiresAt, &a.NewExpiresAt, &a.Reason, &a.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "unable to scan adjustment")
		}
		adjustments = append(adjustments, &a)
	}

	return adjustments, rows.Err()
}

func (s *PGStore) MonthlyStats(ctx context.Context, from, to time.Time) ([]PlanStats, error) {
	query := `SELECT plan_id,
	                 COUNT(*),
	                 COUNT(*) FILTER (WHERE activated_at IS NOT NULL),
	                 COALESCE(SUM(price) FILTER (WHERE payment_status = 'completed'), 0)
	          FROM subscriptions
	          WHERE requested_at >= $1 AND requested_at < $2
	          GROUP BY plan_id
	          ORDER BY plan_id`

	rows, err := s.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "unable to aggregate monthly stats")
	}
	defer rows.Close()

	var stats []PlanStats
	for rows.Next() {
		var st PlanStats
		if err := rows.Scan(&st.PlanID, &st.Requested, &st.Approved, &st.Revenue); err != nil {
			return nil, errors.Wrap(err, "unable to scan monthly stats")
		}
		stats = append(stats, st)
	}

	return stats, rows.Err()
}

func (s *PGStore) UserProjection(ctx context.Context, userID int64) (*UserProjection, error) {
	query := `SELECT id, current_plan_id, subscription_status, subscription_expires_at, pending_subscription_id
	          FROM users WHERE id = $1`

	var up UserProjection
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&up.UserID, &up.CurrentPlanID, &up.SubscriptionStatus,
		&up.SubscriptionExpiresAt, &up.PendingSubscriptionID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to get user projection")
	}

	return &up, nil
}

// ===== helpers =====

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func getActiveByUser(ctx context.Context, q queryer, userID int64) (*Subscription, error) {
	query := `SELECT ` + subColumns + ` FROM subscriptions
	          WHERE user_id = $1 AND status = 'active'
	          ORDER BY id DESC LIMIT 1`

	sub, err := scanSub(q.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to get active subscription")
	}

	return sub, nil
}

func insertSubscription(ctx context.Context, q queryer, sub *Subscription) (*Subscription, error) {
	features, err := json.Marshal(sub.Features)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal feature snapshot")
	}
	paymentDetails, err := json.Marshal(sub.PaymentDetails)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal payment details")
	}

	query := `INSERT INTO subscriptions
	          (uuid, user_id, plan_id, plan_name, price, currency, billing_cycle_days, duration_days,
	           features, status, payment_method, payment_status, payment_details,
	           requested_at, activated_at, expires_at, loads_this_month, last_usage_reset, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 0, $14, NOW(), NOW())
	          RETURNING ` + subColumns

	created, err := scanSub(q.QueryRow(ctx, query,
		sub.UUID, sub.UserID, sub.PlanID, sub.PlanName, sub.Price, sub.Currency,
		sub.BillingCycleDays, sub.DurationDays, features, sub.Status,
		sub.PaymentMethod, sub.PaymentStatus, paymentDetails,
		sub.RequestedAt, sub.ActivatedAt, sub.ExpiresAt,
	))
	if err != nil {
		return nil, errors.Wrap(err, "unable to insert subscription")
	}

	return created, nil
}

func syncUserPointer(ctx context.Context, tx pgx.Tx, userID int64, planID string, status Status, expiresAt *time.Time, clearPending bool) error {
	query := `UPDATE users SET
	          current_plan_id = $2, subscription_status = $3, subscription_expires_at = $4, updated_at = NOW()`
	if clearPending {
		query += `, pending_subscription_id = NULL`
	}
	query += ` WHERE id = $1`

	_, err := tx.Exec(ctx, query, userID, planID, status, expiresAt)
	return errors.Wrap(err, "unable to sync user subscription pointer")
}

// classifyConditionalMiss distinguishes a missing subscription from one that
// lost the race to a concurrent operation.
func classifyConditionalMiss(ctx context.Context, q queryer, id int64) error {
	var status Status
	err := q.QueryRow(ctx, `SELECT status FROM subscriptions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "unable to read subscription status")
	}

	return errors.Wrapf(ErrAlreadyProcessed, "subscription %d is now %q", id, status)
}

func (s *PGStore) list(ctx context.Context, query string, args ...interface{}) ([]*Subscription, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to list subscriptions")
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSub(rows)
		if err != nil {
			return nil, errors.Wrap(err, "unable to scan subscription")
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

func scanSub(row pgx.Row) (*Subscription, error) {
	var (
		sub            Subscription
		features       pgtype.JSONB
		paymentDetails pgtype.JSONB
	)

	err := row.Scan(
		&sub.ID, &sub.UUID, &sub.UserID, &sub.PlanID, &sub.PlanName, &sub.Price, &sub.Currency,
		&sub.BillingCycleDays, &sub.DurationDays, &features, &sub.Status,
		&sub.PaymentMethod, &sub.PaymentStatus, &paymentDetails,
		&sub.RequestedAt, &sub.ActivatedAt, &sub.ExpiresAt,
		&sub.ApprovedBy, &sub.ApprovedByName, &sub.ApprovedAt, &sub.AdminNotes,
		&sub.RejectionReason, &sub.RejectionCategory, &sub.RefundRequired,
		&sub.Usage.LoadsThisMonth, &sub.Usage.LastUsageReset, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if features.Status == pgtype.Present {
		if err := json.Unmarshal(features.Bytes, &sub.Features); err != nil {
			return nil, errors.Wrap(err, "unable to unmarshal feature snapshot")
		}
	}
	if paymentDetails.Status == pgtype.Present {
		if err := json.Unmarshal(paymentDetails.Bytes, &sub.PaymentDetails); err != nil {
			return nil, errors.Wrap(err, "unable to unmarshal payment details")
		}
	}

	return &sub, nil
}
