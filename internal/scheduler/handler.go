package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Susan56789/infinite-cargo-sub003/internal/log"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/notification"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/subscription"
	"github.com/Susan56789/infinite-cargo-sub003/internal/util"
)

// Handler implements the scheduled billing jobs.
type Handler struct {
	subscriptions SubscriptionService
	notifications NotificationService
	tableLogger   *log.JobLogger

	reminderDays  []int
	retentionDays int
	pageSize      int

	now func() time.Time
}

type SubscriptionService interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
	ListExpiringInDays(ctx context.Context, days int) ([]*subscription.Subscription, error)
	Report(ctx context.Context, month time.Time) (*subscription.MonthlyReport, error)
}

type NotificationService interface {
	Emit(ctx context.Context, msg notification.Message) (*notification.Notification, error)
	HasRecentReminder(ctx context.Context, subscriptionID int64, daysRemaining int) (bool, error)
	CleanupRead(ctx context.Context, retention time.Duration) (int64, error)
}

func NewHandler(
	subscriptions SubscriptionService,
	notifications NotificationService,
	jobLogger *log.JobLogger,
	reminderDays []int,
	retentionDays int,
	pageSize int,
) *Handler {
	return &Handler{
		subscriptions: subscriptions,
		notifications: notifications,
		tableLogger:   jobLogger,
		reminderDays:  reminderDays,
		retentionDays: retentionDays,
		pageSize:      pageSize,
		now:           time.Now,
	}
}

func (h *Handler) JobLogger() *log.JobLogger {
	return h.tableLogger
}

// ExpireSubscriptions sweeps active subscriptions past their expiry in
// pages until a page comes back short.
func (h *Handler) ExpireSubscriptions(ctx context.Context) error {
	total := 0
	for {
		n, err := h.subscriptions.ExpireDue(ctx, h.pageSize)
		if err != nil {
			return errors.Wrap(err, "unable to expire due subscriptions")
		}
		total += n
		if n < h.pageSize {
			break
		}
	}

	if total > 0 {
		zerolog.Ctx(ctx).Info().Int("expired", total).Msg("subscriptions expired")
	}

	return nil
}

// SendExpiryReminders notifies users whose paid subscription expires in
// exactly one of the configured day thresholds. A reminder already sent in
// the last day is not repeated, so reruns after a crash are safe.
func (h *Handler) SendExpiryReminders(ctx context.Context) error {
	for _, days := range h.reminderDays {
		subs, err := h.subscriptions.ListExpiringInDays(ctx, days)
		if err != nil {
			return errors.Wrapf(err, "unable to list subscriptions expiring in %d days", days)
		}

		for _, sub := range subs {
			sent, err := h.notifications.HasRecentReminder(ctx, sub.ID, days)
			if err != nil {
				return errors.Wrap(err, "unable to check reminder idempotency")
			}
			if sent {
				continue
			}

			priority := notification.PriorityNormal
			if days <= 3 {
				priority = notification.PriorityHigh
			}

			userID := sub.UserID
			if _, err := h.notifications.Emit(ctx, notification.Message{
				UserID:   &userID,
				Type:     notification.TypeSubscriptionExpiring,
				Title:    "Subscription expiring soon",
				Message:  fmt.Sprintf("Your %s subscription expires in %d days. Renew to keep your benefits.", sub.PlanName, days),
				Priority: priority,
				Data: map[string]interface{}{
					"subscription_id": sub.ID,
					"plan_id":         sub.PlanID,
					"days_remaining":  days,
				},
			}); err != nil {
				return errors.Wrap(err, "unable to emit expiry reminder")
			}
		}
	}

	return nil
}

// CleanupNotifications deletes read notifications past the retention
// window. Unread notifications are kept indefinitely.
func (h *Handler) CleanupNotifications(ctx context.Context) error {
	retention := time.Duration(h.retentionDays) * 24 * time.Hour

	if _, err := h.notifications.CleanupRead(ctx, retention); err != nil {
		return errors.Wrap(err, "unable to clean up notifications")
	}

	return nil
}

// MonthlyReport aggregates the prior calendar month and delivers the
// summary to the admin audience.
func (h *Handler) MonthlyReport(ctx context.Context) error {
	// AddDate normalizes month-end dates forward (Mar 31 minus one month is
	// Mar 3), so anchor on the first of the current month instead.
	now := h.now()
	prior := time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, now.Location())

	report, err := h.subscriptions.Report(ctx, prior)
	if err != nil {
		return errors.Wrap(err, "unable to build monthly report")
	}

	byPlan := util.MapSlice(report.ByPlan, func(st subscription.PlanStats) map[string]interface{} {
		return map[string]interface{}{
			"plan_id":   st.PlanID,
			"requested": st.Requested,
			"approved":  st.Approved,
			"revenue":   st.Revenue.String(),
		}
	})

	if _, err := h.notifications.Emit(ctx, notification.Message{
		UserType: notification.UserAdmin,
		Type:     notification.TypeMonthlyReport,
		Title:    "Monthly subscription report " + report.PeriodStart.Format("January 2006"),
		Message: fmt.Sprintf("%d requests, %d approvals, %s total revenue.",
			report.TotalRequested, report.TotalApproved, report.TotalRevenue.String()),
		Data: map[string]interface{}{
			"period_start":    report.PeriodStart.Format(time.RFC3339),
			"period_end":      report.PeriodEnd.Format(time.RFC3339),
			"total_requested": report.TotalRequested,
			"total_approved":  report.TotalApproved,
			"total_revenue":   report.TotalRevenue.String(),
			"by_plan":         byPlan,
		},
	}); err != nil {
		return errors.Wrap(err, "unable to deliver monthly report")
	}

	return nil
}
