// Package app wires configuration, storage and services into a runnable
// application.
package app

import (
	"context"
	"time"

	"github.com/jackc/pgtype"
	shopspring "github.com/jackc/pgtype/ext/shopspring-numeric"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Susan56789/infinite-cargo-sub003/internal/bus"
	"github.com/Susan56789/infinite-cargo-sub003/internal/config"
	"github.com/Susan56789/infinite-cargo-sub003/internal/log"
	"github.com/Susan56789/infinite-cargo-sub003/internal/scheduler"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/audit"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/notification"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/plan"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/quota"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/subscription"
	"github.com/Susan56789/infinite-cargo-sub003/pkg/graceful"
)

// App is the composition root. Construction wires every dependency;
// nothing starts running until RunScheduler.
type App struct {
	cfg    *config.Config
	logger *zerolog.Logger
	db     *pgxpool.Pool
	events *bus.Bus

	plans         *plan.Service
	subscriptions *subscription.Service
	notifications *notification.Service
	audits        *audit.Service
	quotas        *quota.Service

	jobLogger *log.JobLogger
	scheduler *scheduler.Scheduler
	handler   *scheduler.Handler

	beforeRun []BeforeRunFunc
}

type BeforeRunFunc func(ctx context.Context, a *App) error

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := log.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	db, err := newPool(ctx, cfg.Postgres.DataSource)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		db:     db,
		events: bus.New(),
	}

	a.plans = plan.New(plan.NewPGStore(db), logger)
	a.notifications = notification.New(notification.NewPGStore(db), logger)
	a.audits = audit.New(audit.NewPGStore(db), logger)
	a.subscriptions = subscription.New(
		subscription.NewPGStore(db), a.plans, a.notifications, a.audits, a.events, logger)
	a.quotas = quota.New(a.subscriptions, quota.NewPGLoadCounter(db), logger)

	a.jobLogger = log.NewJobLogger(logger)
	a.scheduler = scheduler.New(a.jobLogger, logger)
	a.handler = scheduler.NewHandler(
		a.subscriptions, a.notifications, a.jobLogger,
		cfg.Billing.ReminderDays, cfg.Billing.NotificationRetentionDays, cfg.Billing.SweepPageSize)

	graceful.AddCallback(func(ctx context.Context) error {
		return a.Shutdown(ctx)
	})

	return a, nil
}

func newPool(ctx context.Context, dataSource string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dataSource)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse postgres data source")
	}

	// numeric columns scan straight into decimal.Decimal.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		conn.ConnInfo().RegisterDataType(pgtype.DataType{
			Value: &shopspring.Numeric{},
			Name:  "numeric",
			OID:   pgtype.NumericOID,
		})
		return nil
	}

	db, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to postgres")
	}

	return db, nil
}

// OnBeforeRun registers a hook executed by RunScheduler before any job is
// scheduled.
func (a *App) OnBeforeRun(fn BeforeRunFunc) {
	a.beforeRun = append(a.beforeRun, fn)
}

// RunScheduler executes the before-run hooks, registers the billing jobs
// and starts firing schedules.
func (a *App) RunScheduler(ctx context.Context) error {
	for _, fn := range a.beforeRun {
		if err := fn(ctx, a); err != nil {
			return errors.Wrap(err, "before-run hook failed")
		}
	}

	billing := a.cfg.Billing
	jobs := []struct {
		name string
		spec string
		fn   func(ctx context.Context) error
	}{
		{scheduler.JobExpireSubscriptions, billing.ExpireSweepSpec, a.handler.ExpireSubscriptions},
		{scheduler.JobExpiryReminders, billing.ReminderSweepSpec, a.handler.SendExpiryReminders},
		{scheduler.JobNotificationCleanup, billing.CleanupSpec, a.handler.CleanupNotifications},
		{scheduler.JobMonthlyReport, billing.MonthlyReportSpec, a.handler.MonthlyReport},
	}
	for _, job := range jobs {
		if err := a.scheduler.Register(job.name, job.spec, job.fn); err != nil {
			return err
		}
	}

	a.scheduler.Start()

	return nil
}

// Shutdown stops the scheduler and closes the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := a.scheduler.StopAll(stopCtx)
	a.db.Close()

	return err
}

func (a *App) Logger() *zerolog.Logger { return a.logger }

func (a *App) DB() *pgxpool.Pool { return a.db }

func (a *App) Events() *bus.Bus { return a.events }

func (a *App) Plans() *plan.Service { return a.plans }

func (a *App) Subscriptions() *subscription.Service { return a.subscriptions }

func (a *App) Notifications() *notification.Service { return a.notifications }

func (a *App) Audits() *audit.Service { return a.audits }

func (a *App) Quotas() *quota.Service { return a.quotas }

func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }
