package config

import (
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"

	"github.com/Susan56789/infinite-cargo-sub003/internal/log"
)

// Config is the full application configuration tree. Values come from an
// optional YAML file overlaid with environment variables.
type Config struct {
	Env      string     `yaml:"env" env:"APP_ENV" env-default:"development"`
	Logger   log.Config `yaml:"logger"`
	Postgres Postgres   `yaml:"postgres"`
	Billing  Billing    `yaml:"billing"`
}

type Postgres struct {
	DataSource     string `yaml:"data_source" env:"POSTGRES_DATA_SOURCE"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"POSTGRES_MIGRATE_ON_START" env-default:"false"`
}

// Billing holds the tunables of the subscription engine and its scheduler.
type Billing struct {
	// Cron specs for the recurring jobs. Defaults match the documented
	// hourly/daily/weekly/monthly cadences.
	ExpireSweepSpec   string `yaml:"expire_sweep_spec" env:"BILLING_EXPIRE_SWEEP_SPEC" env-default:"0 * * * *"`
	ReminderSweepSpec string `yaml:"reminder_sweep_spec" env:"BILLING_REMINDER_SWEEP_SPEC" env-default:"15 9 * * *"`
	CleanupSpec       string `yaml:"cleanup_spec" env:"BILLING_CLEANUP_SPEC" env-default:"45 3 * * 0"`
	MonthlyReportSpec string `yaml:"monthly_report_spec" env:"BILLING_MONTHLY_REPORT_SPEC" env-default:"0 6 1 * *"`

	// ReminderDays are the expiry reminder thresholds in days.
	ReminderDays []int `yaml:"reminder_days" env:"BILLING_REMINDER_DAYS" env-default:"14,7,3"`

	// NotificationRetentionDays is the minimum retention for read
	// notifications before the weekly cleanup may delete them.
	NotificationRetentionDays int `yaml:"notification_retention_days" env:"BILLING_NOTIFICATION_RETENTION_DAYS" env-default:"90"`

	// SweepPageSize bounds how many subscriptions a single sweep page
	// processes so one slow run cannot starve the next tick.
	SweepPageSize int `yaml:"sweep_page_size" env:"BILLING_SWEEP_PAGE_SIZE" env-default:"200"`
}

// Load reads configuration from path (when the file exists) and the
// environment. An empty path reads the environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, errors.Wrapf(err, "unable to read config file %q", path)
			}

			return cfg, nil
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, errors.Wrap(err, "unable to read config from environment")
	}

	return cfg, nil
}
