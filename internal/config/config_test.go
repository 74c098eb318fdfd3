package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "0 * * * *", cfg.Billing.ExpireSweepSpec)
	assert.Equal(t, "15 9 * * *", cfg.Billing.ReminderSweepSpec)
	assert.Equal(t, "45 3 * * 0", cfg.Billing.CleanupSpec)
	assert.Equal(t, "0 6 1 * *", cfg.Billing.MonthlyReportSpec)
	assert.Equal(t, []int{14, 7, 3}, cfg.Billing.ReminderDays)
	assert.Equal(t, 90, cfg.Billing.NotificationRetentionDays)
	assert.Equal(t, 200, cfg.Billing.SweepPageSize)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: production
logger:
  level: warn
  pretty: true
postgres:
  data_source: postgres://app@localhost:5432/billing
  migrate_on_start: true
billing:
  reminder_days: [30, 14, 7, 3]
  sweep_page_size: 500
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.True(t, cfg.Logger.Pretty)
	assert.True(t, cfg.Postgres.MigrateOnStart)
	assert.Equal(t, []int{30, 14, 7, 3}, cfg.Billing.ReminderDays)
	assert.Equal(t, 500, cfg.Billing.SweepPageSize)
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("POSTGRES_DATA_SOURCE", "postgres://env@localhost:5432/billing")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env@localhost:5432/billing", cfg.Postgres.DataSource)
}
