package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/Susan56789/infinite-cargo-sub003/internal/app"
	"github.com/Susan56789/infinite-cargo-sub003/internal/config"
	"github.com/Susan56789/infinite-cargo-sub003/pkg/graceful"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Start the subscription billing scheduler",
	Run:   serve,
}

func serve(_ *cobra.Command, _ []string) {
	ctx := context.Background()
	cfg := resolveConfig()

	service, err := app.New(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("unable to start: " + err.Error() + "\n")
		os.Exit(1)
	}

	setupOnBeforeRun(service, cfg)

	if err := service.RunScheduler(ctx); err != nil {
		service.Logger().Error().Err(err).Msg("unable to run scheduler")
		os.Exit(1)
	}

	if err := graceful.WaitShutdown(); err != nil {
		service.Logger().Error().Err(err).Msg("unable to shutdown service gracefully")
		return
	}

	service.Logger().Info().Msg("shutdown complete")
}

func setupOnBeforeRun(service *app.App, cfg *config.Config) {
	service.OnBeforeRun(func(ctx context.Context, a *app.App) error {
		if cfg.Postgres.MigrateOnStart {
			a.Logger().Info().Msg("Enabled migration on start")
			performMigration(ctx, cfg, "up", true)
		}

		return nil
	})
}
