package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v4/stdlib"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/Susan56789/infinite-cargo-sub003/internal/config"
	"github.com/Susan56789/infinite-cargo-sub003/migrations"
)

var migrateCommand = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply database migrations",
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{"up", "down"},
	Run: func(cmd *cobra.Command, args []string) {
		cfg := resolveConfig()
		performMigration(cmd.Context(), cfg, args[0], false)
	},
}

func performMigration(_ context.Context, cfg *config.Config, direction string, exitOnError bool) {
	dir := migrate.Up
	if direction == "down" {
		dir = migrate.Down
	}

	db, err := sql.Open("pgx", cfg.Postgres.DataSource)
	if err != nil {
		migrationFailed(err, exitOnError)
		return
	}
	defer db.Close()

	applied, err := migrate.Exec(db, "postgres", migrations.Source(), dir)
	if err != nil {
		migrationFailed(err, exitOnError)
		return
	}

	fmt.Printf("applied %d migrations\n", applied)
}

func migrationFailed(err error, exitOnError bool) {
	fmt.Fprintln(os.Stderr, "migration failed:", err)
	if exitOnError {
		os.Exit(1)
	}
}
