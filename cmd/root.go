// Package cmd hosts the CLI entrypoints.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Susan56789/infinite-cargo-sub003/internal/config"
)

var configPath string

var rootCommand = &cobra.Command{
	Use:   "infinite-cargo-billing",
	Short: "Infinite Cargo subscription and billing engine",
}

func init() {
	rootCommand.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "path to the config file")

	rootCommand.AddCommand(serveCommand)
	rootCommand.AddCommand(migrateCommand)
	rootCommand.AddCommand(plansCommand)
}

func Execute() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "unable to load config:", err)
		os.Exit(1)
	}

	return cfg
}
