package cmd

import (
	"context"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Susan56789/infinite-cargo-sub003/internal/app"
	"github.com/Susan56789/infinite-cargo-sub003/internal/service/plan"
)

var plansCommand = &cobra.Command{
	Use:   "plans",
	Short: "List the subscription plan catalog",
	Run:   listPlans,
}

func listPlans(_ *cobra.Command, _ []string) {
	ctx := context.Background()
	cfg := resolveConfig()

	service, err := app.New(ctx, cfg)
	if err != nil {
		os.Stderr.WriteString("unable to start: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer service.Shutdown(ctx)

	plans, err := service.Plans().ListAllPlans(ctx)
	if err != nil {
		service.Logger().Error().Err(err).Msg("unable to list plans")
		os.Exit(1)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Price", "Currency", "Cycle Days", "Max Loads", "Active", "Visible"})

	for _, p := range plans {
		maxLoads := strconv.Itoa(p.Features.MaxLoads)
		if p.Features.MaxLoads == plan.UnlimitedLoads {
			maxLoads = "unlimited"
		}

		table.Append([]string{
			p.ID,
			p.Name,
			p.Price.String(),
			p.Currency,
			strconv.Itoa(p.BillingCycleDays),
			maxLoads,
			strconv.FormatBool(p.IsActive),
			strconv.FormatBool(p.IsVisible),
		})
	}

	table.Render()
}
