package cli

import (
	"github.com/spf13/cobra"

	"albion-price-alerts/internal/app"
)

var backfillDryRun bool

var backfillCmd = &cobra.Command{
	Use:   "backfill-baselines",
	Short: "Recompute and store the expected price of every AI alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().BackfillBaselines(cmd.Context(), app.BackfillOptions{DryRun: backfillDryRun})
	},
}

func init() {
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Compute baselines without writing to storage")
}
