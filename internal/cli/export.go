package cli

import (
	"github.com/spf13/cobra"

	"albion-price-alerts/internal/app"
)

var exportOpts app.ExportOptions

var exportCmd = &cobra.Command{
	Use:   "export ITEM",
	Short: "Export an item's price history as CSV and/or PNG chart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := exportOpts
		opts.History.ItemID = args[0]
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	bindHistoryFlags(exportCmd, &exportOpts.History)
	exportCmd.Flags().StringVar(&exportOpts.PNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportOpts.CSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportOpts.MaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
