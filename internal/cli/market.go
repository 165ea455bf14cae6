package cli

import (
	"github.com/spf13/cobra"

	"albion-price-alerts/internal/app"
)

var (
	pricesOpts  app.PricesOptions
	historyOpts app.HistoryOptions
)

var pricesCmd = &cobra.Command{
	Use:   "prices ITEM...",
	Short: "Show current sell quotes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := pricesOpts
		opts.Items = args
		return getApp().Prices(cmd.Context(), opts)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history ITEM",
	Short: "Show price history and the baseline computed over it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := historyOpts
		opts.ItemID = args[0]
		return getApp().History(cmd.Context(), opts)
	},
}

func bindHistoryFlags(cmd *cobra.Command, opts *app.HistoryOptions) {
	flags := cmd.Flags()
	flags.StringSliceVar(&opts.Cities, "cities", nil, "Cities to include (defaults to config)")
	flags.IntVar(&opts.Days, "days", 0, "History window in days (1-30, default 7)")
	flags.StringVar(&opts.Resolution, "resolution", "", "Bucket resolution: 1h, 6h or 24h (default 6h)")
	flags.StringVar(&opts.Statistic, "stat", "", "Baseline statistic: median or mean (default median)")
	flags.IntVar(&opts.MinPoints, "min-points", 0, "Minimum usable points for a baseline (default 10)")
}

func init() {
	pricesCmd.Flags().StringSliceVar(&pricesOpts.Cities, "cities", nil, "Cities to include (defaults to config)")
	pricesCmd.Flags().IntSliceVar(&pricesOpts.Qualities, "qualities", nil, "Qualities to include (1-5)")

	bindHistoryFlags(historyCmd, &historyOpts)
}
