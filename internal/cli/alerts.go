package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"albion-price-alerts/internal/app"
)

var alertOpts app.AlertOptions

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage alert owners",
}

var usersAddCmd = &cobra.Command{
	Use:   "add EMAIL",
	Short: "Register an alert owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().AddUser(cmd.Context(), args[0])
		return err
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage price alerts",
}

var alertsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a price alert",
	Example: `  albionwatch alerts add --email me@example.com --item T4_BAG --target 1500
  albionwatch alerts add --email me@example.com --item T6_2H_BOW --percent 20 --ai --ai-days 14 --ai-stat mean`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().AddAlert(cmd.Context(), alertOpts)
		return err
	},
}

var alertsListUser int64

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List price alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.Context(), app.ListOptions{UserID: alertsListUser})
	},
}

var alertsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a price alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return getApp().DeleteAlert(cmd.Context(), id)
	},
}

var alertsDisableCmd = &cobra.Command{
	Use:   "disable ID",
	Short: "Stop evaluating a price alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return getApp().SetAlertActive(cmd.Context(), id, false)
	},
}

var alertsEnableCmd = &cobra.Command{
	Use:   "enable ID",
	Short: "Resume evaluating a price alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return getApp().SetAlertActive(cmd.Context(), id, true)
	},
}

var notificationsOpts app.ListOptions

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Inspect in-app notifications",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest notifications of a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if notificationsOpts.UserID <= 0 {
			return fmt.Errorf("--user must be provided")
		}
		return getApp().ListNotifications(cmd.Context(), notificationsOpts)
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read ID",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return getApp().MarkNotificationRead(cmd.Context(), id)
	},
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func bindAlertFlags(cmd *cobra.Command, opts *app.AlertOptions) {
	flags := cmd.Flags()
	flags.StringVar(&opts.Email, "email", "", "Owner email address")
	flags.StringVar(&opts.ItemID, "item", "", "Item identifier, e.g. T4_BAG")
	flags.StringVar(&opts.DisplayName, "name", "", "Display name used in notifications")
	flags.StringVar(&opts.City, "city", "", "Restrict quotes to one city")
	flags.IntVar(&opts.Quality, "quality", 0, "Restrict quotes to one quality (1-5)")
	flags.StringVar(&opts.TargetPrice, "target", "", "Fire when the price is at or below this value")
	flags.StringVar(&opts.ExpectedPrice, "expected", "", "Manual expected price for the percentage rule")
	flags.StringVar(&opts.PercentBelow, "percent", "", "Fire when the price is this many percent below the expected price")
	flags.BoolVar(&opts.UseAIExpected, "ai", false, "Derive the expected price from market history")
	flags.IntVar(&opts.AIDays, "ai-days", 0, "History window in days (1-30, default 7)")
	flags.StringVar(&opts.AIResolution, "ai-resolution", "", "History resolution: 1h, 6h or 24h (default 6h)")
	flags.StringVar(&opts.AIStat, "ai-stat", "", "Baseline statistic: median or mean (default median)")
	flags.IntVar(&opts.AIMinPoints, "ai-min-points", 0, "Minimum usable history points (default 10)")
	flags.IntVar(&opts.CooldownMinutes, "cooldown", 60, "Minutes between two notifications of the alert")
}

func init() {
	usersCmd.AddCommand(usersAddCmd)

	bindAlertFlags(alertsAddCmd, &alertOpts)
	alertsAddCmd.Flags().BoolVar(&alertOpts.Inactive, "inactive", false, "Create the alert disabled")
	_ = alertsAddCmd.MarkFlagRequired("email")
	_ = alertsAddCmd.MarkFlagRequired("item")

	alertsListCmd.Flags().Int64Var(&alertsListUser, "user", 0, "Only list alerts of this user id")

	alertsCmd.AddCommand(alertsAddCmd, alertsListCmd, alertsDeleteCmd, alertsDisableCmd, alertsEnableCmd)

	notificationsListCmd.Flags().Int64Var(&notificationsOpts.UserID, "user", 0, "User id")
	notificationsListCmd.Flags().BoolVar(&notificationsOpts.UnreadOnly, "unread", false, "Only unread notifications")
	notificationsListCmd.Flags().IntVar(&notificationsOpts.Limit, "limit", 20, "Number of notifications to display")
	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadCmd)
}
