package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"albion-price-alerts/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "用给定价格模拟一次告警评估",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOpts.CurrentPrice == "" {
			return errors.New("--price 必须提供")
		}
		if simulateOpts.Alert.ItemID == "" {
			simulateOpts.Alert.ItemID = "SIMULATED_ITEM"
		}
		if simulateOpts.Alert.Email == "" {
			simulateOpts.Alert.Email = "simulated@example.com"
		}
		_, err := getApp().SimulateAlert(cmd.Context(), simulateOpts)
		return err
	},
}

func init() {
	bindAlertFlags(simulateCmd, &simulateOpts.Alert)
	simulateCmd.Flags().StringVar(&simulateOpts.CurrentPrice, "price", "", "模拟的当前最低卖价")
	simulateCmd.Flags().StringVar(&simulateOpts.City, "quote-city", "", "报价所在城市")
	simulateCmd.Flags().StringSliceVar(&simulateOpts.HistoryPrices, "history", nil, "模拟的历史均价，逗号分隔")
	simulateCmd.Flags().BoolVar(&simulateOpts.SendEmail, "send-email", false, "通过已配置的通道真实发送邮件")
}
