package cli

import (
	"github.com/spf13/cobra"

	"alertcpl/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Push a synthetic ad sample through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), cmd.OutOrStdout(), simulateOpts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateOpts.Spend, "spend", 100, "Ad spend in account currency")
	simulateCmd.Flags().Int64Var(&simulateOpts.Leads, "leads", 1, "Attributed leads")
	simulateCmd.Flags().Float64Var(&simulateOpts.Threshold, "threshold", 50, "CPL threshold of the simulated account")
	simulateCmd.Flags().StringVar(&simulateOpts.ChatID, "chat-id", "", "Telegram chat to deliver the alert to (requires telegram.enabled)")
	simulateCmd.Flags().StringVar(&simulateOpts.AdName, "ad-name", "", "Ad name used in the rendered message")
}
