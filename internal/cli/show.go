package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"alertcpl/internal/app"
)

var (
	showLimit     int
	showAccountID int64
	showAlerts    bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent CPL logs or alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:     showLimit,
			AccountID: showAccountID,
			Alerts:    showAlerts,
		}

		return getApp().Show(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display (max 500)")
	showCmd.Flags().Int64Var(&showAccountID, "account-id", 0, "Only show rows for this internal account id")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show alert logs instead of CPL logs")
}
