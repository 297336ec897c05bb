package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled reconciliation loop and HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one reconciliation cycle now and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context(), cmd.OutOrStdout())
	},
}

var syncNamesCmd = &cobra.Command{
	Use:   "sync-names",
	Short: "Refresh account names from the Meta Graph API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SyncNames(cmd.Context(), cmd.OutOrStdout())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}
