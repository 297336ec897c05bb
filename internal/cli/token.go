package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var metaShortToken string

var metaTokenCmd = &cobra.Command{
	Use:   "meta-token",
	Short: "Exchange a short-lived Meta user token for a long-lived one",
	RunE: func(cmd *cobra.Command, args []string) error {
		token := metaShortToken
		if token == "" {
			token = os.Getenv("META_SHORT_LIVED_TOKEN")
		}
		return getApp().ExchangeMetaToken(cmd.Context(), cmd.OutOrStdout(), token)
	},
}

func init() {
	metaTokenCmd.Flags().StringVar(&metaShortToken, "short-token", "", "Short-lived user token (defaults to $META_SHORT_LIVED_TOKEN)")
}
