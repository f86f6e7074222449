package cli

import (
	"github.com/spf13/cobra"

	"flowpower-sync/internal/app"
)

var quoteJSON bool

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Fetch the current price and print a one-off tariff breakdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Quote(cmd.Context(), app.QuoteOptions{JSON: quoteJSON})
	},
}

func init() {
	quoteCmd.Flags().BoolVar(&quoteJSON, "json", false, "Emit the quote as JSON")
}
