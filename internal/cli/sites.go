package cli

import (
	"github.com/spf13/cobra"
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List Amber sites visible to the configured API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sites(cmd.Context())
	},
}
