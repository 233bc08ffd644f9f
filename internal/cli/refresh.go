package cli

import (
	"github.com/spf13/cobra"

	"mx-liquidity/internal/app"
)

var refreshDryRun bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one refresh cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Refresh(cmd.Context(), app.RefreshOptions{
			DryRun: refreshDryRun,
			Out:    cmd.OutOrStdout(),
		})
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshDryRun, "dry-run", false, "Fetch and score without writing to storage")
}
