package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mx-liquidity/internal/app"
)

var (
	showLimit   int
	showAddress string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display pools, or one pool's detail with --address",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			Address: showAddress,
			Out:     cmd.OutOrStdout(),
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of pools (or history points with --address) to display")
	showCmd.Flags().StringVar(&showAddress, "address", "", "Pool address to inspect")
}
