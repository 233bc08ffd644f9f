package cli

import (
	"github.com/spf13/cobra"
)

var runNoHTTP bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the periodic refresh and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if runNoHTTP {
			a.Config.HTTP.Enabled = false
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoHTTP, "no-http", false, "Run only the refresh loop without the HTTP API")
}
