package cli

import (
	"github.com/spf13/cobra"

	"mx-liquidity/internal/app"
)

var (
	simulatePrice      float64
	simulateTVL        float64
	simulateVolatility float64
	simulateChange     float64
	simulateAlert      bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "模拟价格变动下的无常损失与风险分",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Price:      simulatePrice,
			TVL:        simulateTVL,
			Volatility: simulateVolatility,
			ChangePct:  simulateChange,
			Out:        cmd.OutOrStdout(),
		}
		if _, err := getApp().Simulate(cmd.Context(), opts); err != nil {
			return err
		}
		if simulateAlert {
			return getApp().SimulateAlert(cmd.Context(), opts)
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 1, "当前价格比")
	simulateCmd.Flags().Float64Var(&simulateTVL, "tvl", 0, "池子 TVL (USD)")
	simulateCmd.Flags().Float64Var(&simulateVolatility, "volatility", 0, "收益率标准差，例如 0.05")
	simulateCmd.Flags().Float64Var(&simulateChange, "change", 0, "自定义价格变动百分比，例如 -25")
	simulateCmd.Flags().BoolVar(&simulateAlert, "alert", false, "同时通过已配置的告警通道发送一条模拟告警")
}
