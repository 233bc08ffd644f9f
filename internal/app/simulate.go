package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"mx-liquidity/internal/alerting"
	"mx-liquidity/internal/analytics"
)

// SimulationResult is what Simulate computed.
type SimulationResult struct {
	Scenarios []analytics.Scenario
	CustomIL  *float64
	RiskScore int
}

// Simulate 根据给定的价格、TVL 与波动率计算无常损失情景和风险分。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) (SimulationResult, error) {
	if opts.Price <= 0 || math.IsNaN(opts.Price) || math.IsInf(opts.Price, 0) {
		return SimulationResult{}, errors.New("--price 必须大于 0")
	}
	if opts.TVL < 0 || opts.Volatility < 0 {
		return SimulationResult{}, errors.New("--tvl 与 --volatility 不能为负")
	}
	if opts.ChangePct < -100 {
		return SimulationResult{}, errors.New("--change 不能低于 -100")
	}

	scenarios, err := analytics.Scenarios(opts.Price)
	if err != nil {
		return SimulationResult{}, err
	}
	result := SimulationResult{Scenarios: scenarios}

	var il float64
	if opts.ChangePct != 0 {
		il, err = analytics.ImpermanentLoss(opts.Price, opts.Price*(1+opts.ChangePct/100))
		if err != nil {
			return SimulationResult{}, err
		}
		result.CustomIL = &il
	}
	result.RiskScore = analytics.ScoreWithBase(analytics.BaseRiskScore, opts.Volatility, opts.TVL, il)

	out := stdout(opts.Out)
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Move\tImpermanent Loss%")
	for _, s := range scenarios {
		fmt.Fprintf(writer, "%s\t%s\n", s.Change, formatFloat(s.IL, 4))
	}
	if result.CustomIL != nil {
		fmt.Fprintf(writer, "%s%%\t%s\n", decimal.NewFromFloat(opts.ChangePct).StringFixed(2), formatFloat(il, 4))
	}
	writer.Flush()
	fmt.Fprintf(out, "\nRisk score: %d\n", result.RiskScore)

	return result, nil
}

// SimulateAlert 通过已配置的告警通道发送一条模拟的价格异动告警。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	score := analytics.ScoreWithBase(analytics.BaseRiskScore, opts.Volatility, opts.TVL, 0)
	multiplier := a.Config.Analytics.SpikeMultiplier
	if multiplier <= 0 {
		multiplier = analytics.DefaultSpikeMultiplier
	}
	note := alerting.Notification{
		PoolAddress: "simulated",
		TokenA:      "SIM",
		TokenB:      "SIM",
		DetectedAt:  time.Now().UTC(),
		PriceRatio:  decimal.NewFromFloat(opts.Price),
		ShortStd:    decimal.NewFromFloat(opts.Volatility * multiplier * 1.5),
		LongStd:     decimal.NewFromFloat(opts.Volatility),
		Multiplier:  decimal.NewFromFloat(multiplier),
		RiskScore:   score,
		RiskTier:    string(analytics.TierCritical),
		Message:     "Simulated alert",
	}
	return notifier.Notify(ctx, note)
}
