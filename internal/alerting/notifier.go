// Package alerting 负责价格异动告警的渲染、冷却与投递。
package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Notification 封装一次价格异动告警的上下文。
type Notification struct {
	PoolAddress string
	TokenA      string
	TokenB      string
	DetectedAt  time.Time
	PriceRatio  decimal.Decimal
	ShortStd    decimal.Decimal
	LongStd     decimal.Decimal
	Multiplier  decimal.Decimal
	RiskScore   int
	RiskTier    string
	Message     string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Render formats the notification as plain multi-line text.
func (n Notification) Render() string {
	lines := []string{
		"[MultiversX Pool Spike]",
		"Pool: " + n.TokenA + "/" + n.TokenB,
		"Address: " + n.PoolAddress,
		"Detected: " + n.DetectedAt.UTC().Format(time.RFC3339) + " UTC",
		"Price ratio: " + n.PriceRatio.StringFixed(6),
		fmt.Sprintf("Std dev: short %s / long %s (x%s)",
			n.ShortStd.StringFixed(6), n.LongStd.StringFixed(6), n.Multiplier.StringFixed(2)),
		fmt.Sprintf("Risk score: %d", n.RiskScore),
	}
	if n.RiskTier != "" {
		lines = append(lines, "Risk level: "+n.RiskTier)
	}
	if n.Message != "" {
		lines = append(lines, n.Message)
	}
	return strings.Join(lines, "\n")
}
