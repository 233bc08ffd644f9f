// Package analytics holds the pure risk and volatility computations used when scoring pools.
package analytics

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput marks arguments outside a formula's domain.
var ErrInvalidInput = errors.New("analytics: invalid input")

const (
	// FeeRate is the swap fee share credited to liquidity providers.
	FeeRate = 0.003
	// DaysPerYear annualises daily fee income.
	DaysPerYear = 365
	// MaxAPR caps estimated yield so near-empty pools do not report outliers.
	MaxAPR = 150.0

	// BaseRiskScore is the floor every freshly normalized pool starts from.
	BaseRiskScore = 15
	// LowLiquidityTVL is the TVL below which the low-liquidity penalty applies.
	LowLiquidityTVL = 1_000_000.0
	// LowLiquidityPenalty is added to the score of pools under LowLiquidityTVL.
	LowLiquidityPenalty = 20.0

	volatilityWeight = 100.0
	ilWeight         = 2.0

	minRiskScore = 0
	maxRiskScore = 100
)

// Scenario is one simulated price move and the impermanent loss it would cause.
type Scenario struct {
	Change string  `json:"change"`
	IL     float64 `json:"il"`
}

var scenarioMoves = []struct {
	label      string
	multiplier float64
}{
	{"-10%", 0.9},
	{"0%", 1.0},
	{"+10%", 1.1},
}

// ImpermanentLoss returns the loss, in percent, of an LP position versus holding
// when the price ratio moves from startPrice to endPrice.
func ImpermanentLoss(startPrice, endPrice float64) (float64, error) {
	if !finite(startPrice) || !finite(endPrice) {
		return 0, fmt.Errorf("%w: prices must be finite", ErrInvalidInput)
	}
	if startPrice <= 0 {
		return 0, fmt.Errorf("%w: start price must be positive, got %v", ErrInvalidInput, startPrice)
	}
	if endPrice < 0 {
		return 0, fmt.Errorf("%w: end price must not be negative, got %v", ErrInvalidInput, endPrice)
	}

	ratio := endPrice / startPrice
	il := 2*math.Sqrt(ratio)/(1+ratio) - 1
	return math.Abs(il * 100), nil
}

// Volatility is the population standard deviation of simple returns across prices.
// Fewer than two prices carry no return and yield zero.
func Volatility(prices []float64) (float64, error) {
	if len(prices) < 2 {
		return 0, nil
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if prev <= 0 || !finite(prev) || !finite(prices[i]) {
			return 0, fmt.Errorf("%w: price at %d must be positive and finite", ErrInvalidInput, i-1)
		}
		returns = append(returns, (prices[i]-prev)/prev)
	}

	return stdDev(returns), nil
}

// RiskScore weights volatility, impermanent loss and liquidity into a 0-100 score.
func RiskScore(volatility, tvl, il float64) int {
	return ScoreWithBase(0, volatility, tvl, il)
}

// ScoreWithBase is RiskScore starting from base instead of zero.
func ScoreWithBase(base, volatility, tvl, il float64) int {
	score := base + sanitize(volatility)*volatilityWeight + sanitize(il)*ilWeight
	if tvl < LowLiquidityTVL {
		score += LowLiquidityPenalty
	}
	score = math.Min(math.Max(math.Round(score), minRiskScore), maxRiskScore)
	return int(score)
}

// EstimateAPR derives fee yield from 24h volume relative to locked liquidity, in percent.
func EstimateAPR(volume24h, tvl float64) float64 {
	if tvl <= 0 || volume24h <= 0 {
		return 0
	}
	apr := (volume24h * FeeRate * DaysPerYear / tvl) * 100
	return math.Min(apr, MaxAPR)
}

// Scenarios simulates -10%, 0% and +10% moves from price.
func Scenarios(price float64) ([]Scenario, error) {
	out := make([]Scenario, 0, len(scenarioMoves))
	for _, move := range scenarioMoves {
		if move.multiplier == 1.0 {
			out = append(out, Scenario{Change: move.label, IL: 0})
			continue
		}
		il, err := ImpermanentLoss(price, price*move.multiplier)
		if err != nil {
			return nil, err
		}
		out = append(out, Scenario{Change: move.label, IL: il})
	}
	return out, nil
}

// sanitize drops negative and non-finite contributions.
func sanitize(v float64) float64 {
	if !finite(v) || v < 0 {
		return 0
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
