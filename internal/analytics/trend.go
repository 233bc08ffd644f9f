package analytics

import "math"

const (
	// MinHistory is the number of observations both detectors require.
	MinHistory = 15
	// ShortWindow is the "runner" window.
	ShortWindow = 5
	// LongWindow is the "walker" window.
	LongWindow = 15

	// DefaultCrossoverSensitivity is the fractional band around the long MA.
	DefaultCrossoverSensitivity = 0.10
	// DefaultSpikeMultiplier is how many long-window deviations the short window must exceed.
	DefaultSpikeMultiplier = 2.0
)

// TrendLabel names the direction a detector inferred.
type TrendLabel string

const (
	TrendUnknown TrendLabel = "Unknown"
	TrendRising  TrendLabel = "Rising"
	TrendFalling TrendLabel = "Falling"
	TrendStable  TrendLabel = "Stable"
	TrendSpiking TrendLabel = "Spiking"
)

// RiskTier is the coarse risk bucket attached to a trend.
type RiskTier string

const (
	TierUnknown  RiskTier = "UNKNOWN"
	TierLow      RiskTier = "LOW"
	TierMedium   RiskTier = "MEDIUM"
	TierHigh     RiskTier = "HIGH"
	TierCritical RiskTier = "CRITICAL"
)

// Trend is the classification of a history window.
// Short and Long carry the window statistics the decision was based on
// (moving averages for the crossover detector, standard deviations for the spike detector).
type Trend struct {
	Detector     string     `json:"detector"`
	Label        TrendLabel `json:"trend"`
	Tier         RiskTier   `json:"risk_level"`
	Short        float64    `json:"short"`
	Long         float64    `json:"long"`
	Insufficient bool       `json:"insufficient,omitempty"`
	Message      string     `json:"message"`
}

// DetectCrossover compares the 5-point moving average with the 15-point one.
// A non-positive sensitivity selects DefaultCrossoverSensitivity.
func DetectCrossover(history []float64, sensitivity float64) Trend {
	if len(history) < MinHistory {
		return insufficient("crossover")
	}
	if sensitivity <= 0 || !finite(sensitivity) {
		sensitivity = DefaultCrossoverSensitivity
	}

	shortMA := mean(tail(history, ShortWindow))
	longMA := mean(tail(history, LongWindow))

	trend := Trend{Detector: "crossover", Short: shortMA, Long: longMA}
	switch {
	case shortMA > longMA*(1+sensitivity):
		trend.Label, trend.Tier = TrendRising, TierHigh
		trend.Message = "Volatility is rising above average. High IL risk incoming."
	case shortMA < longMA*(1-sensitivity):
		trend.Label, trend.Tier = TrendFalling, TierLow
		trend.Message = "Volatility is dropping. Safer entry point."
	default:
		trend.Label, trend.Tier = TrendStable, TierMedium
		trend.Message = "Volatility is normal."
	}
	return trend
}

// DetectSpike flags a spike when the short-window deviation exceeds
// multiplier times the long-window deviation.
// A non-positive multiplier selects DefaultSpikeMultiplier.
func DetectSpike(history []float64, multiplier float64) Trend {
	if len(history) < MinHistory {
		return insufficient("spike")
	}
	if multiplier <= 0 || !finite(multiplier) {
		multiplier = DefaultSpikeMultiplier
	}

	shortStd := stdDev(tail(history, ShortWindow))
	longStd := stdDev(tail(history, LongWindow))
	return classifySpike(shortStd, longStd, multiplier)
}

func classifySpike(shortStd, longStd, multiplier float64) Trend {
	trend := Trend{Detector: "spike", Short: shortStd, Long: longStd}
	if shortStd > longStd*multiplier {
		trend.Label, trend.Tier = TrendSpiking, TierCritical
		trend.Message = "High IL risk: price divergence detected."
		return trend
	}
	trend.Label, trend.Tier = TrendStable, TierLow
	trend.Message = "Healthy consolidation."
	return trend
}

func insufficient(detector string) Trend {
	return Trend{
		Detector:     detector,
		Label:        TrendUnknown,
		Tier:         TierUnknown,
		Insufficient: true,
		Message:      "Not enough data",
	}
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the population standard deviation (divides by n).
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	avg := mean(values)
	var sq float64
	for _, v := range values {
		d := v - avg
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
