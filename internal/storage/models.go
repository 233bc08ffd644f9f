package storage

import "time"

// UnknownToken is recorded when the feed omits a token symbol.
const UnknownToken = "???"

// Pool is the current state of one liquidity pool, keyed by address.
type Pool struct {
	Address     string    `json:"address"`
	TokenA      string    `json:"token_a"`
	TokenB      string    `json:"token_b"`
	TVLUSD      float64   `json:"tvl_usd"`
	APR         float64   `json:"apr"`
	Volume24h   float64   `json:"volume_24h"`
	PriceRatio  float64   `json:"price_ratio"`
	RiskScore   int       `json:"risk_score"`
	LastUpdated time.Time `json:"last_updated"`
}

// Snapshot is one append-only price ratio observation.
type Snapshot struct {
	PoolAddress string    `json:"pool_address"`
	Timestamp   time.Time `json:"timestamp"`
	PriceRatio  float64   `json:"price_ratio"`
}

// PriceRatios extracts the ratio series from time-ordered snapshots.
func PriceRatios(history []Snapshot) []float64 {
	out := make([]float64, len(history))
	for i, snap := range history {
		out[i] = snap.PriceRatio
	}
	return out
}
