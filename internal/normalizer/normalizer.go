// Package normalizer maps loosely-typed feed records onto storage.Pool rows.
package normalizer

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"mx-liquidity/internal/analytics"
	"mx-liquidity/internal/storage"
)

// ErrRecordSkipped marks a record excluded from persistence. It is counted, not reported.
var ErrRecordSkipped = errors.New("record skipped")

// DefaultMinLiquidityUSD excludes dust and abandoned pools.
const DefaultMinLiquidityUSD = 1000.0

// Field aliases tried in order; the first present field wins.
var (
	addressFields = []string{"address", "pairAddress", "id"}
	tokenAFields  = []string{"baseSymbol", "baseId", "firstToken.symbol"}
	tokenBFields  = []string{"quoteSymbol", "quoteId", "secondToken.symbol"}
	tvlFields     = []string{"totalValue", "tvl", "liquidityUsd"}
	volumeFields  = []string{"volume24h", "volume24hUsd", "volume"}
	priceFields   = []string{"price", "basePrice", "priceRatio"}
)

// Normalizer turns raw feed records into candidate pools.
type Normalizer struct {
	minLiquidity float64
}

// New builds a Normalizer; a non-positive floor selects DefaultMinLiquidityUSD.
func New(minLiquidityUSD float64) *Normalizer {
	if minLiquidityUSD <= 0 {
		minLiquidityUSD = DefaultMinLiquidityUSD
	}
	return &Normalizer{minLiquidity: minLiquidityUSD}
}

// Normalize converts one record observed at now. It returns an error wrapping
// ErrRecordSkipped when the record is malformed or under the liquidity floor.
// RiskScore carries the history-free score; callers re-score with snapshots.
func (n *Normalizer) Normalize(raw gjson.Result, now time.Time) (storage.Pool, error) {
	if !raw.IsObject() {
		return storage.Pool{}, fmt.Errorf("%w: record is %s, not an object", ErrRecordSkipped, raw.Type)
	}

	address := firstString(raw, addressFields)
	if address == "" {
		return storage.Pool{}, fmt.Errorf("%w: missing address", ErrRecordSkipped)
	}

	tvl := nonNegative(firstNumber(raw, tvlFields, 0))
	if tvl < n.minLiquidity {
		return storage.Pool{}, fmt.Errorf("%w: %s tvl %.2f below floor %.2f", ErrRecordSkipped, address, tvl, n.minLiquidity)
	}

	volume := nonNegative(firstNumber(raw, volumeFields, 0))
	price := firstNumber(raw, priceFields, 1)
	if price <= 0 {
		price = 1
	}

	return storage.Pool{
		Address:     address,
		TokenA:      tokenOrUnknown(firstString(raw, tokenAFields)),
		TokenB:      tokenOrUnknown(firstString(raw, tokenBFields)),
		TVLUSD:      tvl,
		APR:         analytics.EstimateAPR(volume, tvl),
		Volume24h:   volume,
		PriceRatio:  price,
		RiskScore:   analytics.ScoreWithBase(analytics.BaseRiskScore, 0, tvl, 0),
		LastUpdated: now.UTC(),
	}, nil
}

func firstString(raw gjson.Result, paths []string) string {
	for _, path := range paths {
		if v := raw.Get(path); v.Exists() && v.Type == gjson.String {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstNumber reads the first present numeric field; JSON numbers and numeric
// strings are accepted, anything else yields fallback.
func firstNumber(raw gjson.Result, paths []string, fallback float64) float64 {
	for _, path := range paths {
		v := raw.Get(path)
		if !v.Exists() {
			continue
		}
		if parsed, ok := parseNumber(v); ok {
			return parsed
		}
		return fallback
	}
	return fallback
}

func parseNumber(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		f := v.Float()
		return f, !math.IsNaN(f) && !math.IsInf(f, 0)
	case gjson.String:
		d, err := decimal.NewFromString(strings.TrimSpace(v.String()))
		if err != nil {
			return 0, false
		}
		f := d.InexactFloat64()
		return f, !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func tokenOrUnknown(symbol string) string {
	if symbol == "" {
		return storage.UnknownToken
	}
	return symbol
}
