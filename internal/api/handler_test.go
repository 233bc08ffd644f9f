package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mx-liquidity/internal/analytics"
	"mx-liquidity/internal/config"
	"mx-liquidity/internal/metrics"
	"mx-liquidity/internal/service"
	"mx-liquidity/internal/storage"
)

type fakeReader struct {
	pools     []service.PoolView
	detail    service.PoolDetail
	err       error
	lastLimit int
	panics    bool
}

func (f *fakeReader) ListPools(context.Context) ([]service.PoolView, error) {
	if f.panics {
		panic("boom")
	}
	return f.pools, f.err
}

func (f *fakeReader) GetPoolDetail(_ context.Context, address string, limit int) (service.PoolDetail, error) {
	f.lastLimit = limit
	if f.err != nil {
		return service.PoolDetail{}, f.err
	}
	if address != f.detail.Pool.Address {
		return service.PoolDetail{}, fmt.Errorf("get pool %s: %w", address, storage.ErrNotFound)
	}
	return f.detail, nil
}

func newTestServer(reader PoolReader, gatherer prometheus.Gatherer) *Server {
	cfg := config.HTTPConfig{Host: "127.0.0.1", Port: 0, CORS: true}
	return NewServer(cfg, NewHandler(reader, zerolog.Nop()), gatherer, zerolog.Nop())
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestListPools(t *testing.T) {
	updated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reader := &fakeReader{pools: []service.PoolView{
		{Pool: storage.Pool{Address: "erd1b", TokenA: "WEGLD", TokenB: "USDC", TVLUSD: 200000, APR: 5.475, PriceRatio: 30, RiskScore: 15, LastUpdated: updated}},
		{Pool: storage.Pool{Address: "erd1a", TokenA: "MEX", TokenB: storage.UnknownToken, TVLUSD: 5000, PriceRatio: 1, RiskScore: 35, LastUpdated: updated}, Stale: true},
	}}
	s := newTestServer(reader, nil)

	rec := serve(s, http.MethodGet, "/api/pools")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "erd1b", body[0]["address"])
	assert.Equal(t, "WEGLD", body[0]["token_a"])
	assert.Equal(t, 200000.0, body[0]["tvl_usd"])
	assert.Equal(t, 5.475, body[0]["apr"])
	assert.Equal(t, false, body[0]["stale"])
	assert.Equal(t, true, body[1]["stale"])
	assert.Equal(t, "???", body[1]["token_b"])
}

func TestListPoolsEmptyIsArray(t *testing.T) {
	s := newTestServer(&fakeReader{pools: []service.PoolView{}}, nil)
	rec := serve(s, http.MethodGet, "/api/pools")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListPoolsError(t *testing.T) {
	s := newTestServer(&fakeReader{err: errors.New("db down")}, nil)
	rec := serve(s, http.MethodGet, "/api/pools")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPoolDetail(t *testing.T) {
	reader := &fakeReader{detail: service.PoolDetail{
		Pool:      service.PoolView{Pool: storage.Pool{Address: "erd1pool", PriceRatio: 2}},
		History:   []storage.Snapshot{{PoolAddress: "erd1pool", Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), PriceRatio: 2}},
		Scenarios: []analytics.Scenario{{Change: "-10%", IL: 0.138}, {Change: "0%", IL: 0}, {Change: "+10%", IL: 0.113}},
		Crossover: analytics.Trend{Detector: "crossover", Label: analytics.TrendUnknown, Tier: analytics.TierUnknown, Insufficient: true, Message: "Not enough data"},
		Spike:     analytics.Trend{Detector: "spike", Label: analytics.TrendUnknown, Tier: analytics.TierUnknown, Insufficient: true, Message: "Not enough data"},
	}}
	s := newTestServer(reader, nil)

	rec := serve(s, http.MethodGet, "/api/pool/erd1pool?limit=20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, reader.lastLimit)

	var body struct {
		Pool      map[string]any   `json:"pool"`
		History   []map[string]any `json:"history"`
		Scenarios []map[string]any `json:"scenarios"`
		Crossover map[string]any   `json:"crossover"`
		Spike     map[string]any   `json:"spike"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "erd1pool", body.Pool["address"])
	assert.Len(t, body.History, 1)
	require.Len(t, body.Scenarios, 3)
	assert.Equal(t, "0%", body.Scenarios[1]["change"])
	assert.Equal(t, "Unknown", body.Crossover["trend"])
	assert.Equal(t, "UNKNOWN", body.Spike["risk_level"])
}

func TestPoolDetailDefaultLimit(t *testing.T) {
	reader := &fakeReader{detail: service.PoolDetail{Pool: service.PoolView{Pool: storage.Pool{Address: "erd1pool"}}}}
	s := newTestServer(reader, nil)

	rec := serve(s, http.MethodGet, "/api/pool/erd1pool")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, reader.lastLimit)
}

func TestPoolDetailNotFound(t *testing.T) {
	reader := &fakeReader{detail: service.PoolDetail{Pool: service.PoolView{Pool: storage.Pool{Address: "erd1pool"}}}}
	s := newTestServer(reader, nil)

	rec := serve(s, http.MethodGet, "/api/pool/erd1missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "erd1missing")
}

func TestPoolDetailRejectsBadLimit(t *testing.T) {
	reader := &fakeReader{detail: service.PoolDetail{Pool: service.PoolView{Pool: storage.Pool{Address: "erd1pool"}}}}
	s := newTestServer(reader, nil)

	for _, q := range []string{"limit=-1", "limit=20000", "limit=abc"} {
		rec := serve(s, http.MethodGet, "/api/pool/erd1pool?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	s := newTestServer(&fakeReader{panics: true}, nil)
	rec := serve(s, http.MethodGet, "/api/pools")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthAndPreflight(t *testing.T) {
	s := newTestServer(&fakeReader{}, nil)

	rec := serve(s, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(s, http.MethodOptions, "/api/pools")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodGet)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := metrics.New(reg)
	recorder.RecordOverlap()
	s := newTestServer(&fakeReader{}, reg)

	rec := serve(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "mxliquidity_refresh_overlaps_total 1"))
}

func TestServerAddr(t *testing.T) {
	s := NewServer(config.HTTPConfig{Host: "0.0.0.0", Port: 3000}, nil, nil, zerolog.Nop())
	assert.Equal(t, "0.0.0.0:3000", s.Addr())
}
