package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"mx-liquidity/internal/alerting"
	"mx-liquidity/internal/analytics"
	"mx-liquidity/internal/cache"
	"mx-liquidity/internal/config"
	"mx-liquidity/internal/fetcher"
	"mx-liquidity/internal/scheduler"
	"mx-liquidity/internal/storage"
)

var cycleAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubFeed struct {
	body string
	err  error
}

func (f *stubFeed) FetchPools(context.Context) ([]gjson.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return gjson.Parse(f.body).Array(), nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

type memoryCache struct {
	pools       []storage.Pool
	hit         bool
	invalidated int
}

func (c *memoryCache) GetPools(context.Context) ([]storage.Pool, error) {
	if !c.hit {
		return nil, cache.ErrCacheMiss
	}
	return c.pools, nil
}

func (c *memoryCache) SetPools(_ context.Context, pools []storage.Pool) error {
	c.pools, c.hit = pools, true
	return nil
}

func (c *memoryCache) Invalidate(context.Context) error {
	c.pools, c.hit = nil, false
	c.invalidated++
	return nil
}

type lockedStore struct {
	*storage.MemoryStore
	acquired bool
}

func (l *lockedStore) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{Interval: time.Minute},
		Analytics: config.AnalyticsConfig{
			MinLiquidityUSD:      1000,
			CrossoverSensitivity: analytics.DefaultCrossoverSensitivity,
			SpikeMultiplier:      analytics.DefaultSpikeMultiplier,
			VolatilityWindow:     30,
			StaleAfter:           30 * time.Minute,
		},
		Alerting: config.AlertingConfig{Cooldown: time.Hour},
	}
}

func newTestService(cfg *config.Config, feed fetcher.PoolFeed, repo storage.Repository, pc cache.PoolCache, notifier alerting.Notifier) *Service {
	svc := New(cfg, nil, feed, repo, pc, notifier, nil, zerolog.Nop())
	svc.now = func() time.Time { return cycleAt }
	return svc
}

func seedHistory(t *testing.T, store storage.Repository, address string, ratios ...float64) {
	t.Helper()
	for i, r := range ratios {
		require.NoError(t, store.RecordSnapshot(context.Background(), storage.Snapshot{
			PoolAddress: address,
			Timestamp:   cycleAt.Add(time.Duration(i-len(ratios)) * 5 * time.Minute),
			PriceRatio:  r,
		}))
	}
}

func TestRefreshCycleEndToEnd(t *testing.T) {
	store := storage.NewMemoryStore()
	feed := &stubFeed{body: `[
		{"address":"erd1dust","baseSymbol":"AAA","quoteSymbol":"BBB","totalValue":50,"volume24h":10,"price":1},
		{"address":"erd1good","baseSymbol":"WEGLD","quoteSymbol":"USDC","totalValue":100000,"volume24h":5000,"price":2}
	]`}
	svc := newTestService(testConfig(), feed, store, nil, nil)

	report, err := svc.RefreshCycle(context.Background(), cycleAt)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)

	pools, err := svc.ListPools(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 1)
	got := pools[0]
	assert.Equal(t, "erd1good", got.Address)
	assert.InDelta(t, 5.475, got.APR, 1e-9)
	assert.Equal(t, 35, got.RiskScore, "base 15 + low liquidity 20")
	assert.Equal(t, cycleAt, got.LastUpdated)
	assert.False(t, got.Stale)

	history, err := store.History(context.Background(), "erd1good")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 2.0, history[0].PriceRatio)
	assert.Equal(t, cycleAt, history[0].Timestamp)
}

func TestRefreshCycleSkipsBelowFloor(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newTestService(testConfig(), &stubFeed{body: `[{"address":"erd1small","totalValue":500}]`}, store, nil, nil)

	report, err := svc.RefreshCycle(context.Background(), cycleAt)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)

	pools, err := svc.ListPools(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pools)

	_, err = svc.GetPoolDetail(context.Background(), "erd1small", 0)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRefreshCycleFetchFailureWritesNothing(t *testing.T) {
	store := storage.NewMemoryStore()
	pc := &memoryCache{}
	feed := &stubFeed{err: fmt.Errorf("%w: status 503", fetcher.ErrFetchFailure)}
	svc := newTestService(testConfig(), feed, store, pc, nil)

	_, err := svc.RefreshCycle(context.Background(), cycleAt)
	assert.ErrorIs(t, err, fetcher.ErrFetchFailure)
	assert.Zero(t, pc.invalidated)

	pools, err := store.ListPools(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pools)
}

func TestRefreshCycleRescoresWithHistory(t *testing.T) {
	store := storage.NewMemoryStore()
	seedHistory(t, store, "erd1calm", 1.0, 1.1)
	seedHistory(t, store, "erd1wild", 1.0, 2.0)
	feed := &stubFeed{body: `[
		{"address":"erd1calm","totalValue":100000,"price":1.21},
		{"address":"erd1wild","totalValue":100000,"price":1}
	]`}
	svc := newTestService(testConfig(), feed, store, nil, nil)

	_, err := svc.RefreshCycle(context.Background(), cycleAt)
	require.NoError(t, err)

	// 收益率恒为 10%，波动率为 0；IL(1, 1.21) ≈ 0.452%
	calm, err := store.GetPool(context.Background(), "erd1calm")
	require.NoError(t, err)
	assert.Equal(t, 36, calm.RiskScore)

	wild, err := store.GetPool(context.Background(), "erd1wild")
	require.NoError(t, err)
	assert.Equal(t, 100, wild.RiskScore, "clamped")
}

func TestRefreshCycleHonoursAdvisoryLock(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.AdvisoryLockKey = 42
	store := &lockedStore{MemoryStore: storage.NewMemoryStore()}
	svc := newTestService(cfg, &stubFeed{body: `[{"address":"erd1a","totalValue":5000}]`}, store, nil, nil)

	report, err := svc.RefreshCycle(context.Background(), cycleAt)
	require.NoError(t, err)
	assert.True(t, report.Locked)
	pools, _ := store.ListPools(context.Background())
	assert.Empty(t, pools)

	store.acquired = true
	report, err = svc.RefreshCycle(context.Background(), cycleAt)
	require.NoError(t, err)
	assert.False(t, report.Locked)
	assert.Equal(t, 1, report.Processed)
}

func TestListPoolsUsesCacheAndCycleInvalidates(t *testing.T) {
	store := storage.NewMemoryStore()
	pc := &memoryCache{}
	svc := newTestService(testConfig(), &stubFeed{body: `[{"address":"erd1a","totalValue":5000}]`}, store, pc, nil)

	_, err := svc.RefreshCycle(context.Background(), cycleAt)
	require.NoError(t, err)
	assert.Equal(t, 1, pc.invalidated)

	_, err = svc.ListPools(context.Background())
	require.NoError(t, err)
	require.True(t, pc.hit)

	// 缓存命中时不再读库
	require.NoError(t, store.UpsertPool(context.Background(), storage.Pool{Address: "erd1b", TVLUSD: 9000, LastUpdated: cycleAt}))
	pools, err := svc.ListPools(context.Background())
	require.NoError(t, err)
	assert.Len(t, pools, 1)
}

func TestListPoolsMarksStaleRows(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertPool(ctx, storage.Pool{Address: "erd1old", TVLUSD: 9000, PriceRatio: 1, LastUpdated: cycleAt.Add(-2 * time.Hour)}))
	require.NoError(t, store.UpsertPool(ctx, storage.Pool{Address: "erd1new", TVLUSD: 5000, PriceRatio: 1, LastUpdated: cycleAt.Add(-time.Minute)}))
	svc := newTestService(testConfig(), &stubFeed{}, store, nil, nil)

	pools, err := svc.ListPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, "erd1old", pools[0].Address)
	assert.True(t, pools[0].Stale)
	assert.False(t, pools[1].Stale)
}

func TestGetPoolDetail(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	ratios := make([]float64, 0, 20)
	for i := 0; i < 15; i++ {
		ratios = append(ratios, 1)
	}
	ratios = append(ratios, 2, 2, 2, 2, 2)
	seedHistory(t, store, "erd1pool", ratios...)
	require.NoError(t, store.UpsertPool(ctx, storage.Pool{Address: "erd1pool", TVLUSD: 9000, PriceRatio: 2, LastUpdated: cycleAt}))
	svc := newTestService(testConfig(), &stubFeed{}, store, nil, nil)

	detail, err := svc.GetPoolDetail(ctx, "erd1pool", 5)
	require.NoError(t, err)
	assert.Len(t, detail.History, 5)
	assert.Equal(t, 2.0, detail.History[0].PriceRatio)
	require.Len(t, detail.Scenarios, 3)
	assert.Equal(t, "0%", detail.Scenarios[1].Change)
	assert.Zero(t, detail.Scenarios[1].IL)
	assert.Equal(t, analytics.TrendRising, detail.Crossover.Label)
	assert.False(t, detail.Spike.Insufficient)
	assert.Greater(t, detail.Volatility, 0.0)

	full, err := svc.GetPoolDetail(ctx, "erd1pool", 0)
	require.NoError(t, err)
	assert.Len(t, full.History, 20)
}

func TestGetPoolDetailShortHistory(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	seedHistory(t, store, "erd1young", 1, 1.1)
	require.NoError(t, store.UpsertPool(ctx, storage.Pool{Address: "erd1young", TVLUSD: 9000, PriceRatio: 1.1, LastUpdated: cycleAt}))
	svc := newTestService(testConfig(), &stubFeed{}, store, nil, nil)

	detail, err := svc.GetPoolDetail(ctx, "erd1young", 0)
	require.NoError(t, err)
	assert.True(t, detail.Crossover.Insufficient)
	assert.Equal(t, analytics.TierUnknown, detail.Spike.Tier)
}

// spikeFixture 前 10 个点等于短窗口均值，短/长标准差之比达到上限 √3。
func spikeFixture(t *testing.T, store storage.Repository, address string) {
	ratios := make([]float64, 0, 14)
	for i := 0; i < 10; i++ {
		ratios = append(ratios, 1.4)
	}
	ratios = append(ratios, 1, 2, 1, 2)
	seedHistory(t, store, address, ratios...)
}

func TestSpikeAlertSentOnceWithinCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.Enabled = true
	cfg.Analytics.SpikeMultiplier = 1.5
	store := storage.NewMemoryStore()
	spikeFixture(t, store, "erd1spike")
	notifier := &recordingNotifier{}
	feed := &stubFeed{body: `[{"address":"erd1spike","baseSymbol":"MEX","quoteSymbol":"WEGLD","totalValue":20000,"price":1}]`}
	svc := newTestService(cfg, feed, store, nil, notifier)

	report, err := svc.RefreshCycle(context.Background(), cycleAt)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Alerts)
	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	assert.Equal(t, "erd1spike", note.PoolAddress)
	assert.Equal(t, "MEX", note.TokenA)
	assert.Equal(t, string(analytics.TierCritical), note.RiskTier)
	assert.True(t, note.ShortStd.GreaterThan(note.LongStd))

	// 强制再次命中同一个异动序列：冷却期内不再推送
	assert.False(t, svc.maybeAlert(context.Background(), storage.Pool{Address: "erd1spike"}, []float64{1.4, 1.4, 1.4, 1.4, 1.4, 1.4, 1.4, 1.4, 1.4, 1.4, 1, 2, 1, 2, 1}, cycleAt.Add(time.Minute)))
	assert.Len(t, notifier.notes, 1)
}

func TestSpikeAlertNeverFiresAtDefaultMultiplier(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.Enabled = true
	store := storage.NewMemoryStore()
	spikeFixture(t, store, "erd1spike")
	notifier := &recordingNotifier{}
	feed := &stubFeed{body: `[{"address":"erd1spike","totalValue":20000,"price":1}]`}
	svc := newTestService(cfg, feed, store, nil, notifier)

	report, err := svc.RefreshCycle(context.Background(), cycleAt)
	require.NoError(t, err)
	assert.Zero(t, report.Alerts)
	assert.Empty(t, notifier.notes)
}

func TestRefreshNowUsesSchedulerGuard(t *testing.T) {
	store := storage.NewMemoryStore()
	sched := scheduler.New(scheduler.Options{Interval: time.Minute}, zerolog.Nop())
	svc := New(testConfig(), sched, &stubFeed{body: `[{"address":"erd1a","totalValue":5000}]`}, store, nil, nil, nil, zerolog.Nop())

	report, err := svc.RefreshNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, scheduler.Idle, sched.State())
}

func TestRunRequiresScheduler(t *testing.T) {
	svc := newTestService(testConfig(), &stubFeed{}, storage.NewMemoryStore(), nil, nil)
	err := svc.Run(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}

// faultyStore 对指定地址的写入返回错误，其余委托给内存实现。
type faultyStore struct {
	*storage.MemoryStore
	upsertFails   string
	snapshotFails string
}

var errWriteFailed = errors.New("write failed")

func (f *faultyStore) UpsertPool(ctx context.Context, pool storage.Pool) error {
	if pool.Address == f.upsertFails {
		return errWriteFailed
	}
	return f.MemoryStore.UpsertPool(ctx, pool)
}

func (f *faultyStore) RecordSnapshot(ctx context.Context, snap storage.Snapshot) error {
	if snap.PoolAddress == f.snapshotFails {
		return errWriteFailed
	}
	return f.MemoryStore.RecordSnapshot(ctx, snap)
}

const twoPoolFeed = `[
	{"address":"erd1bad","totalValue":30000,"price":1},
	{"address":"erd1ok","totalValue":40000,"price":3}
]`

func TestRefreshCycleCountsUpsertFailure(t *testing.T) {
	store := &faultyStore{MemoryStore: storage.NewMemoryStore(), upsertFails: "erd1bad"}
	svc := newTestService(testConfig(), &stubFeed{body: twoPoolFeed}, store, nil, nil)

	report, err := svc.RefreshCycle(context.Background(), cycleAt)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Processed)

	_, err = store.GetPool(context.Background(), "erd1ok")
	require.NoError(t, err, "失败的记录不应中断批次")
	_, err = store.GetPool(context.Background(), "erd1bad")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	history, err := store.History(context.Background(), "erd1bad")
	require.NoError(t, err)
	assert.Empty(t, history, "upsert 失败后不应写快照")
}

func TestRefreshCycleCountsSnapshotFailure(t *testing.T) {
	store := &faultyStore{MemoryStore: storage.NewMemoryStore(), snapshotFails: "erd1bad"}
	svc := newTestService(testConfig(), &stubFeed{body: twoPoolFeed}, store, nil, nil)

	report, err := svc.RefreshCycle(context.Background(), cycleAt)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Processed)

	history, err := store.History(context.Background(), "erd1ok")
	require.NoError(t, err)
	assert.Len(t, history, 1)
	history, err = store.History(context.Background(), "erd1bad")
	require.NoError(t, err)
	assert.Empty(t, history)
}

type flakyNotifier struct {
	recordingNotifier
	failures int
}

func (n *flakyNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	if n.failures > 0 {
		n.failures--
		return errors.New("telegram unavailable")
	}
	return n.recordingNotifier.Notify(ctx, note)
}

func TestFailedAlertDoesNotStartCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.Enabled = true
	cfg.Analytics.SpikeMultiplier = 1.5
	notifier := &flakyNotifier{failures: 1}
	svc := newTestService(cfg, &stubFeed{body: `[]`}, storage.NewMemoryStore(), nil, notifier)

	series := []float64{1.4, 1.4, 1.4, 1.4, 1.4, 1.4, 1.4, 1.4, 1.4, 1.4, 1, 2, 1, 2, 1}
	pool := storage.Pool{Address: "erd1spike"}

	assert.False(t, svc.maybeAlert(context.Background(), pool, series, cycleAt))
	assert.True(t, svc.maybeAlert(context.Background(), pool, series, cycleAt.Add(5*time.Minute)), "投递失败后下个周期应重试")
	assert.False(t, svc.maybeAlert(context.Background(), pool, series, cycleAt.Add(10*time.Minute)))
	assert.Len(t, notifier.notes, 1)
}
