package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mx-liquidity/internal/alerting"
	"mx-liquidity/internal/analytics"
	"mx-liquidity/internal/cache"
	"mx-liquidity/internal/config"
	"mx-liquidity/internal/fetcher"
	"mx-liquidity/internal/metrics"
	"mx-liquidity/internal/normalizer"
	"mx-liquidity/internal/scheduler"
	"mx-liquidity/internal/storage"
)

// CycleReport summarises one refresh cycle.
type CycleReport struct {
	At        time.Time
	Fetched   int
	Processed int
	Skipped   int
	Failed    int
	Alerts    int
	Locked    bool
	Duration  time.Duration
}

// PoolView is a pool row as served to readers.
type PoolView struct {
	storage.Pool
	Stale bool `json:"stale"`
}

// PoolDetail 单个池子的详情：历史、情景模拟和两种趋势判断。
type PoolDetail struct {
	Pool       PoolView             `json:"pool"`
	History    []storage.Snapshot   `json:"history"`
	Scenarios  []analytics.Scenario `json:"scenarios"`
	Crossover  analytics.Trend      `json:"crossover"`
	Spike      analytics.Trend      `json:"spike"`
	Volatility float64              `json:"volatility"`
}

// Service orchestrates fetching, scoring, persistence, and alerting.
type Service struct {
	scheduler  *scheduler.Scheduler
	feed       fetcher.PoolFeed
	normalizer *normalizer.Normalizer
	repo       storage.Repository
	cache      cache.PoolCache
	notifier   alerting.Notifier
	cooldown   *alerting.Cooldown
	metrics    *metrics.Recorder
	logger     zerolog.Logger

	sensitivity      float64
	spikeMultiplier  float64
	volatilityWindow int
	staleAfter       time.Duration
	alertsOn         bool
	locker           storage.AdvisoryLocker
	lockKey          int64

	now func() time.Time
}

// New constructs the refresh service. poolCache, notifier and recorder may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, feed fetcher.PoolFeed, repo storage.Repository, poolCache cache.PoolCache, notifier alerting.Notifier, recorder *metrics.Recorder, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := repo.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:        sched,
		feed:             feed,
		normalizer:       normalizer.New(cfg.Analytics.MinLiquidityUSD),
		repo:             repo,
		cache:            poolCache,
		notifier:         notifier,
		cooldown:         alerting.NewCooldown(cfg.Alerting.Cooldown),
		metrics:          recorder,
		logger:           logger.With().Str("component", "service").Logger(),
		sensitivity:      cfg.Analytics.CrossoverSensitivity,
		spikeMultiplier:  cfg.Analytics.SpikeMultiplier,
		volatilityWindow: cfg.Analytics.VolatilityWindow,
		staleAfter:       cfg.Analytics.StaleAfter,
		alertsOn:         cfg.Alerting.Enabled && notifier != nil,
		locker:           locker,
		lockKey:          cfg.Scheduler.AdvisoryLockKey,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Run begins the periodic refresh loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.tick)
}

// RefreshNow runs one cycle through the scheduler guard and waits for it.
func (s *Service) RefreshNow(ctx context.Context) (CycleReport, error) {
	if s.scheduler == nil {
		return s.RefreshCycle(ctx, s.now())
	}
	var report CycleReport
	err := s.scheduler.TriggerNow(ctx, func(ctx context.Context, at time.Time) error {
		var cycleErr error
		report, cycleErr = s.RefreshCycle(ctx, at)
		return cycleErr
	})
	return report, err
}

func (s *Service) tick(ctx context.Context, at time.Time) error {
	_, err := s.RefreshCycle(ctx, at)
	return err
}

// RefreshCycle 执行一次完整的刷新：拉取、归一化、评分、落库。
// A fetch failure aborts before any write; per-record failures are counted.
func (s *Service) RefreshCycle(ctx context.Context, at time.Time) (CycleReport, error) {
	report := CycleReport{At: at}
	start := time.Now()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		s.metrics.RecordCycle(metrics.StatusFailed, time.Since(start))
		return report, err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip cycle because advisory lock held elsewhere")
		report.Locked = true
		s.metrics.RecordCycle(metrics.StatusLocked, time.Since(start))
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	err = s.executeCycle(ctx, at, &report)
	report.Duration = time.Since(start)
	if err != nil {
		s.metrics.RecordCycle(metrics.StatusFailed, report.Duration)
		return report, err
	}

	s.metrics.RecordRecords(report.Processed, report.Skipped, report.Failed)
	s.metrics.RecordCycle(metrics.StatusSuccess, report.Duration)
	s.logger.Info().Time("at", at).
		Int("fetched", report.Fetched).
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Int("alerts", report.Alerts).
		Dur("elapsed", report.Duration).
		Msg("refresh cycle complete")
	return report, nil
}

func (s *Service) executeCycle(ctx context.Context, at time.Time, report *CycleReport) error {
	records, err := s.feed.FetchPools(ctx)
	if err != nil {
		return fmt.Errorf("fetch pools: %w", err)
	}
	report.Fetched = len(records)

	for _, raw := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		pool, err := s.normalizer.Normalize(raw, at)
		if err != nil {
			report.Skipped++
			s.logger.Debug().Err(err).Msg("record skipped")
			continue
		}

		history, err := s.repo.History(ctx, pool.Address)
		if err != nil {
			s.logger.Warn().Err(err).Str("pool", pool.Address).Msg("history unavailable; scoring without it")
			history = nil
		}
		pool, series := s.rescore(pool, history)

		if err := s.repo.UpsertPool(ctx, pool); err != nil {
			report.Failed++
			s.logger.Error().Err(err).Str("pool", pool.Address).Msg("failed to upsert pool")
			continue
		}
		snap := storage.Snapshot{PoolAddress: pool.Address, Timestamp: at, PriceRatio: pool.PriceRatio}
		if err := s.repo.RecordSnapshot(ctx, snap); err != nil {
			report.Failed++
			s.logger.Error().Err(err).Str("pool", pool.Address).Msg("failed to record snapshot")
			continue
		}
		report.Processed++

		if s.maybeAlert(ctx, pool, series, at) {
			report.Alerts++
		}
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to invalidate pool cache")
		}
	}
	return nil
}

// rescore replaces the history-free score with one that includes volatility and
// impermanent loss over the trailing window. It returns the full ratio series
// including the current observation.
func (s *Service) rescore(pool storage.Pool, history []storage.Snapshot) (storage.Pool, []float64) {
	series := append(storage.PriceRatios(history), pool.PriceRatio)
	window := series
	if s.volatilityWindow > 1 && len(window) > s.volatilityWindow {
		window = window[len(window)-s.volatilityWindow:]
	}

	vol, err := analytics.Volatility(window)
	if err != nil {
		vol = 0
	}
	var il float64
	if len(window) > 1 {
		if il, err = analytics.ImpermanentLoss(window[0], pool.PriceRatio); err != nil {
			il = 0
		}
	}

	pool.RiskScore = analytics.ScoreWithBase(analytics.BaseRiskScore, vol, pool.TVLUSD, il)
	return pool, series
}

func (s *Service) maybeAlert(ctx context.Context, pool storage.Pool, series []float64, at time.Time) bool {
	if !s.alertsOn {
		return false
	}
	trend := analytics.DetectSpike(series, s.spikeMultiplier)
	if trend.Tier != analytics.TierCritical {
		return false
	}
	if !s.cooldown.Ready(pool.Address, at) {
		s.logger.Debug().Str("pool", pool.Address).Msg("spike alert suppressed by cooldown")
		return false
	}

	multiplier := s.spikeMultiplier
	if multiplier <= 0 {
		multiplier = analytics.DefaultSpikeMultiplier
	}
	note := alerting.Notification{
		PoolAddress: pool.Address,
		TokenA:      pool.TokenA,
		TokenB:      pool.TokenB,
		DetectedAt:  at,
		PriceRatio:  decimal.NewFromFloat(pool.PriceRatio),
		ShortStd:    decimal.NewFromFloat(trend.Short),
		LongStd:     decimal.NewFromFloat(trend.Long),
		Multiplier:  decimal.NewFromFloat(multiplier),
		RiskScore:   pool.RiskScore,
		RiskTier:    string(trend.Tier),
		Message:     trend.Message,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("pool", pool.Address).Msg("failed to dispatch alert")
		return false
	}
	// 只有投递成功才进入冷却，失败的告警下个周期重试
	s.cooldown.Mark(pool.Address, at)
	return true
}

// ListPools returns every pool ordered by TVL descending, flagging stale rows.
func (s *Service) ListPools(ctx context.Context) ([]PoolView, error) {
	pools, err := s.cachedPools(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := make([]PoolView, 0, len(pools))
	for _, p := range pools {
		views = append(views, s.view(p, now))
	}
	return views, nil
}

func (s *Service) cachedPools(ctx context.Context) ([]storage.Pool, error) {
	if s.cache != nil {
		pools, err := s.cache.GetPools(ctx)
		if err == nil {
			return pools, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn().Err(err).Msg("pool cache read failed")
		}
	}

	pools, err := s.repo.ListPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetPools(ctx, pools); err != nil {
			s.logger.Warn().Err(err).Msg("pool cache write failed")
		}
	}
	return pools, nil
}

// GetPoolDetail returns one pool with its history and analytics. limit > 0 trims
// the returned history to the most recent points; detectors always see the full series.
func (s *Service) GetPoolDetail(ctx context.Context, address string, limit int) (PoolDetail, error) {
	pool, err := s.repo.GetPool(ctx, address)
	if err != nil {
		return PoolDetail{}, fmt.Errorf("get pool %s: %w", address, err)
	}
	history, err := s.repo.History(ctx, address)
	if err != nil {
		return PoolDetail{}, fmt.Errorf("history %s: %w", address, err)
	}

	scenarios, err := analytics.Scenarios(pool.PriceRatio)
	if err != nil {
		return PoolDetail{}, fmt.Errorf("scenarios %s: %w", address, err)
	}

	series := storage.PriceRatios(history)
	window := series
	if s.volatilityWindow > 1 && len(window) > s.volatilityWindow {
		window = window[len(window)-s.volatilityWindow:]
	}
	vol, err := analytics.Volatility(window)
	if err != nil {
		vol = 0
	}

	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	return PoolDetail{
		Pool:       s.view(pool, s.now()),
		History:    history,
		Scenarios:  scenarios,
		Crossover:  analytics.DetectCrossover(series, s.sensitivity),
		Spike:      analytics.DetectSpike(series, s.spikeMultiplier),
		Volatility: vol,
	}, nil
}

func (s *Service) view(p storage.Pool, now time.Time) PoolView {
	stale := s.staleAfter > 0 && now.Sub(p.LastUpdated) > s.staleAfter
	return PoolView{Pool: p, Stale: stale}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
