package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mx-liquidity/internal/alerting"
	"mx-liquidity/internal/api"
	"mx-liquidity/internal/cache"
	"mx-liquidity/internal/config"
	"mx-liquidity/internal/fetcher"
	"mx-liquidity/internal/logging"
	"mx-liquidity/internal/metrics"
	"mx-liquidity/internal/scheduler"
	"mx-liquidity/internal/service"
	"mx-liquidity/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	// repo 非空时替代数据库（测试与 dry-run 使用）
	repo    storage.Repository
	feed    fetcher.PoolFeed
	migrate func(dsn string) error
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), migrate: storage.Migrate}
}

func (a *App) newFeed() fetcher.PoolFeed {
	if a.feed != nil {
		return a.feed
	}
	return fetcher.NewPairs(fetcher.PairsOptions{
		BaseURL:   a.Config.Feed.BaseURL,
		PageSize:  a.Config.Feed.PageSize,
		Timeout:   a.Config.Feed.RequestTimeout,
		UserAgent: a.Config.Feed.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// openDatabase returns nil when database.dsn is empty. Migrations only run for
// writers; read-only commands never change the schema.
func (a *App) openDatabase(ctx context.Context, writable bool) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	if writable && a.Config.Database.AutoMigrate {
		if err := a.migrate(a.Config.Database.DSN); err != nil {
			return nil, nil, err
		}
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// openRepository falls back to an in-memory store when no database is configured.
func (a *App) openRepository(ctx context.Context) (storage.Repository, func(), error) {
	if a.repo != nil {
		return a.repo, func() {}, nil
	}
	store, closer, err := a.openDatabase(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory storage")
		return storage.NewMemoryStore(), func() {}, nil
	}
	return store, closer, nil
}

// readRepository is openRepository without the in-memory fallback; reads from an
// empty process-local store would always be empty.
func (a *App) readRepository(ctx context.Context) (storage.Repository, func(), error) {
	if a.repo != nil {
		return a.repo, func() {}, nil
	}
	store, closer, err := a.openDatabase(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database not configured; set database.dsn")
	}
	return store, closer, nil
}

func (a *App) openCache(ctx context.Context) (cache.PoolCache, func(), error) {
	if !a.Config.Cache.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(ctx, a.Config.Cache)
	if err != nil {
		return nil, nil, err
	}
	return rc, func() { _ = rc.Close() }, nil
}

// Run executes the long-running refresh service and the read API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	poolCache, closeCache, err := a.openCache(ctx)
	if err != nil {
		return err
	}
	defer closeCache()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(registry)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		OnOverlap:    recorder.RecordOverlap,
	}, a.Logger)

	svc := service.New(a.Config, sched, a.newFeed(), repo, poolCache, a.newNotifier(), recorder, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Msg("starting refresh service")
		if err := svc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if a.Config.HTTP.Enabled {
		server := api.NewServer(a.Config.HTTP, api.NewHandler(svc, a.Logger), registry, a.Logger)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout)
			defer cancel()
			return server.Stop(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("refresh service stopped")
	return nil
}

// ExportOptions hold parameters for exporting one pool's history.
type ExportOptions struct {
	Address   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Address string
	Out     io.Writer
}

// RefreshOptions configure a one-off refresh.
type RefreshOptions struct {
	DryRun bool
	Out    io.Writer
}

// SimulateOptions are the inputs of a what-if calculation.
type SimulateOptions struct {
	Price      float64
	TVL        float64
	Volatility float64
	ChangePct  float64
	Out        io.Writer
}

func stdout(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}
