package app

import (
	"context"
	"fmt"

	"mx-liquidity/internal/alerting"
	"mx-liquidity/internal/cache"
	"mx-liquidity/internal/scheduler"
	"mx-liquidity/internal/service"
	"mx-liquidity/internal/storage"
)

// Refresh 同步执行一次刷新周期并打印统计。
func (a *App) Refresh(ctx context.Context, opts RefreshOptions) error {
	out := stdout(opts.Out)

	var (
		repo      storage.Repository
		poolCache cache.PoolCache
		notifier  alerting.Notifier
	)
	if opts.DryRun {
		a.Logger.Warn().Msg("refresh dry-run：不会写入数据库")
		repo = storage.NewMemoryStore()
	} else {
		store, closeStore, err := a.openRepository(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		repo = store

		pc, closeCache, err := a.openCache(ctx)
		if err != nil {
			return err
		}
		defer closeCache()
		poolCache = pc
		notifier = a.newNotifier()
	}

	sched := scheduler.New(scheduler.Options{Interval: a.Config.Scheduler.Interval}, a.Logger)
	svc := service.New(a.Config, sched, a.newFeed(), repo, poolCache, notifier, nil, a.Logger)

	report, err := svc.RefreshNow(ctx)
	if err != nil {
		return err
	}
	if report.Locked {
		fmt.Fprintln(out, "cycle skipped: advisory lock held by another process")
		return nil
	}

	fmt.Fprintf(out, "fetched=%d processed=%d skipped=%d failed=%d alerts=%d elapsed=%s\n",
		report.Fetched, report.Processed, report.Skipped, report.Failed, report.Alerts, report.Duration.Round(1e6))

	if opts.DryRun {
		pools, err := svc.ListPools(ctx)
		if err != nil {
			return err
		}
		writePoolTable(out, pools, 0)
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d pools failed to persist, check logs", report.Failed)
	}
	return nil
}
