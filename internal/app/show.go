package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"mx-liquidity/internal/analytics"
	"mx-liquidity/internal/service"
)

// Show prints the pool table, or one pool's detail when opts.Address is set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	repo, closeRepo, err := a.readRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	out := stdout(opts.Out)
	svc := service.New(a.Config, nil, nil, repo, nil, nil, nil, a.Logger)

	if opts.Address != "" {
		detail, err := svc.GetPoolDetail(ctx, opts.Address, opts.Limit)
		if err != nil {
			return err
		}
		writePoolDetail(out, detail)
		return nil
	}

	pools, err := svc.ListPools(ctx)
	if err != nil {
		return err
	}
	if len(pools) == 0 {
		fmt.Fprintln(out, "no pools found")
		return nil
	}
	writePoolTable(out, pools, opts.Limit)
	return nil
}

func writePoolTable(out io.Writer, pools []service.PoolView, limit int) {
	if limit > 0 && len(pools) > limit {
		pools = pools[:limit]
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Address\tPair\tTVL (USD)\tAPR%\tVolume 24h\tPrice Ratio\tRisk\tUpdated (UTC)\tStale")
	for _, p := range pools {
		fmt.Fprintf(
			writer,
			"%s\t%s/%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortAddress(p.Address),
			sanitizeInline(p.TokenA),
			sanitizeInline(p.TokenB),
			formatFloat(p.TVLUSD, 2),
			formatFloat(p.APR, 2),
			formatFloat(p.Volume24h, 2),
			formatFloat(p.PriceRatio, 6),
			p.RiskScore,
			p.LastUpdated.UTC().Format(time.RFC3339),
			yesNo(p.Stale),
		)
	}
	writer.Flush()
}

func writePoolDetail(out io.Writer, detail service.PoolDetail) {
	p := detail.Pool
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Address\t%s\n", p.Address)
	fmt.Fprintf(writer, "Pair\t%s/%s\n", sanitizeInline(p.TokenA), sanitizeInline(p.TokenB))
	fmt.Fprintf(writer, "TVL (USD)\t%s\n", formatFloat(p.TVLUSD, 2))
	fmt.Fprintf(writer, "APR%%\t%s\n", formatFloat(p.APR, 2))
	fmt.Fprintf(writer, "Volume 24h\t%s\n", formatFloat(p.Volume24h, 2))
	fmt.Fprintf(writer, "Price Ratio\t%s\n", formatFloat(p.PriceRatio, 6))
	fmt.Fprintf(writer, "Risk Score\t%d\n", p.RiskScore)
	fmt.Fprintf(writer, "Volatility\t%s\n", formatFloat(detail.Volatility, 6))
	fmt.Fprintf(writer, "Updated (UTC)\t%s\n", p.LastUpdated.UTC().Format(time.RFC3339))
	fmt.Fprintf(writer, "Stale\t%s\n", yesNo(p.Stale))
	fmt.Fprintf(writer, "Snapshots\t%d\n", len(detail.History))
	writer.Flush()

	fmt.Fprintln(out)
	writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Move\tImpermanent Loss%")
	for _, s := range detail.Scenarios {
		fmt.Fprintf(writer, "%s\t%s\n", s.Change, formatFloat(s.IL, 4))
	}
	writer.Flush()

	fmt.Fprintln(out)
	writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Detector\tTrend\tRisk Level\tShort\tLong\tMessage")
	for _, t := range []analytics.Trend{detail.Crossover, detail.Spike} {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Detector, t.Label, t.Tier, formatFloat(t.Short, 6), formatFloat(t.Long, 6), t.Message)
	}
	writer.Flush()
}

func shortAddress(addr string) string {
	if len(addr) <= 20 {
		return addr
	}
	return addr[:10] + "…" + addr[len(addr)-6:]
}

func formatFloat(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
