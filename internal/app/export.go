package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"mx-liquidity/internal/analytics"
	"mx-liquidity/internal/storage"
)

// Export renders one pool's price-ratio history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Address == "" {
		return errors.New("--address must be provided")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
		return errors.New("from must be before to")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	repo, closeRepo, err := a.readRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	pool, err := repo.GetPool(ctx, opts.Address)
	if err != nil {
		return fmt.Errorf("pool %s: %w", opts.Address, err)
	}

	history, err := repo.History(ctx, opts.Address)
	if err != nil {
		return err
	}
	history = filterWindow(history, opts.From, opts.To)
	if len(history) == 0 {
		a.Logger.Info().Str("pool", opts.Address).Msg("no snapshots found for export window")
		return nil
	}

	// 均线基于完整窗口计算，再抽样输出
	points := downsample(buildExportPoints(history), opts.MaxPoints)
	a.Logger.Info().Str("pool", opts.Address).Int("total", len(history)).Int("exported", len(points)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, points); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		title := fmt.Sprintf("%s/%s price ratio", pool.TokenA, pool.TokenB)
		if err := writePointsPNG(opts.PNGPath, title, points); err != nil {
			return err
		}
	}

	return nil
}

func filterWindow(history []storage.Snapshot, from, to *time.Time) []storage.Snapshot {
	if from == nil && to == nil {
		return history
	}
	out := make([]storage.Snapshot, 0, len(history))
	for _, snap := range history {
		if from != nil && snap.Timestamp.Before(from.UTC()) {
			continue
		}
		if to != nil && !snap.Timestamp.Before(to.UTC()) {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// exportPoint is one snapshot with the moving averages of the unsampled series.
// A NaN average means its window had not filled yet.
type exportPoint struct {
	storage.Snapshot
	ShortSMA float64
	LongSMA  float64
}

func buildExportPoints(history []storage.Snapshot) []exportPoint {
	ratios := storage.PriceRatios(history)
	short := movingAverage(ratios, analytics.ShortWindow)
	long := movingAverage(ratios, analytics.LongWindow)

	points := make([]exportPoint, len(history))
	for i, snap := range history {
		points[i] = exportPoint{Snapshot: snap, ShortSMA: short[i], LongSMA: long[i]}
	}
	return points
}

// downsample keeps max evenly spaced items, always including the first and last.
func downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[len(items)-1:]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

// movingAverage returns the trailing mean over period; entries before the
// window fills are NaN.
func movingAverage(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		out[i] = math.NaN()
		if i+1 >= period {
			out[i] = sum / float64(period)
		}
	}
	return out
}

func formatAverage(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writePointsCSV(path string, points []exportPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "price_ratio", "sma_5", "sma_15"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.PriceRatio, 'f', -1, 64),
			formatAverage(p.ShortSMA),
			formatAverage(p.LongSMA),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// averageSeries plots the defined part of one moving average.
func averageSeries(name string, points []exportPoint, pick func(exportPoint) float64) chart.TimeSeries {
	series := chart.TimeSeries{Name: name}
	for _, p := range points {
		if v := pick(p); !math.IsNaN(v) {
			series.XValues = append(series.XValues, p.Timestamp)
			series.YValues = append(series.YValues, v)
		}
	}
	return series
}

func writePointsPNG(path, title string, points []exportPoint) error {
	if len(points) < 2 {
		return errors.New("at least two snapshots are required to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	ratios := chart.TimeSeries{Name: "Price ratio"}
	for _, p := range points {
		ratios.XValues = append(ratios.XValues, p.Timestamp)
		ratios.YValues = append(ratios.YValues, p.PriceRatio)
	}
	series := []chart.Series{ratios}
	averages := []chart.TimeSeries{
		averageSeries(fmt.Sprintf("SMA %d", analytics.ShortWindow), points, func(p exportPoint) float64 { return p.ShortSMA }),
		averageSeries(fmt.Sprintf("SMA %d", analytics.LongWindow), points, func(p exportPoint) float64 { return p.LongSMA }),
	}
	for _, avg := range averages {
		if len(avg.YValues) >= 2 {
			series = append(series, avg)
		}
	}

	ratioFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.6f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price ratio",
			ValueFormatter: ratioFormatter,
		},
		Series: series,
	}
	if lo, hi := bounds(ratios.YValues); lo == hi {
		// 价格不变时纵轴跨度为 0，go-chart 无法绘制
		graph.YAxis.Range = &chart.ContinuousRange{Min: lo * 0.99, Max: hi * 1.01}
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func bounds(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
