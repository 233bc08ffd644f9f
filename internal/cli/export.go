package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mx-liquidity/internal/app"
)

var exportOpts struct {
	address   string
	from      string
	to        string
	png       string
	csv       string
	maxPoints int
}

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Export a pool's price ratio history as CSV and/or PNG chart",
	Example: "  mxliquidity export --address erd1... --from 2025-06-01 --csv out/pool.csv --png out/pool.png",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseTimeFlag("from", exportOpts.from)
		if err != nil {
			return err
		}
		to, err := parseTimeFlag("to", exportOpts.to)
		if err != nil {
			return err
		}
		if from != nil && to != nil && !from.Before(*to) {
			return fmt.Errorf("--from must be before --to")
		}

		return getApp().Export(cmd.Context(), app.ExportOptions{
			Address:   exportOpts.address,
			From:      from,
			To:        to,
			PNGPath:   exportOpts.png,
			CSVPath:   exportOpts.csv,
			MaxPoints: exportOpts.maxPoints,
		})
	},
}

var timeFlagLayouts = []string{time.RFC3339, "2006-01-02T15:04", time.DateOnly}

// parseTimeFlag 接受 RFC3339 或日期；无时区的输入按 UTC 处理。空值返回 nil。
func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range timeFlagLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			ts = ts.UTC()
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("invalid --%s value %q: want RFC3339 or YYYY-MM-DD", name, value)
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportOpts.address, "address", "", "Pool address to export")
	f.StringVar(&exportOpts.from, "from", "", "Start time, inclusive (RFC3339 or YYYY-MM-DD)")
	f.StringVar(&exportOpts.to, "to", "", "End time, exclusive (RFC3339 or YYYY-MM-DD)")
	f.StringVar(&exportOpts.png, "png", "", "Path to write PNG chart")
	f.StringVar(&exportOpts.csv, "csv", "", "Path to write CSV data")
	f.IntVar(&exportOpts.maxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
