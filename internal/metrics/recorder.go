package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle outcome labels.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusLocked  = "locked"
)

// Recorder collects refresh-cycle metrics in Prometheus.
type Recorder struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	records       *prometheus.CounterVec
	overlaps      prometheus.Counter
	poolsTracked  prometheus.Gauge
	lastSuccess   prometheus.Gauge
}

// New registers the collectors on reg; pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mxliquidity_refresh_cycles_total",
				Help: "Refresh cycles by outcome",
			},
			[]string{"status"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mxliquidity_refresh_cycle_duration_seconds",
				Help:    "Duration of refresh cycles in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mxliquidity_feed_records_total",
				Help: "Feed records by normalization outcome",
			},
			[]string{"outcome"},
		),
		overlaps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mxliquidity_refresh_overlaps_total",
				Help: "Timer triggers dropped because a cycle was still running",
			},
		),
		poolsTracked: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mxliquidity_pools_processed",
				Help: "Pools persisted by the last successful cycle",
			},
		),
		lastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mxliquidity_last_success_timestamp_seconds",
				Help: "Unix time of the last successful cycle",
			},
		),
	}
}

// RecordCycle records one finished cycle.
func (r *Recorder) RecordCycle(status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(status).Inc()
	r.cycleDuration.Observe(elapsed.Seconds())
	if status == StatusSuccess {
		r.lastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordRecords adds per-record outcomes of one cycle.
func (r *Recorder) RecordRecords(processed, skipped, failed int) {
	if r == nil {
		return
	}
	r.records.WithLabelValues("processed").Add(float64(processed))
	r.records.WithLabelValues("skipped").Add(float64(skipped))
	r.records.WithLabelValues("failed").Add(float64(failed))
	r.poolsTracked.Set(float64(processed))
}

// RecordOverlap counts a dropped trigger.
func (r *Recorder) RecordOverlap() {
	if r == nil {
		return
	}
	r.overlaps.Inc()
}
