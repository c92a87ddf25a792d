package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for HedgeSim. One instance per process;
// sweep runs share it across engines. Every engine call site nil-checks, so a
// nil *Metrics disables instrumentation entirely.
type Metrics struct {
	// --- Engine ---
	StepsTotal      prometheus.Counter
	StepDuration    prometheus.Histogram
	EventsTotal     *prometheus.CounterVec
	RunsTotal       *prometheus.CounterVec
	ResidualDelta   prometheus.Gauge
	MarginRatio     *prometheus.GaugeVec
	EquityUSD       *prometheus.GaugeVec
	HedgeVolumeUSD  prometheus.Counter
	FundingPaidUSD  prometheus.Counter
	FundingRecvUSD  prometheus.Counter
	FeedGapsTotal   prometheus.Counter

	// --- Rescue ---
	RescueTransferredUSD prometheus.Counter
	RescueDenials        *prometheus.CounterVec
	RescueBreakerTripped prometheus.Gauge

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistStepsWritten  prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter

	// --- Streaming ---
	PublishedEvents    prometheus.Counter
	PublishDrops       prometheus.Counter
	PublishBreakerOpen prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	stepBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Engine
		StepsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedgesim_steps_total",
			Help: "Simulation steps processed",
		}),

		StepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hedgesim_step_duration_seconds",
			Help:    "Wall time per simulation step",
			Buckets: stepBuckets,
		}),

		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hedgesim_events_total",
			Help: "Event records appended, by kind",
		}, []string{"kind"}),

		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hedgesim_runs_total",
			Help: "Completed runs, by terminal status",
		}, []string{"status"}),

		ResidualDelta: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hedgesim_residual_delta_base",
			Help: "Residual delta after the last step, base units",
		}),

		MarginRatio: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hedgesim_margin_ratio",
			Help: "Margin ratio after the last step",
		}, []string{"side"}),

		EquityUSD: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hedgesim_equity_usd",
			Help: "Equity after the last step",
		}, []string{"side"}),

		HedgeVolumeUSD: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedgesim_hedge_volume_usd_total",
			Help: "Notional traded by the hedge controller",
		}),

		FundingPaidUSD: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedgesim_funding_paid_usd_total",
			Help: "Funding paid out by the hedge",
		}),

		FundingRecvUSD: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedgesim_funding_received_usd_total",
			Help: "Funding received by the hedge",
		}),

		FeedGapsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedgesim_feed_gaps_total",
			Help: "Timestamp gaps tolerated in the price feed",
		}),

		// Rescue
		RescueTransferredUSD: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedgesim_rescue_transferred_usd_total",
			Help: "Capital moved by approved rescues",
		}),

		RescueDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hedgesim_rescue_denials_total",
			Help: "Rescues denied, by reason",
		}, []string{"reason"}),

		RescueBreakerTripped: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hedgesim_rescue_breaker_tripped",
			Help: "1 while the rescue circuit breaker is tripped",
		}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedgesim_persist_events_written_total",
			Help: "Event rows written to Postgres",
		}),

		PersistStepsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedgesim_persist_steps_written_total",
			Help: "Step rows written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hedgesim_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hedgesim_persist_batch_size",
			Help:    "Rows per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hedgesim_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedgesim_persist_retry_total",
			Help: "Persistence retries",
		}),

		// Streaming
		PublishedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedgesim_published_events_total",
			Help: "Events published to JetStream",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hedgesim_publish_drops_total",
			Help: "Events dropped because the publisher was unavailable",
		}),

		PublishBreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hedgesim_publish_breaker_open",
			Help: "1 while the publish circuit breaker is open",
		}),
	}
}

// ObservePortfolio updates the per-side gauges after a step.
func (m *Metrics) ObservePortfolio(side string, equity, marginRatio float64) {
	m.EquityUSD.WithLabelValues(side).Set(equity)
	m.MarginRatio.WithLabelValues(side).Set(marginRatio)
}
