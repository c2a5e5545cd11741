package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Settlement outcomes used as label values.
const (
	OutcomeApplied     = "applied"
	OutcomeRefused     = "refused"
	OutcomeCompensated = "compensated"
	OutcomeFailed      = "failed"
	OutcomeDuplicate   = "duplicate"
)

// Metrics holds all Prometheus metrics for the ledger.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	storeErrors      *prometheus.CounterVec
	settlements      *prometheus.CounterVec
	settledAmount    *prometheus.CounterVec
	accrualRuns      *prometheus.CounterVec
	accrualDuration  prometheus.Histogram
	accrualResults   *prometheus.CounterVec
	accrualLastRunTs prometheus.Gauge
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_request_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_store_errors_total",
				Help: "Total errors returned by the backing store.",
			},
			[]string{"store"},
		),
		settlements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_settlements_total",
				Help: "Balance-moving operations by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		settledAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_settled_amount_total",
				Help: "Absolute currency units moved by applied settlements.",
			},
			[]string{"kind"},
		),
		accrualRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_accrual_runs_total",
				Help: "Accrual job runs by result.",
			},
			[]string{"result"},
		),
		accrualDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_accrual_run_duration_seconds",
				Help:    "Wall time of one accrual job run.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		accrualResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_accrual_investments_total",
				Help: "Investments seen by the accrual job by result.",
			},
			[]string{"result"},
		),
		accrualLastRunTs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_accrual_last_success_timestamp_seconds",
				Help: "Unix time of the last accrual run that finished.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrStoreError increments the store error counter.
func (m *Metrics) IncrStoreError(store string) {
	m.storeErrors.WithLabelValues(store).Inc()
}

// RecordSettlement counts a settlement attempt and, when applied, its amount.
func (m *Metrics) RecordSettlement(kind, outcome string, amount int64) {
	m.settlements.WithLabelValues(kind, outcome).Inc()
	if outcome == OutcomeApplied {
		if amount < 0 {
			amount = -amount
		}
		m.settledAmount.WithLabelValues(kind).Add(float64(amount))
	}
}

// RecordAccrualRun records one job run. result is "ok", "locked" or "error".
func (m *Metrics) RecordAccrualRun(result string, d time.Duration, processed, completed, skipped, failed int) {
	m.accrualRuns.WithLabelValues(result).Inc()
	if result != "ok" {
		return
	}
	m.accrualDuration.Observe(d.Seconds())
	m.accrualResults.WithLabelValues("processed").Add(float64(processed))
	m.accrualResults.WithLabelValues("completed").Add(float64(completed))
	m.accrualResults.WithLabelValues("skipped").Add(float64(skipped))
	m.accrualResults.WithLabelValues("failed").Add(float64(failed))
	m.accrualLastRunTs.SetToCurrentTime()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// SettlementCount returns the cumulative count for a kind/outcome pair.
func (m *Metrics) SettlementCount(kind, outcome string) float64 {
	return getCounterValue(m.settlements.WithLabelValues(kind, outcome))
}

// StoreErrorCount returns the cumulative error count for a store.
func (m *Metrics) StoreErrorCount(store string) float64 {
	return getCounterValue(m.storeErrors.WithLabelValues(store))
}

// AccrualResultCount returns the cumulative accrual count for a result label.
func (m *Metrics) AccrualResultCount(result string) float64 {
	return getCounterValue(m.accrualResults.WithLabelValues(result))
}

// getCounterValue extracts the current float64 value from a counter.
func getCounterValue(counter prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
