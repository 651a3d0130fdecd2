package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records collateral engine activity: operation counts by
// outcome and latency per operation.
type EngineMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	wsClients  prometheus.Gauge
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// Engine returns the lazily-initialised engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stable",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Collateral engine operations segmented by operation and result.",
			}, []string{"op", "result"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stable",
				Subsystem: "engine",
				Name:      "operation_seconds",
				Help:      "Latency distribution of collateral engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stable",
				Subsystem: "rpc",
				Name:      "ws_clients",
				Help:      "Currently connected websocket event stream clients.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.duration,
			engineRegistry.wsClients,
		)
	})
	return engineRegistry
}

// ObserveOperation records one engine operation outcome with its duration.
func (m *EngineMetrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	if op = strings.TrimSpace(op); op == "" {
		op = "unknown"
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// WSClientConnected adjusts the live websocket client gauge.
func (m *EngineMetrics) WSClientConnected(delta int) {
	if m == nil {
		return
	}
	m.wsClients.Add(float64(delta))
}

// OracleMetrics tracks price feed health: quote age per asset and refresh
// failures per source.
type OracleMetrics struct {
	quoteAge      *prometheus.GaugeVec
	refreshErrors *prometheus.CounterVec
}

// Oracle returns the lazily-initialised oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			quoteAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "stable",
				Subsystem: "oracle",
				Name:      "quote_age_seconds",
				Help:      "Age of the most recent accepted quote per asset and source.",
			}, []string{"asset", "source"}),
			refreshErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stable",
				Subsystem: "oracle",
				Name:      "refresh_errors_total",
				Help:      "Price feed refresh failures segmented by source.",
			}, []string{"source"}),
		}
		prometheus.MustRegister(oracleRegistry.quoteAge, oracleRegistry.refreshErrors)
	})
	return oracleRegistry
}

// RecordQuote notes the age of an accepted quote.
func (m *OracleMetrics) RecordQuote(asset, source string, observedAt, now time.Time) {
	if m == nil {
		return
	}
	if asset = strings.ToUpper(strings.TrimSpace(asset)); asset == "" {
		asset = "unknown"
	}
	if source = strings.TrimSpace(source); source == "" {
		source = "unknown"
	}
	age := now.Sub(observedAt).Seconds()
	if age < 0 {
		age = 0
	}
	m.quoteAge.WithLabelValues(asset, source).Set(age)
}

// RecordRefreshError counts a failed feed refresh.
func (m *OracleMetrics) RecordRefreshError(source string) {
	if m == nil {
		return
	}
	if source = strings.TrimSpace(source); source == "" {
		source = "unknown"
	}
	m.refreshErrors.WithLabelValues(source).Inc()
}
