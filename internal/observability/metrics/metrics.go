package metrics

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "royalty_"

	resultSuccess = "success"
	resultError   = "error"

	kindNone = "none"
)

var (
	registerOnce sync.Once

	statementGenerateTotal   *prometheus.CounterVec
	statementGenerateLatency *prometheus.HistogramVec
	statementFinalizeTotal   *prometheus.CounterVec
	statementFinalizeLatency *prometheus.HistogramVec
	statementVoidTotal       *prometheus.CounterVec
	statementExportTotal     *prometheus.CounterVec
	statementExportLatency   *prometheus.HistogramVec

	calculationTotal   *prometheus.CounterVec
	calculationLatency *prometheus.HistogramVec

	batchSize    prometheus.Histogram
	batchLatency *prometheus.HistogramVec

	outboxDispatchTotal  *prometheus.CounterVec
	outboxDispatchEvents *prometheus.CounterVec

	consumerLag *prometheus.GaugeVec
)

// Init registers royalty metrics and, when db is non-nil, DB-backed gauges.
func Init(db *sql.DB, logger *slog.Logger) {
	registerOnce.Do(func() {
		statementGenerateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_generate_total",
				Help: "Total statement generate operations by result",
			},
			[]string{"result"},
		)
		statementGenerateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_generate_latency_seconds",
				Help:    "Statement generate latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		statementFinalizeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_finalize_total",
				Help: "Total statement finalize operations by result",
			},
			[]string{"result"},
		)
		statementFinalizeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_finalize_latency_seconds",
				Help:    "Statement finalize latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		statementVoidTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_void_total",
				Help: "Total statement void operations by result",
			},
			[]string{"result"},
		)
		statementExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_export_total",
				Help: "Total statement export operations by format and result",
			},
			[]string{"format", "result"},
		)
		statementExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_export_latency_seconds",
				Help:    "Statement export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		calculationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "calculation_total",
				Help: "Total engine calculations by result and error kind",
			},
			[]string{"result", "kind"},
		)
		calculationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "calculation_latency_seconds",
				Help:    "Engine calculation latency in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"result"},
		)

		batchSize = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "batch_size",
				Help:    "Number of contract periods per batch generation",
				Buckets: prometheus.ExponentialBuckets(1, 4, 7),
			},
		)
		batchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "batch_latency_seconds",
				Help:    "Batch generation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_total",
				Help: "Total outbox dispatch runs by result",
			},
			[]string{"result"},
		)
		outboxDispatchEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_dispatch_events_total",
				Help: "Outbox events handled by outcome",
			},
			[]string{"outcome"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		prometheus.MustRegister(
			statementGenerateTotal,
			statementGenerateLatency,
			statementFinalizeTotal,
			statementFinalizeLatency,
			statementVoidTotal,
			statementExportTotal,
			statementExportLatency,
			calculationTotal,
			calculationLatency,
			batchSize,
			batchLatency,
			outboxDispatchTotal,
			outboxDispatchEvents,
			consumerLag,
		)

		if db != nil {
			prometheus.MustRegister(newBacklogCollector(db, logger))
		}
	})
}

func observe(latency *prometheus.HistogramVec, result string, duration time.Duration) {
	if latency != nil {
		latency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// ObserveStatementGenerate records generate latency and result.
func ObserveStatementGenerate(result string, duration time.Duration) {
	result = orDefault(result, resultSuccess)
	if statementGenerateTotal != nil {
		statementGenerateTotal.WithLabelValues(result).Inc()
	}
	observe(statementGenerateLatency, result, duration)
}

// ObserveStatementFinalize records finalize latency and result.
func ObserveStatementFinalize(result string, duration time.Duration) {
	result = orDefault(result, resultSuccess)
	if statementFinalizeTotal != nil {
		statementFinalizeTotal.WithLabelValues(result).Inc()
	}
	observe(statementFinalizeLatency, result, duration)
}

// IncStatementVoid counts void operations.
func IncStatementVoid(result string) {
	if statementVoidTotal != nil {
		statementVoidTotal.WithLabelValues(orDefault(result, resultSuccess)).Inc()
	}
}

// ObserveStatementExport records export latency and result.
func ObserveStatementExport(format, result string, duration time.Duration) {
	format = orDefault(format, "unknown")
	result = orDefault(result, resultSuccess)
	if statementExportTotal != nil {
		statementExportTotal.WithLabelValues(format, result).Inc()
	}
	if statementExportLatency != nil {
		statementExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// ObserveCalculation records one engine run. kind is the calculation error kind, empty on success.
func ObserveCalculation(kind string, duration time.Duration) {
	result := resultSuccess
	if kind != "" {
		result = resultError
	}
	if calculationTotal != nil {
		calculationTotal.WithLabelValues(result, orDefault(kind, kindNone)).Inc()
	}
	observe(calculationLatency, result, duration)
}

// ObserveBatch records batch size, latency and result.
func ObserveBatch(size int, result string, duration time.Duration) {
	if batchSize != nil {
		batchSize.Observe(float64(size))
	}
	observe(batchLatency, orDefault(result, resultSuccess), duration)
}

// ObserveOutboxDispatch records a dispatch run.
func ObserveOutboxDispatch(result string, sent, failed int) {
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(orDefault(result, resultSuccess)).Inc()
	}
	if outboxDispatchEvents == nil {
		return
	}
	if sent > 0 {
		outboxDispatchEvents.WithLabelValues("sent").Add(float64(sent))
	}
	if failed > 0 {
		outboxDispatchEvents.WithLabelValues("failed").Add(float64(failed))
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(orDefault(consumer, "unknown")).Set(lag.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
