package metrics

import (
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "alarm_engine_"

	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	eventsTotal   *prometheus.CounterVec
	eventLatency  *prometheus.HistogramVec
	ingestErrors  *prometheus.CounterVec
	ruleErrors    *prometheus.CounterVec
	lifecycleSent *prometheus.CounterVec

	dispatchFailures   *prometheus.CounterVec
	publishFailures    prometheus.Counter
	attributeFetch     prometheus.Histogram
	attributeFetchErrs prometheus.Counter
	queueDepth         *prometheus.GaugeVec
	coordinators       *prometheus.GaugeVec
	rulesLoaded        prometheus.Gauge
)

// Init registers engine metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		eventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Total processed events by kind and result",
			},
			[]string{"kind", "result"},
		)
		eventLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "event_latency_seconds",
				Help:    "Event processing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total rejected inbound messages by reason",
			},
			[]string{"reason"},
		)
		ruleErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_errors_total",
				Help: "Total rule evaluation failures by rule",
			},
			[]string{"rule_id"},
		)
		lifecycleSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "lifecycle_events_total",
				Help: "Total alarm lifecycle messages by event type",
			},
			[]string{"event"},
		)
		dispatchFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatch_failures_total",
				Help: "Total alarm store dispatch failures by action",
			},
			[]string{"action"},
		)
		publishFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "publish_failures_total",
				Help: "Total lifecycle publish failures",
			},
		)
		attributeFetch = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "attribute_fetch_seconds",
				Help:    "Attribute prefetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		attributeFetchErrs = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "attribute_fetch_errors_total",
				Help: "Total failed attribute fetches",
			},
		)
		queueDepth = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "queue_depth",
				Help: "Pending jobs per shard",
			},
			[]string{"shard"},
		)
		coordinators = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "coordinators",
				Help: "Live entity coordinators per shard",
			},
			[]string{"shard"},
		)
		rulesLoaded = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "rules_loaded",
				Help: "Enabled rules in the active index",
			},
		)

		prometheus.MustRegister(
			eventsTotal,
			eventLatency,
			ingestErrors,
			ruleErrors,
			lifecycleSent,
			dispatchFailures,
			publishFailures,
			attributeFetch,
			attributeFetchErrs,
			queueDepth,
			coordinators,
			rulesLoaded,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveEvent records event processing duration and result.
func ObserveEvent(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if eventsTotal != nil {
		eventsTotal.WithLabelValues(kind, result).Inc()
	}
	if eventLatency != nil {
		eventLatency.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// IncIngestError increments the inbound rejection counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncRuleError increments the per-rule failure counter.
func IncRuleError(ruleID string) {
	if ruleErrors != nil {
		ruleErrors.WithLabelValues(ruleID).Inc()
	}
}

// IncLifecycleEvent increments lifecycle message counters.
func IncLifecycleEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if lifecycleSent != nil {
		lifecycleSent.WithLabelValues(event).Inc()
	}
}

// IncDispatchFailure increments the alarm store failure counter.
func IncDispatchFailure(action string) {
	if dispatchFailures != nil {
		dispatchFailures.WithLabelValues(action).Inc()
	}
}

// IncPublishFailure increments the publish failure counter.
func IncPublishFailure() {
	if publishFailures != nil {
		publishFailures.Inc()
	}
}

// ObserveAttributeFetch records prefetch latency.
func ObserveAttributeFetch(duration time.Duration) {
	if attributeFetch != nil {
		attributeFetch.Observe(duration.Seconds())
	}
}

// IncAttributeFetchError increments the failed fetch counter.
func IncAttributeFetchError() {
	if attributeFetchErrs != nil {
		attributeFetchErrs.Inc()
	}
}

// SetQueueDepth sets the pending job gauge of a shard.
func SetQueueDepth(shard, depth int) {
	if queueDepth != nil {
		queueDepth.WithLabelValues(strconv.Itoa(shard)).Set(float64(depth))
	}
}

// SetCoordinators sets the live coordinator gauge of a shard.
func SetCoordinators(shard, count int) {
	if coordinators != nil {
		coordinators.WithLabelValues(strconv.Itoa(shard)).Set(float64(count))
	}
}

// SetRulesLoaded sets the enabled rule gauge.
func SetRulesLoaded(count int) {
	if rulesLoaded != nil {
		rulesLoaded.Set(float64(count))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultSkipped = resultSkipped
)
