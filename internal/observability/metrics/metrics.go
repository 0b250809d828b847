package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	metricPrefix = "residence_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	billingOpsTotal   *prometheus.CounterVec
	billingOpsLatency *prometheus.HistogramVec

	intakeRowsTotal *prometheus.CounterVec

	notificationsTotal *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers metrics and, when db is set, DB-backed gauges.
func Init(db *sql.DB, logger *logrus.Logger) {
	registerOnce.Do(func() {
		billingOpsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "billing_operations_total",
				Help: "Total billing operations by operation and result",
			},
			[]string{"operation", "result"},
		)
		billingOpsLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "billing_operation_latency_seconds",
				Help:    "Billing operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "result"},
		)

		intakeRowsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "intake_rows_total",
				Help: "Consumption rows received by outcome",
			},
			[]string{"outcome"},
		)

		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Resident notifications by event, channel and result",
			},
			[]string{"event", "channel", "result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total bill exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Bill export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			billingOpsTotal,
			billingOpsLatency,
			intakeRowsTotal,
			notificationsTotal,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveBilling records a billing operation's latency and result.
func ObserveBilling(operation, result string, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if billingOpsTotal != nil {
		billingOpsTotal.WithLabelValues(operation, result).Inc()
	}
	if billingOpsLatency != nil {
		billingOpsLatency.WithLabelValues(operation, result).Observe(duration.Seconds())
	}
}

// AddIntakeRows counts accepted or rejected consumption rows.
func AddIntakeRows(outcome string, count int) {
	if count <= 0 {
		return
	}
	if intakeRowsTotal != nil {
		intakeRowsTotal.WithLabelValues(outcome).Add(float64(count))
	}
}

// IncNotification counts one notification delivery attempt.
func IncNotification(event, channel, result string) {
	if event == "" {
		event = "unknown"
	}
	if channel == "" {
		channel = "unknown"
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(event, channel, result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// ResultOf maps an error onto a result label.
func ResultOf(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	IntakeAccepted = "accepted"
	IntakeRejected = "rejected"
)
