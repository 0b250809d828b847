package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func registerDBMetrics(db *sql.DB, logger *logrus.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "bills_unpaid",
			Help: "Unpaid bills across all periods",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM bills WHERE NOT paid")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "fee_configurations_draft",
			Help: "Fee configurations waiting to be published",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM fee_configurations WHERE status = 'draft'")
		},
	))
}

func queryCount(db *sql.DB, logger *logrus.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.WithError(err).Warn("metrics query failed")
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
