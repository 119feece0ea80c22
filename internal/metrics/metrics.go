// Package metrics exposes the process-wide prometheus registry.
package metrics

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ticketforge",
	Name:      "build_info",
	Help:      "Build metadata, value is always 1.",
}, []string{"version"})

// Handler serves every metric registered with the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RegisterBuildInfo publishes the running version.
func RegisterBuildInfo(version string) error {
	if err := register(buildInfo); err != nil {
		return err
	}
	buildInfo.WithLabelValues(version).Set(1)
	return nil
}

// RegisterDBStats exports connection pool statistics for db under dbName.
func RegisterDBStats(db *sql.DB, dbName string) error {
	return register(collectors.NewDBStatsCollector(db, dbName))
}

func register(c prometheus.Collector) error {
	err := prometheus.Register(c)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}
