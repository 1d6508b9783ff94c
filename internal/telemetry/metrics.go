// Package telemetry holds the Prometheus metrics of the script service.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build several servers.
type Metrics struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	importedScripts *prometheus.CounterVec
	exportedScripts prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "scriptline"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Script API operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		importedScripts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_scripts_total",
			Help:      "Scripts written by import requests by outcome",
		}, []string{"outcome"}),
		exportedScripts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exported_scripts_total",
			Help:      "Scripts placed into export documents",
		}),
	}
	m.registry.MustRegister(m.operations, m.importedScripts, m.exportedScripts)
	return m
}

// Observe records one API operation; err decides the outcome label.
func (m *Metrics) Observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Imported(ok, failed int) {
	m.importedScripts.WithLabelValues("ok").Add(float64(ok))
	m.importedScripts.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) Exported(n int) {
	m.exportedScripts.Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
