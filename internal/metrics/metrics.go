// Package metrics provides Prometheus metrics for the transcode bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	JobsTotal      *prometheus.CounterVec
	JobsActive     prometheus.Gauge
	JobDuration    *prometheus.HistogramVec
	KeepAwakeHeld  prometheus.Gauge
	StagedBytes    *prometheus.CounterVec
	AccessRequests *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "jobs",
				Name:      "total",
				Help:      "Total number of finished jobs by outcome",
			},
			[]string{"outcome"},
		),
		JobsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "bridge",
				Subsystem: "jobs",
				Name:      "active",
				Help:      "1 while a job occupies the job slot",
			},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bridge",
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Job wall time by mode",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"mode"},
		),
		KeepAwakeHeld: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "bridge",
				Subsystem: "keepawake",
				Name:      "held",
				Help:      "1 while the stay-awake token is held",
			},
		),
		StagedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "stager",
				Name:      "bytes_total",
				Help:      "Bytes copied by the file stager by direction",
			},
			[]string{"direction"},
		),
		AccessRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bridge",
				Subsystem: "access",
				Name:      "requests_total",
				Help:      "Storage access requests by outcome",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		m.JobsTotal,
		m.JobsActive,
		m.JobDuration,
		m.KeepAwakeHeld,
		m.StagedBytes,
		m.AccessRequests,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveJob records one finished job.
func (m *Metrics) ObserveJob(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
	m.JobDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// SetJobActive toggles the active job gauge.
func (m *Metrics) SetJobActive(active bool) {
	if m == nil {
		return
	}
	m.JobsActive.Set(boolGauge(active))
}

// SetKeepAwake toggles the keep-awake gauge.
func (m *Metrics) SetKeepAwake(held bool) {
	if m == nil {
		return
	}
	m.KeepAwakeHeld.Set(boolGauge(held))
}

// AddStagedBytes counts bytes copied "in" or "out".
func (m *Metrics) AddStagedBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.StagedBytes.WithLabelValues(direction).Add(float64(n))
}

// IncAccessRequest counts one access request outcome.
func (m *Metrics) IncAccessRequest(outcome string) {
	if m == nil {
		return
	}
	m.AccessRequests.WithLabelValues(outcome).Inc()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
