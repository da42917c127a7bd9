package service

import (
	"net/http"
	"time"

	"github.com/mir00r/headmaster/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the proxy. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec
	ActiveSessions  *prometheus.GaugeVec
	BytesTotal      *prometheus.CounterVec
	RejectedTotal   prometheus.Counter
	NoBackendTotal  prometheus.Counter
	BackendsInPool  prometheus.Gauge
}

// NewMetrics creates every instrument on a private registry
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "headmaster"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Forwarded sessions by terminal outcome",
			},
			[]string{"outcome"},
		),
		SessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Time from accept to the recorded outcome",
				Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 30, 120, 600},
			},
			[]string{"outcome"},
		),
		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backend_active_sessions",
				Help:      "Sessions handed to a backend whose outcome is not yet recorded",
			},
			[]string{"backend"},
		),
		BytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forwarded_bytes_total",
				Help:      "Bytes copied by successful sessions",
			},
			[]string{"direction"},
		),
		RejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_clients_total",
			Help:      "Connections refused because the client is blacklisted",
		}),
		NoBackendTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_backend_total",
			Help:      "Accepted clients dropped because no backend could be selected",
		}),
		BackendsInPool: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backends",
			Help:      "Backends in the live list",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) sessionSelected(backend string) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(backend).Inc()
}

func (m *Metrics) sessionRecorded(backend string, outcome domain.Outcome, elapsed time.Duration, requestBytes, responseBytes int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(backend).Dec()
	m.SessionsTotal.WithLabelValues(outcome.String()).Inc()
	m.SessionDuration.WithLabelValues(outcome.String()).Observe(elapsed.Seconds())
	if outcome == domain.OutcomeSuccess {
		m.BytesTotal.WithLabelValues("request").Add(float64(requestBytes))
		m.BytesTotal.WithLabelValues("response").Add(float64(responseBytes))
	}
}

func (m *Metrics) clientRejected() {
	if m == nil {
		return
	}
	m.RejectedTotal.Inc()
}

func (m *Metrics) noBackend() {
	if m == nil {
		return
	}
	m.NoBackendTotal.Inc()
}

func (m *Metrics) poolSize(n int) {
	if m == nil {
		return
	}
	m.BackendsInPool.Set(float64(n))
}
