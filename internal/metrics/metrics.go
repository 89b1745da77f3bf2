// Package metrics exposes Prometheus collectors for the conversation loop.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parley"

type Metrics struct {
	registry *prometheus.Registry

	transitions       *prometheus.CounterVec
	state             *prometheus.GaugeVec
	turns             *prometheus.CounterVec
	calls             *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	recognitionFaults prometheus.Counter
	staleResults      prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Voice state transitions",
		}, []string{"from", "to"}),
		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "voice_state",
			Help:      "Current voice state (1 for the active state)",
		}, []string{"state"}),
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns appended to the conversation log",
		}, []string{"speaker", "fallback"}),
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_requests_total",
			Help:      "Transcriber, responder and speaker calls",
		}, []string{"collaborator", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_latency_seconds",
			Help:      "Collaborator call latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		}, []string{"collaborator"}),
		recognitionFaults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_faults_total",
			Help:      "Recognizer sessions that ended in a fault",
		}),
		staleResults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_total",
			Help:      "Results discarded because a newer turn had started",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
	m.state.WithLabelValues(from).Set(0)
	m.state.WithLabelValues(to).Set(1)
}

func (m *Metrics) ObserveTurn(speaker string, fallback bool) {
	if m == nil {
		return
	}
	flag := "false"
	if fallback {
		flag = "true"
	}
	m.turns.WithLabelValues(speaker, flag).Inc()
}

// ObserveCall records one collaborator round trip.
func (m *Metrics) ObserveCall(collaborator string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.calls.WithLabelValues(collaborator, status).Inc()
	m.latency.WithLabelValues(collaborator).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRecognitionFault() {
	if m == nil {
		return
	}
	m.recognitionFaults.Inc()
}

func (m *Metrics) ObserveStale() {
	if m == nil {
		return
	}
	m.staleResults.Inc()
}
