// Package metrics exposes the service's Prometheus metrics on a dedicated listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Will lifecycle events counted by Recorder.WillEvent.
const (
	EventInitiated = "initiated"
	EventActivated = "activated"
	EventRevoked   = "revoked"
	EventClaimed   = "claimed"
	EventDisclosed = "disclosed"
)

type MetricsServer struct {
	registry *prometheus.Registry
	recorder *Recorder
	srv      *http.Server
}

// New creates a metrics server with its own registry, populated with the
// Go runtime and process collectors and the service's Recorder.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace})); err != nil {
		return nil, err
	}

	recorder, err := NewRecorder(namespace, registry)
	if err != nil {
		return nil, err
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry: registry,
		recorder: recorder,
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Recorder returns the recorder registered with this server.
func (m *MetricsServer) Recorder() *Recorder {
	return m.recorder
}

func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// Recorder records protocol-level metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	willEvents    *prometheus.CounterVec
	authFailures  *prometheus.CounterVec
	requestErrors *prometheus.CounterVec
	ledgerLookups *prometheus.HistogramVec
}

// NewRecorder creates the protocol metrics and registers them with reg.
func NewRecorder(namespace string, reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		willEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "will_events_total",
			Help:      "Will lifecycle events by kind.",
		}, []string{"event"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected signed requests by intent.",
		}, []string{"intent"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "API errors by class.",
		}, []string{"class"}),
		ledgerLookups: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_lookup_duration_seconds",
			Help:      "Claim ledger lookups by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{r.willEvents, r.authFailures, r.requestErrors, r.ledgerLookups} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) WillEvent(event string) {
	if r == nil {
		return
	}
	r.willEvents.WithLabelValues(event).Inc()
}

func (r *Recorder) AuthFailure(intent string) {
	if r == nil {
		return
	}
	r.authFailures.WithLabelValues(intent).Inc()
}

func (r *Recorder) RequestError(class string) {
	if r == nil {
		return
	}
	r.requestErrors.WithLabelValues(class).Inc()
}

func (r *Recorder) LedgerLookup(outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.ledgerLookups.WithLabelValues(outcome).Observe(duration.Seconds())
}
