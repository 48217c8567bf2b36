// Package metrics exposes compilation and HTTP metrics to Prometheus.
//
// Metrics registers its collectors on the Registerer it is given rather
// than the global default, so tests and multiple servers in one process
// do not collide.
package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	doc2pdf "github.com/alnah/go-doc2pdf"
)

const namespace = "doc2pdf"

// Outcome labels.
const (
	OutcomeOK           = "ok"
	OutcomeInvalidInput = "invalid_input"
	OutcomeUnavailable  = "unavailable"
	OutcomeTimeout      = "timeout"
	OutcomeFailed       = "failed"
	OutcomeCancelled    = "cancelled"
	OutcomeError        = "error"
)

// Metrics implements doc2pdf.Observer on top of Prometheus collectors.
type Metrics struct {
	compiles        *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec
	inFlight        *prometheus.GaugeVec
	cleanupFailures prometheus.Counter
	swept           *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	reg             prometheus.Registerer
}

var _ doc2pdf.Observer = (*Metrics)(nil)

// New creates and registers all collectors on reg.
// Panics if a collector is already registered, like promauto.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,

		// Labels: kind, engine, outcome
		compiles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compile",
			Name:      "requests_total",
			Help:      "Compilations by source kind, engine and outcome",
		}, []string{"kind", "engine", "outcome"}),

		// Labels: engine, outcome
		compileDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compile",
			Name:      "duration_seconds",
			Help:      "Wall-clock compilation time, queueing included",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"engine", "outcome"}),

		// Labels: kind
		inFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "compile",
			Name:      "in_flight",
			Help:      "Compilations started and not yet finished",
		}, []string{"kind"}),

		cleanupFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifacts",
			Name:      "cleanup_failures_total",
			Help:      "Artifact files that could not be removed",
		}),

		// Labels: area (artifacts, documents)
		swept: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "janitor",
			Name:      "swept_files_total",
			Help:      "Expired files removed by the janitor",
		}, []string{"area"}),

		// Labels: route, method, status
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code",
		}, []string{"route", "method", "status"}),

		// Labels: route
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// CompileStarted implements doc2pdf.Observer.
func (m *Metrics) CompileStarted(kind doc2pdf.SourceKind) {
	m.inFlight.WithLabelValues(string(kind)).Inc()
}

// CompileFinished implements doc2pdf.Observer.
func (m *Metrics) CompileFinished(kind doc2pdf.SourceKind, engine string, d time.Duration, err error) {
	outcome := Outcome(err)
	m.inFlight.WithLabelValues(string(kind)).Dec()
	m.compiles.WithLabelValues(string(kind), engine, outcome).Inc()
	m.compileDuration.WithLabelValues(engine, outcome).Observe(d.Seconds())
}

// CleanupFailed implements doc2pdf.Observer.
func (m *Metrics) CleanupFailed(string, error) {
	m.cleanupFailures.Inc()
}

// Swept records files removed by a janitor pass.
func (m *Metrics) Swept(area string, n int) {
	if n > 0 {
		m.swept.WithLabelValues(area).Add(float64(n))
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// TrackLimiter exports the size and occupancy of l as gauges.
func (m *Metrics) TrackLimiter(l *doc2pdf.Limiter) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "limiter",
		Name:      "slots",
		Help:      "Maximum concurrent compiler invocations",
	}, func() float64 { return float64(l.Size()) })

	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "limiter",
		Name:      "slots_in_use",
		Help:      "Compiler invocations currently holding a slot",
	}, func() float64 { return float64(l.InUse()) })
}

// Outcome classifies a compilation error into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	case errors.Is(err, doc2pdf.ErrInvalidInput):
		return OutcomeInvalidInput
	case errors.Is(err, doc2pdf.ErrCompilerUnavailable):
		return OutcomeUnavailable
	case errors.Is(err, doc2pdf.ErrCompilerTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, doc2pdf.ErrCompilationFailed), errors.Is(err, doc2pdf.ErrCompilerExecution):
		return OutcomeFailed
	default:
		return OutcomeError
	}
}
