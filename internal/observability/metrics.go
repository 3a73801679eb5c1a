package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event statuses recorded on EventsTotal.
const (
	StatusForwarded = "forwarded"
	StatusDropped   = "dropped"
	StatusError     = "error"
)

// Event phases recorded on EventDuration.
const (
	PhaseIntercept = "intercept"
	PhaseDeliver   = "deliver"
)

// Metrics holds all beatshim Prometheus metrics.
type Metrics struct {
	EventsTotal         *prometheus.CounterVec
	EventDuration       *prometheus.HistogramVec
	InterceptorOutcomes *prometheus.CounterVec
	InterceptorDuration *prometheus.HistogramVec
	FlowsLoaded         prometheus.Gauge
}

// NewMetrics creates and registers all beatshim metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beatshim_events_total",
			Help: "Total events handled per flow and status.",
		}, []string{"flow", "status"}),

		EventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beatshim_event_duration_seconds",
			Help:    "Processing time per event phase.",
			Buckets: prometheus.DefBuckets,
		}, []string{"flow", "phase"}),

		InterceptorOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beatshim_interceptor_outcomes_total",
			Help: "Interceptor results by interceptor and outcome.",
		}, []string{"interceptor", "outcome"}),

		InterceptorDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beatshim_interceptor_duration_seconds",
			Help:    "Time spent inside each interceptor.",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"interceptor"}),

		FlowsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beatshim_flows_loaded",
			Help: "Number of flows currently loaded.",
		}),
	}
}

// RecordInterceptorOutcome counts one interceptor result.
func (m *Metrics) RecordInterceptorOutcome(interceptor, outcome string) {
	m.InterceptorOutcomes.WithLabelValues(interceptor, outcome).Inc()
}

// ObserveInterceptor records time spent in an interceptor since start.
func (m *Metrics) ObserveInterceptor(interceptor string, start time.Time) {
	m.InterceptorDuration.WithLabelValues(interceptor).Observe(time.Since(start).Seconds())
}

// RecordEvent counts one event for flow with the given status.
func (m *Metrics) RecordEvent(flow, status string) {
	m.EventsTotal.WithLabelValues(flow, status).Inc()
}

// ObservePhase records time spent in phase since start.
func (m *Metrics) ObservePhase(flow, phase string, start time.Time) {
	m.EventDuration.WithLabelValues(flow, phase).Observe(time.Since(start).Seconds())
}
