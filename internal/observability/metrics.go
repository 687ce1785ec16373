package observability

import (
	"strconv"

	"github.com/garvis/router/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "garvis_router"

// Metrics holds the router's Prometheus collectors.
type Metrics struct {
	decisions        *prometheus.CounterVec
	backendLatency   *prometheus.HistogramVec
	decisionsDropped prometheus.Counter
	sinkErrors       *prometheus.CounterVec
	endpointUp       *prometheus.GaugeVec
	probeLatency     *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Routing decisions by selection source, rule, alias, endpoint and outcome.",
		}, []string{"source", "rule", "alias", "endpoint", "outcome"}),
		backendLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Latency of forwarded generate calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"endpoint", "outcome"}),
		decisionsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_log_dropped_total",
			Help:      "Decision records dropped because the log queue was full.",
		}),
		sinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_log_sink_errors_total",
			Help:      "Decision records a sink failed to persist.",
		}, []string{"sink"}),
		endpointUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "endpoint_up",
			Help:      "1 if the last liveness probe of the endpoint succeeded.",
		}, []string{"endpoint"}),
		probeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Latency of endpoint liveness probes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Inbound HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Inbound HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// UnresolvedAlias is the alias label of decisions whose alias is not in the
// inventory. The client-supplied name only goes to the decision log.
const UnresolvedAlias = "unknown"

// ObserveDecision counts a completed decision and, for forwarded calls, its backend latency.
func (m *Metrics) ObserveDecision(d *models.RouteDecision) {
	alias := d.Alias
	if d.EndpointID == "" {
		alias = UnresolvedAlias
	}
	m.decisions.WithLabelValues(string(d.Source), d.Rule, alias, d.EndpointID, string(d.Outcome)).Inc()
	if d.Outcome != models.OutcomeEvaluated && d.EndpointID != "" {
		m.backendLatency.WithLabelValues(d.EndpointID, string(d.Outcome)).Observe(float64(d.LatencyMs) / 1000)
	}
}

// DecisionDropped counts a record the decision log could not queue.
func (m *Metrics) DecisionDropped() {
	m.decisionsDropped.Inc()
}

// SinkFailed counts a record a decision log sink failed to write.
func (m *Metrics) SinkFailed(sink string) {
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// ObserveProbe records the result of one endpoint probe.
func (m *Metrics) ObserveProbe(p models.EndpointProbe) {
	up := 0.0
	if p.OK {
		up = 1
	}
	m.endpointUp.WithLabelValues(p.EndpointID).Set(up)
	m.probeLatency.WithLabelValues(p.EndpointID).Observe(float64(p.LatencyMs) / 1000)
}

// ObserveHTTP records one inbound request. route is the matched route pattern.
func (m *Metrics) ObserveHTTP(method, route string, status int, seconds float64) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}
