package observability

import (
	"fmt"
	"testing"
	"time"

	"github.com/garvis/router/models"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns metric name -> summed counter/gauge value, plus histogram sample counts.
func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				out[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[mf.GetName()] += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[mf.GetName()] += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestMetrics_ObserveDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	forwarded := models.NewRouteDecision("req-1", models.SourceRule, "code-hints", "gar-code").
		WithTarget("qwen2.5-coder:7b", "gpu1").
		WithOutcome(models.OutcomeSuccess, 1500*time.Millisecond)
	evaluated := models.NewRouteDecision("req-2", models.SourceDefault, "default", "gar-router").
		WithTarget("llama3.2:3b", "cpu").
		WithOutcome(models.OutcomeEvaluated, 0)

	m.ObserveDecision(forwarded)
	m.ObserveDecision(evaluated)

	values := gathered(t, reg)
	assert.Equal(t, 2.0, values["garvis_router_decisions_total"])
	assert.Equal(t, 1.0, values["garvis_router_backend_request_duration_seconds"])
}

func TestMetrics_ObserveDecision_UnresolvedAliasIsOneSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	for i := 0; i < 200; i++ {
		rejected := models.NewRouteDecision(fmt.Sprintf("req-%d", i), models.SourceExplicit, "explicit", fmt.Sprintf("junk-%d", i)).
			WithOutcome(models.OutcomeError, 0).
			WithError("unknown_alias", "unknown model alias")
		m.ObserveDecision(rejected)
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	var series []*dto.Metric
	for _, mf := range families {
		if mf.GetName() == "garvis_router_decisions_total" {
			series = mf.GetMetric()
		}
	}
	require.Len(t, series, 1)
	assert.Equal(t, 200.0, series[0].GetCounter().GetValue())
	for _, label := range series[0].GetLabel() {
		if label.GetName() == "alias" {
			assert.Equal(t, UnresolvedAlias, label.GetValue())
		}
	}
}

func TestMetrics_DecisionLog(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.DecisionDropped()
	m.DecisionDropped()
	m.SinkFailed("file")

	values := gathered(t, reg)
	assert.Equal(t, 2.0, values["garvis_router_decision_log_dropped_total"])
	assert.Equal(t, 1.0, values["garvis_router_decision_log_sink_errors_total"])
}

func TestMetrics_ObserveProbe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveProbe(models.EndpointProbe{EndpointID: "gpu0", OK: true, LatencyMs: 12})
	m.ObserveProbe(models.EndpointProbe{EndpointID: "cpu", OK: false, Error: "connection refused"})

	values := gathered(t, reg)
	assert.Equal(t, 1.0, values["garvis_router_endpoint_up"])
	assert.Equal(t, 2.0, values["garvis_router_probe_duration_seconds"])
}

func TestMetrics_ObserveHTTP(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveHTTP("POST", "/api/generate", 200, 0.5)
	m.ObserveHTTP("GET", "/health", 503, 0.01)

	values := gathered(t, reg)
	assert.Equal(t, 2.0, values["garvis_router_http_requests_total"])
	assert.Equal(t, 2.0, values["garvis_router_http_request_duration_seconds"])
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
