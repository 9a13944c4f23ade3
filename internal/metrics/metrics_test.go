package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMetrics tests that all metrics register without panicking and count
func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	m.ToolExecutionsTotal.WithLabelValues("send_email", "success").Inc()
	m.ToolExecutionsTotal.WithLabelValues("send_email", "failure").Inc()
	m.ToolExecutionDuration.WithLabelValues("send_email").Observe(0.25)
	m.ApprovalsCreatedTotal.Inc()
	m.ApprovalsDecidedTotal.WithLabelValues("approved").Inc()
	m.ApprovalsExpiredTotal.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ToolExecutionsTotal.WithLabelValues("send_email", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ApprovalsCreatedTotal))
}

// TestObserveDecision tests the required/auto label split
func TestObserveDecision(t *testing.T) {
	m := NewMetrics()

	m.ObserveDecision("default", false)
	m.ObserveDecision("default", false)
	m.ObserveDecision("high_risk", true)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("default", "false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("high_risk", "true")))
}

// TestHandler tests that the metrics endpoint serves the registered series
func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.ToolExecutionsTotal.WithLabelValues("list_events", "success").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "tool_executions_total")
}
