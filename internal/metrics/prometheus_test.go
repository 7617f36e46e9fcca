package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingBeforeInitIsANoOp(t *testing.T) {
	promMetrics = nil
	assert.NotPanics(t, func() {
		RecordInvocation("native", "echo", 5, true)
		RecordTransaction("s", 5, true)
		RecordDispatch("s", "step")
		IncActiveTransactions()
		DecActiveTransactions()
		SetCircuitBreakerState("s/step", 1)
		RecordCircuitBreakerTrip("s/step", "open")
	})
}

func TestHandlerExposesRegisteredSeries(t *testing.T) {
	InitPrometheus("flowhost_test", nil)
	t.Cleanup(func() { promMetrics = nil })

	RecordInvocation("native", "echo", 12, true)
	RecordTransaction("pipeline", 34, true)
	SetCircuitBreakerState("pipeline/step", 1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "flowhost_test_invocations_total"))
	assert.True(t, strings.Contains(body, "flowhost_test_transactions_total"))
	assert.True(t, strings.Contains(body, "flowhost_test_circuit_breaker_state"))
}
