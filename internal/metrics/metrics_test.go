package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequest(http.StatusUnauthorized)
	c.RecordRequest(http.StatusUnauthorized)
	c.RecordRefresh(RefreshSucceeded)
	c.RecordLogout()
	c.RecordPoll(PollOK)
	c.RecordCompletion()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("401")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.refreshes.WithLabelValues(RefreshSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.logouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.completions))
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordJobStep("VALIDATING")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `readaloud_job_steps_total{step="VALIDATING"} 1`))
}

func TestOrNop(t *testing.T) {
	assert.Equal(t, Nop{}, OrNop(nil))
}
