package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveJob(t *testing.T) {
	m := New()
	m.ObserveJob("expiry", 0.2, 3, nil)
	m.ObserveJob("expiry", 0.1, 0, errors.New("db down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("expiry", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("expiry", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.JobItems.WithLabelValues("expiry")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveJob("purge", 1, 1, nil)
	m.ObservePublish("pool.joined", nil)
	m.ObserveHandled("pool.joined", nil)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObservePublish("pool.created", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `poolify_events_published_total{result="ok",type="pool.created"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
