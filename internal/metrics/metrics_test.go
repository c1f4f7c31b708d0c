package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveHTTP("GET", "/", 200, 10*time.Millisecond)
	m.ObserveHTTP("GET", "/", 200, 10*time.Millisecond)
	m.ObserveBackend("dashboard", 0, time.Second)
	m.DraftSave("ok")
	m.StaleDropped("dashboard")
	m.CacheLookup("dashboard", true)
	m.CacheLookup("dashboard", false)
	m.RateLimited()
	m.SetWorkspaces(3)
	m.EventPublished("receipt.saved", errors.New("down"))
	m.Export("duplicate")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backendCalls.WithLabelValues("dashboard", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("dashboard", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsOut.WithLabelValues("receipt.saved", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.workspaces))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveHTTP("GET", "/", 200, time.Millisecond)
		m.DraftSave("ok")
		m.RateLimited()
		m.EventPublished("x", nil)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.DraftSave("stale")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `splithappens_draft_saves_total{outcome="stale"} 1`))
}
