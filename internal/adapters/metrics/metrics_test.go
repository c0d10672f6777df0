package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SyncRun("apply", nil)
	m.SyncRun("apply", errors.New("boom"))
	m.SyncRecords("apply", OutcomeAdded, 3)
	m.SyncRecords("apply", OutcomeAdded, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncRuns.WithLabelValues("apply", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncRuns.WithLabelValues("apply", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.syncRecords.WithLabelValues("apply", OutcomeAdded)))
}

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest(http.MethodGet, "GET /healthz", 200, 3*time.Millisecond)
	m.ObserveQuery("QueryContext", time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(m.requestDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.queryDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", "/", 200, time.Second)
		m.ObserveQuery("op", time.Second)
		m.SyncRun("preview", nil)
		m.SyncRecords("preview", OutcomeSkipped, 1)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New(nil)
	m.SyncRecords("preview", OutcomeWarning, 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `rollcall_roster_sync_records_total{mode="preview",outcome="warning"} 2`), body)
	assert.Contains(t, body, "go_goroutines")
}
