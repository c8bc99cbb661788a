package metrics

import (
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

func TestRecorder(t *testing.T) {
	registry := prometheus.NewRegistry()
	r, err := NewRecorder("test", registry)
	require.NoError(t, err)

	r.WillEvent(EventInitiated)
	r.WillEvent(EventInitiated)
	r.WillEvent(EventClaimed)
	r.AuthFailure("claim_will")
	r.RequestError("state")
	r.LedgerLookup("claimed", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.willEvents.WithLabelValues(EventInitiated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.willEvents.WithLabelValues(EventClaimed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.authFailures.WithLabelValues("claim_will")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.requestErrors.WithLabelValues("state")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.ledgerLookups))

	// Registering twice on the same registry fails.
	_, err = NewRecorder("test", registry)
	assert.Error(t, err)
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.WillEvent(EventRevoked)
		r.AuthFailure("login")
		r.RequestError("auth")
		r.LedgerLookup("error", time.Second)
	})
}

func TestMetricsServer(t *testing.T) {
	srv, err := New("will_escrow", "127.0.0.1:0")
	require.NoError(t, err)

	srv.Recorder().WillEvent(EventActivated)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `will_escrow_will_events_total{event="activated"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
