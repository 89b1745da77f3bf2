package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveTransitionTracksCurrentState(t *testing.T) {
	m := New()

	m.ObserveTransition("idle", "listening")
	m.ObserveTransition("listening", "awaiting_reply")

	require.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("idle", "listening")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("listening")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("awaiting_reply")))
}

func TestObserveCallsAndTurns(t *testing.T) {
	m := New()

	m.ObserveCall("responder", 300*time.Millisecond, nil)
	m.ObserveCall("responder", time.Second, errors.New("boom"))
	m.ObserveTurn("assistant", true)
	m.ObserveRecognitionFault()
	m.ObserveStale()

	require.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("responder", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("responder", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("assistant", "true")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.recognitionFaults))
	require.Equal(t, 1.0, testutil.ToFloat64(m.staleResults))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveTurn("user", false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	require.Contains(t, string(body), `parley_turns_total{fallback="false",speaker="user"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("idle", "listening")
	m.ObserveTurn("user", false)
	m.ObserveCall("speaker", time.Second, nil)
	m.ObserveRecognitionFault()
	m.ObserveStale()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 404, rec.Code)
}
