package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(ReconnectAttempts)
	m.Add(MessagesQueued, 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE conference_signaling_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `conference_signaling_events_total{event="messages_queued"} 2`) {
		t.Fatalf("missing queued counter: %s", body)
	}
	if !strings.Contains(body, `conference_signaling_events_total{event="reconnect_attempts"} 1`) {
		t.Fatalf("missing reconnect counter: %s", body)
	}
	// Ensure label escaping matches Prometheus text format rules.
	if !strings.Contains(body, `conference_signaling_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestMetrics_SnapshotIsACopy(t *testing.T) {
	m := New()
	m.Inc(LoginOK)

	snap := m.Snapshot()
	snap[LoginOK] = 42

	if got := m.Get(LoginOK); got != 1 {
		t.Fatalf("snapshot mutation leaked into registry: %d", got)
	}
}
