package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer() *Server {
	return NewServer(DefaultServerConfig(), nil)
}

func TestHealthHandler_NoChecks(t *testing.T) {
	s := newTestServer()

	rr := httptest.NewRecorder()
	s.healthHandler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var body HealthStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != StatusOK {
		t.Errorf("overall status = %q, want %q", body.Status, StatusOK)
	}
}

func TestHealthHandler_FailingCheck(t *testing.T) {
	s := newTestServer()
	s.RegisterHealthCheck("venue", func() Check {
		return Check{Status: StatusDown, Message: "feed disconnected"}
	})

	rr := httptest.NewRecorder()
	s.healthHandler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}

	var body HealthStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != StatusDown {
		t.Errorf("overall status = %q, want %q", body.Status, StatusDown)
	}
	if body.Checks["venue"].Message != "feed disconnected" {
		t.Errorf("check message = %q", body.Checks["venue"].Message)
	}
}

func TestReadyHandler(t *testing.T) {
	s := newTestServer()
	s.RegisterHealthCheck("engine", func() Check {
		return Check{Status: StatusOK}
	})

	rr := httptest.NewRecorder()
	s.readyHandler(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready status = %d, want 200", rr.Code)
	}

	s.RegisterHealthCheck("venue", func() Check {
		return Check{Status: StatusDown}
	})

	rr = httptest.NewRecorder()
	s.readyHandler(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", rr.Code)
	}
}

func TestLiveHandler(t *testing.T) {
	s := newTestServer()

	rr := httptest.NewRecorder()
	s.liveHandler(rr, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("live status = %d, want 200", rr.Code)
	}
	if rr.Body.String() != "alive" {
		t.Errorf("live body = %q, want alive", rr.Body.String())
	}
}

func TestUptime(t *testing.T) {
	s := newTestServer()
	if s.Uptime() < 0 {
		t.Fatal("uptime went backwards")
	}
}
