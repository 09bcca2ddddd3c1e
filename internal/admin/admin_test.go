package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dqx0.com/go/httpd/internal/obs"
)

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthAndReady(t *testing.T) {
	s := New("127.0.0.1:0", obs.NewRegistry(), nil)

	if rec := get(t, s.Handler(), "/health"); rec.Code != 200 || rec.Body.String() != "ok" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, s.Handler(), "/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready before SetReady: %d", rec.Code)
	}
	s.SetReady(true)
	if rec := get(t, s.Handler(), "/ready"); rec.Code != 200 {
		t.Fatalf("ready: %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	reg := obs.NewRegistry()
	reg.Counter("httpd_requests_total", 1, obs.Label{Key: "status", Value: "200"})
	reg.Counter("httpd_requests_total", 1, obs.Label{Key: "status", Value: "200"})
	reg.Histogram("httpd_request_seconds", 0.5)
	s := New("127.0.0.1:0", reg, nil)

	rec := get(t, s.Handler(), "/stats")
	if rec.Code != 200 {
		t.Fatalf("stats: %d", rec.Code)
	}
	var got statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, rec.Body.String())
	}
	if v := got.Counters[`httpd_requests_total{status="200"}`]; v != 2 {
		t.Fatalf("counters=%v", got.Counters)
	}
	if h := got.Histograms["httpd_request_seconds"]; h.Count != 1 || h.Sum != 0.5 {
		t.Fatalf("histograms=%v", got.Histograms)
	}
}

func TestStartShutdown(t *testing.T) {
	s := New("127.0.0.1:0", obs.NewRegistry(), nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
