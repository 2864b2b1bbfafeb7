package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/beatsd/internal/beats"
	"github.com/danmuck/beatsd/internal/testutil/testlog"
)

type fakeSource struct {
	serving bool
	conns   []beats.ConnInfo
}

func (f fakeSource) Serving() bool              { return f.serving }
func (f fakeSource) Snapshot() []beats.ConnInfo { return f.conns }

func do(t *testing.T, s *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)

	s := New(Config{Version: "test"}, fakeSource{serving: false})
	if rec := do(t, s, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}
	if rec := do(t, s, "/ready", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready while not serving: expected 503, got %d", rec.Code)
	}

	s = New(Config{}, fakeSource{serving: true})
	if rec := do(t, s, "/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rec.Code)
	}
}

func TestConnectionsRequireToken(t *testing.T) {
	testlog.Start(t)

	src := fakeSource{serving: true, conns: []beats.ConnInfo{{
		ID:         "c1",
		RemoteAddr: "10.0.0.1:5000",
		OpenedAt:   time.Now(),
		State:      "idle",
		Batches:    2,
		LastAck:    40,
	}}}
	s := New(Config{Token: "secret"}, src)

	if rec := do(t, s, "/connections", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := do(t, s, "/connections", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}

	rec := do(t, s, "/connections", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Count       int              `json:"count"`
		Connections []beats.ConnInfo `json:"connections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 1 || body.Connections[0].ID != "c1" || body.Connections[0].LastAck != 40 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)

	s := New(Config{}, fakeSource{serving: true})
	do(t, s, "/health", "")
	rec := do(t, s, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "beatsd_http_requests_total") {
		t.Fatalf("metrics output missing beatsd_http_requests_total")
	}
}

func TestCORSPreflight(t *testing.T) {
	testlog.Start(t)

	s := New(Config{CORSOrigins: []string{" http://localhost:3000 ", ""}}, fakeSource{serving: true})
	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q (status %d)", got, rec.Code)
	}
}
