package health

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postalsys/udprelay/internal/metrics"
	"github.com/postalsys/udprelay/internal/udp"
)

// mockStatsProvider implements StatsProvider for testing.
type mockStatsProvider struct {
	running bool
	stats   udp.Stats
}

func (m *mockStatsProvider) IsRunning() bool {
	return m.running
}

func (m *mockStatsProvider) Stats() udp.Stats {
	return m.stats
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true})
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
}

func TestServer_handleHealth(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: false})

	// /health answers even when the engine is down.
	rec := serve(s, http.MethodGet, "/health")

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if body := rec.Body.String(); body != "OK\n" {
		t.Errorf("expected body 'OK\\n', got %q", body)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: true})

	for _, path := range []string{"/health", "/healthz", "/ready", "/stats"} {
		rec := serve(s, http.MethodPost, path)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: expected status %d, got %d", path, http.StatusMethodNotAllowed, rec.Code)
		}
	}
}

func TestServer_handleHealthz_Running(t *testing.T) {
	provider := &mockStatsProvider{
		running: true,
		stats: udp.Stats{
			State:      "RUNNING",
			LocalAddr:  "127.0.0.1:9001",
			PendingTx:  4,
			PendingRx:  2,
			SendErrors: 1,
		},
	}
	s := NewServer(DefaultServerConfig(), provider)

	rec := serve(s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %v", response["status"])
	}
	if response["local_addr"] != "127.0.0.1:9001" {
		t.Errorf("expected local_addr, got %v", response["local_addr"])
	}
	if int(response["pending_tx"].(float64)) != 4 {
		t.Errorf("expected pending_tx 4, got %v", response["pending_tx"])
	}
}

func TestServer_handleHealthz_NotRunning(t *testing.T) {
	s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: false})

	rec := serve(s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "unavailable" {
		t.Errorf("expected status 'unavailable', got %v", response["status"])
	}
}

func TestServer_handleReady(t *testing.T) {
	tests := []struct {
		running bool
		code    int
		body    string
	}{
		{true, http.StatusOK, "READY\n"},
		{false, http.StatusServiceUnavailable, "NOT READY\n"},
	}

	for _, tt := range tests {
		s := NewServer(DefaultServerConfig(), &mockStatsProvider{running: tt.running})
		rec := serve(s, http.MethodGet, "/ready")
		if rec.Code != tt.code || rec.Body.String() != tt.body {
			t.Errorf("running=%v: got %d %q, want %d %q", tt.running, rec.Code, rec.Body.String(), tt.code, tt.body)
		}
	}
}

func TestServer_handleStats(t *testing.T) {
	provider := &mockStatsProvider{
		running: true,
		stats:   udp.Stats{State: "RUNNING", PacketsSent: 12, BytesSent: 340},
	}
	s := NewServer(DefaultServerConfig(), provider)
	s.AddStats("relay", func() any {
		return map[string]int{"handled": 7}
	})

	rec := serve(s, http.MethodGet, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response struct {
		Engine udp.Stats      `json:"engine"`
		Relay  map[string]int `json:"relay"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Engine.PacketsSent != 12 || response.Engine.BytesSent != 340 {
		t.Errorf("engine stats = %+v", response.Engine)
	}
	if response.Relay["handled"] != 7 {
		t.Errorf("relay stats = %v", response.Relay)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	m.RecordSent(99)

	cfg := DefaultServerConfig()
	cfg.Gatherer = reg
	s := NewServer(cfg, &mockStatsProvider{running: true})

	rec := serve(s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "udprelay_bytes_sent_total 99") {
		t.Errorf("metrics output missing bytes_sent_total:\n%s", rec.Body.String())
	}
}

func TestServer_NilProvider(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil)

	for _, path := range []string{"/healthz", "/ready", "/stats"} {
		if rec := serve(s, http.MethodGet, path); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s: expected status %d, got %d", path, http.StatusServiceUnavailable, rec.Code)
		}
	}
}

func TestServer_StartStop(t *testing.T) {
	cfg := ServerConfig{
		Address:      "127.0.0.1:0",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	s := NewServer(cfg, &mockStatsProvider{running: true})

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if !s.IsRunning() {
		t.Error("expected server to be running")
	}

	addr := s.Address()
	if addr == nil {
		t.Fatal("expected non-nil address")
	}

	var resp *http.Response
	var err error
	for i := 0; i < 10; i++ {
		resp, err = http.Get("http://" + addr.String() + "/health")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("request failed after retries: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "OK\n" {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("failed to stop: %v", err)
	}
	if s.IsRunning() {
		t.Error("expected server to be stopped")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second stop failed: %v", err)
	}
}
