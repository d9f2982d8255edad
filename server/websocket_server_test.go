package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Mokete-tech/citypulse-voice/config"
	"github.com/Mokete-tech/citypulse-voice/session"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, origins []string) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Port:             0,
		RelayName:        "voice-relay",
		RedisURL:         "127.0.0.1:1", // unreachable on purpose
		MaxSessions:      4,
		MaxPendingFrames: 4,
		SessionTimeout:   time.Minute,
		GeminiAPIKey:     "test-key",
		AllowedOrigins:   origins,
	}

	mgr, err := session.NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	srv := New(cfg, mgr)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, []string{"*"})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"status":"ok","sessions":0}` {
		t.Errorf("Unexpected health body: %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, []string{"*"})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestRejectsDisallowedOrigin(t *testing.T) {
	ts := newTestServer(t, []string{"https://app.citypulse.example"})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/functions/v1/voice-relay"
	header := http.Header{"Origin": []string{"https://evil.example"}}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("Expected handshake to fail for disallowed origin")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.StatusCode)
	}
}
