package control

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"datarunloop/internal/analytics"
	"datarunloop/internal/config"
	"datarunloop/internal/runloop"
	"datarunloop/internal/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, config.Tunables) {
	t.Helper()
	cfg := config.Defaults()
	cfg.ControlToken = "test-token"

	t.Setenv("HOME", t.TempDir())

	engine := runloop.New(testLogger(), cfg, nil, nil)
	engine.Init(false)
	t.Cleanup(engine.Deinit)

	audit := security.NewAuditLogger(testLogger())
	t.Cleanup(audit.Close)

	stats := analytics.NewStatsManager(func() (string, error) { return os.TempDir(), nil })

	return New(testLogger(), engine, cfg, audit, stats), cfg
}

func TestStatusRequiresToken(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestStatusRejectsNonLoopback(t *testing.T) {
	s, cfg := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.RemoteAddr = "203.0.113.5:5000"
	req.Header.Set("X-Datarunloop-Token", cfg.ControlToken)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-loopback source, got %d", rec.Code)
	}
}

func TestStatusReturnsLaneState(t *testing.T) {
	s, cfg := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	req.Header.Set("X-Datarunloop-Token", cfg.ControlToken)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.FileLaneIdle || !resp.HTTPLaneIdle {
		t.Fatal("expected both lanes idle on a fresh engine")
	}
}

func TestPostRoutesFileCommand(t *testing.T) {
	s, cfg := newTestServer(t)

	path := filepath.Join(t.TempDir(), "x.bin")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	body, _ := json.Marshal(PostRequest{Type: "file", Msg: path})
	req := httptest.NewRequest(http.MethodPost, "/v1/post", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:5000"
	req.Header.Set("X-Datarunloop-Token", cfg.ControlToken)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp PostResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Accepted {
		t.Fatal("expected post to be accepted")
	}
}

func TestPostRejectsUnknownType(t *testing.T) {
	s, cfg := newTestServer(t)

	body, _ := json.Marshal(PostRequest{Type: "bogus", Msg: "x"})
	req := httptest.NewRequest(http.MethodPost, "/v1/post", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:5000"
	req.Header.Set("X-Datarunloop-Token", cfg.ControlToken)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown post type, got %d", rec.Code)
	}
}
