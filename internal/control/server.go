// Package control implements the loopback-only HTTP admin surface: a thin
// wrapper over runloop.Engine.Post plus a status snapshot, gated by the same
// localhost-and-token security posture the teacher's control server used.
package control

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"datarunloop/internal/analytics"
	"datarunloop/internal/config"
	"datarunloop/internal/runloop"
	"datarunloop/internal/security"
)

// Server is the admin control surface for one Engine.
type Server struct {
	engine *runloop.Engine
	cfg    config.Tunables
	audit  *security.AuditLogger
	stats  *analytics.StatsManager
	log    *slog.Logger

	router     *chi.Mux
	activeReqs int64
}

// New builds a Server wired to engine. It does not start listening; call
// Start for that.
func New(log *slog.Logger, engine *runloop.Engine, cfg config.Tunables, audit *security.AuditLogger, stats *analytics.StatsManager) *Server {
	s := &Server{
		engine: engine,
		cfg:    cfg,
		audit:  audit,
		stats:  stats,
		log:    log,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Start binds the loopback listener and serves in the background. It is a
// no-op when the config disables the control surface.
func (s *Server) Start() {
	if !s.cfg.EnableControl {
		s.log.Info("control: surface disabled, not starting")
		return
	}

	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.ControlPort)
	go func() {
		conn, err := net.Listen("tcp", addr)
		if err != nil {
			s.log.Error("control: failed to bind", "addr", addr, "error", err)
			return
		}
		s.log.Info("control: listening", "addr", addr)
		if err := http.Serve(conn, s.router); err != nil {
			s.log.Error("control: serve failed", "error", err)
		}
	}()
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.securityMiddleware)
	s.router.Use(s.concurrencyLimitMiddleware)

	s.router.Post("/v1/post", s.handlePost)
	s.router.Get("/v1/status", s.handleStatus)
}

func (s *Server) concurrencyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		max := int64(s.cfg.ControlMaxConcurrent)
		if max <= 0 {
			max = 1
		}

		current := atomic.AddInt64(&s.activeReqs, 1)
		defer atomic.AddInt64(&s.activeReqs, -1)

		if current > max {
			s.audit.Log("127.0.0.1", r.UserAgent(), r.Method+" "+r.URL.Path, http.StatusTooManyRequests, "max concurrent reached")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
		userAgent := r.UserAgent()
		action := r.Method + " " + r.URL.Path

		if sourceIP != "127.0.0.1" && sourceIP != "::1" {
			s.audit.Log(sourceIP, userAgent, action, http.StatusForbidden, "external access denied")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		token := r.Header.Get("X-Datarunloop-Token")
		if token != s.cfg.ControlToken {
			s.audit.Log(sourceIP, userAgent, action, http.StatusUnauthorized, "invalid token")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		s.audit.Log(sourceIP, userAgent, action, http.StatusOK, "authorized")
		next.ServeHTTP(w, r)
	})
}

// PostRequest is the JSON body for POST /v1/post.
type PostRequest struct {
	Type       string `json:"type"` // "file", "image", "http", "overlay", "none"
	Msg        string `json:"msg"`
	Msg2       string `json:"msg2"`
	Priority   int    `json:"priority"`
	DurationMs int    `json:"duration_ms"`
	Flush      bool   `json:"flush"`
}

// PostResponse reports whether the command was accepted onto its queue.
type PostResponse struct {
	Accepted bool `json:"accepted"`
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var req PostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	t, err := parsePostType(req.Type)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	accepted := s.engine.Post(t, req.Msg, req.Msg2, req.Priority, req.DurationMs, req.Flush)
	json.NewEncoder(w).Encode(PostResponse{Accepted: accepted})
}

func parsePostType(s string) (runloop.PostType, error) {
	switch s {
	case "none", "":
		return runloop.PostNone, nil
	case "file":
		return runloop.PostFile, nil
	case "image":
		return runloop.PostImage, nil
	case "http":
		return runloop.PostHTTP, nil
	case "overlay":
		return runloop.PostOverlay, nil
	default:
		return runloop.PostNone, fmt.Errorf("control: unknown post type %q", s)
	}
}

// StatusResponse is the JSON body for GET /v1/status.
type StatusResponse struct {
	FileLaneIdle bool               `json:"file_lane_idle"`
	HTTPLaneIdle bool               `json:"http_lane_idle"`
	BannerQueued int                `json:"banner_queued"`
	Diagnostics  analytics.Snapshot `json:"diagnostics"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		FileLaneIdle: s.engine.FileLane().Idle(),
		HTTPLaneIdle: s.engine.HTTPLane().Idle(),
		BannerQueued: s.engine.Banner().Len(),
	}
	if s.stats != nil {
		resp.Diagnostics = s.stats.Snapshot()
	}
	json.NewEncoder(w).Encode(resp)
}
