// Package web exposes the produced surface over HTTP: read-only snapshots,
// command endpoints, and a WebSocket push of session events. Rendering is
// left entirely to the client.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"farm-go-remote/internal/device"
	"farm-go-remote/internal/eventlog"
	"farm-go-remote/internal/history"
	"farm-go-remote/internal/schedule"
	"farm-go-remote/internal/session"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithHistory attaches the sensor history store.
func WithHistory(h *history.Store) ServerOption {
	return func(s *Server) {
		s.history = h
	}
}

// WithVersion sets the version string reported by the API.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the client API.
type Server struct {
	sess    *session.Session
	devices *device.Controller
	sched   *schedule.Manager
	log     *eventlog.Log

	wsHub          *PushHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	history        *history.Store
	version        string

	unsubEvents func()
	unsubLog    func()
}

// NewServer creates the server and starts its WebSocket hub.
func NewServer(sess *session.Session, devices *device.Controller, sched *schedule.Manager, log *eventlog.Log, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		sess:    sess,
		devices: devices,
		sched:   sched,
		log:     log,
		wsHub:   NewPushHub(logger.With("component", "web")),
		logger:  logger.With("component", "web"),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Every session event and every new log entry goes out over the hub.
	s.unsubEvents = sess.Events().OnAll(s.wsHub.PushEvent)
	s.unsubLog = log.Observe(s.wsHub.PushLog)

	go s.wsHub.Run()
	s.routes()
	return s
}

// Stop detaches from the session and shuts the hub down.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	if s.unsubLog != nil {
		s.unsubLog()
	}
	s.wsHub.Stop()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/state", s.handleAPIState)
	s.mux.HandleFunc("POST /api/devices/{device}/toggle", s.handleAPIToggle)
	s.mux.HandleFunc("POST /api/devices/{device}/pulse", s.handleAPIPulse)
	s.mux.HandleFunc("GET /api/log", s.handleAPILog)
	s.mux.HandleFunc("DELETE /api/log", s.handleAPIClearLog)
	s.mux.HandleFunc("PUT /api/schedule/{field}", s.handleAPISetScheduleField)
	s.mux.HandleFunc("POST /api/schedule/save", s.handleAPISaveSchedule)
	s.mux.HandleFunc("GET /api/history", s.handleAPIHistory)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying API key auth.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write json response", "err", err)
	}
}
