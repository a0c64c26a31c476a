package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/roman-kulish/ground-control/internal/control"
	"github.com/roman-kulish/ground-control/internal/hub"
	"github.com/roman-kulish/ground-control/internal/observability"
	"github.com/roman-kulish/ground-control/internal/source"
)

const maxRequestBody = 1 << 16

// WithHeartbeat sets the interval of keep-alive comments on event streams
func WithHeartbeat(d time.Duration) func(*Server) {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithStaticDir serves the browser frontend from dir
func WithStaticDir(dir string) func(*Server) {
	return func(s *Server) {
		s.staticDir = dir
	}
}

// WithMetrics instruments every route and exposes /metrics
func WithMetrics(m *observability.Metrics) func(*Server) {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "server"))
	}
}

// Server is the browser-facing HTTP surface: source control, the state
// snapshot and the Server-Sent Events telemetry stream.
type Server struct {
	hub        *hub.Hub
	controller *control.Controller
	metrics    *observability.Metrics
	heartbeat  time.Duration
	staticDir  string
	logger     *slog.Logger

	mux *http.ServeMux
}

// NewServer creates the HTTP surface with a discard logger
func NewServer(h *hub.Hub, c *control.Controller, options ...func(*Server)) *Server {
	s := Server{
		hub:        h,
		controller: c,
		heartbeat:  DefaultHeartbeat,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		mux:        http.NewServeMux(),
	}

	for _, option := range options {
		option(&s)
	}

	s.route("GET /api/sources", "sources", s.handleSources)
	s.route("POST /api/connect", "connect", s.handleConnect)
	s.route("POST /api/disconnect", "disconnect", s.handleDisconnect)
	s.route("GET /api/state", "state", s.handleState)
	s.route("GET /events", "events", s.handleEvents)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.staticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))
	}

	return &s
}

func (s *Server) route(pattern, name string, fn http.HandlerFunc) {
	var handler http.Handler = fn
	if s.metrics != nil {
		handler = s.metrics.Instrument(name, handler)
	}
	s.mux.Handle(pattern, handler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller.ListSources(r.Context()))
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req control.ConnectRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	err := s.controller.Connect(req)

	var configErr *source.ConfigError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.As(err, &configErr):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, control.ErrUnknownSource):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, hub.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.controller.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.hub.Snapshot())
}

// handleEvents streams hub events until the client goes away or the hub
// shuts down. Each event is written as "event: <type>" with the bare sample
// or status as data.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	sub, err := s.hub.Subscribe()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	defer sub.Close()

	logger := s.logger.With(slog.String("subscriber", sub.ID()), slog.String("remote", r.RemoteAddr))
	logger.Info("subscriber connected")

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("subscriber disconnected", slog.Uint64("dropped", sub.Dropped()))
			return

		case <-heartbeat.C:
			if _, err = io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case ev, ok := <-sub.Events():
			if !ok {
				logger.Info("event stream closed")
				return
			}

			payload, err := ev.Payload()
			if err != nil {
				logger.Warn("failed to encode event", slog.String("error", err.Error()))
				continue
			}
			if _, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.logger.Debug("request failed", slog.Int("code", code), slog.String("error", err.Error()))
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}
