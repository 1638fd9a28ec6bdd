// Package server exposes the chat forwarder over HTTP and serves the widget.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"brightchat/internal/domain"
	"brightchat/internal/metrics"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Forwarder relays a validated message and returns the upstream reply body.
type Forwarder interface {
	Forward(ctx context.Context, msg domain.ChatMessage) (json.RawMessage, error)
}

// Config configures a Server.
type Config struct {
	Addr        string
	Forwarder   Forwarder
	StaticDir   string // served instead of the embedded widget when it exists
	MetricsPath string // empty disables the metrics endpoint
	Version     string
	Logger      *slog.Logger
}

// Server is the BrightChat HTTP server. New has no side effects; the router
// is built on first use of Handler and the listener opens in Start.
type Server struct {
	cfg    Config
	logger *slog.Logger

	handlerOnce sync.Once
	handler     http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "0.0.0.0:5000"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Handler returns the router, building it exactly once.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		s.handler = s.routes()
	})
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(recoverJSON(s.logger))

	r.Route("/api", func(api chi.Router) {
		api.HandleFunc("/chat", s.handleChat)
		api.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, errorBody{Message: "Not found"})
		})
	})

	r.Get("/status", s.handleStatus)
	if s.cfg.MetricsPath != "" {
		r.Get(s.cfg.MetricsPath, metrics.Default.Handler())
	}

	r.Handle("/*", newStaticHandler(s.cfg.StaticDir, s.logger))

	return r
}

// Start listens on the configured address and serves until ctx is done or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("chat server started", "addr", "http://"+ln.Addr().String(), "version", s.cfg.Version)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			s.Shutdown(shutdownCtx)
		case <-done:
		}
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully. Calls after the first return nil.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("chat server stopping")
	return srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

type errorBody struct {
	Message string `json:"message"`
	Errors  any    `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
