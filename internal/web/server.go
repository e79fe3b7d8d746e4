package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ccdesk/ccdesk/internal/conversation"
	"github.com/ccdesk/ccdesk/internal/logging"
	"github.com/ccdesk/ccdesk/internal/permission"
	"github.com/ccdesk/ccdesk/internal/session"
)

// shutdownTimeout bounds graceful shutdown in ListenAndServe.
const shutdownTimeout = 5 * time.Second

// Controller is the subset of session.Controller the server drives.
type Controller interface {
	AddObserver(o session.Observer) (remove func())
	State() session.State
	Project() string
	ApprovalMode() permission.Mode
	Turns() []conversation.Turn
	PendingPermissions() []session.PendingPermission
	SwitchProject(dir string) error
	Submit(ctx context.Context, prompt string) error
	Stop() error
	Retry(ctx context.Context, turnID string) error
	ClearHistory() error
	Approve(id string) error
	Deny(id string) error
}

// Config configures a Server.
type Config struct {
	Controller Controller
	// Addr is the listen address for ListenAndServe.
	Addr string
	// AllowedOrigins lists extra websocket origins besides same-origin.
	AllowedOrigins []string
	WebSocket      WebSocketConfig
	Logger         *slog.Logger
}

// Server exposes a Controller over HTTP.
type Server struct {
	ctrl     Controller
	addr     string
	hub      *Hub
	router   *chi.Mux
	upgrader websocket.Upgrader
	ws       WebSocketConfig
	logger   *slog.Logger

	removeObserver func()
}

// New creates a Server and registers its hub as a controller observer.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Web()
	}
	ws := cfg.WebSocket.withDefaults()
	s := &Server{
		ctrl:   cfg.Controller,
		addr:   cfg.Addr,
		hub:    NewHub(logger),
		router: chi.NewRouter(),
		ws:     ws,
		logger: logger,
	}
	s.upgrader = newUpgrader(cfg.AllowedOrigins, logger)
	s.removeObserver = s.ctrl.AddObserver(s.hub)

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.accessLog)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Route("/api", func(r chi.Router) {
		r.Get("/history", s.getHistory)
		r.Delete("/history", s.clearHistory)
		r.Post("/prompt", s.postPrompt)
		r.Post("/stop", s.postStop)
		r.Post("/retry/{turnID}", s.postRetry)
		r.Post("/permissions/{id}", s.postPermission)
		r.Post("/project", s.postProject)
	})
	r.Get("/ws", s.serveWS)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("web server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Websocket connections are hijacked and not tracked by Shutdown.
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Shutdown().Warn("web server shutdown incomplete", "error", err)
	}
	return nil
}

// Close detaches the server from the controller and closes all websocket
// subscriptions.
func (s *Server) Close() error {
	s.removeObserver()
	return s.hub.Close()
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
			"remote", r.RemoteAddr)
	})
}
