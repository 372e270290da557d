// Package webui is the browser surface: a JSON API over the generation
// dispatcher, the embedded single page, saved images and a WebSocket feed of
// results.
package webui

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"fastsd/gallery"
	"fastsd/history"
	"fastsd/metrics"
	"fastsd/session"
	"fastsd/settings"
	"fastsd/shutdown"
)

// Dispatcher is the part of session.Dispatcher the server uses.
type Dispatcher interface {
	Trigger(s session.GenerationSettings) *session.Ticket
	Busy() bool
	Running() (string, bool)
	Policy() session.Policy
}

// PipelineStater reports the controller's pipeline binding.
type PipelineStater interface {
	State() session.PipelineState
}

// ImageStore persists results and resolves saved image names.
type ImageStore interface {
	Store(ctx context.Context, r session.Result) ([]gallery.SavedImage, error)
	Lookup(name string) (string, bool)
}

// HistoryReader reads the persistent generation history.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
	Stats(ctx context.Context) (history.Stats, error)
}

// SummaryReader reads the in-memory metrics summary.
type SummaryReader interface {
	Snapshot() metrics.SummarySnapshot
	Recent(limit int) []metrics.GenerationRecord
}

// OperationTracker is implemented by shutdown.Manager.
type OperationTracker interface {
	WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error
}

// Deps are the components the server is built on. History, Summary,
// Metrics, Auth and Tracker are optional.
type Deps struct {
	Dispatcher Dispatcher
	Pipeline   PipelineStater
	Settings   *settings.Live
	Archive    ImageStore

	History HistoryReader
	Summary SummaryReader
	Metrics http.Handler
	Auth    func(http.Handler) http.Handler
	Tracker OperationTracker

	Logger *zap.Logger
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RecentCapacity is how many requests can be polled by ID.
	RecentCapacity int

	// StoreTimeout bounds saving the images of one result.
	StoreTimeout time.Duration

	Broadcaster BroadcasterConfig
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           "127.0.0.1:7860",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		RecentCapacity: 64,
		StoreTimeout:   30 * time.Second,
		Broadcaster:    DefaultBroadcasterConfig(),
	}
}

// Server is the browser surface.
type Server struct {
	cfg    ServerConfig
	deps   Deps
	logger *zap.Logger

	httpServer  *http.Server
	broadcaster *Broadcaster
	recent      *Ring[GenerationView]

	mu     sync.Mutex
	stopWS context.CancelFunc

	waiters sync.WaitGroup
}

// NewServer fails when a required dependency is missing.
func NewServer(cfg ServerConfig, deps Deps) (*Server, error) {
	switch {
	case deps.Dispatcher == nil:
		return nil, errors.New("webui: dispatcher is required")
	case deps.Pipeline == nil:
		return nil, errors.New("webui: pipeline state is required")
	case deps.Settings == nil:
		return nil, errors.New("webui: settings are required")
	case deps.Archive == nil:
		return nil, errors.New("webui: archive is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.RecentCapacity < 1 {
		cfg.RecentCapacity = DefaultServerConfig().RecentCapacity
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultServerConfig().StoreTimeout
	}
	if cfg.Broadcaster.PingInterval <= 0 {
		cfg.Broadcaster = DefaultBroadcasterConfig()
	}

	logger := deps.Logger.Named("webui")
	s := &Server{
		cfg:         cfg,
		deps:        deps,
		logger:      logger,
		broadcaster: NewBroadcaster(cfg.Broadcaster, logger),
		recent:      NewRing[GenerationView](cfg.RecentCapacity),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	logger.Info("Web UI server created",
		zap.String("addr", cfg.Addr),
		zap.Bool("auth_enabled", deps.Auth != nil),
		zap.String("policy", deps.Dispatcher.Policy().String()),
	)
	return s, nil
}

// Handler returns the full middleware chain around the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)

	var h http.Handler = mux
	h = s.trackAPI(h)
	if s.deps.Auth != nil {
		h = s.deps.Auth(h)
	}
	return LoggingMiddleware(s.logger, "/health", "/metrics")(h)
}

// trackAPI counts API calls as in-flight operations so shutdown waits for
// them, and answers 503 once shutdown has started.
func (s *Server) trackAPI(next http.Handler) http.Handler {
	if s.deps.Tracker == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		err := s.deps.Tracker.WrapOperation(r.Context(), r.Method+" "+r.URL.Path, func(context.Context) error {
			next.ServeHTTP(w, r)
			return nil
		})
		if errors.Is(err, shutdown.ErrTrackerClosed) {
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		}
	})
}

// Start serves on the configured address until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("webui: listening on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	wsCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stopWS = cancel
	s.mu.Unlock()
	go s.broadcaster.Start(wsCtx)

	s.logger.Info("Web UI listening", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		return fmt.Errorf("webui: serving: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, waits for pending results to be
// saved and disconnects WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down web UI")
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.waiters.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Pending results not saved before shutdown deadline")
	}

	s.mu.Lock()
	if s.stopWS != nil {
		s.stopWS()
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("webui: shutdown: %w", err)
	}
	return nil
}

// Broadcaster returns the WebSocket hub.
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}
