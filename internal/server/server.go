package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/gochat-hub/internal/auth"
	"github.com/Tyrowin/gochat-hub/internal/observability"
	"github.com/Tyrowin/gochat-hub/internal/realtime"
	"github.com/Tyrowin/gochat-hub/pkg/logger"
)

// Server is the websocket front of a realtime.Hub.
type Server struct {
	cfg      Config
	hub      *realtime.Hub
	auth     auth.Authenticator
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	statuses StatusLookup
	l        logger.Logger

	origins  *originPolicy
	upgrader websocket.Upgrader

	// admitMu makes the per-user cap check and registration atomic.
	admitMu sync.Mutex
	clients sync.WaitGroup

	httpServer *http.Server
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithMetrics records handshakes on m and serves g on /metrics.
func WithMetrics(m *observability.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// StatusLookup reports presence recorded outside this hub, for users who have
// no connection here. Unknown users are absent from the result.
type StatusLookup interface {
	LookupStatuses(ctx context.Context, userIDs []string) (map[string]realtime.Status, error)
}

// WithStatusLookup lets get_statuses_by_ids answer for users connected to
// other hub instances.
func WithStatusLookup(sl StatusLookup) Option { return func(s *Server) { s.statuses = sl } }

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option { return func(s *Server) { s.l = l } }

// New builds a Server for hub. cfg is sanitized, so zero fields take their
// DefaultConfig values. The listener is not opened until Start.
func New(cfg Config, hub *realtime.Hub, authn auth.Authenticator, opts ...Option) *Server {
	s := &Server{
		cfg:  cfg.sanitize(),
		hub:  hub,
		auth: authn,
		l:    logger.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}

	s.origins = newOriginPolicy(s.cfg.AllowedOrigins, s.cfg.AllowEmptyOrigin, s.l)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.httpServer = CreateServer(s.cfg, s.Handler())
	return s
}

// Config returns the sanitized configuration.
func (s *Server) Config() Config { return s.cfg }

// CreateServer creates the HTTP server with the configured timeouts.
func CreateServer(cfg Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
}

// Start serves HTTP and blocks until Shutdown.
func (s *Server) Start() error {
	s.l.Infof(context.Background(), "server.Start: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve http: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, closes every hub connection and waits
// for the client pumps to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.httpServer.Shutdown(ctx)
	hubErr := s.hub.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.clients.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("failed to drain websocket clients: %w", ctx.Err())
	}

	return errors.Join(httpErr, hubErr)
}

// Wait blocks until every client pump has exited.
func (s *Server) Wait() {
	s.clients.Wait()
}
