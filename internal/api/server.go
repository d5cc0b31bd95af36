package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/greeter-core/internal/bridge"
	"github.com/nerrad567/greeter-core/internal/hub"
	"github.com/nerrad567/greeter-core/internal/infrastructure/config"
	"github.com/nerrad567/greeter-core/internal/infrastructure/logging"
	"github.com/nerrad567/greeter-core/internal/ingest"
	"github.com/nerrad567/greeter-core/internal/speech"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Database is the part of the SQLite handle the server reports on.
type Database interface {
	HealthCheck(ctx context.Context) error
	Stats() sql.DBStats
}

// Component is an optional connection (MQTT, InfluxDB) reported by health and metrics.
type Component interface {
	HealthCheck(ctx context.Context) error
	IsConnected() bool
}

// HubReader serves the read-only hub routes.
type HubReader interface {
	Grouped(ctx context.Context) ([]hub.DomainGroup, error)
	StatesByDomain(ctx context.Context, domain string) ([]hub.EntityState, error)
	HealthCheck(ctx context.Context) error
}

// IngestMonitor exposes the ingestion loop's state.
type IngestMonitor interface {
	Connected() bool
	Stats() ingest.Stats
}

// SpeechMonitor exposes the transcription pool's activity.
type SpeechMonitor interface {
	Stats() speech.PoolStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	HubTimeout  time.Duration
	Logger      *logging.Logger
	Connections *bridge.ConnectionRegistry
	Router      *bridge.Router
	DB          Database
	Hub         HubReader     // optional
	Ingest      IngestMonitor // optional
	Speech      SpeechMonitor // optional
	MQTT        Component     // optional
	InfluxDB    Component     // optional
	Version     string
}

// Server is the HTTP API server for Greeter Core.
//
// It manages the HTTP listener, routes, middleware and the client WebSocket
// endpoints. The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	hubTimeout  time.Duration
	logger      *logging.Logger
	connections *bridge.ConnectionRegistry
	router      *bridge.Router
	db          Database
	hub         HubReader
	ingest      IngestMonitor
	speech      SpeechMonitor
	mqtt        Component
	influx      Component
	version     string
	startTime   time.Time

	// ctx bounds every client WebSocket; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	server *http.Server
	addr   string
	conns  sync.WaitGroup
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Connections == nil || deps.Router == nil {
		return nil, fmt.Errorf("connection registry and router are required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if deps.HubTimeout <= 0 {
		deps.HubTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		hubTimeout:  deps.HubTimeout,
		logger:      deps.Logger,
		connections: deps.Connections,
		router:      deps.Router,
		db:          deps.DB,
		hub:         deps.Hub,
		ingest:      deps.Ingest,
		speech:      deps.Speech,
		mqtt:        deps.MQTT,
		influx:      deps.InfluxDB,
		version:     deps.Version,
		startTime:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start binds the listener and serves HTTP in a background goroutine.
// Bind errors are returned directly. The server is stopped with Close(), or
// when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	read, write, idle := s.cfg.Timeouts.Durations()
	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      write,
		IdleTimeout:       idle,
	}

	s.mu.Lock()
	s.server = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	context.AfterFunc(ctx, s.cancel)

	s.logger.Info("API server starting", "address", s.addr)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// Client WebSockets receive a normal close frame. In-flight HTTP requests get
// up to 10 seconds to complete.
func (s *Server) Close() error {
	// Cancel under the lock so no WebSocket handler registers after this point.
	s.mu.Lock()
	s.cancel()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := srv.Shutdown(ctx)

	// Hijacked WebSocket connections are not tracked by Shutdown.
	s.conns.Wait()
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.Addr() == "" {
		return fmt.Errorf("api server not started")
	}
	return nil
}
