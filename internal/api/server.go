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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/ncp-monitor/internal/audit"
	"github.com/nerrad567/ncp-monitor/internal/infrastructure/config"
	"github.com/nerrad567/ncp-monitor/internal/infrastructure/logging"
	"github.com/nerrad567/ncp-monitor/internal/inventory"
	"github.com/nerrad567/ncp-monitor/internal/monitor"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Monitors is the supervisor surface the API reads and controls.
// *monitor.Supervisor implements it.
type Monitors interface {
	Statuses() []monitor.Status
	Status(id string) (monitor.Status, error)
	Rediscover(id string) error
}

// Inventory reads the recorded device models. *inventory.Recorder
// implements it.
type Inventory interface {
	Devices(ctx context.Context) ([]inventory.Device, error)
	Device(ctx context.Context, id string) (inventory.Device, error)
	Objects(ctx context.Context, deviceID string, monitorsOnly bool) ([]inventory.Object, error)
}

// HealthChecker is implemented by every infrastructure component.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Monitors Monitors

	// Optional.
	Inventory Inventory
	Audit     audit.Repository
	DB        *sql.DB
	Checks    map[string]HealthChecker
	Gatherer  prometheus.Gatherer
	Version   string
}

// Server is the HTTP status API.
//
// It is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	monitors   Monitors
	rediscover audit.Rediscoverer
	inventory  Inventory
	audit      audit.Repository
	db         *sql.DB
	checks     map[string]HealthChecker
	gatherer   prometheus.Gatherer
	version    string
	startTime  time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Monitors == nil {
		return nil, fmt.Errorf("monitors are required")
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	var rediscover audit.Rediscoverer = deps.Monitors
	if deps.Audit != nil {
		rediscover = audit.JournalRediscover(deps.Monitors, deps.Audit, audit.SourceAPI, deps.Logger)
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		monitors:   deps.Monitors,
		rediscover: rediscover,
		inventory:  deps.Inventory,
		audit:      deps.Audit,
		db:         deps.DB,
		checks:     deps.Checks,
		gatherer:   gatherer,
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine. Bind
// errors (port in use) are returned here.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
