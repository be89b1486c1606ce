// Package api provides the HTTP status API for the supervisor.
//
// It exposes the supervisor's live snapshot, its recorded lifecycle history
// and a shutdown endpoint, and mounts the Prometheus handler when metrics are
// enabled.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/nerrad567/gray-logic-supervisor/internal/history"
	"github.com/nerrad567/gray-logic-supervisor/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-supervisor/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-supervisor/internal/supervisor"
)

const (
	// gracefulShutdownTimeout is the maximum time to wait for in-flight
	// requests to complete during shutdown.
	gracefulShutdownTimeout = 10 * time.Second

	// healthCheckTimeout bounds all component checks of one health request.
	healthCheckTimeout = 3 * time.Second
)

// Supervisor is the part of *supervisor.Supervisor the API needs.
type Supervisor interface {
	Stats() supervisor.Stats
	RequestShutdown(sig os.Signal)
}

// HistoryReader lists recorded transitions, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, runID string, limit int) ([]history.Entry, error)
}

// HealthChecker is implemented by the database, MQTT and InfluxDB clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
//
// The HealthChecker fields are optional; leave them nil (not a typed nil
// pointer) for components that are disabled.
type Deps struct {
	Config      config.APIConfig
	Logger      *logging.Logger
	Supervisor  Supervisor
	History     HistoryReader // Optional: nil when the database is disabled
	Metrics     http.Handler  // Optional: mounted at MetricsPath when set
	MetricsPath string
	Version     string

	Database HealthChecker
	MQTT     HealthChecker
	InfluxDB HealthChecker
}

// component is one named dependency reported by GET /api/v1/health.
type component struct {
	name  string
	check HealthChecker
}

// Server is the HTTP status API.
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	supervisor  Supervisor
	history     HistoryReader
	metrics     http.Handler
	metricsPath string
	version     string
	components  []component

	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Logger and Supervisor are required; everything else is optional
//
// Returns:
//   - *Server: Configured server, not yet listening
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Supervisor == nil {
		return nil, fmt.Errorf("supervisor is required")
	}

	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	var components []component
	for _, c := range []component{
		{"database", deps.Database},
		{"mqtt", deps.MQTT},
		{"influxdb", deps.InfluxDB},
	} {
		if c.check != nil {
			components = append(components, c)
		}
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		supervisor:  deps.Supervisor,
		history:     deps.History,
		metrics:     deps.Metrics,
		metricsPath: metricsPath,
		version:     deps.Version,
		components:  components,
	}, nil
}

// Start binds the listener and serves in a background goroutine.
//
// Bind errors (port in use, bad host) are returned synchronously. The server
// runs until Close is called.
func (s *Server) Start(_ context.Context) error {
	addr := s.cfg.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		if serveErr := s.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", serveErr)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
