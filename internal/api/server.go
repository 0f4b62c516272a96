// Package api provides the read-only diagnostics HTTP server for CloudSync Core.
//
// It exposes the device registry, per-device attribute history, and engine
// diagnostics (poll cycle results, retry state, redacted configuration) to
// local tooling. It never accepts writes; commands enter the engine through
// the host interface, not HTTP.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
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
	"net/http"
	"time"

	"github.com/nerrad567/cloudsync-core/internal/device"
	"github.com/nerrad567/cloudsync-core/internal/infrastructure/config"
	"github.com/nerrad567/cloudsync-core/internal/infrastructure/logging"
	"github.com/nerrad567/cloudsync-core/internal/poller"
)

// Server timeouts.
const (
	gracefulShutdownTimeout = 10 * time.Second
	readTimeout             = 10 * time.Second
	writeTimeout            = 10 * time.Second
	idleTimeout             = 60 * time.Second
)

// Deps holds the dependencies required by the diagnostics server.
type Deps struct {
	Config config.APIConfig

	// Full is the complete engine configuration, exposed (redacted) on the
	// diagnostics endpoint.
	Full *config.Config

	Logger    *logging.Logger
	Registry  *device.Registry
	Scheduler *poller.Scheduler

	// History is optional; the history endpoint returns 404 when nil.
	History device.HistoryRepository

	Version string
}

// Server is the diagnostics HTTP server.
//
// It manages the HTTP listener, routes, and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	full      *config.Config
	logger    *logging.Logger
	registry  *device.Registry
	scheduler *poller.Scheduler
	history   device.HistoryRepository
	version   string
	server    *http.Server
}

// New creates a new diagnostics server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry, scheduler)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("poll scheduler is required")
	}

	return &Server{
		cfg:       deps.Config,
		full:      deps.Full,
		logger:    deps.Logger,
		registry:  deps.Registry,
		scheduler: deps.Scheduler,
		history:   deps.History,
		version:   deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// The HTTP listener runs in a background goroutine; the server is stopped
// with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("diagnostics server error", "error", err)
		}
	}()

	s.logger.Info("diagnostics server listening", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the diagnostics server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("diagnostics server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down diagnostics server: %w", err)
	}
	return nil
}

// HealthCheck verifies the server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("diagnostics server not started")
	}

	return nil
}
