package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/derong97/gcp-iot-tutorial/internal/audit"
	"github.com/derong97/gcp-iot-tutorial/internal/identity"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/config"
	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Sender relays a command payload to the device.
type Sender interface {
	Send(ctx context.Context, payload []byte, actor string) error
	DevicePath() string
}

// Verifier checks the identity assertion header.
type Verifier interface {
	Verify(ctx context.Context, assertion string) (identity.Identity, error)
}

// HealthChecker is implemented by the database handle.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RequestMetrics records one observation per served request.
type RequestMetrics interface {
	RequestObserved(method, route string, status int, elapsed time.Duration)
}

// Deps holds the dependencies required by the admin server.
type Deps struct {
	Config   config.AdminConfig
	Logger   *logging.Logger
	Relay    Sender
	Audit    audit.Repository // optional: /api/v1/commands answers 503 without it
	Verifier Verifier         // optional: nil skips identity checks
	Database HealthChecker    // optional
	Metrics  RequestMetrics   // optional
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	Version        string
}

// Server is the admin console HTTP server.
type Server struct {
	cfg            config.AdminConfig
	logger         *logging.Logger
	relay          Sender
	audit          audit.Repository
	verifier       Verifier
	database       HealthChecker
	metrics        RequestMetrics
	metricsHandler http.Handler
	version        string
	server         *http.Server
}

// New creates a new admin server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If the logger or relay is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Relay == nil {
		return nil, fmt.Errorf("relay is required")
	}

	return &Server{
		cfg:            deps.Config,
		logger:         deps.Logger,
		relay:          deps.Relay,
		audit:          deps.Audit,
		verifier:       deps.Verifier,
		database:       deps.Database,
		metrics:        deps.Metrics,
		metricsHandler: deps.MetricsHandler,
		version:        deps.Version,
	}, nil
}

// Handler returns the fully wired router. Start uses it; tests call it directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("admin console listening", "address", s.server.Addr, "device", s.relay.DevicePath())
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("admin server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down admin server: %w", err)
	}
	return nil
}
