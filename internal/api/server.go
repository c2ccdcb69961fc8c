package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/verkstad/toolmgmt/internal/adambox"
	"github.com/verkstad/toolmgmt/internal/audit"
	"github.com/verkstad/toolmgmt/internal/auth"
	"github.com/verkstad/toolmgmt/internal/infrastructure/config"
	"github.com/verkstad/toolmgmt/internal/infrastructure/logging"
	"github.com/verkstad/toolmgmt/internal/logbook"
	"github.com/verkstad/toolmgmt/internal/machine"
	"github.com/verkstad/toolmgmt/internal/machineset"
	"github.com/verkstad/toolmgmt/internal/monitormi"
	"github.com/verkstad/toolmgmt/internal/tool"
)

const (
	// gracefulShutdownTimeout is the maximum time to wait for in-flight
	// requests to complete during shutdown.
	gracefulShutdownTimeout = 10 * time.Second

	// sessionIdleTimeout drops selections of users who stopped navigating.
	sessionIdleTimeout = 12 * time.Hour

	// sessionPruneInterval is how often idle sessions are dropped.
	sessionPruneInterval = 10 * time.Minute
)

// CounterReader reads a part counter on demand. *adambox.Reader implements it.
type CounterReader interface {
	Read(ctx context.Context, ip string) (adambox.Reading, error)
}

// ProductionSource answers machine status queries. *monitormi.Client
// implements it; a nil client reports monitormi.ErrDisabled.
type ProductionSource interface {
	Status(ctx context.Context, workCenter string) (*monitormi.Status, error)
	ActiveOrder(ctx context.Context, workCenter string) (*monitormi.Order, error)
}

// InvalidationRequester tells other instances that the machine list changed.
// *relay.Relay implements it.
type InvalidationRequester interface {
	RequestInvalidate() error
}

// HealthChecker is implemented by infrastructure clients reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck calls f(ctx).
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Metrics  config.MetricsConfig
	Logger   *logging.Logger

	Registry *machine.Registry
	Sessions *machineset.SessionStore // created when nil
	Logbook  *logbook.Service
	Tools    *tool.Service

	Users         auth.UserRepository
	MachineAccess auth.MachineAccessRepository
	AuditRepo     audit.Repository
	Audit         *audit.Recorder // nil drops audit entries

	Counters    CounterReader         // nil when AdamBox is disabled
	Production  ProductionSource      // nil when Monitor MI is disabled
	Invalidator InvalidationRequester // nil in single instance setups

	// Health lists named components checked by GET /health.
	Health map[string]HealthChecker

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	metricsCfg config.MetricsConfig
	logger     *logging.Logger

	registry *machine.Registry
	resolver *machineset.Resolver
	sessions *machineset.SessionStore
	logbook  *logbook.Service
	tools    *tool.Service

	users       auth.UserRepository
	access      auth.MachineAccessRepository
	auditRepo   audit.Repository
	audit       *audit.Recorder
	counters    CounterReader
	production  ProductionSource
	invalidator InvalidationRequester
	health      map[string]HealthChecker

	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	tickets   *ticketStore
	metrics   *metrics
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but the WebSocket hub
// exists from here on so it can be registered as an event sink.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("machine registry is required")
	}
	if deps.Logbook == nil || deps.Tools == nil {
		return nil, fmt.Errorf("logbook and tool services are required")
	}
	if deps.Users == nil || deps.MachineAccess == nil {
		return nil, fmt.Errorf("user repositories are required")
	}

	sessions := deps.Sessions
	if sessions == nil {
		sessions = machineset.NewSessionStore()
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		metricsCfg:  deps.Metrics,
		logger:      deps.Logger,
		registry:    deps.Registry,
		resolver:    machineset.NewResolver(deps.Registry),
		sessions:    sessions,
		logbook:     deps.Logbook,
		tools:       deps.Tools,
		users:       deps.Users,
		access:      deps.MachineAccess,
		auditRepo:   deps.AuditRepo,
		audit:       deps.Audit,
		counters:    deps.Counters,
		production:  deps.Production,
		invalidator: deps.Invalidator,
		health:      deps.Health,
		version:     deps.Version,
		startTime:   time.Now(),
		tickets:     newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.metrics = newMetrics(s)

	// Sessions and websocket clients follow every registry publish.
	s.registry.OnChange(s.sessions.ApplyAll)
	s.registry.OnChange(s.hub.RegistryChanged)
	s.sessions.ApplyAll(s.registry.Snapshot())

	return s, nil
}

// Hub returns the WebSocket hub so producers can be wired to it before Start.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler with every route and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the ticket and session cleaners, then
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	go s.pruneSessionsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
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

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// pruneSessionsLoop drops idle selections until ctx is cancelled.
func (s *Server) pruneSessionsLoop(ctx context.Context) {
	ticker := time.NewTicker(sessionPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Prune(sessionIdleTimeout); n > 0 {
				s.logger.Debug("pruned idle selections", "count", n)
			}
		}
	}
}

// requestInvalidate notifies other instances after a machine change.
// Failures are logged; the local cache is already up to date.
func (s *Server) requestInvalidate() {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.RequestInvalidate(); err != nil {
		s.logger.Warn("registry invalidation request failed", "error", err)
	}
}
