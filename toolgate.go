// Package toolgate provides a guarded local MCP endpoint: an embedded HTTP
// server whose lifecycle is serialized through a single manager and whose
// requests pass a DNS-rebinding and cross-origin security gate before they
// reach the protocol handler.
package toolgate

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/localrivet/toolgate/internal/auditstore"
	"github.com/localrivet/toolgate/internal/config"
	"github.com/localrivet/toolgate/internal/errortypes"
	"github.com/localrivet/toolgate/internal/gate"
	"github.com/localrivet/toolgate/internal/lifecycle"
	"github.com/localrivet/toolgate/internal/server"
	"github.com/localrivet/toolgate/internal/telemetry"
)

// Name and Version identify this server to MCP clients.
const (
	Name    = "toolgate"
	Version = "0.1.0"
)

// Config represents the configuration for the toolgate service.
type Config = config.Config

// Lifecycle states and transitions, re-exported so embedding code does not
// need to import the internal package.
type (
	State         = lifecycle.State
	Transition    = lifecycle.Transition
	StateCallback = lifecycle.Callback
)

const (
	StateStarting = lifecycle.StateStarting
	StateRunning  = lifecycle.StateRunning
	StateStopping = lifecycle.StateStopping
	StateStopped  = lifecycle.StateStopped
	StateFailed   = lifecycle.StateFailed
)

// Server represents the toolgate service.
type Server struct {
	config     *config.Config
	audit      auditstore.AuditStore
	toolServer server.GateToolServer
	manager    *lifecycle.Manager
	metrics    *telemetry.MetricsCollector
	logger     *slog.Logger
}

// ServerOptions defines the options for creating a new Server.
type ServerOptions struct {
	Config     *Config      // Pre-filled config. If nil, ConfigPath is used.
	ConfigPath string       // Path to config file. Used if Config is nil. If both are empty, DefaultConfig() is used.
	Logger     *slog.Logger // External logger. If nil, slog.Default() is used.
}

// NewServer creates a new toolgate Server with the given options.
// If opts.Config is provided, it will be used directly.
// Otherwise, if opts.ConfigPath is provided, configuration will be loaded from that path.
// If neither is provided, DefaultConfig() will be used.
// If opts.Logger is nil, slog.Default() will be used.
func NewServer(opts ServerOptions) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var cfg *Config
	var err error

	if opts.Config != nil {
		cfg = opts.Config
		logger.Info("Using provided Config object for server initialization")
	} else if opts.ConfigPath != "" {
		logger.Info("Loading configuration for server initialization", "path", opts.ConfigPath)
		cfg, err = config.LoadConfigWithPath(opts.ConfigPath)
		if err != nil {
			logger.Error("Failed to load configuration from path", "path", opts.ConfigPath, "error", err)
			return nil, errortypes.ConfigError(err, "Failed to load configuration from path: "+opts.ConfigPath)
		}
	} else {
		logger.Warn("No Config object or ConfigPath provided, using default configuration for server initialization")
		cfg = DefaultConfig()
	}

	audit, err := CreateAuditStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing gate tool server component")
	toolServer := server.NewGateToolServer(Name, Version, audit)
	if err := toolServer.Initialize(); err != nil {
		logger.Error("Failed to initialize MCP gate tool server component", "error", err)
		return nil, errortypes.ConfigError(err, "Failed to initialize MCP gate tool server component")
	}

	s := &Server{
		config:     cfg,
		audit:      audit,
		toolServer: toolServer,
		metrics:    telemetry.NewMetricsCollector(),
		logger:     logger,
	}

	manager, err := lifecycle.NewManager(lifecycle.Options{
		NewHandler: s.buildHandler,
		Logger:     logger,
		Metrics:    s.metrics,
	})
	if err != nil {
		return nil, err
	}
	s.manager = manager

	logger.Info("Toolgate server successfully initialized")
	return s, nil
}

// DefaultConfig returns the default configuration for the toolgate service.
func DefaultConfig() *Config {
	return config.NewConfig()
}

// buildHandler assembles the request pipeline for one server instance: the
// security gate wrapped around the MCP protocol handler, configured with
// the bind policy of this specific start.
func (s *Server) buildHandler(policy lifecycle.BindPolicy, cfg lifecycle.Config) http.Handler {
	s.toolServer.SetExternalAccess(policy.AllowExternalAccess)

	g := gate.New(gate.Policy{
		AllowExternalAccess: policy.AllowExternalAccess,
		ExpectedPort:        cfg.Port,
	}, gate.Options{
		Logger:   s.logger,
		Metrics:  s.metrics,
		OnReject: s.recordRejection,
	})

	return g.Middleware(s.toolServer.Handler())
}

// recordRejection persists one gate rejection to the audit trail.
func (s *Server) recordRejection(r *http.Request, reason string) {
	if s.audit == nil {
		return
	}

	entry := auditstore.Entry{
		ID:         uuid.NewString(),
		Reason:     reason,
		Origin:     r.Header.Get("Origin"),
		Host:       r.Host,
		Referer:    r.Header.Get("Referer"),
		UserAgent:  r.Header.Get("User-Agent"),
		RemoteAddr: r.RemoteAddr,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.audit.Record(entry); err != nil {
		s.logger.Error("Failed to record rejection in audit trail", "id", entry.ID, "error", err)
	}
}

// Start asynchronously starts the embedded HTTP server on the configured
// host and port. onState receives the lifecycle transitions; it may be nil.
func (s *Server) Start(onState StateCallback) {
	s.logger.Info("Starting toolgate service",
		"host", s.config.Server.Host,
		"port", s.config.Server.Port)
	s.manager.Start(lifecycle.Config{
		Host: s.config.Server.Host,
		Port: s.config.Server.Port,
	}, onState)
}

// Stop asynchronously stops the embedded HTTP server. onState receives the
// lifecycle transitions; it may be nil.
func (s *Server) Stop(onState StateCallback) {
	s.logger.Info("Stopping toolgate service")
	s.manager.Stop(onState)
}

// Shutdown synchronously tears down the service for process exit: it stops
// any running server, retires the lifecycle manager, and closes the audit
// store. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.logger.Info("Shutting down toolgate service")
	s.manager.Shutdown()

	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			s.logger.Error("Failed to close audit store", "error", err)
		}
		s.audit = nil
	}

	s.logger.Info("Toolgate service shut down")
}

// RunStdio serves the MCP protocol over stdin/stdout instead of HTTP. The
// gate does not apply in this mode; stdio carries no cross-origin risk.
func (s *Server) RunStdio() error {
	s.logger.Info("Serving MCP over stdio")
	return s.toolServer.ServeStdio()
}

// MCP returns the underlying MCP server so embedding code can register
// additional tools alongside the built-in ones.
func (s *Server) MCP() *mcpserver.MCPServer {
	return s.toolServer.MCP()
}

// GetConfig returns the configuration the server was created with.
func (s *Server) GetConfig() *Config {
	return s.config
}

// GetAuditStore returns the audit store instance used by the server. It is
// nil when the audit trail is disabled.
func (s *Server) GetAuditStore() auditstore.AuditStore {
	return s.audit
}

// MetricsReport returns a human-readable snapshot of gate and lifecycle
// metrics.
func (s *Server) MetricsReport() string {
	return s.metrics.GetReport()
}

// CreateAuditStore creates and initializes the audit store described by the
// configuration. It returns nil when the audit trail is disabled.
func CreateAuditStore(cfg *Config, logger *slog.Logger) (auditstore.AuditStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.Audit.Enabled {
		logger.Info("Audit trail disabled by configuration")
		return nil, nil
	}

	path := cfg.Audit.SQLitePath
	if path == "" {
		path = config.DefaultSQLitePath
	}

	logger.Info("Initializing SQLite audit store", "path", path)
	store := auditstore.NewSQLiteAuditStore()
	if err := store.Initialize(path); err != nil {
		logger.Error("Failed to initialize SQLite audit store", "path", path, "error", err)
		return nil, errortypes.DatabaseError(err, "Failed to initialize SQLite audit store")
	}

	return store, nil
}
