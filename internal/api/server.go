package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/powerview-bridge/internal/audit"
	"github.com/nerrad567/powerview-bridge/internal/engine"
	"github.com/nerrad567/powerview-bridge/internal/events"
	"github.com/nerrad567/powerview-bridge/internal/infrastructure/config"
	"github.com/nerrad567/powerview-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/powerview-bridge/internal/powerview"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Engine is the part of *engine.Engine the API drives.
type Engine interface {
	Store() *engine.Store
	Log() *events.Log
	ListenerStats() events.ListenerStats
	SceneStates() []engine.SceneState
	SceneState(id int) (engine.SceneState, error)
	QueryShade(ctx context.Context, id int) (powerview.Shade, error)
	ShadeCommand(ctx context.Context, id int, cmd string) error
	SetShadePosition(ctx context.Context, id int, pos powerview.Positions) error
	SceneCommand(ctx context.Context, id int, cmd string) error
	BridgeCommand(ctx context.Context, cmd string) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Engine   Engine
	Hub      *Hub             // optional; created from WS when nil
	Audit    audit.Repository // optional; commands are recorded when set
	Version  string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	engine  Engine
	cmds    audit.Commander
	audit   audit.Repository
	hub     *Hub
	metrics *metrics
	tickets *ticketStore
	version string
	server  *http.Server
	cancel  context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	var cmds audit.Commander = deps.Engine
	if deps.Audit != nil {
		cmds = audit.NewRecorder(deps.Engine, deps.Audit, audit.SourceAPI, deps.Logger)
	}

	s := &Server{
		cfg:     deps.Config,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		engine:  deps.Engine,
		cmds:    cmds,
		audit:   deps.Audit,
		hub:     hub,
		metrics: newMetrics(deps.Engine, hub),
		tickets: newTicketStore(),
		version: deps.Version,
	}
	hub.SetSnapshot(s.snapshotState)
	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler { return s.buildRouter() }

// Start begins listening for HTTP connections in a background goroutine.
// The hub and ticket cleanup run until Close or until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", s.server.Addr, "auth", s.authEnabled())
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
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

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
