// Package api provides the HTTP and WebSocket surface of Cosmo Core.
//
// The surface is observational: entity and rule listings, engine and
// dispatcher statistics, rule suspend/resume, and a WebSocket stream of
// accepted state transitions. Entity and rule configuration happens
// through adapters and rule files, not this API.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cosmo-home/cosmocore/internal/bus"
	"github.com/cosmo-home/cosmocore/internal/dispatch"
	"github.com/cosmo-home/cosmocore/internal/engine"
	"github.com/cosmo-home/cosmocore/internal/entity"
	"github.com/cosmo-home/cosmocore/internal/infrastructure/config"
	"github.com/cosmo-home/cosmocore/internal/infrastructure/logging"
	"github.com/cosmo-home/cosmocore/internal/rule"
)

// gracefulShutdownTimeout bounds the wait for in-flight requests during
// shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EntityReader is the slice of the entity registry the API reads.
type EntityReader interface {
	List() []*entity.Entity
	Get(entityID string) (*entity.Entity, error)
	Count() int
}

// RuleReader is the slice of the rule registry the API reads.
type RuleReader interface {
	List() []*rule.Rule
	Get(id string) (*rule.Rule, error)
}

// RuleController is the slice of the engine the API drives.
type RuleController interface {
	Suspend(ruleID string) error
	Resume(ruleID string) error
	Suspended(ruleID string) bool
	Stats() engine.Stats
}

// DispatchObserver exposes dispatcher counters.
type DispatchObserver interface {
	Stats() dispatch.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Entities   EntityReader
	Rules      RuleReader
	Engine     RuleController
	Dispatcher DispatchObserver
	Events     *bus.Bus
	Version    string
}

// Server is the HTTP API server.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	entities   EntityReader
	rules      RuleReader
	engine     RuleController
	dispatcher DispatchObserver
	events     *bus.Bus
	version    string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates an API server. The server does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("api: logger is required")
	}
	if deps.Entities == nil {
		return nil, fmt.Errorf("api: entity registry is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		entities:   deps.Entities,
		rules:      deps.Rules,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		events:     deps.Events,
		version:    deps.Version,
	}, nil
}

// Start launches the WebSocket hub, the bus relay, and the HTTP
// listener. Non-blocking; stop with Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	if s.events != nil {
		go s.relayEvents(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()

	s.logger.Info("api server listening", "address", s.server.Addr)
	return nil
}

// relayEvents forwards accepted state transitions to WebSocket clients
// subscribed to the entity.state_changed channel. Lossy by design; a
// slow panel drops its own backlog, never the registry's.
func (s *Server) relayEvents(ctx context.Context) {
	sub := s.events.Subscribe(bus.Filter{})
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case ev := <-sub.Events():
			s.hub.Broadcast(ChannelStateChanged, ev)
		}
	}
}

// Close gracefully shuts the server down, waiting briefly for in-flight
// requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("api server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
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
