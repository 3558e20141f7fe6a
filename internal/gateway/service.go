package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/padeltrack/syncserver/internal/feed"
	"github.com/padeltrack/syncserver/internal/match"
)

// Config holds settings for the sync gateway service.
type Config struct {
	ConnectionConfig  ConnectionConfig
	HeartbeatInterval time.Duration
	StatusInterval    time.Duration
}

// DefaultConfig returns default gateway settings.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig:  DefaultConnectionConfig(),
		HeartbeatInterval: 30 * time.Second,
		StatusInterval:    60 * time.Second,
	}
}

// Service ties the connection manager, dispatcher and liveness monitor
// together into the match sync server.
type Service struct {
	manager      *ConnectionManager
	dispatcher   *Dispatcher
	monitor      *LivenessMonitor
	wsHandler    *WebSocketHandler
	stateHandler *StateHandler
	publisher    feed.Publisher
	stopOnce     sync.Once
}

// NewService wires the service over the given store and event feed.
func NewService(cfg Config, store *match.Store, clock clockwork.Clock, publisher feed.Publisher) *Service {
	manager := NewConnectionManager(cfg.ConnectionConfig, store, clock)
	dispatcher := NewDispatcher(store, manager, publisher, clock)
	manager.SetMessageHandler(dispatcher)

	return &Service{
		manager:      manager,
		dispatcher:   dispatcher,
		monitor:      NewLivenessMonitor(manager, store, clock, cfg.HeartbeatInterval, cfg.StatusInterval),
		wsHandler:    NewWebSocketHandler(manager),
		stateHandler: NewStateHandler(store, manager),
		publisher:    publisher,
	}
}

// Start runs the broadcast engine and liveness monitor until the context is
// cancelled, then stops the service.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("sync gateway service starting")

	go s.manager.Start(ctx)
	go s.monitor.Run(ctx)

	<-ctx.Done()
	return s.Stop()
}

// Stop notifies and closes every connection and releases the event feed.
// Safe to call more than once.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() {
		s.manager.Shutdown()
		s.publisher.Close()
		log.Info().Msg("sync gateway service stopped")
	})
	return nil
}

// RegisterRoutes registers all HTTP routes on the mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
}

// Count returns the number of open connections.
func (s *Service) Count() int {
	return s.manager.Count()
}
