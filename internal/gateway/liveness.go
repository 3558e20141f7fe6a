package gateway

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/padeltrack/syncserver/internal/match"
	"github.com/padeltrack/syncserver/internal/protocol"
)

// LivenessMonitor runs two timers for the process lifetime: a heartbeat
// envelope to every connection, and a periodic status log line. Devices that
// stop seeing heartbeats are expected to reconnect on their own.
type LivenessMonitor struct {
	manager           *ConnectionManager
	store             *match.Store
	clock             clockwork.Clock
	heartbeatInterval time.Duration
	statusInterval    time.Duration
}

// NewLivenessMonitor creates a monitor with the given intervals.
func NewLivenessMonitor(manager *ConnectionManager, store *match.Store, clock clockwork.Clock, heartbeat, status time.Duration) *LivenessMonitor {
	return &LivenessMonitor{
		manager:           manager,
		store:             store,
		clock:             clock,
		heartbeatInterval: heartbeat,
		statusInterval:    status,
	}
}

// Run blocks until the context is cancelled.
func (m *LivenessMonitor) Run(ctx context.Context) {
	heartbeat := m.clock.NewTicker(m.heartbeatInterval)
	defer heartbeat.Stop()
	status := m.clock.NewTicker(m.statusInterval)
	defer status.Stop()

	log.Info().
		Dur("heartbeat_interval", m.heartbeatInterval).
		Dur("status_interval", m.statusInterval).
		Msg("liveness monitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("liveness monitor stopped")
			return
		case <-heartbeat.Chan():
			m.emitHeartbeat()
		case <-status.Chan():
			m.logStatus()
		}
	}
}

func (m *LivenessMonitor) emitHeartbeat() {
	env, err := protocol.New(protocol.TypeHeartbeat, protocol.DeviceCountPayload{
		ConnectedDevices: m.manager.Count(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build heartbeat envelope")
		return
	}
	env.Timestamp = m.clock.Now().UnixMilli()
	m.manager.BroadcastToAll(env)
}

func (m *LivenessMonitor) logStatus() {
	st := m.store.Current()
	log.Info().
		Int("connections", m.manager.Count()).
		Interface("score", st.Score).
		Str("last_action", st.LastAction).
		Msg("server status")
}
