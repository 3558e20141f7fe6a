package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/padeltrack/syncserver/internal/match"
	"github.com/padeltrack/syncserver/internal/protocol"
)

// MessageHandler consumes inbound frames from a connection.
type MessageHandler interface {
	HandleMessage(conn *Connection, raw []byte)
}

// ConnectionConfig holds per-connection WebSocket settings.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket settings.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Phone and watch connect from app webviews, not a fixed origin.
			return true
		},
	}
}

type broadcastMessage struct {
	env protocol.Envelope
	// targets is fixed when the envelope is queued: only connections open at
	// send time receive it, never a later joiner.
	targets []*Connection
}

// ConnectionManager is the registry of open connections and the broadcast
// engine over them. A single goroutine drains broadcastCh so fan-out never
// interleaves with itself.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[*Connection]bool

	upgrader    websocket.Upgrader
	config      ConnectionConfig
	store       *match.Store
	clock       clockwork.Clock
	handler     MessageHandler
	broadcastCh chan broadcastMessage

	shuttingDown atomic.Bool
}

// NewConnectionManager creates a manager over the given match store.
func NewConnectionManager(config ConnectionConfig, store *match.Store, clock clockwork.Clock) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		store:       store,
		clock:       clock,
		broadcastCh: make(chan broadcastMessage, 256),
	}
}

// SetMessageHandler wires the inbound dispatcher. Must be called before any
// connection is accepted.
func (m *ConnectionManager) SetMessageHandler(h MessageHandler) {
	m.handler = h
}

// Start drains the broadcast queue until the context is cancelled.
func (m *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager stopped")
			return
		case msg := <-m.broadcastCh:
			m.deliver(msg)
		}
	}
}

// UpgradeConnection upgrades an HTTP request, registers the connection and
// starts its pumps.
func (m *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	conn := newConnection(uuid.New().String(), ws, m)
	m.Register(conn)

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")
	return nil
}

// Register adds the connection and pushes the welcome snapshot. The snapshot
// is queued before the connection becomes visible to broadcasts, so a
// state_sync is always the first envelope a device receives. The new device
// count is then announced to every other connection.
func (m *ConnectionManager) Register(conn *Connection) {
	m.mu.Lock()
	m.connections[conn] = true
	count := len(m.connections)

	st := m.store.Current()
	env, err := protocol.New(protocol.TypeStateSync, protocol.StateSyncPayload{
		Score:            st.Score,
		LastAction:       st.LastAction,
		UpdatedAt:        st.UpdatedAt,
		ConnectedDevices: count,
	})
	if err == nil {
		env.Message = fmt.Sprintf("Connected. %d device(s) online", count)
		if frame, encErr := env.Encode(); encErr == nil {
			conn.send <- frame
		}
	}
	others := m.othersLocked(conn)
	m.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Int("connections", count).
		Msg("device connected")

	notice, err := protocol.New(protocol.TypeDeviceConnected, protocol.DeviceCountPayload{ConnectedDevices: count})
	if err != nil {
		return
	}
	notice.Message = fmt.Sprintf("New device connected (%d total)", count)
	m.enqueue(broadcastMessage{env: notice, targets: others})
}

// Unregister removes the connection and announces the new device count to
// every remaining connection. Idempotent.
func (m *ConnectionManager) Unregister(conn *Connection) {
	m.mu.Lock()
	if !m.connections[conn] {
		m.mu.Unlock()
		return
	}
	delete(m.connections, conn)
	count := len(m.connections)
	remaining := m.othersLocked(nil)
	m.mu.Unlock()

	conn.Close()

	log.Info().
		Str("connection_id", conn.ID).
		Int("connections", count).
		Msg("device disconnected")

	if m.shuttingDown.Load() {
		return
	}

	notice, err := protocol.New(protocol.TypeDeviceDisconnected, protocol.DeviceCountPayload{ConnectedDevices: count})
	if err != nil {
		return
	}
	notice.Message = fmt.Sprintf("Device disconnected (%d remaining)", count)
	m.enqueue(broadcastMessage{env: notice, targets: remaining})
}

// Count returns the number of open connections.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// BroadcastToOthers queues an envelope for every connection except the sender.
func (m *ConnectionManager) BroadcastToOthers(sender *Connection, env protocol.Envelope) {
	m.mu.RLock()
	targets := m.othersLocked(sender)
	m.mu.RUnlock()
	m.enqueue(broadcastMessage{env: env, targets: targets})
}

// BroadcastToAll queues an envelope for every open connection.
func (m *ConnectionManager) BroadcastToAll(env protocol.Envelope) {
	m.mu.RLock()
	targets := m.othersLocked(nil)
	m.mu.RUnlock()
	m.enqueue(broadcastMessage{env: env, targets: targets})
}

// SendTo queues an envelope for one connection only.
func (m *ConnectionManager) SendTo(conn *Connection, env protocol.Envelope) {
	m.enqueue(broadcastMessage{env: env, targets: []*Connection{conn}})
}

// othersLocked snapshots the registry minus exclude. Callers hold m.mu.
func (m *ConnectionManager) othersLocked(exclude *Connection) []*Connection {
	targets := make([]*Connection, 0, len(m.connections))
	for conn := range m.connections {
		if conn == exclude {
			continue
		}
		targets = append(targets, conn)
	}
	return targets
}

func (m *ConnectionManager) enqueue(msg broadcastMessage) {
	select {
	case m.broadcastCh <- msg:
	default:
		log.Warn().Str("type", string(msg.env.Type)).Msg("broadcast queue full, dropping envelope")
	}
}

func (m *ConnectionManager) deliver(msg broadcastMessage) {
	frame, err := msg.env.Encode()
	if err != nil {
		log.Error().Err(err).Msg("failed to encode envelope for delivery")
		return
	}

	// Best effort: a connection that closed after the envelope was queued is
	// a no-op, not an error.
	delivered := 0
	for _, conn := range msg.targets {
		switch conn.trySend(frame) {
		case SendOK:
			delivered++
		case SendFailed:
			log.Warn().Str("connection_id", conn.ID).Msg("send buffer full, dropping connection")
			m.Unregister(conn)
		case SendSkipped:
		}
	}

	log.Debug().
		Str("type", string(msg.env.Type)).
		Int("delivered", delivered).
		Msg("envelope broadcast")
}

// Shutdown notifies every open connection and then closes them all. The
// notice goes directly to the send buffers so it does not depend on the
// broadcast goroutine still running.
func (m *ConnectionManager) Shutdown() {
	m.shuttingDown.Store(true)

	env := protocol.Envelope{Type: protocol.TypeServerShutdown, Message: "Server shutting down"}
	frame, err := env.Encode()
	if err != nil {
		return
	}

	m.mu.Lock()
	targets := make([]*Connection, 0, len(m.connections))
	for conn := range m.connections {
		targets = append(targets, conn)
	}
	m.connections = make(map[*Connection]bool)
	m.mu.Unlock()

	for _, conn := range targets {
		conn.trySend(frame)
	}
	for _, conn := range targets {
		conn.Close()
	}

	log.Info().Int("connections", len(targets)).Msg("notified and closed all connections")
}
