package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SendOutcome reports what happened to a single fire-and-forget delivery.
type SendOutcome int

const (
	SendOK SendOutcome = iota
	SendSkipped
	SendFailed
)

// Connection is one device's WebSocket session. Outbound frames go through
// the buffered send channel so a slow consumer never blocks the mutation
// path; the write pump drains it.
type Connection struct {
	ID string

	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	manager   *ConnectionManager

	ConnectedAt time.Time
}

func newConnection(id string, ws *websocket.Conn, m *ConnectionManager) *Connection {
	return &Connection{
		ID:          id,
		ws:          ws,
		send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		manager:     m,
		ConnectedAt: m.clock.Now(),
	}
}

// trySend queues a frame without blocking. A closed connection is skipped,
// a full buffer counts as a failure.
func (c *Connection) trySend(frame []byte) SendOutcome {
	select {
	case <-c.done:
		return SendSkipped
	default:
	}
	select {
	case c.send <- frame:
		return SendOK
	default:
		return SendFailed
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			c.ws.Close()
		}
	})
}

func (c *Connection) readPump() {
	defer func() {
		c.manager.Unregister(c)
		c.Close()
	}()

	cfg := c.manager.config
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	c.ws.SetReadDeadline(c.manager.clock.Now().Add(cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(c.manager.clock.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close")
			}
			return
		}

		c.manager.handler.HandleMessage(c, message)
		c.ws.SetReadDeadline(c.manager.clock.Now().Add(cfg.ReadTimeout))
	}
}

func (c *Connection) writePump() {
	ticker := c.manager.clock.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.manager.Unregister(c)
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(c.manager.clock.Now().Add(c.manager.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write frame")
				return
			}

		case <-ticker.Chan():
			c.ws.SetWriteDeadline(c.manager.clock.Now().Add(c.manager.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Flush whatever is already queued, the shutdown notice included,
			// before sending the close frame.
			for {
				select {
				case frame := <-c.send:
					c.ws.SetWriteDeadline(c.manager.clock.Now().Add(c.manager.config.WriteTimeout))
					if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					c.ws.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}
