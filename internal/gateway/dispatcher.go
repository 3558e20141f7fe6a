package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/padeltrack/syncserver/internal/feed"
	"github.com/padeltrack/syncserver/internal/match"
	"github.com/padeltrack/syncserver/internal/protocol"
)

const invalidMessageFormat = "invalid message format"

// Dispatcher routes inbound envelopes to their handlers. All effects land on
// the store and the broadcast queue.
type Dispatcher struct {
	store     *match.Store
	manager   *ConnectionManager
	publisher feed.Publisher
	clock     clockwork.Clock

	// mu serializes each score replacement with its broadcast enqueue, so
	// envelopes leave the queue in the same order the store applied them.
	mu sync.Mutex
}

// NewDispatcher wires a dispatcher over the store, the connection manager and
// the score event feed.
func NewDispatcher(store *match.Store, manager *ConnectionManager, publisher feed.Publisher, clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{
		store:     store,
		manager:   manager,
		publisher: publisher,
		clock:     clock,
	}
}

// HandleMessage processes one inbound frame. Decode failures answer the
// sender with an error envelope and leave the connection open.
func (d *Dispatcher) HandleMessage(conn *Connection, raw []byte) {
	env, err := protocol.Parse(raw)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", conn.ID).Msg("malformed envelope")
		d.sendError(conn)
		return
	}

	log.Debug().Str("connection_id", conn.ID).Str("type", string(env.Type)).Msg("envelope received")

	switch env.Type {
	case protocol.TypeAddPoint:
		d.handleAddPoint(conn, env)
	case protocol.TypeUndoPoint:
		d.handleUndoPoint(conn, env)
	case protocol.TypeResetScore:
		d.handleResetScore(conn)
	case protocol.TypeRequestState:
		d.handleRequestState(conn)
	case protocol.TypePing:
		d.handlePing(conn)
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Str("type", string(env.Type)).
			Msg("unknown message type")
	}
}

func (d *Dispatcher) handleAddPoint(conn *Connection, env protocol.Envelope) {
	var payload protocol.AddPointPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Score == nil || payload.Team == 0 {
		log.Warn().Str("connection_id", conn.ID).Msg("add_point missing team or score")
		d.sendError(conn)
		return
	}

	action := fmt.Sprintf("Point for team %d", payload.Team)
	st := d.applyMutation(conn, protocol.TypeScoreUpdate, *payload.Score, action, payload.Team)

	log.Info().
		Str("connection_id", conn.ID).
		Int("team", payload.Team).
		Interface("score", st.Score).
		Msg(action)
}

func (d *Dispatcher) handleUndoPoint(conn *Connection, env protocol.Envelope) {
	var payload protocol.UndoPointPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Score == nil {
		log.Warn().Str("connection_id", conn.ID).Msg("undo_point missing score")
		d.sendError(conn)
		return
	}

	st := d.applyMutation(conn, protocol.TypeScoreUndo, *payload.Score, "point undone", 0)

	log.Info().
		Str("connection_id", conn.ID).
		Interface("score", st.Score).
		Msg("point undone")
}

func (d *Dispatcher) handleResetScore(conn *Connection) {
	d.applyMutation(conn, protocol.TypeScoreReset, match.Score{}, match.ActionReset, 0)

	log.Info().Str("connection_id", conn.ID).Msg("score reset")
}

// applyMutation replaces the score and fans the result out to every other
// connection as one step, so two concurrent mutations cannot reach observers
// in the opposite order to how the store applied them. The score event feed
// is published off the hot path.
func (d *Dispatcher) applyMutation(conn *Connection, t protocol.Type, score match.Score, action string, team int) match.State {
	d.mu.Lock()
	st := d.store.ReplaceScore(score, action)
	out, err := protocol.New(t, protocol.ScoreUpdatePayload{
		Score:  st.Score,
		Team:   team,
		Action: st.LastAction,
	})
	if err == nil {
		out.Sender = conn.ID
		out.Timestamp = st.UpdatedAt
		d.manager.BroadcastToOthers(conn, out)
	}
	d.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to build mutation envelope")
		return st
	}

	go d.publish(string(t), st, team)
	return st
}

func (d *Dispatcher) publish(eventType string, st match.State, team int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	event := feed.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Score:     st.Score,
		Team:      team,
		Action:    st.LastAction,
		Timestamp: st.UpdatedAt,
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("type", eventType).Msg("failed to publish score event")
	}
}

func (d *Dispatcher) handleRequestState(conn *Connection) {
	st := d.store.Current()
	env, err := protocol.New(protocol.TypeStateSync, protocol.StateSyncPayload{
		Score:            st.Score,
		LastAction:       st.LastAction,
		UpdatedAt:        st.UpdatedAt,
		ConnectedDevices: d.manager.Count(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build state_sync envelope")
		return
	}
	d.manager.SendTo(conn, env)
}

func (d *Dispatcher) handlePing(conn *Connection) {
	env := protocol.Envelope{
		Type:      protocol.TypePong,
		Timestamp: d.clock.Now().UnixMilli(),
	}
	d.manager.SendTo(conn, env)
}

func (d *Dispatcher) sendError(conn *Connection) {
	d.manager.SendTo(conn, protocol.Envelope{
		Type:    protocol.TypeError,
		Message: invalidMessageFormat,
	})
}
