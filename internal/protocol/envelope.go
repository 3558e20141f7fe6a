package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/padeltrack/syncserver/internal/match"
)

// Type tags an envelope with its message kind.
type Type string

// Inbound message types.
const (
	TypeAddPoint     Type = "add_point"
	TypeUndoPoint    Type = "undo_point"
	TypeResetScore   Type = "reset_score"
	TypeRequestState Type = "request_state"
	TypePing         Type = "ping"
)

// Outbound message types.
const (
	TypeStateSync          Type = "state_sync"
	TypeScoreUpdate        Type = "score_update"
	TypeScoreUndo          Type = "score_undo"
	TypeScoreReset         Type = "score_reset"
	TypePong               Type = "pong"
	TypeHeartbeat          Type = "heartbeat"
	TypeDeviceConnected    Type = "device_connected"
	TypeDeviceDisconnected Type = "device_disconnected"
	TypeServerShutdown     Type = "server_shutdown"
	TypeError              Type = "error"
)

// Envelope is the only unit of communication between server and devices.
// Data carries the type-specific payload; unknown types keep their raw data
// so the dispatcher can log and ignore them.
type Envelope struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Sender    string          `json:"sender,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // unix milliseconds
}

// AddPointPayload is the data of an add_point envelope. Score is a pointer so
// a missing field is distinguishable from a zero score.
type AddPointPayload struct {
	Team  int          `json:"team"`
	Score *match.Score `json:"score"`
}

// UndoPointPayload is the data of an undo_point envelope.
type UndoPointPayload struct {
	Score *match.Score `json:"score"`
}

// ScoreUpdatePayload is the data of score_update, score_undo and score_reset
// envelopes fanned out after a mutation.
type ScoreUpdatePayload struct {
	Score  match.Score `json:"score"`
	Team   int         `json:"team,omitempty"`
	Action string      `json:"action"`
}

// StateSyncPayload is the full snapshot pushed on accept and on request_state.
type StateSyncPayload struct {
	Score            match.Score `json:"score"`
	LastAction       string      `json:"last_action"`
	UpdatedAt        int64       `json:"updated_at"`
	ConnectedDevices int         `json:"connected_devices"`
}

// DeviceCountPayload carries the registry size in connection churn broadcasts
// and heartbeats.
type DeviceCountPayload struct {
	ConnectedDevices int `json:"connected_devices"`
}

// Parse decodes a raw text frame into an Envelope. A frame that is not valid
// JSON or has no type tag is a recoverable per-message error, not fatal to
// the connection.
func Parse(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// New builds an envelope of the given type with a marshaled payload. A nil
// payload leaves Data empty.
func New(t Type, payload any) (Envelope, error) {
	env := Envelope{Type: t}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env.Data = data
	return env, nil
}

// Encode marshals the envelope into a text frame.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", e.Type, err)
	}
	return data, nil
}
