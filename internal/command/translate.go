// Package command translates resolved voice commands into wire envelopes.
// The recognizer on the device decides what was said; this layer only maps
// its output onto the sync protocol.
package command

import (
	"fmt"

	"github.com/padeltrack/syncserver/internal/match"
	"github.com/padeltrack/syncserver/internal/protocol"
)

// Command kinds emitted by the voice recognizer.
const (
	KindPoint        = "point"
	KindScoreRequest = "score_request"
)

// Command is a resolved voice command. TeamIndex is zero-based.
type Command struct {
	Type      string `json:"type"`
	TeamIndex int    `json:"teamIndex"`
}

// ToEnvelope maps a command onto an envelope ready to send to the sync
// server. A point command needs the next score, which the caller computes
// locally before syncing.
func ToEnvelope(cmd Command, nextScore match.Score) (protocol.Envelope, error) {
	switch cmd.Type {
	case KindPoint:
		if cmd.TeamIndex < 0 || cmd.TeamIndex > 1 {
			return protocol.Envelope{}, fmt.Errorf("invalid team index %d", cmd.TeamIndex)
		}
		return protocol.New(protocol.TypeAddPoint, protocol.AddPointPayload{
			Team:  cmd.TeamIndex + 1,
			Score: &nextScore,
		})
	case KindScoreRequest:
		return protocol.Envelope{Type: protocol.TypeRequestState}, nil
	default:
		return protocol.Envelope{}, fmt.Errorf("unknown command type %q", cmd.Type)
	}
}
