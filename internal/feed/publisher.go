package feed

import (
	"context"

	"github.com/padeltrack/syncserver/internal/match"
)

// Event is one applied score mutation, published for external consumers such
// as the announcement pipeline. Delivery is best-effort and never blocks the
// mutation path.
type Event struct {
	ID        string      `json:"event_id"`
	Type      string      `json:"type"`
	Score     match.Score `json:"score"`
	Team      int         `json:"team,omitempty"`
	Action    string      `json:"action"`
	Timestamp int64       `json:"timestamp"` // unix milliseconds
}

// Publisher emits score events to an external feed.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Noop discards every event. Used when no feed is configured.
type Noop struct{}

func (Noop) Publish(ctx context.Context, event Event) error { return nil }
func (Noop) Close()                                         {}
