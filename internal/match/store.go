package match

import (
	"sync"

	"github.com/jonboulle/clockwork"
)

// ActionReset is the action label recorded when the score is zeroed.
const ActionReset = "score reset"

// Store owns the single authoritative State for the process. All reads and
// writes go through Current/ReplaceScore/Reset so a concurrent broadcast can
// never observe a half-updated score.
type Store struct {
	mu    sync.Mutex
	clock clockwork.Clock
	state State
}

// NewStore creates a store with a zeroed state.
func NewStore(clock clockwork.Clock) *Store {
	return &Store{clock: clock}
}

// Current returns a snapshot of the present state, safe to marshal and send.
func (s *Store) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReplaceScore atomically replaces the score, records the action label and
// stamps the update time. It returns the new snapshot.
func (s *Store) ReplaceScore(score Score, action string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Score = score
	s.state.LastAction = action
	s.state.UpdatedAt = s.clock.Now().UnixMilli()
	return s.state
}

// Reset zeroes the score and records the reset action.
func (s *Store) Reset() State {
	return s.ReplaceScore(Score{}, ActionReset)
}
