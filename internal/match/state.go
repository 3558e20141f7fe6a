package match

// Score holds the raw score counters for both teams. Index 0 is team 1,
// index 1 is team 2. The server replicates whatever counters clients send;
// it does not apply padel scoring rules itself.
type Score struct {
	Points [2]int `json:"points"`
	Games  [2]int `json:"games"`
	Sets   [2]int `json:"sets"`
}

// State is the authoritative match state shared across all connected devices.
type State struct {
	Score      Score  `json:"score"`
	LastAction string `json:"last_action"`
	UpdatedAt  int64  `json:"updated_at"` // unix milliseconds
}

// IsZero reports whether the score has no recorded points, games or sets.
func (s Score) IsZero() bool {
	return s == Score{}
}
