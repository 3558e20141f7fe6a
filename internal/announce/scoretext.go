// Package announce turns a match snapshot into the text triplet consumed by
// the speech announcer on the devices. The server replicates raw counters, so
// point calls past 40-40 are derived here from the counter difference.
package announce

import (
	"fmt"

	"github.com/padeltrack/syncserver/internal/match"
)

// ScoreText is the announcer feed shape: one spoken line per scoreboard row.
type ScoreText struct {
	PointsText string `json:"pointsText"`
	GamesText  string `json:"gamesText"`
	SetsText   string `json:"setsText"`
}

var pointCalls = [4]string{"0", "15", "30", "40"}

// ForState builds the announcer feed for a snapshot.
func ForState(st match.State) ScoreText {
	return ScoreText{
		PointsText: pointsText(st.Score.Points),
		GamesText:  fmt.Sprintf("%d game a %d", st.Score.Games[0], st.Score.Games[1]),
		SetsText:   fmt.Sprintf("%d set a %d", st.Score.Sets[0], st.Score.Sets[1]),
	}
}

func pointsText(points [2]int) string {
	a, b := points[0], points[1]
	if a >= 3 && b >= 3 {
		switch {
		case a == b:
			return "parità"
		case a > b:
			return "vantaggio team 1"
		default:
			return "vantaggio team 2"
		}
	}
	return fmt.Sprintf("%s a %s", call(a), call(b))
}

func call(n int) string {
	if n >= 0 && n < len(pointCalls) {
		return pointCalls[n]
	}
	return "40"
}

// LastAnnouncement formats the status line shown next to the speaker icon.
func LastAnnouncement(st match.State) string {
	if st.LastAction == "" {
		return ""
	}
	return fmt.Sprintf("🔊 %q", st.LastAction)
}
