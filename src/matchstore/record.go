package matchstore

import (
	"time"

	"github.com/rematch-coach/rematch-coach/src/types"
)

// Sentinel used when telemetry never delivered a player field.
const UnknownField = "Unknown"

// GoalEvent is one goal inside a match.
type GoalEvent struct {
	Timestamp time.Time `json:"timestamp"`
	// GameTimeMs is milliseconds since match start, never negative.
	GameTimeMs int64          `json:"game_time_ms"`
	Type       types.GoalType `json:"type"`
	// Score is the scoreboard right after this goal.
	Score types.Score `json:"score"`
}

// MatchRecord is a match, either in progress (zero EndTime) or finished and
// persisted.
type MatchRecord struct {
	ID         types.MatchID `json:"id"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time,omitzero"`
	PlayerName string        `json:"player_name"`
	PlayerID   string        `json:"player_id"`
	GameMode   string        `json:"game_mode"`
	Outcome    string        `json:"outcome,omitempty"`
	FinalScore *types.Score  `json:"final_score,omitempty"`
	Goals      []GoalEvent   `json:"goals"`
	// VideoPath is empty until the capture backend flushes the file; it is
	// backfilled after the record is stored.
	VideoPath     string `json:"video_path,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
}

// Clone returns a deep copy so callers can hand records across goroutines.
func (r *MatchRecord) Clone() *MatchRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.FinalScore != nil {
		s := *r.FinalScore
		c.FinalScore = &s
	}
	c.Goals = make([]GoalEvent, len(r.Goals))
	copy(c.Goals, r.Goals)
	return &c
}
