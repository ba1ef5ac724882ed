package types

// MatchID identifies one tracked match across the process and the record
// store. It is assigned once at match creation and never reused.
type MatchID string

// StreamID is the capture provider's handle for one recording session. Only
// valid while the session is active.
type StreamID string

// Score is a left/right goal count snapshot.
type Score struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// GoalType tells which side a scoring event belongs to.
type GoalType string

const (
	GoalTeam     GoalType = "team_goal"
	GoalOpponent GoalType = "opponent_goal"
)
