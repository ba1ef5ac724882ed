// Package telemetry defines the contract with the in-game telemetry feed:
// which game is running, continuous info snapshots, and discrete events.
package telemetry

import "context"

// Scene names reported by the game client.
const (
	SceneLobby  = "lobby"
	SceneInGame = "ingame"
)

// GameModeCustom marks private custom matches.
const GameModeCustom = "Custom"

// Discrete event names emitted by the feed.
const (
	EventMatchStart   = "match_start"
	EventMatchEnd     = "match_end"
	EventTeamGoal     = "team_goal"
	EventOpponentGoal = "opponent_goal"
)

// GameInfo is the slow-moving part of a snapshot. Fields arrive independently
// and may be empty; consumers buffer the last non-empty value per field.
type GameInfo struct {
	PlayerName string `json:"player_name,omitempty"`
	PlayerID   string `json:"player_id,omitempty"`
	GameMode   string `json:"game_mode,omitempty"`
	Scene      string `json:"scene,omitempty"`
}

// MatchInfo carries per-match fields. Score is a serialized JSON document of
// the form {"left_score":N,"right_score":N} and may be malformed mid-update.
type MatchInfo struct {
	Score        string `json:"score,omitempty"`
	MatchOutcome string `json:"match_outcome,omitempty"`
}

// InfoSnapshot is a partial update: only the sections present changed.
type InfoSnapshot struct {
	GameInfo  *GameInfo  `json:"game_info,omitempty"`
	MatchInfo *MatchInfo `json:"match_info,omitempty"`
}

// Event is a discrete game event. Data is feed-defined JSON, often empty.
type Event struct {
	Name string `json:"name"`
	Data string `json:"data,omitempty"`
}

// RunningGameInfo describes the foreground game process, if any.
type RunningGameInfo struct {
	IsRunning bool
	ClassID   int
	Title     string
}

// Listener receives feed callbacks. Callbacks are invoked sequentially from a
// single feed goroutine; handlers must not block.
type Listener struct {
	OnInfoUpdate func(ctx context.Context, info *InfoSnapshot)
	OnEvent      func(ctx context.Context, event *Event)
}

// Provider is the telemetry feed. Implementations bridge whatever transport
// the host platform exposes (IPC pipe, websocket, injected SDK).
type Provider interface {
	// RunningGame reports the current foreground game. A nil info with nil
	// error means no game is running.
	RunningGame(ctx context.Context) (*RunningGameInfo, error)
	// Subscribe attaches a listener for the given game class and returns an
	// unsubscribe function. Subscribing twice for the same class is an error.
	Subscribe(ctx context.Context, classID int, listener Listener) (func(), error)
}
