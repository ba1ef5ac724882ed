// Package orchestrator turns the raw telemetry feed into match lifecycle
// calls, applying the user's recording policy.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/rematch-coach/rematch-coach/src/configs"
	"github.com/rematch-coach/rematch-coach/src/consts"
	"github.com/rematch-coach/rematch-coach/src/instance"
	"github.com/rematch-coach/rematch-coach/src/interfaces"
	"github.com/rematch-coach/rematch-coach/src/matchsession"
	"github.com/rematch-coach/rematch-coach/src/metrics"
	"github.com/rematch-coach/rematch-coach/src/pkg/events"
	appsentry "github.com/rematch-coach/rematch-coach/src/pkg/sentry"
	"github.com/rematch-coach/rematch-coach/src/telemetry"
	"github.com/rematch-coach/rematch-coach/src/types"
)

// RecordingPromptRequested carries a *PromptRequest; listeners surface it to
// the user, and the answer comes back through ReplyToPrompt.
const RecordingPromptRequested events.EventType = "RecordingPromptRequested"

// PromptRequest is the RecordingPromptRequested payload.
type PromptRequest struct {
	GameMode string `json:"game_mode"`
}

// PromptChoice is the user's answer to a recording prompt.
type PromptChoice string

const (
	// PromptStartNow records the current match (or the next one, when the
	// prompt was answered between matches).
	PromptStartNow PromptChoice = "start_now"
	// PromptSkip leaves the match unrecorded.
	PromptSkip PromptChoice = "skip"
	// PromptAlways switches the policy to auto for all future matches.
	PromptAlways PromptChoice = "always"
)

// gamePollInterval is how often the foreground game is checked.
const gamePollInterval = 5 * time.Second

// sceneStartDelay debounces scene-based match detection: the scene flips to
// ingame a moment before the match_start event lands, and the event is the
// better signal when it does. Variable for tests.
var sceneStartDelay = 2 * time.Second

// Cache keys under which volatile telemetry state is buffered.
const (
	cachePlayerInfo = "orchestrator.player_info"
	cacheLastScore  = "orchestrator.last_score"
)

type Orchestrator interface {
	interfaces.Module
	// ReplyToPrompt resolves an outstanding recording prompt.
	ReplyToPrompt(ctx context.Context, choice PromptChoice) error
}

func NewOrchestrator(ctx context.Context, provider telemetry.Provider, tracker matchsession.Tracker) Orchestrator {
	o := &orchestrator{
		provider: provider,
		tracker:  tracker,
	}
	instance.GetInstance(ctx).Orchestrator = o
	return o
}

type orchestrator struct {
	provider telemetry.Provider
	tracker  matchsession.Tracker

	mu sync.Mutex
	// prompted flips once per game cycle so the user sees at most one
	// recording prompt between lobby visits.
	prompted        bool
	recordNextMatch bool
	lastGameMode    string
	deferTimer      *time.Timer
	unsubscribe     func()
}

func (o *orchestrator) Start(ctx context.Context) error {
	appsentry.GoWithContext(ctx, func(ctx context.Context) {
		o.pollGame(ctx)
	})
	return nil
}

func (o *orchestrator) Close(ctx context.Context) {
	o.mu.Lock()
	if o.deferTimer != nil {
		o.deferTimer.Stop()
		o.deferTimer = nil
	}
	unsub := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// pollGame watches the foreground game and attaches the telemetry listener
// while a supported game is running.
func (o *orchestrator) pollGame(ctx context.Context) {
	ticker := time.NewTicker(gamePollInterval)
	defer ticker.Stop()
	for {
		o.checkGame(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *orchestrator) checkGame(ctx context.Context) {
	game, err := o.provider.RunningGame(ctx)
	if err != nil {
		logrus.WithError(err).Debug("running game lookup failed")
		return
	}
	cfg := configs.GetCurrentConfig()
	running := game != nil && game.IsRunning && cfg != nil && cfg.IsSupportedGame(game.ClassID)

	o.mu.Lock()
	subscribed := o.unsubscribe != nil
	o.mu.Unlock()

	switch {
	case running && !subscribed:
		unsub, err := o.provider.Subscribe(ctx, game.ClassID, telemetry.Listener{
			OnInfoUpdate: o.handleInfo,
			OnEvent:      o.handleEvent,
		})
		if err != nil {
			logrus.WithError(err).Error("telemetry subscribe failed")
			appsentry.CaptureException(err)
			return
		}
		o.mu.Lock()
		o.unsubscribe = unsub
		o.mu.Unlock()
		logrus.WithField("class_id", game.ClassID).Info("supported game detected, telemetry attached")
	case !running && subscribed:
		o.mu.Lock()
		unsub := o.unsubscribe
		o.unsubscribe = nil
		o.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		logrus.Info("game exited, telemetry detached")
		// A crash mid-match still yields a record with what we saw.
		if rec := o.tracker.EndMatch(ctx, "", o.lastScore(ctx)); rec != nil {
			logrus.WithField("match_id", rec.ID).Warn("match closed by game exit")
		}
		o.resetCycle(ctx)
	}
}

func (o *orchestrator) handleInfo(ctx context.Context, info *telemetry.InfoSnapshot) {
	if info == nil {
		return
	}
	if gi := info.GameInfo; gi != nil {
		o.bufferPlayerInfo(ctx, gi)
		if gi.Scene != "" {
			o.handleScene(ctx, gi.Scene)
		}
		if gi.GameMode != "" {
			o.handleGameMode(ctx, gi.GameMode)
		}
	}
	if mi := info.MatchInfo; mi != nil {
		if mi.Score != "" {
			o.handleScore(ctx, mi.Score)
		}
		if mi.MatchOutcome != "" {
			o.handleOutcome(ctx, mi.MatchOutcome)
		}
	}
}

func (o *orchestrator) handleEvent(ctx context.Context, event *telemetry.Event) {
	if event == nil {
		return
	}
	switch event.Name {
	case telemetry.EventMatchStart:
		o.cancelDeferredStart()
		o.dropLastScore(ctx)
		o.startMatchPerPolicy(ctx)
	case telemetry.EventMatchEnd:
		// The outcome snapshot usually trails this event; closing here would
		// persist the match without it. Only the prompt cycle resets; the
		// match itself ends on the outcome, lobby return, or game exit.
		o.resetPrompt()
	case telemetry.EventTeamGoal:
		o.handleGoal(ctx, types.GoalTeam, event.Data)
	case telemetry.EventOpponentGoal:
		o.handleGoal(ctx, types.GoalOpponent, event.Data)
	default:
		logrus.WithField("event", event.Name).Trace("telemetry event ignored")
	}
}

// startMatchPerPolicy opens a match according to the recording mode. Used for
// the match_start event and the deferred scene-based fallback.
func (o *orchestrator) startMatchPerPolicy(ctx context.Context) {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		return
	}
	mode := cfg.Recording.Mode
	if mode == configs.RecordingModeNever {
		logrus.Debug("match detected, tracking disabled by policy")
		return
	}

	o.mu.Lock()
	withRecording := mode == configs.RecordingModeAuto || o.recordNextMatch
	o.recordNextMatch = false
	needPrompt := mode == configs.RecordingModeAsk && !withRecording && !o.prompted
	o.mu.Unlock()

	o.tracker.StartMatch(ctx, o.bufferedPlayerInfo(ctx), withRecording)
	if needPrompt {
		o.firePrompt(ctx)
	}
}

func (o *orchestrator) handleScene(ctx context.Context, scene string) {
	switch scene {
	case telemetry.SceneLobby:
		// A lobby return with no outcome snapshot still closes the match.
		if rec := o.tracker.EndMatch(ctx, "", o.lastScore(ctx)); rec != nil {
			logrus.WithField("match_id", rec.ID).Warn("match closed by lobby return")
		}
		o.resetCycle(ctx)
	case telemetry.SceneInGame:
		// The ingame scene can arrive without a match_start event (joining a
		// match in progress, event feed hiccup). Wait out the debounce and
		// start the match only if the event still has not shown up.
		if o.tracker.CurrentMatch() != nil {
			return
		}
		o.scheduleDeferredStart(ctx)
	}
}

func (o *orchestrator) scheduleDeferredStart(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deferTimer != nil {
		return
	}
	o.deferTimer = time.AfterFunc(sceneStartDelay, func() {
		defer appsentry.RecoverWithContext(ctx)
		o.mu.Lock()
		o.deferTimer = nil
		o.mu.Unlock()
		// Preconditions re-checked at fire time, not schedule time.
		if o.tracker.CurrentMatch() != nil {
			return
		}
		logrus.Debug("no match event after scene change, starting from scene")
		o.startMatchPerPolicy(ctx)
	})
}

func (o *orchestrator) cancelDeferredStart() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deferTimer != nil {
		o.deferTimer.Stop()
		o.deferTimer = nil
	}
}

func (o *orchestrator) handleGameMode(ctx context.Context, gameMode string) {
	cfg := configs.GetCurrentConfig()
	o.mu.Lock()
	changed := gameMode != o.lastGameMode
	o.lastGameMode = gameMode
	needPrompt := changed && gameMode != telemetry.GameModeCustom && cfg != nil &&
		cfg.Recording.Mode == configs.RecordingModeAsk && !o.prompted
	o.mu.Unlock()
	if needPrompt {
		o.firePrompt(ctx)
	}
}

// handleScore keeps the last well-formed score; partial frames mid-update are
// common and must not clobber it.
func (o *orchestrator) handleScore(ctx context.Context, raw string) {
	if !gjson.Valid(raw) {
		logrus.WithField("raw", raw).Debug("malformed score frame kept out")
		return
	}
	parsed := gjson.Parse(raw)
	left, right := parsed.Get("left_score"), parsed.Get("right_score")
	if !left.Exists() || !right.Exists() {
		logrus.WithField("raw", raw).Debug("score frame missing fields")
		return
	}
	score := types.Score{Left: int(left.Int()), Right: int(right.Int())}
	if inst := instance.GetInstance(ctx); inst != nil && inst.Cache != nil {
		_ = inst.Cache.Set(cacheLastScore, score)
	}
}

func (o *orchestrator) handleOutcome(ctx context.Context, outcome string) {
	if o.tracker.CurrentMatch() == nil {
		return
	}
	rec := o.tracker.EndMatch(ctx, normalizeOutcome(outcome), o.lastScore(ctx))
	if rec != nil {
		logrus.WithFields(logrus.Fields{
			"match_id": rec.ID,
			"outcome":  rec.Outcome,
		}).Info("match closed by outcome")
	}
}

func (o *orchestrator) handleGoal(ctx context.Context, goalType types.GoalType, data string) {
	score := types.Score{}
	if last := o.lastScore(ctx); last != nil {
		score = *last
	}
	// Some feeds repeat the scoreboard inside the goal payload; prefer it.
	if data != "" && gjson.Valid(data) {
		parsed := gjson.Parse(data)
		if l, r := parsed.Get("left_score"), parsed.Get("right_score"); l.Exists() && r.Exists() {
			score = types.Score{Left: int(l.Int()), Right: int(r.Int())}
		}
	}
	o.tracker.AddGoalEvent(ctx, goalType, score)
}

func (o *orchestrator) ReplyToPrompt(ctx context.Context, choice PromptChoice) error {
	switch choice {
	case PromptStartNow:
		if o.tracker.CurrentMatch() != nil {
			o.tracker.StartRecordingForCurrentMatch(ctx)
		} else {
			o.mu.Lock()
			o.recordNextMatch = true
			o.mu.Unlock()
		}
	case PromptSkip:
		// Nothing to do; the prompted flag already stops repeats this cycle.
	case PromptAlways:
		if err := configs.UpdateRecordingMode(configs.RecordingModeAuto); err != nil {
			return err
		}
		if o.tracker.CurrentMatch() != nil {
			o.tracker.StartRecordingForCurrentMatch(ctx)
		}
	default:
		return fmt.Errorf("unknown prompt choice: %q", choice)
	}
	logrus.WithField("choice", choice).Info("recording prompt answered")
	return nil
}

func (o *orchestrator) firePrompt(ctx context.Context) {
	o.mu.Lock()
	if o.prompted {
		o.mu.Unlock()
		return
	}
	o.prompted = true
	gameMode := o.lastGameMode
	o.mu.Unlock()

	metrics.PromptsShown.Inc()
	logrus.WithField("game_mode", gameMode).Info("recording prompt raised")
	if inst := instance.GetInstance(ctx); inst != nil && inst.EventDispatcher != nil {
		inst.EventDispatcher.(events.Dispatcher).DispatchEvent(
			events.NewEvent(RecordingPromptRequested, &PromptRequest{GameMode: gameMode}))
	}
}

// resetPrompt re-arms the once-per-cycle prompt without touching the rest of
// the cycle state.
func (o *orchestrator) resetPrompt() {
	o.mu.Lock()
	o.prompted = false
	o.mu.Unlock()
}

// resetCycle clears per-cycle state: the prompt flag and the buffered score.
func (o *orchestrator) resetCycle(ctx context.Context) {
	o.cancelDeferredStart()
	o.mu.Lock()
	o.prompted = false
	o.recordNextMatch = false
	o.lastGameMode = ""
	o.mu.Unlock()
	o.dropLastScore(ctx)
}

func (o *orchestrator) bufferPlayerInfo(ctx context.Context, gi *telemetry.GameInfo) {
	inst := instance.GetInstance(ctx)
	if inst == nil || inst.Cache == nil {
		return
	}
	info := matchsession.PlayerInfo{}
	if v, err := inst.Cache.Get(cachePlayerInfo); err == nil {
		if cached, ok := v.(matchsession.PlayerInfo); ok {
			info = cached
		}
	}
	// Fields arrive piecemeal; only non-empty updates overwrite.
	if gi.PlayerName != "" {
		info.Name = gi.PlayerName
	}
	if gi.PlayerID != "" {
		info.ID = gi.PlayerID
	}
	if gi.GameMode != "" {
		info.GameMode = gi.GameMode
	}
	_ = inst.Cache.Set(cachePlayerInfo, info)
}

func (o *orchestrator) bufferedPlayerInfo(ctx context.Context) matchsession.PlayerInfo {
	inst := instance.GetInstance(ctx)
	if inst == nil || inst.Cache == nil {
		return matchsession.PlayerInfo{}
	}
	if v, err := inst.Cache.Get(cachePlayerInfo); err == nil {
		if info, ok := v.(matchsession.PlayerInfo); ok {
			return info
		}
	}
	return matchsession.PlayerInfo{}
}

func (o *orchestrator) lastScore(ctx context.Context) *types.Score {
	inst := instance.GetInstance(ctx)
	if inst == nil || inst.Cache == nil {
		return nil
	}
	if v, err := inst.Cache.Get(cacheLastScore); err == nil {
		if score, ok := v.(types.Score); ok {
			return &score
		}
	}
	return nil
}

func (o *orchestrator) dropLastScore(ctx context.Context) {
	if inst := instance.GetInstance(ctx); inst != nil && inst.Cache != nil {
		inst.Cache.Remove(cacheLastScore)
	}
}

func normalizeOutcome(outcome string) string {
	switch strings.ToLower(outcome) {
	case "win", "won", "victory":
		return consts.OutcomeVictory
	case "loss", "lost", "defeat":
		return consts.OutcomeDefeat
	case "draw", "tie":
		return consts.OutcomeDraw
	default:
		return strings.ToLower(outcome)
	}
}
