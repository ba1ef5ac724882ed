package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bluele/gcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rematch-coach/rematch-coach/src/configs"
	"github.com/rematch-coach/rematch-coach/src/instance"
	"github.com/rematch-coach/rematch-coach/src/matchsession"
	"github.com/rematch-coach/rematch-coach/src/matchstore"
	"github.com/rematch-coach/rematch-coach/src/pkg/events"
	"github.com/rematch-coach/rematch-coach/src/telemetry"
	"github.com/rematch-coach/rematch-coach/src/types"
)

type fakeProvider struct {
	game     *telemetry.RunningGameInfo
	listener telemetry.Listener
}

func (f *fakeProvider) RunningGame(ctx context.Context) (*telemetry.RunningGameInfo, error) {
	return f.game, nil
}

func (f *fakeProvider) Subscribe(ctx context.Context, classID int, listener telemetry.Listener) (func(), error) {
	f.listener = listener
	return func() { f.listener = telemetry.Listener{} }, nil
}

type startCall struct {
	info          matchsession.PlayerInfo
	withRecording bool
}

type fakeTracker struct {
	mu              sync.Mutex
	current         *matchstore.MatchRecord
	startCalls      []startCall
	recordingStarts int
	goals           []matchstore.GoalEvent
	endCalls        []string
	lastFinalScore  *types.Score
}

func (f *fakeTracker) Start(ctx context.Context) error { return nil }
func (f *fakeTracker) Close(ctx context.Context)       {}

func (f *fakeTracker) StartMatch(ctx context.Context, info matchsession.PlayerInfo, withRecording bool) *matchstore.MatchRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls = append(f.startCalls, startCall{info: info, withRecording: withRecording})
	if f.current == nil {
		f.current = &matchstore.MatchRecord{ID: "match_test", StartTime: time.Now()}
	}
	return f.current.Clone()
}

func (f *fakeTracker) AddGoalEvent(ctx context.Context, goalType types.GoalType, score types.Score) {
	f.goals = append(f.goals, matchstore.GoalEvent{Type: goalType, Score: score})
}

func (f *fakeTracker) EndMatch(ctx context.Context, outcome string, finalScore *types.Score) *matchstore.MatchRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil
	}
	f.endCalls = append(f.endCalls, outcome)
	f.lastFinalScore = finalScore
	rec := f.current
	f.current = nil
	return rec
}

func (f *fakeTracker) StartRecordingForCurrentMatch(ctx context.Context) { f.recordingStarts++ }

func (f *fakeTracker) UpdateMatchVideoPath(ctx context.Context, id types.MatchID, videoPath string) {
}

func (f *fakeTracker) CurrentMatch() *matchstore.MatchRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Clone()
}

func (f *fakeTracker) setCurrent(rec *matchstore.MatchRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = rec
}

func (f *fakeTracker) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.startCalls)
}

var _ matchsession.Tracker = (*fakeTracker)(nil)

func newTestOrchestrator(t *testing.T, mode configs.RecordingMode) (context.Context, *orchestrator, *fakeTracker, events.Dispatcher) {
	t.Helper()
	cfg := configs.NewConfig()
	cfg.Recording.Mode = mode
	configs.SetCurrentConfig(cfg)

	inst := &instance.Instance{Cache: gcache.New(64).LRU().Build()}
	ctx := context.WithValue(context.Background(), instance.Key, inst)
	dispatcher := events.NewDispatcher(ctx)

	tracker := &fakeTracker{}
	o := NewOrchestrator(ctx, &fakeProvider{}, tracker).(*orchestrator)
	return ctx, o, tracker, dispatcher
}

func countPrompts(dispatcher events.Dispatcher) *int {
	n := new(int)
	dispatcher.AddEventListener(RecordingPromptRequested, events.NewEventListener(func(event *events.Event) {
		*n++
	}))
	return n
}

func TestMatchStart_AutoModeRecords(t *testing.T) {
	ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAuto)

	o.handleEvent(ctx, &telemetry.Event{Name: telemetry.EventMatchStart})
	require.Len(t, tracker.startCalls, 1)
	assert.True(t, tracker.startCalls[0].withRecording)
}

func TestMatchStart_NeverModeIgnores(t *testing.T) {
	ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeNever)

	o.handleEvent(ctx, &telemetry.Event{Name: telemetry.EventMatchStart})
	assert.Empty(t, tracker.startCalls)
	assert.Nil(t, tracker.current)
}

func TestMatchStart_AskModePromptsOnce(t *testing.T) {
	ctx, o, tracker, dispatcher := newTestOrchestrator(t, configs.RecordingModeAsk)
	prompts := countPrompts(dispatcher)

	o.handleEvent(ctx, &telemetry.Event{Name: telemetry.EventMatchStart})
	require.Len(t, tracker.startCalls, 1)
	assert.False(t, tracker.startCalls[0].withRecording)
	assert.Equal(t, 1, *prompts)

	// More triggers in the same cycle stay quiet.
	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{GameMode: "5v5"}})
	o.handleEvent(ctx, &telemetry.Event{Name: telemetry.EventMatchStart})
	assert.Equal(t, 1, *prompts)

	// The cycle resets when the match ends; the next one may prompt again.
	o.handleEvent(ctx, &telemetry.Event{Name: telemetry.EventMatchEnd})
	o.handleEvent(ctx, &telemetry.Event{Name: telemetry.EventMatchStart})
	assert.Equal(t, 2, *prompts)
}

func TestGameModeChange_PromptsInAskMode(t *testing.T) {
	ctx, o, _, dispatcher := newTestOrchestrator(t, configs.RecordingModeAsk)
	prompts := countPrompts(dispatcher)

	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{GameMode: "5v5"}})
	assert.Equal(t, 1, *prompts)

	// Same mode again: no new prompt. Lobby resets, then a change prompts.
	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{GameMode: "5v5"}})
	assert.Equal(t, 1, *prompts)

	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{Scene: telemetry.SceneLobby}})
	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{GameMode: "ranked"}})
	assert.Equal(t, 2, *prompts)
}

func TestGameModeChange_CustomNeverPrompts(t *testing.T) {
	ctx, o, _, dispatcher := newTestOrchestrator(t, configs.RecordingModeAsk)
	prompts := countPrompts(dispatcher)

	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{GameMode: telemetry.GameModeCustom}})
	assert.Zero(t, *prompts)

	// Leaving the custom match for a regular mode prompts as usual.
	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{GameMode: "5v5"}})
	assert.Equal(t, 1, *prompts)
}

func TestDeferredSceneStart(t *testing.T) {
	old := sceneStartDelay
	sceneStartDelay = 20 * time.Millisecond
	defer func() { sceneStartDelay = old }()

	ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAuto)

	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{Scene: telemetry.SceneInGame}})
	assert.Empty(t, tracker.startCalls)

	assert.Eventually(t, func() bool { return tracker.startCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestDeferredSceneStart_CancelledByMatchEvent(t *testing.T) {
	old := sceneStartDelay
	sceneStartDelay = 50 * time.Millisecond
	defer func() { sceneStartDelay = old }()

	ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAuto)

	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{Scene: telemetry.SceneInGame}})
	// The real event lands inside the debounce window.
	o.handleEvent(ctx, &telemetry.Event{Name: telemetry.EventMatchStart})
	require.Len(t, tracker.startCalls, 1)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, tracker.startCount())
}

func TestDeferredSceneStart_SkippedWhenMatchAppears(t *testing.T) {
	old := sceneStartDelay
	sceneStartDelay = 20 * time.Millisecond
	defer func() { sceneStartDelay = old }()

	ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAuto)

	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{Scene: telemetry.SceneInGame}})
	// A match starts through some other path before the timer fires.
	tracker.setCurrent(&matchstore.MatchRecord{ID: "match_existing"})

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, tracker.startCount())
}

func TestReplyToPrompt(t *testing.T) {
	t.Run("start now with current match", func(t *testing.T) {
		ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAsk)
		tracker.setCurrent(&matchstore.MatchRecord{ID: "match_test"})
		require.NoError(t, o.ReplyToPrompt(ctx, PromptStartNow))
		assert.Equal(t, 1, tracker.recordingStarts)
	})

	t.Run("start now between matches records the next one", func(t *testing.T) {
		ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAsk)
		require.NoError(t, o.ReplyToPrompt(ctx, PromptStartNow))
		assert.Zero(t, tracker.recordingStarts)

		o.handleEvent(ctx, &telemetry.Event{Name: telemetry.EventMatchStart})
		require.Len(t, tracker.startCalls, 1)
		assert.True(t, tracker.startCalls[0].withRecording)
	})

	t.Run("skip leaves everything alone", func(t *testing.T) {
		ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAsk)
		require.NoError(t, o.ReplyToPrompt(ctx, PromptSkip))
		assert.Zero(t, tracker.recordingStarts)
	})

	t.Run("always flips the mode to auto", func(t *testing.T) {
		ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAsk)
		tracker.setCurrent(&matchstore.MatchRecord{ID: "match_test"})
		require.NoError(t, o.ReplyToPrompt(ctx, PromptAlways))
		assert.Equal(t, configs.RecordingModeAuto, configs.GetCurrentConfig().Recording.Mode)
		assert.Equal(t, 1, tracker.recordingStarts)
	})

	t.Run("unknown choice is rejected", func(t *testing.T) {
		ctx, o, _, _ := newTestOrchestrator(t, configs.RecordingModeAsk)
		assert.Error(t, o.ReplyToPrompt(ctx, PromptChoice("maybe")))
	})
}

func TestScoreBuffering(t *testing.T) {
	ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAuto)
	tracker.setCurrent(&matchstore.MatchRecord{ID: "match_test"})

	o.handleInfo(ctx, &telemetry.InfoSnapshot{MatchInfo: &telemetry.MatchInfo{
		Score: `{"left_score":2,"right_score":1}`,
	}})

	// Malformed and partial frames must not clobber the last good score.
	o.handleInfo(ctx, &telemetry.InfoSnapshot{MatchInfo: &telemetry.MatchInfo{Score: `{"left_sc`}})
	o.handleInfo(ctx, &telemetry.InfoSnapshot{MatchInfo: &telemetry.MatchInfo{Score: `{"left_score":3}`}})

	o.handleInfo(ctx, &telemetry.InfoSnapshot{MatchInfo: &telemetry.MatchInfo{MatchOutcome: "Win"}})
	require.NotNil(t, tracker.lastFinalScore)
	assert.Equal(t, types.Score{Left: 2, Right: 1}, *tracker.lastFinalScore)
}

func TestMatchEndEvent_WaitsForOutcome(t *testing.T) {
	ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAuto)
	tracker.setCurrent(&matchstore.MatchRecord{ID: "match_test"})

	o.handleInfo(ctx, &telemetry.InfoSnapshot{MatchInfo: &telemetry.MatchInfo{
		Score: `{"left_score":2,"right_score":1}`,
	}})

	// match_end lands before the outcome snapshot; the match stays open so
	// the real outcome is not lost.
	o.handleEvent(ctx, &telemetry.Event{Name: telemetry.EventMatchEnd})
	assert.Empty(t, tracker.endCalls)
	require.NotNil(t, tracker.CurrentMatch())

	o.handleInfo(ctx, &telemetry.InfoSnapshot{MatchInfo: &telemetry.MatchInfo{MatchOutcome: "Win"}})
	require.Len(t, tracker.endCalls, 1)
	assert.Equal(t, "victory", tracker.endCalls[0])
	require.NotNil(t, tracker.lastFinalScore)
	assert.Equal(t, types.Score{Left: 2, Right: 1}, *tracker.lastFinalScore)
}

func TestLobbyReturnClosesOpenMatch(t *testing.T) {
	ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAuto)
	tracker.setCurrent(&matchstore.MatchRecord{ID: "match_test"})

	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{Scene: telemetry.SceneLobby}})
	require.Len(t, tracker.endCalls, 1)
	assert.Empty(t, tracker.endCalls[0])
	assert.Nil(t, tracker.CurrentMatch())
}

func TestGoalEvents(t *testing.T) {
	ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAuto)
	tracker.setCurrent(&matchstore.MatchRecord{ID: "match_test"})

	// Goal payload carries the scoreboard: prefer it.
	o.handleEvent(ctx, &telemetry.Event{
		Name: telemetry.EventTeamGoal,
		Data: `{"left_score":1,"right_score":0}`,
	})
	// No payload: fall back to the buffered score.
	o.handleInfo(ctx, &telemetry.InfoSnapshot{MatchInfo: &telemetry.MatchInfo{
		Score: `{"left_score":1,"right_score":1}`,
	}})
	o.handleEvent(ctx, &telemetry.Event{Name: telemetry.EventOpponentGoal})

	require.Len(t, tracker.goals, 2)
	assert.Equal(t, types.GoalTeam, tracker.goals[0].Type)
	assert.Equal(t, types.Score{Left: 1, Right: 0}, tracker.goals[0].Score)
	assert.Equal(t, types.GoalOpponent, tracker.goals[1].Type)
	assert.Equal(t, types.Score{Left: 1, Right: 1}, tracker.goals[1].Score)
}

func TestOutcomeClosesMatch(t *testing.T) {
	ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAuto)
	tracker.setCurrent(&matchstore.MatchRecord{ID: "match_test"})

	o.handleInfo(ctx, &telemetry.InfoSnapshot{MatchInfo: &telemetry.MatchInfo{MatchOutcome: "Win"}})
	require.Len(t, tracker.endCalls, 1)
	assert.Equal(t, "victory", tracker.endCalls[0])

	// No match in progress: outcome frames are ignored.
	o.handleInfo(ctx, &telemetry.InfoSnapshot{MatchInfo: &telemetry.MatchInfo{MatchOutcome: "Loss"}})
	assert.Len(t, tracker.endCalls, 1)
}

func TestPlayerInfoBuffering(t *testing.T) {
	ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAuto)

	// Fields arrive piecemeal across snapshots.
	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{PlayerName: "Kazu"}})
	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{PlayerID: "player-1"}})
	o.handleInfo(ctx, &telemetry.InfoSnapshot{GameInfo: &telemetry.GameInfo{GameMode: "5v5"}})

	o.handleEvent(ctx, &telemetry.Event{Name: telemetry.EventMatchStart})
	require.Len(t, tracker.startCalls, 1)
	assert.Equal(t, matchsession.PlayerInfo{Name: "Kazu", ID: "player-1", GameMode: "5v5"}, tracker.startCalls[0].info)
}

func TestNormalizeOutcome(t *testing.T) {
	assert.Equal(t, "victory", normalizeOutcome("WIN"))
	assert.Equal(t, "victory", normalizeOutcome("won"))
	assert.Equal(t, "defeat", normalizeOutcome("Loss"))
	assert.Equal(t, "draw", normalizeOutcome("Tie"))
	assert.Equal(t, "forfeit", normalizeOutcome("Forfeit"))
}

func TestNilInputsIgnored(t *testing.T) {
	ctx, o, tracker, _ := newTestOrchestrator(t, configs.RecordingModeAuto)
	assert.NotPanics(t, func() {
		o.handleInfo(ctx, nil)
		o.handleEvent(ctx, nil)
		o.handleEvent(ctx, &telemetry.Event{Name: "something_else"})
	})
	assert.Empty(t, tracker.startCalls)
}
