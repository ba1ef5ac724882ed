// Package matchsession owns the lifecycle of the single in-progress match:
// start, goals, end, and the handoff of the finished record to the store.
package matchsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/rematch-coach/rematch-coach/src/capture"
	"github.com/rematch-coach/rematch-coach/src/instance"
	"github.com/rematch-coach/rematch-coach/src/interfaces"
	"github.com/rematch-coach/rematch-coach/src/matchstore"
	"github.com/rematch-coach/rematch-coach/src/metrics"
	"github.com/rematch-coach/rematch-coach/src/pkg/events"
	appsentry "github.com/rematch-coach/rematch-coach/src/pkg/sentry"
	"github.com/rematch-coach/rematch-coach/src/types"
)

// Event types dispatched by the tracker. Objects are *matchstore.MatchRecord
// except GoalScored, which carries *matchstore.GoalEvent.
const (
	MatchStarted       events.EventType = "MatchStarted"
	GoalScored         events.EventType = "GoalScored"
	MatchEnded         events.EventType = "MatchEnded"
	MatchRecordSaved   events.EventType = "MatchRecordSaved"
	MatchVideoResolved events.EventType = "MatchVideoResolved"
)

// Goal highlights clip this much of the stream leading up to the goal.
const highlightPastMs = 10_000

// PlayerInfo is what telemetry knows about the player when a match begins.
// Empty fields fall back to the Unknown sentinel.
type PlayerInfo struct {
	Name     string
	ID       string
	GameMode string
}

type Tracker interface {
	interfaces.Module
	// StartMatch opens a new match. When one is already in progress it is
	// returned unchanged; there is never more than one current match.
	StartMatch(ctx context.Context, info PlayerInfo, withRecording bool) *matchstore.MatchRecord
	// AddGoalEvent appends a goal to the current match. Ignored when no
	// match is in progress.
	AddGoalEvent(ctx context.Context, goalType types.GoalType, score types.Score)
	// EndMatch closes the current match, persists it, and returns the stored
	// record. Returns nil when no match is in progress.
	EndMatch(ctx context.Context, outcome string, finalScore *types.Score) *matchstore.MatchRecord
	// StartRecordingForCurrentMatch attaches a capture to the current match,
	// for prompts answered after the match already began.
	StartRecordingForCurrentMatch(ctx context.Context)
	// UpdateMatchVideoPath backfills the recording path by match id,
	// whether the match is still current or already stored.
	UpdateMatchVideoPath(ctx context.Context, id types.MatchID, videoPath string)
	// CurrentMatch returns a copy of the in-progress match, or nil.
	CurrentMatch() *matchstore.MatchRecord
}

func NewTracker(ctx context.Context, store matchstore.Store, capture capture.Manager) Tracker {
	t := &tracker{
		store:   store,
		capture: capture,
	}
	instance.GetInstance(ctx).SessionTracker = t
	return t
}

type tracker struct {
	store   matchstore.Store
	capture capture.Manager

	mu        sync.Mutex
	current   *matchstore.MatchRecord
	recording bool
}

func (t *tracker) Start(ctx context.Context) error {
	// Finished recordings come back from the capture backend by match id.
	t.capture.SetStopHandler(func(ctx context.Context, matchID types.MatchID, filePath string, durationMs int64) {
		metrics.CaptureActive.Set(0)
		if filePath == "" {
			logrus.WithField("match_id", matchID).Warn("capture finished without a file")
			return
		}
		t.UpdateMatchVideoPath(ctx, matchID, filePath)
	})
	return nil
}

func (t *tracker) Close(ctx context.Context) {
	if rec := t.EndMatch(ctx, "", nil); rec != nil {
		logrus.WithField("match_id", rec.ID).Info("open match closed on shutdown")
	}
}

func (t *tracker) StartMatch(ctx context.Context, info PlayerInfo, withRecording bool) *matchstore.MatchRecord {
	t.mu.Lock()
	if t.current != nil {
		existing := t.current.Clone()
		t.mu.Unlock()
		logrus.WithField("match_id", existing.ID).Warn("match start ignored, one already in progress")
		return existing
	}
	match := &matchstore.MatchRecord{
		ID:         newMatchID(),
		StartTime:  time.Now(),
		PlayerName: orUnknown(info.Name),
		PlayerID:   orUnknown(info.ID),
		GameMode:   orUnknown(info.GameMode),
		Goals:      []matchstore.GoalEvent{},
	}
	t.current = match
	t.mu.Unlock()

	metrics.MatchesTracked.Inc()
	logrus.WithFields(logrus.Fields{
		"match_id":  match.ID,
		"game_mode": match.GameMode,
		"recording": withRecording,
	}).Info("match started")
	t.dispatch(ctx, MatchStarted, match.Clone())

	if withRecording {
		t.startRecording(ctx, match.ID)
	}
	return match.Clone()
}

func (t *tracker) StartRecordingForCurrentMatch(ctx context.Context) {
	t.mu.Lock()
	if t.current == nil || t.recording {
		t.mu.Unlock()
		return
	}
	matchID := t.current.ID
	t.mu.Unlock()
	t.startRecording(ctx, matchID)
}

// startRecording attaches a capture to the match. Capture failures are
// contained here: the match keeps being tracked without video.
func (t *tracker) startRecording(ctx context.Context, matchID types.MatchID) {
	err := t.capture.StartCapture(ctx, matchID)
	if err != nil {
		metrics.CaptureFailures.WithLabelValues(failureReason(err)).Inc()
		logrus.WithError(err).WithField("match_id", matchID).Error("recording not started, match tracking continues")
		appsentry.CaptureException(err)
		return
	}
	t.mu.Lock()
	if t.current != nil && t.current.ID == matchID {
		t.recording = true
	}
	t.mu.Unlock()
	metrics.MatchesRecorded.Inc()
	metrics.CaptureActive.Set(1)
}

func (t *tracker) AddGoalEvent(ctx context.Context, goalType types.GoalType, score types.Score) {
	now := time.Now()
	t.mu.Lock()
	if t.current == nil {
		t.mu.Unlock()
		logrus.WithField("type", goalType).Warn("goal event without a match in progress")
		return
	}
	goal := matchstore.GoalEvent{
		Timestamp:  now,
		GameTimeMs: gameTimeMs(t.current.StartTime, now),
		Type:       goalType,
		Score:      score,
	}
	t.current.Goals = append(t.current.Goals, goal)
	recording := t.recording
	t.mu.Unlock()

	metrics.GoalsRecorded.WithLabelValues(string(goalType)).Inc()
	logrus.WithFields(logrus.Fields{
		"type":         goalType,
		"game_time_ms": goal.GameTimeMs,
		"score":        fmt.Sprintf("%d-%d", score.Left, score.Right),
	}).Info("goal recorded")
	t.dispatch(ctx, GoalScored, &goal)

	if recording {
		highlightID := fmt.Sprintf("goal_%d", now.UnixMilli())
		appsentry.GoWithContext(ctx, func(ctx context.Context) {
			if _, err := t.capture.CaptureHighlight(ctx, highlightID, highlightPastMs); err != nil {
				logrus.WithError(err).WithField("highlight_id", highlightID).Warn("goal highlight failed")
			}
		})
	}
}

func (t *tracker) EndMatch(ctx context.Context, outcome string, finalScore *types.Score) *matchstore.MatchRecord {
	t.mu.Lock()
	if t.current == nil {
		t.mu.Unlock()
		return nil
	}
	record := t.current
	wasRecording := t.recording
	t.current = nil
	t.recording = false

	record.EndTime = time.Now()
	record.Outcome = outcome
	if finalScore != nil {
		s := *finalScore
		record.FinalScore = &s
	} else if n := len(record.Goals); n > 0 {
		s := record.Goals[n-1].Score
		record.FinalScore = &s
	}
	t.mu.Unlock()

	if wasRecording {
		if err := t.capture.StopCapture(ctx); err != nil {
			logrus.WithError(err).WithField("match_id", record.ID).Error("capture stop failed")
			appsentry.CaptureException(err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"match_id": record.ID,
		"outcome":  record.Outcome,
		"goals":    len(record.Goals),
	}).Info("match ended")
	t.dispatch(ctx, MatchEnded, record.Clone())

	if err := t.store.Append(ctx, record); err != nil {
		logrus.WithError(err).WithField("match_id", record.ID).Error("match record not saved")
		appsentry.CaptureException(err)
	} else {
		t.dispatch(ctx, MatchRecordSaved, record.Clone())
	}
	return record.Clone()
}

func (t *tracker) UpdateMatchVideoPath(ctx context.Context, id types.MatchID, videoPath string) {
	// The capture backend can flush the file before or after the match record
	// reaches the store, so patch both places by id.
	t.mu.Lock()
	if t.current != nil && t.current.ID == id {
		t.current.VideoPath = videoPath
	}
	t.mu.Unlock()

	err := t.store.SetVideoPath(ctx, id, videoPath)
	switch {
	case err == nil:
		logrus.WithFields(logrus.Fields{
			"match_id":   id,
			"video_path": videoPath,
		}).Info("match video resolved")
		t.dispatch(ctx, MatchVideoResolved, &VideoResolved{MatchID: id, VideoPath: videoPath})
	case err == matchstore.ErrRecordNotFound:
		if t.CurrentMatch() == nil {
			logrus.WithField("match_id", id).Warn("video for unknown match dropped")
		}
	default:
		logrus.WithError(err).WithField("match_id", id).Error("video path update failed")
		appsentry.CaptureException(err)
	}
}

func (t *tracker) CurrentMatch() *matchstore.MatchRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.Clone()
}

// VideoResolved is the MatchVideoResolved event payload.
type VideoResolved struct {
	MatchID   types.MatchID
	VideoPath string
}

func (t *tracker) dispatch(ctx context.Context, eventType events.EventType, obj interface{}) {
	inst := instance.GetInstance(ctx)
	if inst == nil || inst.EventDispatcher == nil {
		return
	}
	inst.EventDispatcher.(events.Dispatcher).DispatchEvent(events.NewEvent(eventType, obj))
}

func newMatchID() types.MatchID {
	return types.MatchID("match_" + uuid.NewV4().String())
}

func orUnknown(s string) string {
	if s == "" {
		return matchstore.UnknownField
	}
	return s
}

// gameTimeMs clamps at zero so clock skew between telemetry and the local
// clock never yields a negative offset.
func gameTimeMs(start, at time.Time) int64 {
	ms := at.Sub(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func failureReason(err error) string {
	switch err {
	case capture.ErrNotInGame:
		return "not_in_game"
	case capture.ErrOutOfDiskSpace:
		return "out_of_disk"
	case capture.ErrNoPermission:
		return "no_permission"
	case capture.ErrAlreadyInProgress:
		return "already_in_progress"
	default:
		return "unknown"
	}
}
