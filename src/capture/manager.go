package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"

	"github.com/rematch-coach/rematch-coach/src/configs"
	"github.com/rematch-coach/rematch-coach/src/instance"
	"github.com/rematch-coach/rematch-coach/src/interfaces"
	"github.com/rematch-coach/rematch-coach/src/pkg/events"
	appsentry "github.com/rematch-coach/rematch-coach/src/pkg/sentry"
	"github.com/rematch-coach/rematch-coach/src/telemetry"
	"github.com/rematch-coach/rematch-coach/src/types"
)

// Event types dispatched by the capture manager.
const (
	CaptureStarted events.EventType = "CaptureStarted"
	CaptureStopped events.EventType = "CaptureStopped"
	CaptureFailed  events.EventType = "CaptureFailed"
)

// Capture session states.
const (
	idle int32 = iota
	starting
	running
	stopping
)

// StopHandler receives the finished recording once the provider flushes it.
type StopHandler func(ctx context.Context, matchID types.MatchID, filePath string, durationMs int64)

// GameChecker reports the foreground game; satisfied by telemetry.Provider.
type GameChecker interface {
	RunningGame(ctx context.Context) (*telemetry.RunningGameInfo, error)
}

type Manager interface {
	interfaces.Module
	// StartCapture begins recording for the given match. At most one capture
	// runs at a time; a second call fails with ErrAlreadyInProgress.
	StartCapture(ctx context.Context, matchID types.MatchID) error
	// StopCapture ends the active capture. No-op when nothing is running.
	StopCapture(ctx context.Context) error
	// CaptureHighlight clips the last pastDurationMs of the active stream.
	// Returns the clip id, or empty string when nothing is recording.
	CaptureHighlight(ctx context.Context, highlightID string, pastDurationMs int64) (string, error)
	// Split closes the current file and continues recording into a new one.
	Split(ctx context.Context) error
	// ChangeVolume applies audio settings to the active stream.
	ChangeVolume(ctx context.Context, audio AudioSettings) error
	IsCapturing() bool
	// SetStopHandler registers the recipient of finished recordings. Must be
	// called before Start.
	SetStopHandler(fn StopHandler)
}

func NewManager(ctx context.Context, provider Provider, checker GameChecker) Manager {
	m := &manager{
		provider: provider,
		checker:  checker,
	}
	instance.GetInstance(ctx).CaptureManager = m
	return m
}

type manager struct {
	provider Provider
	checker  GameChecker

	state atomic.Int32

	mu          sync.Mutex
	streamID    types.StreamID
	matchID     types.MatchID
	startedAt   time.Time
	stopHandler StopHandler

	ctx context.Context
}

func (m *manager) SetStopHandler(fn StopHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopHandler = fn
}

func (m *manager) Start(ctx context.Context) error {
	m.ctx = ctx
	m.provider.OnStopped(func(ev StopEvent) { m.handleStopped(m.ctx, ev) })
	m.provider.OnError(func(ev ErrorEvent) { m.handleError(m.ctx, ev) })
	m.startDiskWatcher(ctx)
	return nil
}

func (m *manager) Close(ctx context.Context) {
	if err := m.StopCapture(ctx); err != nil {
		logrus.WithError(err).Debug("stop on close")
	}
}

func (m *manager) IsCapturing() bool {
	return m.state.Load() == running
}

func (m *manager) StartCapture(ctx context.Context, matchID types.MatchID) error {
	if !m.state.CompareAndSwap(idle, starting) {
		return ErrAlreadyInProgress
	}

	game, err := m.checker.RunningGame(ctx)
	if err != nil || game == nil || !game.IsRunning {
		m.state.Store(idle)
		if err != nil {
			logrus.WithError(err).Warn("running game lookup failed")
		}
		return ErrNotInGame
	}
	cfg := configs.GetCurrentConfig()
	if cfg != nil && !cfg.IsSupportedGame(game.ClassID) {
		m.state.Store(idle)
		return ErrNotInGame
	}

	settings := StreamSettings{}
	if cfg != nil {
		settings = settingsFromConfig(cfg.Capture)
	}
	if settings.Encoder == "" {
		settings.Encoder = m.resolveEncoder(ctx)
	}

	streamID, err := m.provider.Start(ctx, settings)
	if err != nil {
		m.state.Store(idle)
		m.dispatch(ctx, CaptureFailed, err)
		return err
	}

	m.mu.Lock()
	m.streamID = streamID
	m.matchID = matchID
	m.startedAt = time.Now()
	m.mu.Unlock()
	m.state.Store(running)

	logrus.WithFields(logrus.Fields{
		"stream_id": streamID,
		"match_id":  matchID,
		"encoder":   settings.Encoder,
	}).Info("capture started")
	m.dispatch(ctx, CaptureStarted, matchID)
	return nil
}

func (m *manager) StopCapture(ctx context.Context) error {
	if !m.state.CompareAndSwap(running, stopping) {
		return nil
	}
	m.mu.Lock()
	streamID := m.streamID
	m.mu.Unlock()
	if err := m.provider.Stop(ctx, streamID); err != nil {
		// The stream is gone either way; reset so the next match can record.
		m.state.Store(idle)
		return err
	}
	return nil
}

func (m *manager) CaptureHighlight(ctx context.Context, highlightID string, pastDurationMs int64) (string, error) {
	if m.state.Load() != running {
		logrus.WithField("highlight_id", highlightID).Debug("highlight skipped, not capturing")
		return "", nil
	}
	m.mu.Lock()
	streamID := m.streamID
	m.mu.Unlock()
	return m.provider.CaptureHighlight(ctx, streamID, highlightID, pastDurationMs)
}

func (m *manager) Split(ctx context.Context) error {
	if m.state.Load() != running {
		return nil
	}
	m.mu.Lock()
	streamID := m.streamID
	m.mu.Unlock()
	return m.provider.Split(ctx, streamID)
}

func (m *manager) ChangeVolume(ctx context.Context, audio AudioSettings) error {
	if m.state.Load() != running {
		return nil
	}
	m.mu.Lock()
	streamID := m.streamID
	m.mu.Unlock()
	return m.provider.ChangeVolume(ctx, streamID, audio)
}

// resolveEncoder enumerates the machine's encoders and picks the best one.
// Enumeration failure falls back to software x264 rather than blocking the
// recording.
func (m *manager) resolveEncoder(ctx context.Context) string {
	encoders, err := m.provider.ListEncoders(ctx)
	if err != nil {
		logrus.WithError(err).Warn("encoder enumeration failed, falling back to x264")
		return EncoderX264
	}
	return selectEncoder(encoders)
}

func (m *manager) handleStopped(ctx context.Context, ev StopEvent) {
	m.mu.Lock()
	if ev.StreamID != m.streamID {
		m.mu.Unlock()
		logrus.WithField("stream_id", ev.StreamID).Debug("stop event for unknown stream")
		return
	}
	matchID := m.matchID
	handler := m.stopHandler
	m.streamID = ""
	m.matchID = ""
	m.mu.Unlock()
	m.state.Store(idle)

	logrus.WithFields(logrus.Fields{
		"match_id":    matchID,
		"file_path":   ev.FilePath,
		"duration_ms": ev.DurationMs,
	}).Info("capture stopped")
	m.dispatch(ctx, CaptureStopped, ev)
	if handler != nil {
		handler(ctx, matchID, ev.FilePath, ev.DurationMs)
	}
}

func (m *manager) handleError(ctx context.Context, ev ErrorEvent) {
	err := MapReason(ev.Reason)
	logrus.WithError(err).WithField("stream_id", ev.StreamID).Error("capture stream error")
	appsentry.CaptureException(err)
	m.dispatch(ctx, CaptureFailed, err)
	if err == ErrOutOfDiskSpace {
		// Stop now so the part already on disk survives.
		if serr := m.StopCapture(ctx); serr != nil {
			logrus.WithError(serr).Error("protective stop failed")
		}
	}
}

// startDiskWatcher polls free space under the app data path while a capture
// is active and stops the capture before the volume fills up.
func (m *manager) startDiskWatcher(ctx context.Context) {
	cfg := configs.GetCurrentConfig()
	if cfg == nil || cfg.Capture.MinFreeDiskMB == 0 {
		return
	}
	path := cfg.AppDataPath
	floor := cfg.Capture.MinFreeDiskMB * 1024 * 1024
	appsentry.GoWithContext(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !m.IsCapturing() {
					continue
				}
				usage, err := disk.UsageWithContext(ctx, path)
				if err != nil {
					logrus.WithError(err).Debug("disk usage check failed")
					continue
				}
				if usage.Free < floor {
					logrus.WithFields(logrus.Fields{
						"free_bytes": usage.Free,
						"floor":      floor,
					}).Error("free disk below floor, stopping capture")
					m.dispatch(ctx, CaptureFailed, ErrOutOfDiskSpace)
					if err := m.StopCapture(ctx); err != nil {
						logrus.WithError(err).Error("protective stop failed")
					}
				}
			}
		}
	})
}

func (m *manager) dispatch(ctx context.Context, t events.EventType, obj interface{}) {
	inst := instance.GetInstance(ctx)
	if inst == nil || inst.EventDispatcher == nil {
		return
	}
	inst.EventDispatcher.(events.Dispatcher).DispatchEvent(events.NewEvent(t, obj))
}

var _ interfaces.Module = (*manager)(nil)
