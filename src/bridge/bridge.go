// Package bridge connects the daemon to the in-game plugin over the ipc
// transport and exposes the link as telemetry and capture providers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rematch-coach/rematch-coach/src/capture"
	"github.com/rematch-coach/rematch-coach/src/interfaces"
	"github.com/rematch-coach/rematch-coach/src/pkg/ipc"
	appsentry "github.com/rematch-coach/rematch-coach/src/pkg/sentry"
	"github.com/rematch-coach/rematch-coach/src/telemetry"
	"github.com/rematch-coach/rematch-coach/src/types"
)

const reconnectInterval = 5 * time.Second

// Bridge owns the plugin connection. Construct one, Start it, then hand
// Telemetry() and Capture() to the consumers.
type Bridge struct {
	client ipc.Client

	mu       sync.Mutex
	pending  map[uint64]chan *ipc.Message
	listener *telemetry.Listener
	classID  int

	stopMu    sync.Mutex
	onStopped func(capture.StopEvent)
	onError   func(capture.ErrorEvent)
}

func New(instanceID string) *Bridge {
	b := &Bridge{
		client:  ipc.NewClient(instanceID),
		pending: make(map[uint64]chan *ipc.Message),
	}
	b.client.OnMessage(b.handleMessage)
	b.client.OnDisconnect(b.handleDisconnect)
	return b
}

// Start connects and keeps reconnecting until the context ends. The daemon
// runs without the plugin attached; consumers see errors until it shows up.
func (b *Bridge) Start(ctx context.Context) error {
	appsentry.GoWithContext(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(reconnectInterval)
		defer ticker.Stop()
		for {
			if !b.client.IsConnected() {
				if err := b.client.Connect(ctx); err == nil {
					logrus.Info("plugin bridge connected")
					b.resubscribe(ctx)
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
	return nil
}

func (b *Bridge) Close(ctx context.Context) {
	if err := b.client.Disconnect(); err != nil {
		logrus.WithError(err).Debug("bridge disconnect")
	}
}

func (b *Bridge) Telemetry() telemetry.Provider {
	return (*telemetryProvider)(b)
}

func (b *Bridge) Capture() capture.Provider {
	return (*captureProvider)(b)
}

func (b *Bridge) handleMessage(msg *ipc.Message) {
	if msg.ID != 0 {
		b.mu.Lock()
		waiter, ok := b.pending[msg.ID]
		if ok {
			delete(b.pending, msg.ID)
		}
		b.mu.Unlock()
		if ok {
			waiter <- msg
			return
		}
	}
	b.routePush(msg)
}

func (b *Bridge) routePush(msg *ipc.Message) {
	switch msg.Type {
	case ipc.MsgTypeInfoUpdate:
		var info telemetry.InfoSnapshot
		if err := msg.ParsePayload(&info); err != nil {
			logrus.WithError(err).Debug("bad info frame dropped")
			return
		}
		b.mu.Lock()
		listener := b.listener
		b.mu.Unlock()
		if listener != nil && listener.OnInfoUpdate != nil {
			listener.OnInfoUpdate(context.Background(), &info)
		}
	case ipc.MsgTypeGameEvent:
		var event telemetry.Event
		if err := msg.ParsePayload(&event); err != nil {
			logrus.WithError(err).Debug("bad event frame dropped")
			return
		}
		b.mu.Lock()
		listener := b.listener
		b.mu.Unlock()
		if listener != nil && listener.OnEvent != nil {
			listener.OnEvent(context.Background(), &event)
		}
	case ipc.MsgTypeCaptureStopped:
		var payload stopPayload
		if err := msg.ParsePayload(&payload); err != nil {
			logrus.WithError(err).Error("bad capture stop frame")
			return
		}
		b.stopMu.Lock()
		fn := b.onStopped
		b.stopMu.Unlock()
		if fn != nil {
			fn(capture.StopEvent{
				StreamID:   types.StreamID(payload.StreamID),
				FilePath:   payload.FilePath,
				DurationMs: payload.DurationMs,
			})
		}
	case ipc.MsgTypeCaptureError:
		var payload ipc.ErrorPayload
		if err := msg.ParsePayload(&payload); err != nil {
			logrus.WithError(err).Error("bad capture error frame")
			return
		}
		b.stopMu.Lock()
		fn := b.onError
		b.stopMu.Unlock()
		if fn != nil {
			fn(capture.ErrorEvent{Reason: payload.Reason})
		}
	default:
		logrus.WithField("type", msg.Type).Debug("unexpected bridge push")
	}
}

func (b *Bridge) handleDisconnect(err error) {
	logrus.WithError(err).Warn("plugin bridge disconnected")
	// Fail everything in flight; callers retry after reconnect.
	b.mu.Lock()
	for id, waiter := range b.pending {
		close(waiter)
		delete(b.pending, id)
	}
	b.mu.Unlock()
	_ = b.client.Disconnect()
}

// resubscribe restores the telemetry subscription after a reconnect.
func (b *Bridge) resubscribe(ctx context.Context) {
	b.mu.Lock()
	classID := b.classID
	hasListener := b.listener != nil
	b.mu.Unlock()
	if !hasListener {
		return
	}
	if _, err := b.call(ctx, ipc.MsgTypeSubscribe, &subscribePayload{ClassID: classID}); err != nil {
		logrus.WithError(err).Error("telemetry resubscribe failed")
	}
}

// call sends a request and waits for its reply.
func (b *Bridge) call(ctx context.Context, msgType string, payload any) (*ipc.Message, error) {
	msg, err := ipc.NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	waiter := make(chan *ipc.Message, 1)
	b.mu.Lock()
	b.pending[msg.ID] = waiter
	b.mu.Unlock()

	if err := b.client.Send(msg); err != nil {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(ipc.DefaultCallTimeout)
	defer timer.Stop()
	select {
	case reply, ok := <-waiter:
		if !ok {
			return nil, ipc.ErrConnectionClosed
		}
		if reply.Type == ipc.MsgTypeError {
			var ep ipc.ErrorPayload
			if err := reply.ParsePayload(&ep); err != nil {
				return nil, fmt.Errorf("bridge error with bad payload: %w", err)
			}
			return nil, capture.MapReason(ep.Reason)
		}
		return reply, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
		return nil, ctx.Err()
	case <-timer.C:
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
		return nil, ipc.ErrTimeout
	}
}

// Wire payloads shared with the plugin.
type subscribePayload struct {
	ClassID int `json:"class_id"`
}

type startPayload struct {
	Settings capture.StreamSettings `json:"settings"`
}

type startedPayload struct {
	StreamID string `json:"stream_id"`
}

type streamPayload struct {
	StreamID string `json:"stream_id"`
}

type stopPayload struct {
	StreamID   string `json:"stream_id"`
	FilePath   string `json:"file_path"`
	DurationMs int64  `json:"duration_ms"`
}

type volumePayload struct {
	StreamID string                `json:"stream_id"`
	Audio    capture.AudioSettings `json:"audio"`
}

type highlightPayload struct {
	StreamID       string `json:"stream_id"`
	HighlightID    string `json:"highlight_id"`
	PastDurationMs int64  `json:"past_duration_ms"`
}

type highlightResultPayload struct {
	HighlightID string `json:"highlight_id"`
}

type encodersPayload struct {
	Encoders []capture.EncoderData `json:"encoders"`
}

// telemetryProvider adapts the bridge to telemetry.Provider.
type telemetryProvider Bridge

func (p *telemetryProvider) RunningGame(ctx context.Context) (*telemetry.RunningGameInfo, error) {
	b := (*Bridge)(p)
	reply, err := b.call(ctx, ipc.MsgTypeGetRunningGame, nil)
	if err != nil {
		return nil, err
	}
	var info telemetry.RunningGameInfo
	if err := reply.ParsePayload(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (p *telemetryProvider) Subscribe(ctx context.Context, classID int, listener telemetry.Listener) (func(), error) {
	b := (*Bridge)(p)
	b.mu.Lock()
	if b.listener != nil {
		b.mu.Unlock()
		return nil, errors.New("telemetry already subscribed")
	}
	b.listener = &listener
	b.classID = classID
	b.mu.Unlock()

	if _, err := b.call(ctx, ipc.MsgTypeSubscribe, &subscribePayload{ClassID: classID}); err != nil {
		b.mu.Lock()
		b.listener = nil
		b.mu.Unlock()
		return nil, err
	}

	unsubscribe := func() {
		b.mu.Lock()
		b.listener = nil
		b.mu.Unlock()
		if _, err := b.call(context.Background(), ipc.MsgTypeUnsubscribe, &subscribePayload{ClassID: classID}); err != nil {
			logrus.WithError(err).Debug("telemetry unsubscribe failed")
		}
	}
	return unsubscribe, nil
}

// captureProvider adapts the bridge to capture.Provider.
type captureProvider Bridge

func (p *captureProvider) ListEncoders(ctx context.Context) ([]capture.EncoderData, error) {
	b := (*Bridge)(p)
	reply, err := b.call(ctx, ipc.MsgTypeListEncoders, nil)
	if err != nil {
		return nil, err
	}
	var payload encodersPayload
	if err := reply.ParsePayload(&payload); err != nil {
		return nil, err
	}
	return payload.Encoders, nil
}

func (p *captureProvider) Start(ctx context.Context, settings capture.StreamSettings) (types.StreamID, error) {
	b := (*Bridge)(p)
	reply, err := b.call(ctx, ipc.MsgTypeCaptureStart, &startPayload{Settings: settings})
	if err != nil {
		return "", err
	}
	var payload startedPayload
	if err := reply.ParsePayload(&payload); err != nil {
		return "", err
	}
	if payload.StreamID == "" {
		return "", errors.New("capture started without a stream id")
	}
	return types.StreamID(payload.StreamID), nil
}

func (p *captureProvider) Stop(ctx context.Context, id types.StreamID) error {
	b := (*Bridge)(p)
	_, err := b.call(ctx, ipc.MsgTypeCaptureStop, &streamPayload{StreamID: string(id)})
	return err
}

func (p *captureProvider) Split(ctx context.Context, id types.StreamID) error {
	b := (*Bridge)(p)
	_, err := b.call(ctx, ipc.MsgTypeCaptureSplit, &streamPayload{StreamID: string(id)})
	return err
}

func (p *captureProvider) ChangeVolume(ctx context.Context, id types.StreamID, audio capture.AudioSettings) error {
	b := (*Bridge)(p)
	_, err := b.call(ctx, ipc.MsgTypeCaptureVolume, &volumePayload{StreamID: string(id), Audio: audio})
	return err
}

func (p *captureProvider) CaptureHighlight(ctx context.Context, id types.StreamID, highlightID string, pastDurationMs int64) (string, error) {
	b := (*Bridge)(p)
	reply, err := b.call(ctx, ipc.MsgTypeCaptureHighlight, &highlightPayload{
		StreamID:       string(id),
		HighlightID:    highlightID,
		PastDurationMs: pastDurationMs,
	})
	if err != nil {
		return "", err
	}
	var payload highlightResultPayload
	if err := reply.ParsePayload(&payload); err != nil {
		return "", err
	}
	return payload.HighlightID, nil
}

func (p *captureProvider) OnStopped(fn func(capture.StopEvent)) {
	b := (*Bridge)(p)
	b.stopMu.Lock()
	b.onStopped = fn
	b.stopMu.Unlock()
}

func (p *captureProvider) OnError(fn func(capture.ErrorEvent)) {
	b := (*Bridge)(p)
	b.stopMu.Lock()
	b.onError = fn
	b.stopMu.Unlock()
}

var _ interfaces.Module = (*Bridge)(nil)
