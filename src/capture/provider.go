package capture

import (
	"context"

	"github.com/rematch-coach/rematch-coach/src/types"
)

//go:generate mockgen -package capture -destination mock_provider_test.go -source provider.go Provider

// Known hardware encoder identifiers, in the order we prefer them.
const (
	EncoderNvidiaNvenc    = "NVIDIA_NVENC"
	EncoderNvidiaNvencNew = "NVIDIA_NVENC_NEW"
	EncoderAMDAMF         = "AMD_AMF"
	EncoderIntel          = "INTEL"
	EncoderX264           = "X264"
)

// EncoderData describes one encoder the provider can use.
type EncoderData struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// StopEvent is pushed by the provider when a stream finishes, normally or not.
// FilePath points at the finished video on disk.
type StopEvent struct {
	StreamID   types.StreamID
	FilePath   string
	DurationMs int64
}

// ErrorEvent is pushed by the provider when an active stream fails. Reason is
// one of the provider reason strings understood by MapReason.
type ErrorEvent struct {
	StreamID types.StreamID
	Reason   string
}

// Provider is the low-level video capture backend.
type Provider interface {
	// ListEncoders enumerates the encoders available on this machine.
	ListEncoders(ctx context.Context) ([]EncoderData, error)
	// Start begins a new capture stream and returns its id. Failures map
	// onto the package error taxonomy.
	Start(ctx context.Context, settings StreamSettings) (types.StreamID, error)
	// Stop ends the stream. The finished file arrives via the stop callback,
	// not the return value.
	Stop(ctx context.Context, id types.StreamID) error
	// Split closes the current video file and starts a new one within the
	// same stream.
	Split(ctx context.Context, id types.StreamID) error
	// ChangeVolume adjusts audio settings on a running stream.
	ChangeVolume(ctx context.Context, id types.StreamID, audio AudioSettings) error
	// CaptureHighlight cuts a clip of the active stream around the given game
	// time and returns the clip id.
	CaptureHighlight(ctx context.Context, id types.StreamID, highlightID string, pastDurationMs int64) (string, error)
	// OnStopped registers the stop-notification callback. Must be called
	// before Start.
	OnStopped(fn func(StopEvent))
	// OnError registers the stream-error callback. Must be called before
	// Start.
	OnError(fn func(ErrorEvent))
}
