// Package metrics exposes process counters on the prometheus registry served
// under /metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTracked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rematch_coach_matches_tracked_total",
		Help: "Matches detected and tracked.",
	})
	MatchesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rematch_coach_matches_recorded_total",
		Help: "Matches for which a video capture was started.",
	})
	GoalsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rematch_coach_goals_total",
		Help: "Goal events by type.",
	}, []string{"type"})
	CaptureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rematch_coach_capture_failures_total",
		Help: "Capture start or stream failures by reason.",
	}, []string{"reason"})
	CaptureActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rematch_coach_capture_active",
		Help: "1 while a capture stream is running.",
	})
	PromptsShown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rematch_coach_recording_prompts_total",
		Help: "Recording prompts surfaced to the user.",
	})
)

// RecordCounter is the slice of the store the gauge below needs.
type RecordCounter interface {
	Count(ctx context.Context) (int, error)
}

// RegisterStoreGauge exports the current number of stored match records. Call
// once after the store is constructed.
func RegisterStoreGauge(ctx context.Context, store RecordCounter) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rematch_coach_match_records",
		Help: "Match records currently stored.",
	}, func() float64 {
		n, err := store.Count(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	})
}
