package servers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rematch-coach/rematch-coach/src/capture"
	"github.com/rematch-coach/rematch-coach/src/instance"
	"github.com/rematch-coach/rematch-coach/src/matchsession"
	"github.com/rematch-coach/rematch-coach/src/orchestrator"
	"github.com/rematch-coach/rematch-coach/src/pkg/events"
)

// SSEEventType names the event stream messages pushed to the overlay.
type SSEEventType string

const (
	// SSEEventMatchChanged fires on match start/end and on goals.
	SSEEventMatchChanged SSEEventType = "match_changed"
	// SSEEventNewRecord fires when a finished match lands in the store.
	SSEEventNewRecord SSEEventType = "new_record"
	// SSEEventVideoResolved fires when a record's video path is backfilled.
	SSEEventVideoResolved SSEEventType = "video_resolved"
	// SSEEventRecordingPrompt asks the overlay to surface the record prompt.
	SSEEventRecordingPrompt SSEEventType = "recording_prompt"
	// SSEEventCaptureStatus fires on capture start/stop/failure.
	SSEEventCaptureStatus SSEEventType = "capture_status"
)

// SSEMessage is one frame on the event stream.
type SSEMessage struct {
	Type SSEEventType `json:"type"`
	Data interface{}  `json:"data"`
}

// SSEHub fans messages out to every connected overlay client.
type SSEHub struct {
	mu      sync.RWMutex
	clients map[chan SSEMessage]struct{}
	closeCh chan struct{}
	closed  bool
}

var (
	sseHub     *SSEHub
	sseHubOnce sync.Once
)

func GetSSEHub() *SSEHub {
	sseHubOnce.Do(func() {
		sseHub = &SSEHub{
			clients: make(map[chan SSEMessage]struct{}),
			closeCh: make(chan struct{}),
		}
	})
	return sseHub
}

func (h *SSEHub) AddClient(ch chan SSEMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[ch] = struct{}{}
}

func (h *SSEHub) RemoveClient(ch chan SSEMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Broadcast sends to every client, dropping frames for clients whose buffers
// are full rather than blocking the producer.
func (h *SSEHub) Broadcast(msg SSEMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts every client stream down; sseHandler loops exit on it.
func (h *SSEHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.closeCh)
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

func (h *SSEHub) Done() <-chan struct{} {
	return h.closeCh
}

func sseHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	clientCh := make(chan SSEMessage, 100)
	hub := GetSSEHub()
	hub.AddClient(clientCh)

	fmt.Fprintf(w, "event: connected\ndata: {\"message\":\"SSE connected\",\"clients\":%d}\n\n", hub.ClientCount())
	flusher.Flush()

	heartbeatTicker := time.NewTicker(30 * time.Second)
	defer heartbeatTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			hub.RemoveClient(clientCh)
			return
		case <-hub.Done():
			return
		case <-heartbeatTicker.C:
			fmt.Fprintf(w, ":heartbeat\n\n")
			flusher.Flush()
		case msg, ok := <-clientCh:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data)
			flusher.Flush()
		}
	}
}

// RegisterSSEEventListeners bridges bus events onto the SSE stream.
func RegisterSSEEventListeners(inst *instance.Instance) {
	if inst == nil || inst.EventDispatcher == nil {
		return
	}
	hub := GetSSEHub()
	dispatcher := inst.EventDispatcher.(events.Dispatcher)

	forward := func(sseType SSEEventType) *events.EventListener {
		return events.NewEventListener(func(event *events.Event) {
			obj := event.Object
			if err, ok := obj.(error); ok {
				obj = err.Error()
			}
			hub.Broadcast(SSEMessage{
				Type: sseType,
				Data: map[string]interface{}{
					"event_type": string(event.Type),
					"object":     obj,
					"timestamp":  time.Now().Unix(),
				},
			})
		})
	}

	matchChanged := forward(SSEEventMatchChanged)
	dispatcher.AddEventListener(matchsession.MatchStarted, matchChanged)
	dispatcher.AddEventListener(matchsession.GoalScored, matchChanged)
	dispatcher.AddEventListener(matchsession.MatchEnded, matchChanged)

	dispatcher.AddEventListener(matchsession.MatchRecordSaved, forward(SSEEventNewRecord))
	dispatcher.AddEventListener(matchsession.MatchVideoResolved, forward(SSEEventVideoResolved))
	dispatcher.AddEventListener(orchestrator.RecordingPromptRequested, forward(SSEEventRecordingPrompt))

	captureStatus := forward(SSEEventCaptureStatus)
	dispatcher.AddEventListener(capture.CaptureStarted, captureStatus)
	dispatcher.AddEventListener(capture.CaptureStopped, captureStatus)
	dispatcher.AddEventListener(capture.CaptureFailed, captureStatus)
}
