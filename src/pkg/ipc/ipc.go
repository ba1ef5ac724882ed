// Package ipc carries messages between the in-game plugin and this daemon:
// telemetry frames flowing in, capture commands flowing out. Unix domain
// sockets on unix-likes, named pipes on Windows.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Message types sent by the plugin.
const (
	// MsgTypeRunningGame answers a running-game query.
	MsgTypeRunningGame = "running_game"
	// MsgTypeInfoUpdate is a telemetry info snapshot.
	MsgTypeInfoUpdate = "info_update"
	// MsgTypeGameEvent is a discrete telemetry event.
	MsgTypeGameEvent = "game_event"
	// MsgTypeCaptureStarted answers a capture start.
	MsgTypeCaptureStarted = "capture_started"
	// MsgTypeCaptureStopped reports a finished recording with its file path.
	MsgTypeCaptureStopped = "capture_stopped"
	// MsgTypeCaptureError reports a failed stream.
	MsgTypeCaptureError = "capture_error"
	// MsgTypeEncoders answers an encoder enumeration.
	MsgTypeEncoders = "encoders"
	// MsgTypeHighlightCaptured answers a highlight request.
	MsgTypeHighlightCaptured = "highlight_captured"
	// MsgTypeAck is the generic success reply.
	MsgTypeAck = "ack"
	// MsgTypeError is the generic failure reply; payload is ErrorPayload.
	MsgTypeError = "error"
)

// Message types sent by the daemon.
const (
	MsgTypeGetRunningGame   = "get_running_game"
	MsgTypeSubscribe        = "subscribe"
	MsgTypeUnsubscribe      = "unsubscribe"
	MsgTypeListEncoders     = "list_encoders"
	MsgTypeCaptureStart     = "capture_start"
	MsgTypeCaptureStop      = "capture_stop"
	MsgTypeCaptureSplit     = "capture_split"
	MsgTypeCaptureVolume    = "capture_volume"
	MsgTypeCaptureHighlight = "capture_highlight"
)

// Socket/pipe name prefixes.
const (
	PipeNamePrefix   = `\\.\pipe\rematch-coach-`
	SocketPathPrefix = "/tmp/rematch-coach-"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	// DefaultCallTimeout bounds one request/reply round trip.
	DefaultCallTimeout = 10 * time.Second
)

// Message is one frame on the bridge. ID correlates replies with requests:
// a reply carries the ID of the request it answers, unsolicited pushes carry
// zero.
type Message struct {
	Type      string          `json:"type"`
	ID        uint64          `json:"id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

var nextMessageID atomic.Uint64

func NewMessage(msgType string, payload any) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		ID:        nextMessageID.Add(1),
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// NewReply builds a reply to the given request.
func NewReply(req *Message, msgType string, payload any) (*Message, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	msg.ID = req.ID
	return msg, nil
}

func (m *Message) ParsePayload(v any) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// ErrorPayload is the body of a MsgTypeError reply. Reason uses the capture
// failure taxonomy where applicable.
type ErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

type Conn interface {
	Send(msg *Message) error
	// Receive blocks until a message arrives or the connection closes.
	Receive() (*Message, error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Server is the plugin side of the bridge. The daemon only uses it in tests,
// standing in for the plugin.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	OnConnect(handler func(conn Conn))
	OnMessage(handler func(conn Conn, msg *Message))
	OnDisconnect(handler func(conn Conn, err error))
	Broadcast(msg *Message) error
}

// Client is the daemon side of the bridge.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(msg *Message) error
	IsConnected() bool
	// OnMessage receives every inbound frame, replies included.
	OnMessage(handler func(msg *Message))
	OnDisconnect(handler func(err error))
}

var (
	ErrNotConnected     = errors.New("not connected to bridge")
	ErrAlreadyConnected = errors.New("already connected to bridge")
	ErrConnectionClosed = errors.New("bridge connection closed")
	ErrTimeout          = errors.New("bridge call timed out")
)

type connWrapper struct {
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	mu      sync.Mutex
}

func newConnWrapper(conn net.Conn) *connWrapper {
	return &connWrapper{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(conn),
	}
}

func (c *connWrapper) Send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.Encode(msg)
}

func (c *connWrapper) Receive() (*Message, error) {
	var msg Message
	if err := c.decoder.Decode(&msg); err != nil {
		if err == io.EOF {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}
	return &msg, nil
}

func (c *connWrapper) Close() error {
	return c.conn.Close()
}

func (c *connWrapper) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *connWrapper) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// GetInstanceID names the bridge endpoint, overridable for side-by-side runs.
func GetInstanceID() string {
	if id := os.Getenv("REMATCH_COACH_INSTANCE_ID"); id != "" {
		return id
	}
	return "default"
}

func GetPipeName(instanceID string) string {
	return PipeNamePrefix + instanceID
}

func GetSocketPath(instanceID string) string {
	return SocketPathPrefix + instanceID + ".sock"
}
