package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// Topics pushed by the backend for one room.
const (
	TopicMessages     = "messages"
	TopicTyping       = "typing"
	TopicReadReceipts = "read-receipts"
)

// Outbound publish destinations.
const (
	DestSend   = "chat.send"
	DestTyping = "chat.typing"
	DestRead   = "chat.read"
)

// ErrNotConnected is returned by Publish while the session is down.
// Callers decide whether to fall back (send) or drop (typing, read).
var ErrNotConnected = errors.New("transport: not connected")

// State describes the connection lifecycle of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns a readable state name for logs.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives the raw payload of one pushed event.
type Handler func(payload []byte)

// StateFunc is notified on every connection-state change.
type StateFunc func(State)

// Session is an opaque bidirectional pub/sub channel to one logical
// room. Implementations own their reconnect/backoff policy; the sync
// engine stays passive and only observes state changes.
type Session interface {
	// Connect establishes the session. Reconnection after a later
	// drop is the implementation's responsibility.
	Connect(ctx context.Context) error

	// Subscribe registers a handler for one topic. Handlers survive
	// reconnects; registering twice for a topic replaces the handler.
	Subscribe(topic string, h Handler) error

	// Publish sends a payload to an outbound destination. Returns
	// ErrNotConnected while the session is down.
	Publish(destination string, body []byte) error

	// Connected reports whether the session is currently usable.
	Connected() bool

	// Close tears the session down. Idempotent.
	Close() error
}

// Envelope is the wire frame exchanged with the WebSocket gateway:
// inbound frames carry a room topic, outbound frames a destination.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}
