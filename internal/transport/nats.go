package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSSession is the Session implementation for deployments that
// expose the chat bus over NATS subjects instead of the WebSocket
// gateway. Topic t for room r maps to subject "chat.room.<r>.<t>";
// the destination "chat.send" maps to "chat.room.<r>.send" and so on.
// Reconnection and backoff are delegated to the NATS client.
type NATSSession struct {
	url     string
	roomID  string
	token   string
	onState StateFunc

	mu   sync.Mutex
	conn *nats.Conn
	subs []*nats.Subscription
}

// NewNATSSession creates a session for one room on the given NATS URL.
// onState may be nil.
func NewNATSSession(url, roomID, token string, onState StateFunc) *NATSSession {
	return &NATSSession{
		url:     url,
		roomID:  roomID,
		token:   token,
		onState: onState,
	}
}

// Connect establishes the NATS connection with unlimited reconnects.
func (s *NATSSession) Connect(ctx context.Context) error {
	s.notify(StateConnecting)

	opts := []nats.Option{
		nats.Name("eventchat-" + s.roomID),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(*nats.Conn) {
			s.notify(StateConnected)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.notify(StateDisconnected)
		}),
	}
	if s.token != "" {
		opts = append(opts, nats.Token(s.token))
	}

	conn, err := nats.Connect(s.url, opts...)
	if err != nil {
		s.notify(StateDisconnected)
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.notify(StateConnected)
	return nil
}

// Subscribe binds a handler to the room subject for one topic.
func (s *NATSSession) Subscribe(topic string, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}

	sub, err := s.conn.Subscribe(s.subject(topic), func(m *nats.Msg) {
		h(m.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Publish sends a payload to the room subject for a destination.
func (s *NATSSession) Publish(destination string, body []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}

	// "chat.send" -> subject suffix "send"
	suffix := strings.TrimPrefix(destination, "chat.")
	if err := conn.Publish(s.subject(suffix), body); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", destination, err)
	}
	return nil
}

// Connected reports whether the NATS connection is up.
func (s *NATSSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.IsConnected()
}

// Close unsubscribes all topics and closes the connection.
func (s *NATSSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.notify(StateDisconnected)
	return nil
}

func (s *NATSSession) subject(suffix string) string {
	return "chat.room." + s.roomID + "." + suffix
}

func (s *NATSSession) notify(state State) {
	if s.onState != nil {
		s.onState(state)
	}
}
