package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Outbound frame buffer per connection
	sendBuffer = 256
)

// WebSocketSession is the Session implementation for the backend's
// WebSocket gateway. It dials {base}/ws/chat with the auth token and
// room appended to the handshake, routes inbound envelopes to topic
// handlers, and reconnects with exponential backoff after a drop.
type WebSocketSession struct {
	dialURL string
	onState StateFunc

	mu       sync.RWMutex
	conn     *websocket.Conn
	send     chan []byte
	handlers map[string]Handler
	state    State
	closed   chan struct{}
	once     sync.Once
}

// NewWebSocketSession creates a session for one room. baseURL is the
// ws:// or wss:// gateway address; the token and room ID are appended
// to the handshake query. onState may be nil.
func NewWebSocketSession(baseURL, roomID, token string, onState StateFunc) *WebSocketSession {
	q := url.Values{}
	q.Set("token", token)
	q.Set("roomId", roomID)

	return &WebSocketSession{
		dialURL:  baseURL + "/ws/chat?" + q.Encode(),
		onState:  onState,
		handlers: make(map[string]Handler),
		closed:   make(chan struct{}),
	}
}

// Connect dials the gateway. The first attempt is synchronous so the
// caller learns about an unreachable gateway immediately; drops after
// that are handled by the internal reconnect loop.
func (s *WebSocketSession) Connect(ctx context.Context) error {
	s.setState(StateConnecting)

	conn, err := s.dial(ctx)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("failed to connect to chat gateway: %w", err)
	}

	s.startConn(conn)
	return nil
}

// Subscribe registers a topic handler. Routing is client-side: the
// gateway pushes every room topic over the single socket, so handlers
// survive reconnects without a resubscribe round trip.
func (s *WebSocketSession) Subscribe(topic string, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[topic] = h
	return nil
}

// Publish marshals an envelope and queues it on the current
// connection. Returns ErrNotConnected while the session is down.
func (s *WebSocketSession) Publish(destination string, body []byte) error {
	frame, err := json.Marshal(Envelope{Topic: destination, Payload: body})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	s.mu.RLock()
	connected := s.state == StateConnected
	ch := s.send
	s.mu.RUnlock()

	if !connected || ch == nil {
		return ErrNotConnected
	}

	select {
	case ch <- frame:
		return nil
	default:
		return fmt.Errorf("transport: outbound buffer full")
	}
}

// Connected reports whether the socket is currently up.
func (s *WebSocketSession) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateConnected
}

// Close tears the session down and stops any reconnect attempt.
func (s *WebSocketSession) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		s.setState(StateDisconnected)
	})
	return nil
}

func (s *WebSocketSession) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.dialURL, nil)
	return conn, err
}

// startConn installs a freshly dialed connection and starts its pumps.
func (s *WebSocketSession) startConn(conn *websocket.Conn) {
	send := make(chan []byte, sendBuffer)

	s.mu.Lock()
	s.conn = conn
	s.send = send
	s.mu.Unlock()

	s.setState(StateConnected)

	go s.writePump(conn, send)
	go s.readPump(conn)
}

// readPump reads frames from the connection and dispatches them to
// topic handlers. When the connection dies and the session was not
// closed, it hands off to the reconnect loop.
func (s *WebSocketSession) readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Transport] Read error: %v", err)
			}
			break
		}
		s.dispatch(frame)
	}

	if s.isClosed() {
		return
	}

	s.setState(StateDisconnected)
	go s.reconnect()
}

// writePump drains the outbound buffer onto the connection and keeps
// the socket alive with pings. One writePump runs per connection; it
// exits when the connection dies or the channel is abandoned.
func (s *WebSocketSession) writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// dispatch routes one inbound frame to its topic handler. A malformed
// frame is logged and dropped; it never tears the session down.
func (s *WebSocketSession) dispatch(frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		log.Printf("[Transport] Dropping malformed frame: %v", err)
		return
	}

	s.mu.RLock()
	h := s.handlers[env.Topic]
	s.mu.RUnlock()

	if h == nil {
		return
	}
	h(env.Payload)
}

// reconnect re-dials with exponential backoff until the session is
// closed or a connection is established.
func (s *WebSocketSession) reconnect() {
	s.setState(StateConnecting)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until closed

	for {
		select {
		case <-s.closed:
			return
		case <-time.After(bo.NextBackOff()):
		}

		conn, err := s.dial(context.Background())
		if err != nil {
			log.Printf("[Transport] Reconnect failed: %v", err)
			continue
		}

		log.Printf("[Transport] Reconnected to chat gateway")
		s.startConn(conn)
		return
	}
}

func (s *WebSocketSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *WebSocketSession) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	onState := s.onState
	s.mu.Unlock()

	if changed && onState != nil {
		onState(state)
	}
}
