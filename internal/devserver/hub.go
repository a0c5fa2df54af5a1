package devserver

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/eventverse/eventchat/internal/models"
	"github.com/eventverse/eventchat/internal/transport"
)

// Hub maintains the set of connected clients per room and turns
// inbound publish frames into room broadcasts: chat.send is assigned a
// server identity, stored, and echoed to every client in the room
// (sender included - the client's de-dup depends on that echo); typing
// and read frames are relayed as-is.
type Hub struct {
	// rooms maps roomID to the set of clients in that room
	rooms map[string]map[*Client]bool

	// register requests from clients
	register chan *Client

	// unregister requests from clients
	unregister chan *Client

	// inbound carries publish frames read from client sockets
	inbound chan *inboundFrame

	// mutex for thread-safe room operations
	mu sync.RWMutex

	// log persists chat messages for the history endpoint
	log *MessageLog
}

// inboundFrame is one frame read from a client socket.
type inboundFrame struct {
	RoomID string
	Data   []byte
	Sender *Client
}

// NewHub creates a new Hub backed by the given message log.
func NewHub(messageLog *MessageLog) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *inboundFrame),
		log:        messageLog,
	}
}

// Run starts the hub's main event loop.
// This should be called in a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case frame := <-h.inbound:
			h.handleInbound(frame)
		}
	}
}

// registerClient adds a client to a room
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[client.RoomID] == nil {
		h.rooms[client.RoomID] = make(map[*Client]bool)
	}

	h.rooms[client.RoomID][client] = true
	log.Printf("[Hub] Client %s joined room %s (total: %d)",
		client.UserID, client.RoomID, len(h.rooms[client.RoomID]))
}

// unregisterClient removes a client from a room
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.rooms[client.RoomID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			close(client.send)

			log.Printf("[Hub] Client %s left room %s (remaining: %d)",
				client.UserID, client.RoomID, len(clients))

			if len(clients) == 0 {
				delete(h.rooms, client.RoomID)
			}
		}
	}
}

// handleInbound routes one publish frame. Malformed frames are logged
// and dropped.
func (h *Hub) handleInbound(frame *inboundFrame) {
	var env transport.Envelope
	if err := json.Unmarshal(frame.Data, &env); err != nil {
		log.Printf("[Hub] Dropping malformed frame from %s: %v", frame.Sender.UserID, err)
		return
	}

	switch env.Topic {
	case transport.DestSend:
		h.handleSend(frame.RoomID, env.Payload)
	case transport.DestTyping:
		h.broadcast(frame.RoomID, transport.TopicTyping, env.Payload)
	case transport.DestRead:
		h.broadcast(frame.RoomID, transport.TopicReadReceipts, env.Payload)
	default:
		log.Printf("[Hub] Unknown destination %q from %s", env.Topic, frame.Sender.UserID)
	}
}

// handleSend assigns the server identity, stores the message and
// echoes it to the whole room.
func (h *Hub) handleSend(roomID string, payload []byte) {
	var msg models.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("[Hub] Dropping malformed chat message: %v", err)
		return
	}
	if msg.Content == "" {
		return
	}

	stored := h.log.Append(roomID, msg)
	body, err := json.Marshal(stored)
	if err != nil {
		log.Printf("[Hub] Failed to marshal stored message: %v", err)
		return
	}
	h.broadcast(roomID, transport.TopicMessages, body)
}

// Broadcast pushes one event to every client in a room. Exposed so the
// REST send fallback reaches connected clients too.
func (h *Hub) Broadcast(roomID, topic string, payload []byte) {
	h.broadcast(roomID, topic, payload)
}

func (h *Hub) broadcast(roomID, topic string, payload []byte) {
	frame, err := json.Marshal(transport.Envelope{Topic: topic, Payload: payload})
	if err != nil {
		log.Printf("[Hub] Failed to marshal broadcast: %v", err)
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- frame:
		default:
			// Client's buffer is full, remove them
			h.mu.Lock()
			if _, ok := h.rooms[roomID][client]; ok {
				delete(h.rooms[roomID], client)
				close(client.send)
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients in a room.
func (h *Hub) ClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
