package devserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/eventverse/eventchat/internal/models"
	"github.com/eventverse/eventchat/internal/transport"
)

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any origin (CORS handled by middleware)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler exposes the dev server's HTTP surface: the WebSocket
// gateway, the paginated history endpoint, the REST send fallback and
// the presence count.
type Handler struct {
	hub *Hub
	log *MessageLog
}

// NewHandler creates a new Handler instance.
func NewHandler(hub *Hub, messageLog *MessageLog) *Handler {
	return &Handler{hub: hub, log: messageLog}
}

// ServeWS handles WebSocket upgrade requests at /ws/chat.
// Query params: roomId, token. The dev server performs no real auth:
// the opaque token doubles as the user identity.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		http.Error(w, "roomId is required", http.StatusBadRequest)
		return
	}

	userID := r.URL.Query().Get("token")
	if userID == "" {
		http.Error(w, "token is required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Hub] Upgrade failed: %v", err)
		return
	}

	client := NewClient(h.hub, conn, roomID, userID)
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

// GetHistory handles GET /chat/messages/paginated
// Query params: roomId, page (default 0), size (default 50).
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		http.Error(w, "roomId is required", http.StatusBadRequest)
		return
	}

	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 50)
	if size <= 0 {
		http.Error(w, "size must be positive", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, h.log.Page(roomID, page, size))
}

// SendMessage handles POST /chat/send - the REST fallback path.
// The stored message is also broadcast to connected room clients so
// live viewers see fallback sends immediately.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RoomID == "" || req.Content == "" {
		http.Error(w, "roomId and content are required", http.StatusBadRequest)
		return
	}

	stored := h.log.Append(req.RoomID, models.ChatMessage{
		SenderID:    req.SenderID,
		SenderEmail: req.SenderEmail,
		Content:     req.Content,
	})

	if body, err := json.Marshal(stored); err == nil {
		h.hub.Broadcast(req.RoomID, transport.TopicMessages, body)
	}

	log.Printf("[Message] Stored message %s in room %s from %s", stored.ID, req.RoomID, req.SenderID)
	writeJSON(w, http.StatusCreated, stored)
}

// Presence handles GET /presence - returns the number of clients
// currently connected to the room.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		http.Error(w, "roomId is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.hub.ClientCount(roomID))
}

// HealthResponse represents the health check response structure.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Message: "eventchat dev server is running",
	})
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Failed to encode response: %v", err)
	}
}
