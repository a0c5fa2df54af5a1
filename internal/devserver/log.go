package devserver

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventverse/eventchat/internal/models"
)

// MessageLog stores messages per room in memory and serves them back
// through the same paginated shape as the production history endpoint.
// Purely a development fixture; nothing survives a restart.
type MessageLog struct {
	// messages stores messages per room: roomID -> []ChatMessage
	messages map[string][]models.ChatMessage
	mu       sync.RWMutex
}

// NewMessageLog creates an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{
		messages: make(map[string][]models.ChatMessage),
	}
}

// Append stores a message, assigning the server identity and
// timestamp, and returns the stored copy.
func (l *MessageLog) Append(roomID string, msg models.ChatMessage) models.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg.ID = uuid.New().String()
	msg.RoomID = roomID
	msg.Timestamp = time.Now().UnixMilli()

	l.messages[roomID] = append(l.messages[roomID], msg)
	return msg
}

// Page returns one zero-indexed page of a room's history, oldest-first
// within the page.
func (l *MessageLog) Page(roomID string, page, size int) models.HistoryPage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.messages[roomID]
	total := len(all)

	totalPages := 0
	if size > 0 {
		totalPages = (total + size - 1) / size
	}

	start := page * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	msgs := make([]models.ChatMessage, end-start)
	copy(msgs, all[start:end])

	return models.HistoryPage{
		Messages:      msgs,
		CurrentPage:   page,
		PageSize:      size,
		TotalMessages: int64(total),
		TotalPages:    totalPages,
		HasNext:       page < totalPages-1,
		HasPrevious:   page > 0,
	}
}

// Count returns the number of messages stored for a room.
func (l *MessageLog) Count(roomID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages[roomID])
}
