package models

// DeliveryState tracks the client-side lifecycle of a message.
// It is never sent over the wire.
type DeliveryState int

const (
	// DeliveryConfirmed means the server has assigned the message an ID.
	DeliveryConfirmed DeliveryState = iota

	// DeliveryPending means the message was sent optimistically and is
	// waiting for the server echo.
	DeliveryPending

	// DeliveryFailed means the send attempt failed; the user may retry.
	DeliveryFailed
)

// ChatMessage represents one message in a room's chat.
// Messages arrive either from the paginated history endpoint or from the
// live push stream; both use the same wire shape.
type ChatMessage struct {
	// ID is the server-assigned identifier. It is empty for a
	// provisional message that has not been echoed back yet.
	ID string `json:"id"`

	// LocalID tags a provisional (locally created, unconfirmed) message
	// so it can be reconciled when the server echo arrives. Confirmed
	// messages from the server carry no LocalID.
	LocalID string `json:"-"`

	// RoomID is the room (event) this message belongs to
	RoomID string `json:"roomId"`

	// SenderID identifies the sending user
	SenderID string `json:"senderId"`

	// SenderEmail is an optional display label for the sender
	SenderEmail string `json:"senderEmail,omitempty"`

	// Content is the message text
	Content string `json:"content"`

	// Timestamp is the send time in epoch milliseconds. Client-assigned
	// at creation, authoritative once the server echoes the message.
	Timestamp int64 `json:"timestamp"`

	// Delivery is the client-side delivery state (not serialized)
	Delivery DeliveryState `json:"-"`
}

// Provisional reports whether the message has no server identity yet.
func (m ChatMessage) Provisional() bool {
	return m.ID == "" && m.LocalID != ""
}

// TypingIndicator signals that a user started or stopped composing a
// message. Indicators are transient and never persisted.
type TypingIndicator struct {
	UserID    string `json:"userId"`
	RoomID    string `json:"roomId"`
	IsTyping  bool   `json:"isTyping"`
	Timestamp int64  `json:"timestamp"`
}

// ReadReceipt records that a user has seen a message.
// Receipts accumulate per message for the lifetime of a session.
type ReadReceipt struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	RoomID    string `json:"roomId"`
	ReadAt    int64  `json:"readAt"`
}

// HistoryPage is the response shape of the paginated history endpoint.
// Pages are zero-indexed and messages within a page are oldest-first.
type HistoryPage struct {
	Messages      []ChatMessage `json:"messages"`
	CurrentPage   int           `json:"currentPage"`
	PageSize      int           `json:"pageSize"`
	TotalMessages int64         `json:"totalMessages"`
	TotalPages    int           `json:"totalPages"`
	HasNext       bool          `json:"hasNext"`
	HasPrevious   bool          `json:"hasPrevious"`
}

// SendMessageRequest is the request body for the REST send fallback
type SendMessageRequest struct {
	RoomID      string `json:"roomId"`
	SenderID    string `json:"senderId"`
	SenderEmail string `json:"senderEmail,omitempty"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
}
