package engine

import (
	"github.com/eventverse/eventchat/internal/models"
	"github.com/eventverse/eventchat/internal/store"
	"github.com/eventverse/eventchat/internal/transport"
)

// Snapshot is the immutable view the engine hands to the rendering
// layer after every mutation. Nothing in a snapshot aliases engine
// state; consumers may keep it as long as they like.
type Snapshot struct {
	// Messages is the full log, oldest to newest, including any
	// provisional entries still awaiting confirmation.
	Messages []models.ChatMessage

	// TypingUsers is the sorted set of other users currently typing.
	TypingUsers []string

	// ReadByOthers marks message IDs that at least one other user has
	// acknowledged reading. Entries never disappear within a session.
	ReadByOthers map[string]bool

	// State is the transport connection state.
	State transport.State

	// HasMore reports whether older history pages remain.
	HasMore bool

	// Loading reports whether a backward-pagination request is in flight.
	Loading bool

	// OnlineCount is the best-effort number of users in the room.
	OnlineCount int

	// Anchor is set exactly once per prepend: it captures the
	// pre-prepend item count so the rendering layer can restore the
	// visual scroll offset. Nil on every other snapshot.
	Anchor *store.Anchor
}
