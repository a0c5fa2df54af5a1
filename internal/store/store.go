package store

import (
	"sync"

	"github.com/eventverse/eventchat/internal/models"
)

// provisionalMatchWindow is the maximum clock skew (in milliseconds)
// tolerated between a provisional message's local timestamp and the
// server-assigned timestamp of its echo when matching the two.
const provisionalMatchWindow = 30_000

// Anchor captures the store size immediately before a prepend so the
// rendering layer can restore the visual scroll offset after older
// messages are inserted above the viewport.
type Anchor struct {
	// ItemCount is the number of messages that were in the store
	// before the prepend was applied.
	ItemCount int
}

// MessageStore is the in-memory ordered log of messages for one room.
// It merges history pages and live pushes, de-duplicates on server ID,
// and keeps messages in oldest-to-newest order as an insertion-time
// invariant. No sorting ever happens on read.
type MessageStore struct {
	roomID string

	// msgs is the ordered log, oldest first
	msgs []models.ChatMessage

	// ids tracks the server IDs currently present, for de-duplication
	ids map[string]struct{}

	mu sync.RWMutex
}

// NewMessageStore creates an empty store scoped to one room.
func NewMessageStore(roomID string) *MessageStore {
	return &MessageStore{
		roomID: roomID,
		ids:    make(map[string]struct{}),
	}
}

// Seed replaces the store contents wholesale. Used at initial load and
// by the REST-fallback reseed. Any provisional entries are discarded.
func (s *MessageStore) Seed(msgs []models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = make([]models.ChatMessage, 0, len(msgs))
	s.ids = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		m.Delivery = models.DeliveryConfirmed
		s.msgs = append(s.msgs, m)
		if m.ID != "" {
			s.ids[m.ID] = struct{}{}
		}
	}
}

// PrependOlder inserts a batch of older messages before the current
// oldest entry. The batch must already be ordered oldest-first. Page
// boundaries are disjoint by construction, but a retried page must not
// duplicate: identities already present are skipped. Returns the anchor
// the rendering layer needs for scroll restoration.
func (s *MessageStore) PrependOlder(msgs []models.ChatMessage) Anchor {
	s.mu.Lock()
	defer s.mu.Unlock()

	anchor := Anchor{ItemCount: len(s.msgs)}

	fresh := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			if _, dup := s.ids[m.ID]; dup {
				continue
			}
			s.ids[m.ID] = struct{}{}
		}
		m.Delivery = models.DeliveryConfirmed
		fresh = append(fresh, m)
	}

	s.msgs = append(fresh, s.msgs...)
	return anchor
}

// AppendLive inserts one pushed message near the tail, keeping the
// non-decreasing timestamp order (ties keep arrival order). Returns
// false when the message was dropped as a duplicate.
//
// A message whose server ID is already present is a no-op: this absorbs
// at-least-once transport redelivery and the echo of a message that a
// reseed already confirmed. An echo that matches a pending provisional
// entry (same sender, same content, timestamps within a small window)
// confirms that entry instead of appending a second copy, repositioning
// it to where the server timestamp belongs.
func (s *MessageStore) AppendLive(msg models.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID != "" {
		if _, dup := s.ids[msg.ID]; dup {
			return false
		}
	}

	if s.confirmMatchingProvisional(msg) {
		return true
	}

	msg.Delivery = models.DeliveryConfirmed
	if msg.ID != "" {
		s.ids[msg.ID] = struct{}{}
	}

	s.insertOrdered(msg)
	return true
}

// insertOrdered places a message by walking back past any entries with
// a strictly larger timestamp. Equal timestamps stay in arrival order.
// Caller must hold the lock.
func (s *MessageStore) insertOrdered(msg models.ChatMessage) {
	i := len(s.msgs)
	for i > 0 && s.msgs[i-1].Timestamp > msg.Timestamp {
		i--
	}
	s.msgs = append(s.msgs, models.ChatMessage{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = msg
}

// confirmMatchingProvisional replaces a pending provisional entry with
// its server echo. Caller must hold the lock.
func (s *MessageStore) confirmMatchingProvisional(msg models.ChatMessage) bool {
	if msg.ID == "" || msg.SenderID == "" {
		return false
	}
	for i := range s.msgs {
		p := s.msgs[i]
		if !p.Provisional() || p.Delivery != models.DeliveryPending {
			continue
		}
		if p.SenderID != msg.SenderID || p.Content != msg.Content {
			continue
		}
		if diff := msg.Timestamp - p.Timestamp; diff < -provisionalMatchWindow || diff > provisionalMatchWindow {
			continue
		}
		confirmed := p
		confirmed.ID = msg.ID
		confirmed.Timestamp = msg.Timestamp
		confirmed.SenderEmail = msg.SenderEmail
		confirmed.Delivery = models.DeliveryConfirmed
		s.ids[msg.ID] = struct{}{}

		// Adopting the server timestamp can move the entry past
		// neighbors that arrived while the echo was in flight, so it is
		// re-inserted through the ordered path rather than patched in
		// place.
		s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
		s.insertOrdered(confirmed)
		return true
	}
	return false
}

// AppendProvisional adds a locally created, not-yet-confirmed message
// at the tail. The entry stays until an echo confirms it or a reseed
// discards it.
func (s *MessageStore) AppendProvisional(msg models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = ""
	msg.Delivery = models.DeliveryPending
	s.msgs = append(s.msgs, msg)
}

// MarkFailed flags a provisional entry as failed so the rendering layer
// can offer a retry for that single message.
func (s *MessageStore) MarkFailed(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.msgs {
		if s.msgs[i].LocalID == localID && s.msgs[i].Provisional() {
			s.msgs[i].Delivery = models.DeliveryFailed
			return
		}
	}
}

// RemoveProvisional drops a provisional entry, e.g. before a wholesale
// reseed triggered by the REST send fallback.
func (s *MessageStore) RemoveProvisional(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.msgs {
		if s.msgs[i].LocalID == localID && s.msgs[i].Provisional() {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return
		}
	}
}

// Messages returns a copy of the log, oldest to newest.
func (s *MessageStore) Messages() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ChatMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of messages currently in the store.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Contains reports whether a message with the given server ID is present.
func (s *MessageStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}
