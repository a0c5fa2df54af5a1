package receipts

import (
	"sort"
	"sync"
)

// Tracker maps message IDs to the set of users who have acknowledged
// reading them. Reader sets only ever grow for the lifetime of the
// session; there is no removal path.
type Tracker struct {
	readers map[string]map[string]struct{}
	mu      sync.RWMutex
}

// NewTracker creates an empty receipt tracker.
func NewTracker() *Tracker {
	return &Tracker{readers: make(map[string]map[string]struct{})}
}

// Observe records that userID has read messageID. Idempotent: the
// reader set is a set, not a list.
func (t *Tracker) Observe(messageID, userID string) {
	if messageID == "" || userID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.readers[messageID]
	if !ok {
		set = make(map[string]struct{})
		t.readers[messageID] = set
	}
	set[userID] = struct{}{}
}

// IsReadByOthers reports whether anyone other than selfID has read the
// message. Once true it never reverts to false.
func (t *Tracker) IsReadByOthers(messageID, selfID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for userID := range t.readers[messageID] {
		if userID != selfID {
			return true
		}
	}
	return false
}

// Readers returns the sorted set of users who have read the message.
func (t *Tracker) Readers(messageID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.readers[messageID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for userID := range set {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}
