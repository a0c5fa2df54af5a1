package presence

import (
	"sort"
	"sync"
	"time"
)

// DefaultExpiry is the quiescence window after which an unrefreshed
// typing state is treated as expired.
const DefaultExpiry = 3 * time.Second

// Tracker aggregates who is currently typing in a room, excluding the
// local user (it models others typing only). Instead of one timer per
// user, entries are kept as a userID -> deadline arena: expired entries
// are dropped lazily on read and by the engine's periodic sweep, and
// everything is released in one Clear on session teardown.
type Tracker struct {
	selfID string
	expiry time.Duration

	// now is injectable for tests
	now func() time.Time

	deadlines map[string]time.Time
	mu        sync.Mutex
}

// NewTracker creates a tracker for the given local user.
// A non-positive expiry falls back to DefaultExpiry.
func NewTracker(selfID string, expiry time.Duration) *Tracker {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Tracker{
		selfID:    selfID,
		expiry:    expiry,
		now:       time.Now,
		deadlines: make(map[string]time.Time),
	}
}

// SetClock overrides the time source. Used by tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Observe applies one typing event. A start adds or refreshes the
// user's deadline; an explicit stop removes the entry immediately.
// Self-originated events are ignored.
func (t *Tracker) Observe(userID string, isTyping bool) {
	if userID == t.selfID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if isTyping {
		t.deadlines[userID] = t.now().Add(t.expiry)
	} else {
		delete(t.deadlines, userID)
	}
}

// Active returns the sorted set of users currently typing, dropping any
// entry whose deadline has passed.
func (t *Tracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	users := make([]string, 0, len(t.deadlines))
	for userID, deadline := range t.deadlines {
		if now.After(deadline) {
			delete(t.deadlines, userID)
			continue
		}
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Sweep drops expired entries and reports whether anything changed.
// The engine calls this on its tick so a user who went quiet is removed
// even when nobody reads Active in the meantime.
func (t *Tracker) Sweep() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	changed := false
	for userID, deadline := range t.deadlines {
		if now.After(deadline) {
			delete(t.deadlines, userID)
			changed = true
		}
	}
	return changed
}

// Clear drops all entries in one sweep. Called on session teardown.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadlines = make(map[string]time.Time)
}
