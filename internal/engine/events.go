package engine

import (
	"github.com/eventverse/eventchat/internal/models"
	"github.com/eventverse/eventchat/internal/transport"
)

// event is a typed message consumed by the engine's run loop. Every
// mutation of engine-owned state travels through one of these.
type event interface{ isEvent() }

// seedLoaded carries the initial (or reseed) latest-page result.
type seedLoaded struct {
	page *models.HistoryPage
}

// messageReceived is a live push from the messages topic.
type messageReceived struct {
	msg models.ChatMessage
}

// typingReceived is a live push from the typing topic.
type typingReceived struct {
	ind models.TypingIndicator
}

// receiptReceived is a live push from the read-receipts topic.
type receiptReceived struct {
	receipt models.ReadReceipt
}

// stateChanged reports a transport connection-state transition.
type stateChanged struct {
	state transport.State
}

// sendRequested is the user's send command.
type sendRequested struct {
	text string
}

// typingKeystroke is one local keystroke.
type typingKeystroke struct{}

// markVisible is the rendering layer reporting a visible message.
type markVisible struct {
	messageID string
}

// loadOlderRequested asks for one older history page.
type loadOlderRequested struct{}

// olderPageLoaded carries a backward-pagination result. gen identifies
// the cursor generation the fetch was started under; a reseed bumps
// the generation, so results raced by a reseed are discarded instead
// of prepending a page the new cursor no longer lines up with.
type olderPageLoaded struct {
	gen       int
	pageIndex int
	page      *models.HistoryPage
	err       error
}

// catchupLoaded carries the latest page fetched after a reconnect;
// it is merged, not reseeded, so prepended older pages survive.
type catchupLoaded struct {
	page *models.HistoryPage
}

// sendFallbackDone reports the outcome of a REST-fallback send.
type sendFallbackDone struct {
	localID string
	page    *models.HistoryPage
	err     error
}

// presenceFetched carries a fresh online count.
type presenceFetched struct {
	count int
}

func (seedLoaded) isEvent()         {}
func (messageReceived) isEvent()    {}
func (typingReceived) isEvent()     {}
func (receiptReceived) isEvent()    {}
func (stateChanged) isEvent()       {}
func (sendRequested) isEvent()      {}
func (typingKeystroke) isEvent()    {}
func (markVisible) isEvent()        {}
func (loadOlderRequested) isEvent() {}
func (olderPageLoaded) isEvent()    {}
func (catchupLoaded) isEvent()      {}
func (sendFallbackDone) isEvent()   {}
func (presenceFetched) isEvent()    {}
