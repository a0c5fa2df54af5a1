package engine

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/eventverse/eventchat/internal/models"
	"github.com/eventverse/eventchat/internal/transport"
)

// run is the engine's event loop. It is the only goroutine that
// mutates engine-owned state, so no event ordering between live
// pushes, commands and async REST results can corrupt the stores.
func (e *Engine) run() {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			// emit only ever runs on this goroutine, so closing here
			// cannot race a send; consumers ranging over Updates get a
			// clean termination.
			close(e.updates)
			return
		case ev := <-e.events:
			e.handle(ev)
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) handle(ev event) {
	switch ev := ev.(type) {
	case seedLoaded:
		e.applySeed(ev.page)
	case messageReceived:
		if e.store.AppendLive(ev.msg) {
			e.emit()
		}
	case typingReceived:
		e.typing.Observe(ev.ind.UserID, ev.ind.IsTyping)
		e.emit()
	case receiptReceived:
		e.receipts.Observe(ev.receipt.MessageID, ev.receipt.UserID)
		e.emit()
	case stateChanged:
		e.handleStateChanged(ev.state)
	case sendRequested:
		e.handleSend(ev.text)
	case typingKeystroke:
		e.handleTypingKeystroke()
	case markVisible:
		e.handleMarkVisible(ev.messageID)
	case loadOlderRequested:
		e.handleLoadOlder()
	case olderPageLoaded:
		e.handleOlderPageLoaded(ev)
	case catchupLoaded:
		e.handleCatchup(ev.page)
	case sendFallbackDone:
		e.handleSendFallbackDone(ev)
	case presenceFetched:
		e.onlineCount = ev.count
		e.emit()
	}
}

// tick drives typing expiry for others and the stop-typing timer for
// the local user. One ticker covers both; session teardown only has to
// stop the loop.
func (e *Engine) tick() {
	changed := e.typing.Sweep()

	if e.selfTyping && time.Now().After(e.typingStopAt) {
		e.selfTyping = false
		if e.connState == transport.StateConnected {
			e.publishTyping(false)
		}
	}

	if changed {
		e.emit()
	}
}

func (e *Engine) applySeed(page *models.HistoryPage) {
	e.store.Seed(page.Messages)
	e.cursor.Init(page.CurrentPage)
	// Invalidate any pagination fetch still in flight against the
	// replaced log.
	e.cursorGen++
	e.seeded = true
	e.emit()
}

func (e *Engine) handleStateChanged(state transport.State) {
	prev := e.connState
	e.connState = state

	if state == transport.StateConnected && prev != transport.StateConnected {
		// Catch up on anything that was pushed while the transport
		// was down: merge the latest page through the de-dup path so
		// already-prepended older pages survive.
		go e.fetchCatchup()
		go e.refreshPresence()
	}

	e.emit()
}

func (e *Engine) handleSend(text string) {
	msg := e.newLocalMessage(text)

	// Sending ends the current typing burst; no stop publish needed,
	// the message itself signals it.
	e.selfTyping = false

	e.store.AppendProvisional(msg)

	if e.connState == transport.StateConnected {
		body, err := json.Marshal(msg)
		if err == nil {
			err = e.session.Publish(transport.DestSend, body)
		}
		if err != nil {
			log.Printf("[Engine] Send publish failed: %v", err)
			e.store.MarkFailed(msg.LocalID)
		}
		e.emit()
		return
	}

	// REST fallback: the provisional entry shows while the call is in
	// flight; a successful reseed replaces the view wholesale.
	e.emit()
	go e.sendFallback(msg)
}

// sendFallback posts the message over REST and re-fetches the latest
// page so the store picks up the server-assigned identity.
func (e *Engine) sendFallback(msg models.ChatMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := models.SendMessageRequest{
		RoomID:      msg.RoomID,
		SenderID:    msg.SenderID,
		SenderEmail: msg.SenderEmail,
		Content:     msg.Content,
		Timestamp:   msg.Timestamp,
	}
	if err := e.api.Send(ctx, req); err != nil {
		e.post(sendFallbackDone{localID: msg.LocalID, err: err})
		return
	}

	page, err := e.api.LoadLatest(ctx, e.cfg.RoomID, e.cfg.PageSize)
	if err != nil {
		// The send landed; the provisional stays pending and the
		// next catch-up or live echo reconciles it.
		log.Printf("[Engine] Reseed after fallback send failed: %v", err)
		e.post(sendFallbackDone{localID: msg.LocalID})
		return
	}
	e.post(sendFallbackDone{localID: msg.LocalID, page: page})
}

func (e *Engine) handleSendFallbackDone(ev sendFallbackDone) {
	if ev.err != nil {
		log.Printf("[Engine] Fallback send failed: %v", ev.err)
		e.store.MarkFailed(ev.localID)
		e.emit()
		return
	}
	if ev.page != nil {
		e.applySeed(ev.page)
	}
}

func (e *Engine) handleTypingKeystroke() {
	if e.connState != transport.StateConnected {
		// Typing is best-effort: dropped while disconnected.
		return
	}

	if !e.selfTyping {
		e.selfTyping = true
		e.publishTyping(true)
	}
	e.typingStopAt = time.Now().Add(e.cfg.TypingStopDelay)
}

func (e *Engine) publishTyping(isTyping bool) {
	body, err := json.Marshal(models.TypingIndicator{
		UserID:    e.cfg.UserID,
		RoomID:    e.cfg.RoomID,
		IsTyping:  isTyping,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := e.session.Publish(transport.DestTyping, body); err != nil {
		log.Printf("[Engine] Typing publish dropped: %v", err)
	}
}

func (e *Engine) handleMarkVisible(messageID string) {
	if e.connState != transport.StateConnected {
		return
	}

	body, err := json.Marshal(models.ReadReceipt{
		MessageID: messageID,
		UserID:    e.cfg.UserID,
		RoomID:    e.cfg.RoomID,
		ReadAt:    time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := e.session.Publish(transport.DestRead, body); err != nil {
		log.Printf("[Engine] Read receipt dropped: %v", err)
	}
}

func (e *Engine) handleLoadOlder() {
	pageIndex, ok := e.cursor.Begin()
	if !ok {
		return
	}
	e.emit()
	go e.fetchOlder(e.cursorGen, pageIndex)
}

func (e *Engine) fetchOlder(gen, pageIndex int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	page, err := e.api.LoadPage(ctx, e.cfg.RoomID, pageIndex, e.cfg.PageSize)
	e.post(olderPageLoaded{gen: gen, pageIndex: pageIndex, page: page, err: err})
}

func (e *Engine) handleOlderPageLoaded(ev olderPageLoaded) {
	if ev.gen != e.cursorGen {
		// A reseed replaced the log while this page was in flight; the
		// result no longer lines up with the cursor. The reseeded
		// cursor is already idle, so nothing to fail.
		log.Printf("[Engine] Dropping stale older page %d", ev.pageIndex)
		return
	}
	if ev.err != nil {
		log.Printf("[Engine] Older page %d failed: %v", ev.pageIndex, ev.err)
		e.cursor.Fail()
		e.emit()
		return
	}

	anchor := e.store.PrependOlder(ev.page.Messages)
	e.cursor.Complete(ev.pageIndex)
	e.pendingAnchor = &anchor
	e.emit()
}

func (e *Engine) fetchCatchup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	page, err := e.api.LoadLatest(ctx, e.cfg.RoomID, e.cfg.PageSize)
	if err != nil {
		log.Printf("[Engine] Reconnect catch-up failed: %v", err)
		return
	}
	e.post(catchupLoaded{page: page})
}

func (e *Engine) handleCatchup(page *models.HistoryPage) {
	if !e.seeded {
		// The initial load never landed; this is the seed.
		e.applySeed(page)
		return
	}

	changed := false
	for _, msg := range page.Messages {
		if e.store.AppendLive(msg) {
			changed = true
		}
	}
	if changed {
		e.emit()
	}
}

// emit publishes a fresh snapshot, keeping only the newest one in the
// updates channel. A dropped snapshot's prepend anchor is carried
// forward so the rendering layer never misses a scroll adjustment.
func (e *Engine) emit() {
	snap := e.snapshot()

	select {
	case e.updates <- snap:
		return
	default:
	}

	select {
	case old := <-e.updates:
		if snap.Anchor == nil {
			snap.Anchor = old.Anchor
		}
	default:
	}

	select {
	case e.updates <- snap:
	default:
	}
}

func (e *Engine) snapshot() Snapshot {
	msgs := e.store.Messages()

	readByOthers := make(map[string]bool)
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if e.receipts.IsReadByOthers(m.ID, e.cfg.UserID) {
			readByOthers[m.ID] = true
		}
	}

	snap := Snapshot{
		Messages:     msgs,
		TypingUsers:  e.typing.Active(),
		ReadByOthers: readByOthers,
		State:        e.connState,
		HasMore:      e.cursor.HasMore(),
		Loading:      e.cursor.Loading(),
		OnlineCount:  e.onlineCount,
		Anchor:       e.pendingAnchor,
	}
	e.pendingAnchor = nil
	return snap
}
