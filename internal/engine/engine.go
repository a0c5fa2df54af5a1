package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventverse/eventchat/internal/history"
	"github.com/eventverse/eventchat/internal/models"
	"github.com/eventverse/eventchat/internal/pagination"
	"github.com/eventverse/eventchat/internal/presence"
	"github.com/eventverse/eventchat/internal/receipts"
	"github.com/eventverse/eventchat/internal/store"
	"github.com/eventverse/eventchat/internal/transport"
)

const (
	// DefaultPageSize matches the backend's history page size.
	DefaultPageSize = 50

	// DefaultTypingStopDelay is how long local inactivity lasts before
	// the engine publishes a stop-typing event.
	DefaultTypingStopDelay = time.Second

	// defaultSweepInterval drives typing expiry and the outbound
	// stop-typing timer.
	defaultSweepInterval = 500 * time.Millisecond
)

// Config identifies the room session and tunes its timers.
type Config struct {
	RoomID    string
	UserID    string
	UserEmail string

	// PageSize for history pagination; defaults to DefaultPageSize.
	PageSize int

	// TypingExpiry is the quiescence window for other users' typing
	// state; defaults to presence.DefaultExpiry.
	TypingExpiry time.Duration

	// TypingStopDelay is the local inactivity window before a
	// stop-typing publish; defaults to DefaultTypingStopDelay.
	TypingStopDelay time.Duration

	// SweepInterval overrides the engine tick; tests shorten it.
	SweepInterval time.Duration
}

// SessionFactory builds the transport session for a room, wiring the
// engine's state callback into it.
type SessionFactory func(onState transport.StateFunc) transport.Session

// Engine orchestrates one room session: it owns the message store,
// pagination cursor, typing tracker and receipt tracker, and it is the
// only writer to any of them. All mutation happens on a single event
// loop; public methods and transport callbacks post events to it, so
// interleavings of live pushes and in-flight REST calls can never
// corrupt state.
type Engine struct {
	cfg        Config
	api        *history.Client
	newSession SessionFactory
	session    transport.Session

	store    *store.MessageStore
	cursor   *pagination.Cursor
	typing   *presence.Tracker
	receipts *receipts.Tracker

	events  chan event
	updates chan Snapshot
	done    chan struct{}
	once    sync.Once

	// loop-owned state, touched only from run()
	connState     transport.State
	seeded        bool
	onlineCount   int
	selfTyping    bool
	typingStopAt  time.Time
	pendingAnchor *store.Anchor
	cursorGen     int
}

// New creates an engine for one room and user. Call Start to begin
// syncing and Close to tear the session down.
func New(cfg Config, api *history.Client, newSession SessionFactory) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.TypingStopDelay <= 0 {
		cfg.TypingStopDelay = DefaultTypingStopDelay
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	return &Engine{
		cfg:        cfg,
		api:        api,
		newSession: newSession,
		store:      store.NewMessageStore(cfg.RoomID),
		cursor:     pagination.NewCursor(),
		typing:     presence.NewTracker(cfg.UserID, cfg.TypingExpiry),
		receipts:   receipts.NewTracker(),
		events:     make(chan event, 64),
		updates:    make(chan Snapshot, 1),
		done:       make(chan struct{}),
	}
}

// Start seeds the store from the latest history page, connects the
// transport and subscribes to the room topics. A failed seed is
// non-fatal: the engine logs it and recovers on the next reconnect
// catch-up or REST fallback reseed.
func (e *Engine) Start(ctx context.Context) error {
	e.session = e.newSession(e.postState)

	go e.run()

	if page, err := e.api.LoadLatest(ctx, e.cfg.RoomID, e.cfg.PageSize); err != nil {
		log.Printf("[Engine] Initial history load failed: %v", err)
	} else {
		e.post(seedLoaded{page: page})
	}

	if err := e.session.Connect(ctx); err != nil {
		e.Close()
		return fmt.Errorf("failed to start room session: %w", err)
	}

	if err := e.subscribeAll(); err != nil {
		e.Close()
		return err
	}

	go e.refreshPresence()
	return nil
}

// subscribeAll registers the three room topic handlers. Each handler
// decodes the payload and posts a typed event; a malformed payload is
// logged and dropped, never fatal.
func (e *Engine) subscribeAll() error {
	err := e.session.Subscribe(transport.TopicMessages, func(payload []byte) {
		var msg models.ChatMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("[Engine] Dropping malformed message event: %v", err)
			return
		}
		e.post(messageReceived{msg: msg})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to messages: %w", err)
	}

	err = e.session.Subscribe(transport.TopicTyping, func(payload []byte) {
		var ind models.TypingIndicator
		if err := json.Unmarshal(payload, &ind); err != nil {
			log.Printf("[Engine] Dropping malformed typing event: %v", err)
			return
		}
		e.post(typingReceived{ind: ind})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to typing: %w", err)
	}

	err = e.session.Subscribe(transport.TopicReadReceipts, func(payload []byte) {
		var rc models.ReadReceipt
		if err := json.Unmarshal(payload, &rc); err != nil {
			log.Printf("[Engine] Dropping malformed read receipt: %v", err)
			return
		}
		e.post(receiptReceived{receipt: rc})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to read receipts: %w", err)
	}

	return nil
}

// Updates delivers a fresh snapshot after every mutation. The channel
// holds only the latest snapshot: a slow consumer sees the newest
// state, never a backlog. The channel is closed when the engine is
// closed, so ranging over it terminates on teardown.
func (e *Engine) Updates() <-chan Snapshot {
	return e.updates
}

// Send delivers a message. While connected it publishes through the
// transport with an optimistic provisional entry; otherwise it falls
// back to the REST path and reseeds the store wholesale.
func (e *Engine) Send(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	e.post(sendRequested{text: text})
}

// Typing records one local keystroke. Outbound publishes are
// throttled: one start per continuous burst, one stop after the
// inactivity window. Dropped silently while disconnected.
func (e *Engine) Typing() {
	e.post(typingKeystroke{})
}

// MarkVisible publishes a read receipt for a message that became
// visible. Visibility while disconnected is dropped, not queued.
func (e *Engine) MarkVisible(messageID string) {
	if messageID == "" {
		return
	}
	e.post(markVisible{messageID: messageID})
}

// LoadOlder requests the next older history page. Refused (no-op)
// while a request is in flight or when no older pages remain.
func (e *Engine) LoadOlder() {
	e.post(loadOlderRequested{})
}

// RefreshPresence re-fetches the best-effort online count.
func (e *Engine) RefreshPresence() {
	go e.refreshPresence()
}

// Close tears the session down: the event loop stops, typing state is
// cleared in one sweep, and the transport is unsubscribed and closed.
// Async results arriving after Close are discarded. Idempotent.
func (e *Engine) Close() {
	e.once.Do(func() {
		close(e.done)
		e.typing.Clear()
		if e.session != nil {
			if err := e.session.Close(); err != nil {
				log.Printf("[Engine] Transport close: %v", err)
			}
		}
	})
}

// post delivers an event to the loop unless the engine is closed.
// This is the liveness gate: callbacks resolving after teardown can
// never mutate a torn-down store.
func (e *Engine) post(ev event) {
	select {
	case <-e.done:
	case e.events <- ev:
	}
}

// postState adapts transport state callbacks into loop events.
func (e *Engine) postState(st transport.State) {
	e.post(stateChanged{state: st})
}

// refreshPresence fetches the online count off-loop and posts the
// result back. Failures are logged only; the count is display data.
func (e *Engine) refreshPresence() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := e.api.PresenceCount(ctx, e.cfg.RoomID)
	if err != nil {
		log.Printf("[Engine] Presence refresh failed: %v", err)
		return
	}
	e.post(presenceFetched{count: count})
}

// newLocalMessage builds a provisional message for an outbound send.
func (e *Engine) newLocalMessage(text string) models.ChatMessage {
	return models.ChatMessage{
		LocalID:     uuid.New().String(),
		RoomID:      e.cfg.RoomID,
		SenderID:    e.cfg.UserID,
		SenderEmail: e.cfg.UserEmail,
		Content:     text,
		Timestamp:   time.Now().UnixMilli(),
	}
}
