package engine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventverse/eventchat/internal/devserver"
	"github.com/eventverse/eventchat/internal/engine"
	"github.com/eventverse/eventchat/internal/history"
	"github.com/eventverse/eventchat/internal/models"
	"github.com/eventverse/eventchat/internal/transport"
)

// fakeSession is an in-memory transport.Session the tests drive by
// hand: connection state flips on demand and pushed events invoke the
// engine's topic handlers directly.
type fakeSession struct {
	mu        sync.Mutex
	onState   transport.StateFunc
	handlers  map[string]transport.Handler
	connected bool
	published map[string][][]byte
}

func newFakeSession(onState transport.StateFunc) *fakeSession {
	return &fakeSession{
		onState:   onState,
		handlers:  make(map[string]transport.Handler),
		published: make(map[string][][]byte),
	}
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.setConnected(true)
	return nil
}

func (f *fakeSession) Subscribe(topic string, h transport.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeSession) Publish(destination string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	f.published[destination] = append(f.published[destination], body)
	return nil
}

func (f *fakeSession) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) setConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	cb := f.onState
	f.mu.Unlock()

	if cb == nil {
		return
	}
	if connected {
		cb(transport.StateConnected)
	} else {
		cb(transport.StateDisconnected)
	}
}

// push delivers one event to a subscribed topic handler.
func (f *fakeSession) push(t *testing.T, topic string, v interface{}) {
	t.Helper()

	body, err := json.Marshal(v)
	require.NoError(t, err)

	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()

	require.NotNil(t, h, "no handler for topic %s", topic)
	h(body)
}

func (f *fakeSession) publishCount(destination string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published[destination])
}

func (f *fakeSession) lastPublished(t *testing.T, destination string) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := f.published[destination]
	require.NotEmpty(t, frames, "nothing published to %s", destination)
	return frames[len(frames)-1]
}

// newBackend serves the REST contract from the devserver fixtures.
func newBackend(t *testing.T) (*devserver.MessageLog, *httptest.Server) {
	messageLog := devserver.NewMessageLog()
	hub := devserver.NewHub(messageLog)
	handler := devserver.NewHandler(hub, messageLog)

	mux := http.NewServeMux()
	mux.HandleFunc("/chat/messages/paginated", handler.GetHistory)
	mux.HandleFunc("/chat/send", handler.SendMessage)
	mux.HandleFunc("/presence", handler.Presence)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return messageLog, srv
}

func startEngine(t *testing.T, srv *httptest.Server) (*engine.Engine, *fakeSession) {
	t.Helper()

	var session *fakeSession
	api := history.NewClient(srv.URL, history.StaticToken("tok"), time.Second)

	eng := engine.New(engine.Config{
		RoomID:          "room-1",
		UserID:          "self",
		UserEmail:       "self@example.com",
		PageSize:        50,
		TypingExpiry:    100 * time.Millisecond,
		TypingStopDelay: 50 * time.Millisecond,
		SweepInterval:   10 * time.Millisecond,
	}, api, func(onState transport.StateFunc) transport.Session {
		session = newFakeSession(onState)
		return session
	})

	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Close)
	return eng, session
}

// waitSnapshot reads updates until one satisfies cond.
func waitSnapshot(t *testing.T, eng *engine.Engine, what string, cond func(engine.Snapshot) bool) engine.Snapshot {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap := <-eng.Updates():
			if cond(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func hasContent(snap engine.Snapshot, content string) bool {
	for _, m := range snap.Messages {
		if m.Content == content {
			return true
		}
	}
	return false
}

func TestStartSeedsFromLatestPage(t *testing.T) {
	messageLog, srv := newBackend(t)
	for i := 0; i < 120; i++ {
		messageLog.Append("room-1", models.ChatMessage{
			SenderID: "u2",
			Content:  fmt.Sprintf("msg %d", i),
		})
	}

	eng, _ := startEngine(t, srv)

	snap := waitSnapshot(t, eng, "seed", func(s engine.Snapshot) bool {
		return len(s.Messages) == 20
	})
	assert.True(t, snap.HasMore)
	assert.Equal(t, "msg 119", snap.Messages[len(snap.Messages)-1].Content,
		"seed shows the most recent messages")
}

func TestLoadOlderPrependsWithAnchor(t *testing.T) {
	messageLog, srv := newBackend(t)
	for i := 0; i < 120; i++ {
		messageLog.Append("room-1", models.ChatMessage{SenderID: "u2", Content: fmt.Sprintf("msg %d", i)})
	}

	eng, _ := startEngine(t, srv)
	waitSnapshot(t, eng, "seed", func(s engine.Snapshot) bool { return len(s.Messages) == 20 })

	eng.LoadOlder()
	snap := waitSnapshot(t, eng, "first older page", func(s engine.Snapshot) bool {
		return s.Anchor != nil
	})
	assert.Equal(t, 70, len(snap.Messages))
	assert.Equal(t, 20, snap.Anchor.ItemCount, "anchor captures the pre-prepend count")
	assert.True(t, snap.HasMore)

	eng.LoadOlder()
	snap = waitSnapshot(t, eng, "last older page", func(s engine.Snapshot) bool {
		return len(s.Messages) == 120 && !s.Loading
	})
	assert.False(t, snap.HasMore, "page 0 exhausts pagination")
	assert.Equal(t, "msg 0", snap.Messages[0].Content)
}

func TestConnectedSendConfirmsViaEcho(t *testing.T) {
	_, srv := newBackend(t)
	eng, session := startEngine(t, srv)

	waitSnapshot(t, eng, "connected", func(s engine.Snapshot) bool {
		return s.State == transport.StateConnected
	})

	eng.Send("hello")

	snap := waitSnapshot(t, eng, "provisional entry", func(s engine.Snapshot) bool {
		return hasContent(s, "hello")
	})
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, models.DeliveryPending, snap.Messages[0].Delivery)

	// Echo the published message back with a server identity
	var sent models.ChatMessage
	require.NoError(t, json.Unmarshal(session.lastPublished(t, transport.DestSend), &sent))
	sent.ID = "srv-1"
	session.push(t, transport.TopicMessages, sent)

	snap = waitSnapshot(t, eng, "confirmation", func(s engine.Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].ID == "srv-1"
	})
	assert.Equal(t, models.DeliveryConfirmed, snap.Messages[0].Delivery)
}

func TestDisconnectedSendFallsBackToRest(t *testing.T) {
	messageLog, srv := newBackend(t)
	eng, session := startEngine(t, srv)

	waitSnapshot(t, eng, "connected", func(s engine.Snapshot) bool {
		return s.State == transport.StateConnected
	})

	session.setConnected(false)
	waitSnapshot(t, eng, "disconnected", func(s engine.Snapshot) bool {
		return s.State == transport.StateDisconnected
	})

	eng.Send("hi from rest")

	// The fallback stores over REST and reseeds: the message comes
	// back confirmed and no provisional entry survives
	snap := waitSnapshot(t, eng, "reseed after fallback", func(s engine.Snapshot) bool {
		return hasContent(s, "hi from rest") && s.Messages[0].ID != ""
	})
	for _, m := range snap.Messages {
		assert.False(t, m.Provisional())
	}
	assert.Equal(t, 0, session.publishCount(transport.DestSend), "no transport publish while disconnected")
	assert.Equal(t, 1, messageLog.Count("room-1"))
}

func TestLiveDuplicateDelivery(t *testing.T) {
	_, srv := newBackend(t)
	eng, session := startEngine(t, srv)

	waitSnapshot(t, eng, "connected", func(s engine.Snapshot) bool {
		return s.State == transport.StateConnected
	})

	msg := models.ChatMessage{ID: "m1", RoomID: "room-1", SenderID: "u2", Content: "once", Timestamp: 100}
	session.push(t, transport.TopicMessages, msg)
	session.push(t, transport.TopicMessages, msg)

	snap := waitSnapshot(t, eng, "message", func(s engine.Snapshot) bool {
		return hasContent(s, "once")
	})
	assert.Len(t, snap.Messages, 1, "redelivery must not duplicate")
}

func TestTypingEventsFlowIntoSnapshot(t *testing.T) {
	_, srv := newBackend(t)
	eng, session := startEngine(t, srv)

	waitSnapshot(t, eng, "connected", func(s engine.Snapshot) bool {
		return s.State == transport.StateConnected
	})

	session.push(t, transport.TopicTyping, models.TypingIndicator{UserID: "u9", RoomID: "room-1", IsTyping: true})
	waitSnapshot(t, eng, "typing user", func(s engine.Snapshot) bool {
		return len(s.TypingUsers) == 1 && s.TypingUsers[0] == "u9"
	})

	session.push(t, transport.TopicTyping, models.TypingIndicator{UserID: "u9", RoomID: "room-1", IsTyping: false})
	waitSnapshot(t, eng, "typing stopped", func(s engine.Snapshot) bool {
		return len(s.TypingUsers) == 0
	})
}

func TestTypingExpiresWithoutRefresh(t *testing.T) {
	_, srv := newBackend(t)
	eng, session := startEngine(t, srv)

	waitSnapshot(t, eng, "connected", func(s engine.Snapshot) bool {
		return s.State == transport.StateConnected
	})

	session.push(t, transport.TopicTyping, models.TypingIndicator{UserID: "u9", IsTyping: true})
	waitSnapshot(t, eng, "typing user", func(s engine.Snapshot) bool {
		return len(s.TypingUsers) == 1
	})

	// TypingExpiry is 100ms in tests; the sweep tick removes the entry
	waitSnapshot(t, eng, "typing expiry", func(s engine.Snapshot) bool {
		return len(s.TypingUsers) == 0
	})
}

func TestOutboundTypingIsThrottled(t *testing.T) {
	_, srv := newBackend(t)
	eng, session := startEngine(t, srv)

	waitSnapshot(t, eng, "connected", func(s engine.Snapshot) bool {
		return s.State == transport.StateConnected
	})

	// A burst of keystrokes publishes exactly one start
	for i := 0; i < 10; i++ {
		eng.Typing()
	}
	assert.Eventually(t, func() bool {
		return session.publishCount(transport.DestTyping) == 1
	}, time.Second, 10*time.Millisecond, "one start-typing publish per burst")

	// After the inactivity window the stop follows
	assert.Eventually(t, func() bool {
		return session.publishCount(transport.DestTyping) == 2
	}, time.Second, 10*time.Millisecond, "stop-typing after inactivity")

	var stop models.TypingIndicator
	require.NoError(t, json.Unmarshal(session.lastPublished(t, transport.DestTyping), &stop))
	assert.False(t, stop.IsTyping)
	assert.Equal(t, "self", stop.UserID)
}

func TestReadReceiptsAggregate(t *testing.T) {
	_, srv := newBackend(t)
	eng, session := startEngine(t, srv)

	waitSnapshot(t, eng, "connected", func(s engine.Snapshot) bool {
		return s.State == transport.StateConnected
	})

	session.push(t, transport.TopicMessages, models.ChatMessage{ID: "m1", SenderID: "self", Content: "mine", Timestamp: 1})
	session.push(t, transport.TopicReadReceipts, models.ReadReceipt{MessageID: "m1", UserID: "u7"})
	session.push(t, transport.TopicReadReceipts, models.ReadReceipt{MessageID: "m1", UserID: "u7"})

	snap := waitSnapshot(t, eng, "read receipt", func(s engine.Snapshot) bool {
		return s.ReadByOthers["m1"]
	})
	assert.True(t, snap.ReadByOthers["m1"])
}

func TestMarkVisiblePublishesOnlyWhileConnected(t *testing.T) {
	_, srv := newBackend(t)
	eng, session := startEngine(t, srv)

	waitSnapshot(t, eng, "connected", func(s engine.Snapshot) bool {
		return s.State == transport.StateConnected
	})

	eng.MarkVisible("m1")
	assert.Eventually(t, func() bool {
		return session.publishCount(transport.DestRead) == 1
	}, time.Second, 10*time.Millisecond)

	session.setConnected(false)
	waitSnapshot(t, eng, "disconnected", func(s engine.Snapshot) bool {
		return s.State == transport.StateDisconnected
	})

	// Visibility while disconnected is dropped, not queued
	eng.MarkVisible("m2")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, session.publishCount(transport.DestRead))
}

func TestReconnectCatchesUpMissedMessages(t *testing.T) {
	messageLog, srv := newBackend(t)
	eng, session := startEngine(t, srv)

	waitSnapshot(t, eng, "connected", func(s engine.Snapshot) bool {
		return s.State == transport.StateConnected
	})

	session.setConnected(false)
	waitSnapshot(t, eng, "disconnected", func(s engine.Snapshot) bool {
		return s.State == transport.StateDisconnected
	})

	// A message lands on the server while we are away
	messageLog.Append("room-1", models.ChatMessage{SenderID: "u2", Content: "missed you"})

	session.setConnected(true)
	snap := waitSnapshot(t, eng, "catch-up", func(s engine.Snapshot) bool {
		return hasContent(s, "missed you")
	})
	assert.Equal(t, transport.StateConnected, snap.State)
}

func TestReseedDuringPaginationDropsStalePage(t *testing.T) {
	messageLog := devserver.NewMessageLog()
	hub := devserver.NewHub(messageLog)
	handler := devserver.NewHandler(hub, messageLog)

	// Page 1 requests stall until released, holding a pagination fetch
	// in flight while other traffic proceeds
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/messages/paginated", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			<-release
		}
		handler.GetHistory(w, r)
	})
	mux.HandleFunc("/chat/send", handler.SendMessage)
	mux.HandleFunc("/presence", handler.Presence)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	for i := 0; i < 150; i++ {
		messageLog.Append("room-1", models.ChatMessage{SenderID: "u2", Content: fmt.Sprintf("msg %d", i)})
	}

	eng, session := startEngine(t, srv)
	waitSnapshot(t, eng, "seed", func(s engine.Snapshot) bool { return len(s.Messages) == 50 })

	session.setConnected(false)
	waitSnapshot(t, eng, "disconnected", func(s engine.Snapshot) bool {
		return s.State == transport.StateDisconnected
	})

	eng.LoadOlder()
	waitSnapshot(t, eng, "pagination in flight", func(s engine.Snapshot) bool { return s.Loading })

	// The REST fallback reseeds the log while the page is in flight
	eng.Send("fallback")
	waitSnapshot(t, eng, "reseed", func(s engine.Snapshot) bool {
		return len(s.Messages) == 1 && hasContent(s, "fallback")
	})

	close(release)

	// The stale page must be discarded: the next load walks back from
	// the reseeded latest page, not from where the old cursor left off
	eng.LoadOlder()
	snap := waitSnapshot(t, eng, "older page after reseed", func(s engine.Snapshot) bool {
		return s.Anchor != nil
	})
	assert.Len(t, snap.Messages, 51)
	assert.Equal(t, 1, snap.Anchor.ItemCount)
	assert.Equal(t, "msg 100", snap.Messages[0].Content)
}

func TestCloseEndsUpdatesStream(t *testing.T) {
	_, srv := newBackend(t)
	eng, _ := startEngine(t, srv)

	eng.Close()

	drained := make(chan struct{})
	go func() {
		for range eng.Updates() {
		}
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("updates channel must close on engine close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	_, srv := newBackend(t)
	eng, session := startEngine(t, srv)

	eng.Close()
	eng.Close()
	assert.False(t, session.Connected())

	// Events arriving after teardown must be discarded quietly
	eng.Send("into the void")
	eng.LoadOlder()
}
