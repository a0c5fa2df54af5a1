package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventverse/eventchat/internal/config"
	"github.com/eventverse/eventchat/internal/engine"
	"github.com/eventverse/eventchat/internal/history"
	"github.com/eventverse/eventchat/internal/models"
	"github.com/eventverse/eventchat/internal/transport"
)

// chatcli is a terminal chat client for one room: it renders engine
// snapshots to stdout and turns stdin lines into sends. "/older" loads
// the previous history page, "/quit" leaves the room.
func main() {
	roomID := flag.String("room", "", "room (event) ID to join")
	flag.Parse()

	if *roomID == "" {
		log.Fatal("usage: chatcli -room <roomId>")
	}

	cfg := config.Load()
	if cfg.UserID == "" {
		log.Fatal("CHAT_USER_ID must be set")
	}

	api := history.NewClient(cfg.APIURL, history.StaticToken(cfg.Token), cfg.HTTPTimeout)

	newSession := func(onState transport.StateFunc) transport.Session {
		if cfg.NATSURL != "" {
			return transport.NewNATSSession(cfg.NATSURL, *roomID, cfg.Token, onState)
		}
		return transport.NewWebSocketSession(cfg.WSURL, *roomID, cfg.Token, onState)
	}

	eng := engine.New(engine.Config{
		RoomID:          *roomID,
		UserID:          cfg.UserID,
		UserEmail:       cfg.UserEmail,
		PageSize:        cfg.PageSize,
		TypingExpiry:    cfg.TypingExpiry,
		TypingStopDelay: cfg.TypingStopDelay,
	}, api, newSession)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := eng.Start(ctx)
	cancel()
	if err != nil {
		log.Fatalf("failed to join room: %v", err)
	}
	defer eng.Close()

	fmt.Printf("joined room %s as %s\n", *roomID, cfg.UserID)

	go render(eng)

	// Leave cleanly on Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		eng.Close()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/older":
			eng.LoadOlder()
		default:
			eng.Typing()
			eng.Send(line)
		}
	}
}

// render prints snapshot changes: new messages as they arrive, typing
// status, and connection transitions.
func render(eng *engine.Engine) {
	var (
		lastLen   int
		lastState = transport.StateDisconnected
	)

	for snap := range eng.Updates() {
		if snap.State != lastState {
			fmt.Printf("-- %s --\n", snap.State)
			lastState = snap.State
		}

		if snap.Anchor != nil {
			loaded := len(snap.Messages) - snap.Anchor.ItemCount
			fmt.Printf("-- loaded %d older messages --\n", loaded)
			lastLen = len(snap.Messages)
			continue
		}

		if len(snap.Messages) < lastLen {
			// Wholesale reseed; reprint nothing, just resync the count
			lastLen = len(snap.Messages)
			continue
		}

		for _, m := range snap.Messages[lastLen:] {
			printMessage(m, snap.ReadByOthers[m.ID])
			if m.ID != "" {
				eng.MarkVisible(m.ID)
			}
		}
		lastLen = len(snap.Messages)

		if len(snap.TypingUsers) == 1 {
			fmt.Printf("-- %s is typing --\n", snap.TypingUsers[0])
		} else if len(snap.TypingUsers) > 1 {
			fmt.Printf("-- %d people are typing --\n", len(snap.TypingUsers))
		}
	}
}

func printMessage(m models.ChatMessage, read bool) {
	sender := m.SenderEmail
	if sender == "" {
		sender = m.SenderID
	}
	ts := time.UnixMilli(m.Timestamp).Format("15:04")

	suffix := ""
	switch m.Delivery {
	case models.DeliveryPending:
		suffix = " (sending...)"
	case models.DeliveryFailed:
		suffix = " (failed)"
	}
	if read {
		suffix += " ✓✓"
	}

	fmt.Printf("[%s] %s: %s%s\n", ts, sender, m.Content, suffix)
}
