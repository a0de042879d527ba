package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/recruiter/internal/chat"
	"github.com/ent0n29/recruiter/internal/protocol"
)

func TestClientReceivesMessagesAndSends(t *testing.T) {
	sent := make(chan protocol.Send, 1)
	authHeader := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(protocol.Ready{Type: protocol.TypeReady, SelfID: "bot@c.us"})
		_ = conn.WriteJSON(protocol.InboundMessage{
			Type:       protocol.TypeMessage,
			MessageID:  "m1",
			ChatID:     "5511987654321@c.us",
			Body:       "oi",
			SenderName: "Ana",
			HasMedia:   true,
			Media:      &protocol.Media{MimeType: "application/pdf", DataBase64: "JVBERg=="},
		})

		var out protocol.Send
		if err := conn.ReadJSON(&out); err != nil {
			return
		}
		sent <- out
		// Hold the connection until the client goes away.
		_, _, _ = conn.ReadMessage()
	}))
	defer ts.Close()

	c, err := New(Config{
		URL:    "ws" + strings.TrimPrefix(ts.URL, "http"),
		Token:  "bridge-token",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan chat.Event, 1)
	runDone := make(chan error, 1)
	go func() {
		runDone <- c.Run(ctx, func(ctx context.Context, ev chat.Event) {
			events <- ev
			if err := c.Send(ctx, ev.ChatID, "Olá!"); err != nil {
				t.Errorf("Send() error = %v", err)
			}
		})
	}()

	var ev chat.Event
	select {
	case ev = <-events:
	case <-time.After(5 * time.Second):
		t.Fatalf("no inbound event received")
	}
	if ev.ChatID != "5511987654321@c.us" || ev.Body != "oi" || ev.SenderName != "Ana" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	att, err := ev.FetchAttachment(ctx)
	if err != nil {
		t.Fatalf("FetchAttachment() error = %v", err)
	}
	if att.MimeType != "application/pdf" || string(att.Data) != "%PDF" {
		t.Fatalf("unexpected attachment: %+v", att)
	}
	if c.SelfID() != "bot@c.us" {
		t.Fatalf("SelfID() = %q, want %q", c.SelfID(), "bot@c.us")
	}

	select {
	case out := <-sent:
		if out.Type != protocol.TypeSend || out.ChatID != ev.ChatID || out.Text != "Olá!" || out.CorrelationID == "" {
			t.Fatalf("unexpected send frame: %+v", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("bridge did not receive send frame")
	}
	if got := <-authHeader; got != "Bearer bridge-token" {
		t.Fatalf("Authorization = %q", got)
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}

func TestConnectedTracksBridgeSession(t *testing.T) {
	var dials atomic.Int32
	drop := make(chan struct{})
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if dials.Add(1) == 1 {
			_ = conn.WriteJSON(protocol.Ready{Type: protocol.TypeReady, SelfID: "bot@c.us"})
			<-drop
			return
		}
		// Later sessions never announce readiness.
		_, _, _ = conn.ReadMessage()
	}))
	defer ts.Close()

	c, err := New(Config{
		URL:    "ws" + strings.TrimPrefix(ts.URL, "http"),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Connected() {
		t.Fatalf("Connected() = true before Run")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, func(context.Context, chat.Event) {}) }()

	waitFor(t, "connected after ready", func() bool { return c.Connected() })
	close(drop)
	waitFor(t, "disconnected after bridge closed", func() bool { return !c.Connected() })
	if c.SelfID() != "" {
		t.Fatalf("SelfID() = %q after disconnect, want empty", c.SelfID())
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSendWithoutConnection(t *testing.T) {
	c, err := New(Config{URL: "ws://127.0.0.1:1/bridge"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Send(context.Background(), "a", "x"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestNewValidatesURL(t *testing.T) {
	for _, u := range []string{"", "http://localhost:3001"} {
		if _, err := New(Config{URL: u}); err == nil {
			t.Fatalf("New(%q) error = nil", u)
		}
	}
}

func TestToEventWithoutMedia(t *testing.T) {
	ev := toEvent(protocol.InboundMessage{ChatID: "grp@g.us", Body: "hi"})
	if ev.HasAttachment || ev.Fetch != nil {
		t.Fatalf("unexpected attachment on %+v", ev)
	}
	if !ev.FromGroup() {
		t.Fatalf("FromGroup() = false for @g.us chat")
	}
	if _, err := ev.FetchAttachment(context.Background()); !errors.Is(err, chat.ErrNoAttachment) {
		t.Fatalf("FetchAttachment() error = %v, want ErrNoAttachment", err)
	}
}

func TestSendFrameShape(t *testing.T) {
	raw, _ := json.Marshal(protocol.Send{Type: protocol.TypeSend, ChatID: "a", Text: "b", CorrelationID: "c"})
	want := `{"type":"send","chat_id":"a","text":"b","correlation_id":"c"}`
	if string(raw) != want {
		t.Fatalf("send frame = %s, want %s", raw, want)
	}
}
