package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeRealtimeServer accepts one websocket connection, records every frame it
// receives, and can push frames back to the client.
type fakeRealtimeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	frames   chan map[string]any
	send     chan string
	authed   chan string
}

func newFakeRealtimeServer(t *testing.T) *fakeRealtimeServer {
	t.Helper()
	f := &fakeRealtimeServer{
		frames: make(chan map[string]any, 32),
		send:   make(chan string, 32),
		authed: make(chan string, 1),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.authed <- r.Header.Get("Authorization")
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		go func() {
			for msg := range f.send {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var obj map[string]any
			if err := json.Unmarshal(data, &obj); err != nil {
				continue
			}
			f.frames <- obj
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRealtimeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeRealtimeServer) nextFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case obj := <-f.frames:
		return obj
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return nil
	}
}

func dialTestSession(t *testing.T, f *fakeRealtimeServer) *Session {
	t.Helper()
	c := NewClient(ClientConfig{APIKey: "sk-test", BaseURL: f.wsURL(), Model: "test-model"})
	s, err := c.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionDialSendsBearerToken(t *testing.T) {
	f := newFakeRealtimeServer(t)
	_ = dialTestSession(t, f)

	select {
	case auth := <-f.authed:
		if auth != "Bearer sk-test" {
			t.Fatalf("Authorization = %q, want %q", auth, "Bearer sk-test")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for handshake")
	}
}

func TestSessionOutboundFrames(t *testing.T) {
	f := newFakeRealtimeServer(t)
	s := dialTestSession(t, f)
	ctx := context.Background()

	if err := s.SendSessionConfig(ctx, DefaultSessionConfig("alloy", "hi", 0.8)); err != nil {
		t.Fatalf("SendSessionConfig() error = %v", err)
	}
	if got := f.nextFrame(t)["type"]; got != "session.update" {
		t.Fatalf("frame type = %v, want session.update", got)
	}

	if err := s.AppendAudio(ctx, "AQID"); err != nil {
		t.Fatalf("AppendAudio() error = %v", err)
	}
	frame := f.nextFrame(t)
	if frame["type"] != "input_audio_buffer.append" || frame["audio"] != "AQID" {
		t.Fatalf("unexpected append frame: %v", frame)
	}

	if err := s.TruncateItem(ctx, "item_1", 150); err != nil {
		t.Fatalf("TruncateItem() error = %v", err)
	}
	frame = f.nextFrame(t)
	if frame["type"] != "conversation.item.truncate" || frame["item_id"] != "item_1" {
		t.Fatalf("unexpected truncate frame: %v", frame)
	}
	if frame["audio_end_ms"] != float64(150) || frame["content_index"] != float64(0) {
		t.Fatalf("unexpected truncate frame: %v", frame)
	}

	if err := s.SeedConversation(ctx, "Say hello"); err != nil {
		t.Fatalf("SeedConversation() error = %v", err)
	}
	if got := f.nextFrame(t)["type"]; got != "conversation.item.create" {
		t.Fatalf("frame type = %v, want conversation.item.create", got)
	}
	if got := f.nextFrame(t)["type"]; got != "response.create" {
		t.Fatalf("frame type = %v, want response.create", got)
	}
}

func TestSessionInboundEvents(t *testing.T) {
	f := newFakeRealtimeServer(t)
	s := dialTestSession(t, f)

	f.send <- `{"type":"session.created"}`
	f.send <- `{"type":"response.audio.delta","delta":"BBBB","item_id":"item_9"}`
	f.send <- `{"type":"input_audio_buffer.speech_started"}`

	waitEvent := func() Event {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("events channel closed early")
			}
			return ev
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event")
			return Event{}
		}
	}

	if ev := waitEvent(); ev.Kind != EventOpaque {
		t.Fatalf("first event kind = %q, want opaque", ev.Kind)
	}
	ev := waitEvent()
	if ev.Kind != EventAudioDelta || ev.AudioBase64 != "BBBB" || ev.ItemID != "item_9" {
		t.Fatalf("unexpected delta event: %+v", ev)
	}
	if ev := waitEvent(); ev.Kind != EventSpeechStarted {
		t.Fatalf("event kind = %q, want speech_started", ev.Kind)
	}
}

func TestSessionCloseWhileEventsUndrained(t *testing.T) {
	f := newFakeRealtimeServer(t)
	s := dialTestSession(t, f)

	// Flood well past the event buffer with nobody draining Events, so the
	// read loop ends up blocked on a full channel.
	go func() {
		for i := 0; i < 400; i++ {
			select {
			case f.send <- `{"type":"response.audio.delta","delta":"AA","item_id":"item_1"}`:
			case <-time.After(2 * time.Second):
				return
			}
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.events) < cap(s.events) {
		if time.Now().After(deadline) {
			t.Fatalf("event buffer never filled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Closing mid-stream must stop the blocked sender cleanly, not panic
	// with a send on a closed channel.
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatalf("events channel never closed after Close")
		}
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	f := newFakeRealtimeServer(t)
	s := dialTestSession(t, f)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	// Events drains and closes after the read loop exits.
	select {
	case _, ok := <-s.Events():
		if ok {
			// A late event is fine; the channel still has to close.
			for range s.Events() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events channel never closed")
	}
}
