package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/avolpini/callbridge/internal/reliability"
)

// ClientConfig holds connection settings for the realtime speech API.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client dials realtime sessions.
type Client struct {
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "wss://api.openai.com"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-realtime-preview-2024-10-01"
	}
	return &Client{cfg: cfg}
}

// Dial opens one realtime session websocket and starts its read loop. The
// caller owns the returned session and must Close it.
func (c *Client) Dial(ctx context.Context) (*Session, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/realtime")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial realtime websocket: %w", err)
	}

	s := &Session{
		conn:   conn,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Session is one live realtime connection. Writes are serialized internally;
// inbound events arrive on Events until the connection closes.
type Session struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan Event
	// done is closed by Close; the read loop watches it so a blocked send
	// on events cannot outlive the session. Only the read loop closes
	// events itself, which keeps Close safe to call mid-stream.
	done chan struct{}
}

func (s *Session) Events() <-chan Event { return s.events }

// SendSessionConfig transmits the one-time session.update configuration.
func (s *Session) SendSessionConfig(_ context.Context, cfg SessionConfig) error {
	return s.writeJSON(sessionUpdatePayload(cfg))
}

// AppendAudio forwards one caller audio frame, payload passed through verbatim.
func (s *Session) AppendAudio(_ context.Context, audioBase64 string) error {
	return s.writeJSON(audioAppendFrame{Type: typeAudioAppend, Audio: audioBase64})
}

// TruncateItem tells the model its in-flight utterance was cut short after
// audioEndMS milliseconds of playback, so the conversation history reflects
// only what the caller actually heard.
func (s *Session) TruncateItem(_ context.Context, itemID string, audioEndMS int64) error {
	return s.writeJSON(itemTruncateFrame{
		Type:       typeItemTruncate,
		ItemID:     itemID,
		AudioEndMS: audioEndMS,
	})
}

// SeedConversation enqueues a pre-authored opening instruction and requests a
// response, letting the assistant speak first.
func (s *Session) SeedConversation(_ context.Context, text string) error {
	err := s.writeJSON(itemCreateFrame{
		Type: typeItemCreate,
		Item: itemBody{
			Type:    "message",
			Role:    "user",
			Content: []itemContent{{Type: "input_text", Text: text}},
		},
	})
	if err != nil {
		return err
	}
	return s.writeJSON(responseCreateFrame{Type: typeResponseCreate})
}

// Close tears the connection down. The events channel is closed by the read
// loop once it has stopped, never here.
func (s *Session) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *Session) writeJSON(payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *Session) readLoop() {
	defer func() {
		_ = s.Close()
		close(s.events)
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := ParseServerEvent(data)
		if err != nil {
			// Malformed frame: drop it, the session continues.
			continue
		}
		if ev.Kind == EventError {
			ev.Retryable = reliability.IsRetryableRealtimeCode(ev.Code)
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
