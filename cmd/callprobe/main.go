// Command callprobe plays a synthetic caller against a running relay and
// reports how quickly assistant audio comes back. It speaks the telephony
// media-stream wire protocol, so it exercises the same path a real call does.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avolpini/callbridge/internal/audio"
	"github.com/avolpini/callbridge/internal/twilio"
)

type options struct {
	wsURL     string
	streamSID string
	toneHz    float64
	speakMS   int
	chunkMS   int
	listenFor time.Duration
	markDelay time.Duration
	verbose   bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "callprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "callprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var listenMS int
	var markDelayMS int

	flag.StringVar(&cfg.wsURL, "url", "ws://127.0.0.1:5050/media-stream", "relay media-stream websocket URL")
	flag.StringVar(&cfg.streamSID, "stream-sid", "MZprobe", "synthetic stream identifier")
	flag.Float64Var(&cfg.toneHz, "tone-hz", 440, "frequency of the synthetic caller tone")
	flag.IntVar(&cfg.speakMS, "speak-ms", 1500, "how long the synthetic caller speaks in milliseconds")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 20, "media chunk size in milliseconds")
	flag.IntVar(&listenMS, "listen-ms", 15000, "how long to wait for assistant audio in milliseconds")
	flag.IntVar(&markDelayMS, "mark-delay-ms", 40, "simulated playback delay before acknowledging a mark")
	flag.BoolVar(&cfg.verbose, "verbose", false, "print every received frame type")
	flag.Parse()

	cfg.wsURL = strings.TrimSpace(cfg.wsURL)
	if cfg.wsURL == "" {
		return options{}, fmt.Errorf("url is required")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 1000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,1000]")
	}
	if cfg.speakMS < cfg.chunkMS {
		return options{}, fmt.Errorf("speak-ms must be at least one chunk")
	}
	if listenMS < 1000 {
		listenMS = 1000
	}
	if markDelayMS < 0 {
		markDelayMS = 0
	}
	cfg.listenFor = time.Duration(listenMS) * time.Millisecond
	cfg.markDelay = time.Duration(markDelayMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.listenFor+time.Minute)
	defer cancel()

	rawConn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer rawConn.Close()
	conn := &probeConn{ws: rawConn}

	start := time.Now()
	var mediaFrames, markFrames, clearFrames atomic.Int64
	var firstAudio atomic.Int64 // ms since start, 0 = not seen

	readDone := make(chan error, 1)
	go func() {
		readDone <- readLoop(conn, cfg, start, &mediaFrames, &markFrames, &clearFrames, &firstAudio)
	}()

	if err := conn.writeJSON(map[string]any{
		"event": "start",
		"start": map[string]any{"streamSid": cfg.streamSID, "callSid": "CAprobe", "accountSid": "ACprobe"},
	}); err != nil {
		return fmt.Errorf("send start: %w", err)
	}

	tone := audio.Tone(cfg.toneHz, cfg.speakMS, 0.6)
	chunkBytes := audio.SampleRate * cfg.chunkMS / 1000
	timestamp := 0
	for off := 0; off < len(tone); off += chunkBytes {
		end := off + chunkBytes
		if end > len(tone) {
			end = len(tone)
		}
		payload := base64.StdEncoding.EncodeToString(tone[off:end])
		err := conn.writeJSON(map[string]any{
			"event": "media",
			"media": map[string]any{
				"timestamp": fmt.Sprintf("%d", timestamp),
				"payload":   payload,
			},
		})
		if err != nil {
			return fmt.Errorf("send media: %w", err)
		}
		timestamp += cfg.chunkMS
		time.Sleep(time.Duration(cfg.chunkMS) * time.Millisecond)
	}

	// Keep the stream clock ticking with silence while we listen. Once the
	// first assistant audio lands we linger one more second to drain the
	// utterance, then hang up like a caller would.
	silence := base64.StdEncoding.EncodeToString(audio.Silence(cfg.chunkMS))
	deadline := time.Now().Add(cfg.listenFor)
	var drainUntil time.Time
	for time.Now().Before(deadline) {
		select {
		case err := <-readDone:
			if err != nil {
				return fmt.Errorf("ws read: %w", err)
			}
			return fmt.Errorf("relay closed the stream early")
		default:
		}
		if firstAudio.Load() > 0 {
			if drainUntil.IsZero() {
				drainUntil = time.Now().Add(time.Second)
			} else if time.Now().After(drainUntil) {
				break
			}
		}
		err := conn.writeJSON(map[string]any{
			"event": "media",
			"media": map[string]any{
				"timestamp": fmt.Sprintf("%d", timestamp),
				"payload":   silence,
			},
		})
		if err != nil {
			break
		}
		timestamp += cfg.chunkMS
		time.Sleep(time.Duration(cfg.chunkMS) * time.Millisecond)
	}

	_ = rawConn.Close()
	<-readDone

	fmt.Printf("callprobe: media=%d marks_acked=%d clears=%d\n",
		mediaFrames.Load(), markFrames.Load(), clearFrames.Load())
	if ms := firstAudio.Load(); ms > 0 {
		fmt.Printf("callprobe: first assistant audio after %dms\n", ms)
		return nil
	}
	return fmt.Errorf("no assistant audio within %s", cfg.listenFor)
}

// probeConn serializes writes so the pacing loop and the mark-ack
// goroutines can share one websocket connection.
type probeConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *probeConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

// readLoop consumes relay frames, acknowledging marks the way a telephony
// device would after playing the audio queued before them.
func readLoop(conn *probeConn, cfg options, start time.Time,
	mediaFrames, markFrames, clearFrames *atomic.Int64, firstAudio *atomic.Int64) error {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return nil
		}
		var frame struct {
			Event string `json:"event"`
			Mark  struct {
				Name string `json:"name"`
			} `json:"mark"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if cfg.verbose {
			fmt.Printf("callprobe: <- %s\n", frame.Event)
		}
		switch frame.Event {
		case "media":
			mediaFrames.Add(1)
			firstAudio.CompareAndSwap(0, time.Since(start).Milliseconds())
		case "mark":
			markFrames.Add(1)
			name := frame.Mark.Name
			go func() {
				time.Sleep(cfg.markDelay)
				_ = conn.writeJSON(twilio.NewOutboundMark(cfg.streamSID, name))
			}()
		case "clear":
			clearFrames.Add(1)
		}
	}
}
