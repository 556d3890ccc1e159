package relay

import (
	"context"
	"log"
	"time"

	"github.com/avolpini/callbridge/internal/observability"
	"github.com/avolpini/callbridge/internal/realtime"
	"github.com/avolpini/callbridge/internal/twilio"
)

// AIStream is the duplex realtime speech connection a session relays against.
// *realtime.Session satisfies it; tests substitute fakes.
type AIStream interface {
	Events() <-chan realtime.Event
	SendSessionConfig(ctx context.Context, cfg realtime.SessionConfig) error
	AppendAudio(ctx context.Context, audioBase64 string) error
	TruncateItem(ctx context.Context, itemID string, audioEndMS int64) error
	SeedConversation(ctx context.Context, text string) error
	Close() error
}

// AIDialer opens the AI transport for one session.
type AIDialer interface {
	DialStream(ctx context.Context) (AIStream, error)
}

// AIDialerFunc adapts a function to AIDialer.
type AIDialerFunc func(ctx context.Context) (AIStream, error)

func (f AIDialerFunc) DialStream(ctx context.Context) (AIStream, error) { return f(ctx) }

// TelephonySender writes outbound events to the caller's media stream. The
// session is its only writer.
type TelephonySender interface {
	WriteJSON(v any) error
}

// Options configures one relay session.
type Options struct {
	SessionConfig realtime.SessionConfig
	// SettleWait is the pause between the websocket handshake and the
	// session.update, giving the provider time to finish its own setup.
	SettleWait time.Duration
	// Greeting, when non-empty, seeds a pre-authored opening so the
	// assistant speaks first.
	Greeting string
}

// markName is the literal mark label sent after every relayed audio chunk;
// the queue tracks outstanding playback by count, not by name.
const markName = "responsePart"

// Session bridges one telephony media stream with one realtime AI stream.
//
// All five state fields are mutated only from the Run goroutine: the
// telephony reader and the AI read loop both funnel their events into Run's
// single ordered loop, so an interruption and an audio delta can never race.
type Session struct {
	id      string
	tel     TelephonySender
	dialer  AIDialer
	ai      AIStream
	opts    Options
	metrics *observability.Metrics

	streamSID            string
	latestMediaTimestamp int64
	lastAssistantItem    string
	markQueue            []string
	// responseStart is the caller-clock timestamp at which the current AI
	// utterance began playing; -1 while no utterance is in flight.
	responseStart int64

	startedAt  time.Time
	heardAudio bool
}

func NewSession(id string, tel TelephonySender, dialer AIDialer, metrics *observability.Metrics, opts Options) *Session {
	return &Session{
		id:            id,
		tel:           tel,
		dialer:        dialer,
		metrics:       metrics,
		opts:          opts,
		responseStart: -1,
	}
}

// Run owns the session's whole lifetime: it dials the AI transport, performs
// the configuration handshake, then relays events until either transport
// closes or ctx is cancelled. inbound carries parsed telephony events; the
// caller closes it when the telephony socket closes.
func (s *Session) Run(ctx context.Context, inbound <-chan any) error {
	s.startedAt = time.Now()

	ai, err := s.dialer.DialStream(ctx)
	if err != nil {
		return err
	}
	s.metrics.ObserveStage(observability.StageAIDial, time.Since(s.startedAt))
	s.ai = ai
	defer func() {
		_ = ai.Close()
		s.ai = nil
	}()

	if s.opts.SettleWait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.SettleWait):
		}
	}

	if err := ai.SendSessionConfig(ctx, s.opts.SessionConfig); err != nil {
		return err
	}
	s.metrics.WSMessages.WithLabelValues("realtime", "outbound", "session_update").Inc()
	if s.opts.Greeting != "" {
		if err := ai.SeedConversation(ctx, s.opts.Greeting); err != nil {
			return err
		}
		s.metrics.WSMessages.WithLabelValues("realtime", "outbound", "conversation_seed").Inc()
	}
	s.metrics.ObserveStage(observability.StageSessionReady, time.Since(s.startedAt))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-inbound:
			if !ok {
				// Telephony side closed; tear the AI side down too.
				return nil
			}
			if err := s.handleTelephonyEvent(ctx, ev); err != nil {
				return err
			}
		case ev, ok := <-ai.Events():
			if !ok {
				// AI side closed; the telephony socket is closed by
				// our caller once Run returns.
				return nil
			}
			if err := s.handleAIEvent(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// handleTelephonyEvent applies one caller-side event. A returned error is
// fatal to the session (telephony write failure); everything else recovers.
func (s *Session) handleTelephonyEvent(ctx context.Context, ev any) error {
	switch ev := ev.(type) {
	case twilio.StartEvent:
		s.handleStart(ev)
	case twilio.MediaEvent:
		s.handleMedia(ctx, ev)
	case twilio.MarkEvent:
		s.handleMark(ev)
	case twilio.StopEvent:
		log.Printf("relay %s: stream %s stopped", s.id, ev.StreamSID)
	case twilio.OpaqueEvent:
		log.Printf("relay %s: ignoring telephony event %q", s.id, ev.Event)
	default:
		log.Printf("relay %s: ignoring unexpected telephony event %T", s.id, ev)
	}
	return nil
}

// handleStart records the stream identifier and resets the stream clock. A
// provider may restart the stream mid-connection, so all utterance tracking
// resets with it.
func (s *Session) handleStart(ev twilio.StartEvent) {
	s.streamSID = ev.StreamSID
	s.latestMediaTimestamp = 0
	s.responseStart = -1
	s.metrics.CallEvents.WithLabelValues("stream_started").Inc()
	log.Printf("relay %s: stream started sid=%s call=%s", s.id, ev.StreamSID, ev.CallSID)
}

// handleMedia advances the caller clock and forwards the frame verbatim.
func (s *Session) handleMedia(ctx context.Context, ev twilio.MediaEvent) {
	s.latestMediaTimestamp = ev.Timestamp
	if s.ai == nil {
		// Frame loss is acceptable while the AI transport is down.
		return
	}
	if err := s.ai.AppendAudio(ctx, ev.Payload); err != nil {
		log.Printf("relay %s: append audio: %v", s.id, err)
		return
	}
	s.metrics.RelayedFrames.WithLabelValues("caller_to_ai").Inc()
	s.metrics.WSMessages.WithLabelValues("realtime", "outbound", "audio_append").Inc()
}

// handleMark confirms playback of one previously sent media chunk.
func (s *Session) handleMark(twilio.MarkEvent) {
	if len(s.markQueue) == 0 {
		return
	}
	s.markQueue = s.markQueue[1:]
}

func (s *Session) handleAIEvent(ctx context.Context, ev realtime.Event) error {
	s.metrics.WSMessages.WithLabelValues("realtime", "inbound", string(ev.Kind)).Inc()
	switch ev.Kind {
	case realtime.EventAudioDelta:
		return s.handleAudioDelta(ev)
	case realtime.EventSpeechStarted:
		s.handleSpeechStarted(ctx)
		return nil
	case realtime.EventError:
		s.metrics.ProviderErrors.WithLabelValues("realtime", ev.Code).Inc()
		log.Printf("relay %s: realtime error code=%s retryable=%v: %s", s.id, ev.Code, ev.Retryable, ev.Detail)
		return nil
	default:
		log.Printf("relay %s: realtime event %q", s.id, ev.Type)
		return nil
	}
}

// handleAudioDelta forwards synthesized speech to the caller and anchors the
// utterance to the caller-side clock on its first chunk.
func (s *Session) handleAudioDelta(ev realtime.Event) error {
	if s.streamSID == "" {
		// No outbound telephony event may be sent before the stream
		// identifier is known.
		return nil
	}

	if err := s.tel.WriteJSON(twilio.NewOutboundMedia(s.streamSID, ev.AudioBase64)); err != nil {
		return err
	}
	s.metrics.RelayedFrames.WithLabelValues("ai_to_caller").Inc()
	s.metrics.WSMessages.WithLabelValues("telephony", "outbound", "media").Inc()

	if !s.heardAudio {
		s.heardAudio = true
		s.metrics.ObserveFirstAudioLatency(time.Since(s.startedAt))
	}
	if s.responseStart < 0 {
		s.responseStart = s.latestMediaTimestamp
	}
	if ev.ItemID != "" {
		s.lastAssistantItem = ev.ItemID
	}

	if err := s.tel.WriteJSON(twilio.NewOutboundMark(s.streamSID, markName)); err != nil {
		return err
	}
	s.metrics.WSMessages.WithLabelValues("telephony", "outbound", "mark").Inc()
	s.markQueue = append(s.markQueue, markName)
	return nil
}
