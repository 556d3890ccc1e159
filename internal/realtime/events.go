package realtime

import (
	"encoding/json"
	"fmt"
)

// Wire type strings for the realtime speech API.
const (
	typeSessionUpdate  = "session.update"
	typeAudioAppend    = "input_audio_buffer.append"
	typeItemCreate     = "conversation.item.create"
	typeItemTruncate   = "conversation.item.truncate"
	typeResponseCreate = "response.create"

	typeAudioDelta    = "response.audio.delta"
	typeSpeechStarted = "input_audio_buffer.speech_started"
	typeError         = "error"
)

// EventKind classifies inbound realtime events for the relay.
type EventKind string

const (
	EventAudioDelta    EventKind = "audio_delta"
	EventSpeechStarted EventKind = "speech_started"
	EventError         EventKind = "error"
	EventOpaque        EventKind = "opaque"
)

// Event is one decoded inbound message from the realtime session.
type Event struct {
	Kind EventKind
	// Type is the raw wire type string, kept for logging opaque events.
	Type        string
	AudioBase64 string
	ItemID      string
	Code        string
	Detail      string
	Retryable   bool
}

// SessionConfig is the immutable configuration sent once per connection.
type SessionConfig struct {
	// TurnDetection selects "server_vad" or "none".
	TurnDetection     string
	InputAudioFormat  string
	OutputAudioFormat string
	Voice             string
	Instructions      string
	Modalities        []string
	Temperature       float64
}

// DefaultSessionConfig matches the narrow-band telephony contract: both
// directions g711 µ-law, server-side voice activity detection.
func DefaultSessionConfig(voice, instructions string, temperature float64) SessionConfig {
	return SessionConfig{
		TurnDetection:     "server_vad",
		InputAudioFormat:  "g711_ulaw",
		OutputAudioFormat: "g711_ulaw",
		Voice:             voice,
		Instructions:      instructions,
		Modalities:        []string{"text", "audio"},
		Temperature:       temperature,
	}
}

type turnDetectionBody struct {
	Type string `json:"type"`
}

type sessionBody struct {
	TurnDetection     *turnDetectionBody `json:"turn_detection"`
	InputAudioFormat  string             `json:"input_audio_format"`
	OutputAudioFormat string             `json:"output_audio_format"`
	Voice             string             `json:"voice"`
	Instructions      string             `json:"instructions"`
	Modalities        []string           `json:"modalities"`
	Temperature       float64            `json:"temperature"`
}

type sessionUpdateFrame struct {
	Type    string      `json:"type"`
	Session sessionBody `json:"session"`
}

type audioAppendFrame struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemTruncateFrame struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type itemBody struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []itemContent `json:"content"`
}

type itemCreateFrame struct {
	Type string   `json:"type"`
	Item itemBody `json:"item"`
}

type responseCreateFrame struct {
	Type string `json:"type"`
}

func sessionUpdatePayload(cfg SessionConfig) sessionUpdateFrame {
	frame := sessionUpdateFrame{
		Type: typeSessionUpdate,
		Session: sessionBody{
			InputAudioFormat:  cfg.InputAudioFormat,
			OutputAudioFormat: cfg.OutputAudioFormat,
			Voice:             cfg.Voice,
			Instructions:      cfg.Instructions,
			Modalities:        cfg.Modalities,
			Temperature:       cfg.Temperature,
		},
	}
	// turn_detection: null disables server VAD entirely.
	if cfg.TurnDetection != "" && cfg.TurnDetection != "none" {
		frame.Session.TurnDetection = &turnDetectionBody{Type: cfg.TurnDetection}
	}
	return frame
}

type serverFrame struct {
	Type   string `json:"type"`
	Delta  string `json:"delta"`
	ItemID string `json:"item_id"`
	Error  *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseServerEvent decodes one inbound realtime message. Event kinds the
// relay does not act on come back as EventOpaque with the raw type string.
func ParseServerEvent(raw []byte) (Event, error) {
	var frame serverFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Event{}, fmt.Errorf("invalid realtime event: %w", err)
	}

	switch frame.Type {
	case typeAudioDelta:
		return Event{
			Kind:        EventAudioDelta,
			Type:        frame.Type,
			AudioBase64: frame.Delta,
			ItemID:      frame.ItemID,
		}, nil
	case typeSpeechStarted:
		return Event{Kind: EventSpeechStarted, Type: frame.Type}, nil
	case typeError:
		ev := Event{Kind: EventError, Type: frame.Type}
		if frame.Error != nil {
			ev.Code = frame.Error.Code
			ev.Detail = frame.Error.Message
		}
		return ev, nil
	case "":
		return Event{}, fmt.Errorf("realtime event missing type field")
	default:
		return Event{Kind: EventOpaque, Type: frame.Type}, nil
	}
}
