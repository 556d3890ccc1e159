package twilio

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies media-stream payload variants.
type EventType string

const (
	TypeConnected EventType = "connected"
	TypeStart     EventType = "start"
	TypeMedia     EventType = "media"
	TypeMark      EventType = "mark"
	TypeStop      EventType = "stop"
	TypeClear     EventType = "clear"
)

type Envelope struct {
	Event EventType `json:"event"`
}

// StartEvent announces a new media stream and carries the stream identifier
// every later outbound event must reference.
type StartEvent struct {
	StreamSID  string
	CallSID    string
	AccountSID string
}

// MediaEvent carries one caller audio frame. Timestamp is the provider's
// stream-relative playback clock in milliseconds; Payload is base64 µ-law
// audio passed through verbatim.
type MediaEvent struct {
	Timestamp int64
	Payload   string
}

// MarkEvent acknowledges that a previously sent media chunk was rendered.
type MarkEvent struct {
	Name string
}

// StopEvent signals the provider ended the stream.
type StopEvent struct {
	StreamSID string
}

// OpaqueEvent is any stream event the relay has no handling for.
type OpaqueEvent struct {
	Event EventType
}

type startBody struct {
	StreamSID  string `json:"streamSid"`
	CallSID    string `json:"callSid"`
	AccountSID string `json:"accountSid"`
}

type mediaBody struct {
	// Twilio reports the timestamp as a string; accept bare numbers too.
	Timestamp json.Number `json:"timestamp"`
	Payload   string      `json:"payload"`
}

type markBody struct {
	Name string `json:"name"`
}

type inboundFrame struct {
	Event  EventType  `json:"event"`
	Start  *startBody `json:"start"`
	Media  *mediaBody `json:"media"`
	Mark   *markBody  `json:"mark"`
	Stream string     `json:"streamSid"`
}

// ParseStreamEvent decodes one inbound media-stream message into a typed
// event. Unknown event kinds decode to OpaqueEvent rather than an error so
// the session can log and continue.
func ParseStreamEvent(raw []byte) (any, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("invalid stream event: %w", err)
	}

	switch frame.Event {
	case TypeStart:
		if frame.Start == nil || frame.Start.StreamSID == "" {
			return nil, errors.New("start event missing streamSid")
		}
		return StartEvent{
			StreamSID:  frame.Start.StreamSID,
			CallSID:    frame.Start.CallSID,
			AccountSID: frame.Start.AccountSID,
		}, nil
	case TypeMedia:
		if frame.Media == nil {
			return nil, errors.New("media event missing body")
		}
		ts, err := frame.Media.Timestamp.Int64()
		if err != nil {
			return nil, fmt.Errorf("media timestamp: %w", err)
		}
		return MediaEvent{Timestamp: ts, Payload: frame.Media.Payload}, nil
	case TypeMark:
		if frame.Mark == nil {
			return nil, errors.New("mark event missing body")
		}
		return MarkEvent{Name: frame.Mark.Name}, nil
	case TypeStop:
		return StopEvent{StreamSID: frame.Stream}, nil
	case "":
		return nil, errors.New("stream event missing event field")
	default:
		return OpaqueEvent{Event: frame.Event}, nil
	}
}

// OutboundMedia is an audio chunk addressed to the caller's device.
type OutboundMedia struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// OutboundMark asks the provider to echo a mark back once all media queued
// before it has been played out.
type OutboundMark struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
	Mark      struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// OutboundClear discards audio buffered on the caller's device but not yet
// played.
type OutboundClear struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
}

func NewOutboundMedia(streamSID, payload string) OutboundMedia {
	m := OutboundMedia{Event: TypeMedia, StreamSID: streamSID}
	m.Media.Payload = payload
	return m
}

func NewOutboundMark(streamSID, name string) OutboundMark {
	m := OutboundMark{Event: TypeMark, StreamSID: streamSID}
	m.Mark.Name = name
	return m
}

func NewOutboundClear(streamSID string) OutboundClear {
	return OutboundClear{Event: TypeClear, StreamSID: streamSID}
}
