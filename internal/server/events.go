package server

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nupi-ai/plugin-vad-local-ten/internal/engine"
)

// EventType names a speech event on the wire.
type EventType string

const (
	EventSpeechStart   EventType = "SPEECH_START"
	EventSpeechOngoing EventType = "SPEECH_ONGOING"
	EventSpeechEnd     EventType = "SPEECH_END"
	// EventFrame carries the raw per-frame result when a stream asks for it.
	EventFrame EventType = "FRAME"
)

// SpeechEvent is one message sent to the client.
type SpeechEvent struct {
	Type       EventType
	Confidence float64
	IsSpeech   bool
	Frame      int64
	// Timestamp is audio time: stream start plus Frame frame durations.
	Timestamp time.Time
	SessionID string
	StreamID  string
}

// Proto encodes the event as a protobuf Struct.
func (e SpeechEvent) Proto() *structpb.Struct {
	fields := map[string]*structpb.Value{
		"type":       structpb.NewStringValue(string(e.Type)),
		"confidence": structpb.NewNumberValue(e.Confidence),
		"flag":       structpb.NewBoolValue(e.IsSpeech),
		"frame":      structpb.NewNumberValue(float64(e.Frame)),
		"timestamp":  structpb.NewStringValue(e.Timestamp.UTC().Format(time.RFC3339Nano)),
	}
	if e.SessionID != "" {
		fields["session_id"] = structpb.NewStringValue(e.SessionID)
	}
	if e.StreamID != "" {
		fields["stream_id"] = structpb.NewStringValue(e.StreamID)
	}
	return &structpb.Struct{Fields: fields}
}

// ParseSpeechEvent decodes an event received from the service.
func ParseSpeechEvent(s *structpb.Struct) (SpeechEvent, error) {
	f := s.GetFields()
	typ := f["type"].GetStringValue()
	if typ == "" {
		return SpeechEvent{}, fmt.Errorf("server: speech event without type")
	}
	e := SpeechEvent{
		Type:       EventType(typ),
		Confidence: f["confidence"].GetNumberValue(),
		IsSpeech:   f["flag"].GetBoolValue(),
		Frame:      int64(f["frame"].GetNumberValue()),
		SessionID:  f["session_id"].GetStringValue(),
		StreamID:   f["stream_id"].GetStringValue(),
	}
	if ts := f["timestamp"].GetStringValue(); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return SpeechEvent{}, fmt.Errorf("server: speech event timestamp: %w", err)
		}
		e.Timestamp = parsed
	}
	return e, nil
}

// segmenter turns per-frame engine flags into speech boundary events. The
// engine already applies the threshold and hangover, so every flag change is
// a boundary.
type segmenter struct {
	inSpeech       bool
	lastConfidence float64
}

func (sg *segmenter) process(r engine.Result) (EventType, bool) {
	sg.lastConfidence = r.Probability
	switch {
	case r.IsSpeech && !sg.inSpeech:
		sg.inSpeech = true
		return EventSpeechStart, true
	case r.IsSpeech:
		return EventSpeechOngoing, true
	case sg.inSpeech:
		sg.inSpeech = false
		return EventSpeechEnd, true
	default:
		return "", false
	}
}
