// Package carrier speaks the telephony gateway's wire protocols: the JSON
// event stream carried over the media WebSocket, the TwiML document that
// routes an answered call into that stream, and the REST call that places
// an outbound call.
package carrier

import (
	"encoding/json"
	"fmt"
)

// Media stream event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventDTMF      = "dtmf"
)

// Event is one message on the media WebSocket, inbound or outbound. Only
// the payload matching Event is populated.
type Event struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
}

// StartPayload describes the stream announced by a start event.
type StartPayload struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat is the audio encoding of a stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64 audio frame.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// ParseEvent decodes one inbound WebSocket message.
func ParseEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("carrier: decode event: %w", err)
	}
	if ev.Event == "" {
		return Event{}, fmt.Errorf("carrier: event without type")
	}
	return ev, nil
}

// MediaMessage encodes an outbound media event carrying one base64 μ-law
// frame payload.
func MediaMessage(streamSid, payload string) ([]byte, error) {
	return json.Marshal(Event{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaPayload{Payload: payload},
	})
}

// ClearMessage encodes an outbound clear event, asking the gateway to drop
// its buffered audio for the stream.
func ClearMessage(streamSid string) ([]byte, error) {
	return json.Marshal(Event{
		Event:     "clear",
		StreamSid: streamSid,
	})
}
