// Package session implements the per-call state machine (spec.md §3/§4.5):
// the WebSocket handshake, call_id binding, per-call mutable state, and the
// initial-greeting scheduling policy. It owns no transport of its own — the
// WebSocket connection and the serialized event loop live in internal/server
// — so this package can be exercised with nothing but plain Go values and a
// package that is easy to unit test.
package session

// EventType is the wire protocol's "event" discriminator, spec.md §6.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventMark      EventType = "mark"
	EventStop      EventType = "stop"
)

// Envelope is the generic inbound/outbound frame shape: every field other
// than Event is optional depending on Event's value, a flat struct rather
// than a sum type (Go has no native tagged unions, and JSON wire code
// typically uses this same flat-struct-with-omitempty shape).
type Envelope struct {
	Event     EventType  `json:"event"`
	StreamSid string     `json:"streamSid,omitempty"`
	Start     *StartData `json:"start,omitempty"`
	Media     *MediaData `json:"media,omitempty"`
	Mark      *MarkData  `json:"mark,omitempty"`
}

// StartData carries the peer's stream/call/account identifiers, present
// only on the "start" event.
type StartData struct {
	StreamSid  string `json:"streamSid"`
	CallSid    string `json:"callSid"`
	AccountSid string `json:"accountSid"`
}

// MediaData carries one window of base64 μ-law audio. Track is absent on
// frames the agent sends and is one of "inbound"/"outbound"/"both" on
// frames the peer sends; only "inbound" (or absent) is processed, since
// "outbound" and "both" both carry the agent's own echo, per spec.md §4.5.
type MediaData struct {
	Payload string `json:"payload"`
	Track   string `json:"track,omitempty"`
}

// MarkData names an end-of-utterance marker, sent by the agent after a
// completed Send and, optionally, echoed back by the peer.
type MarkData struct {
	Name string `json:"name"`
}
