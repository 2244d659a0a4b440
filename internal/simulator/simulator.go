// Package simulator implements the call simulator: a client that speaks
// the exact same wire protocol as a telephony provider so the server under
// test cannot distinguish a simulated call from a real one. Two modes share
// one dialer: file mode replays a WAV recording at a configurable pace,
// live-mic mode captures from (and plays back to) a local sound device via
// gen2brain/malgo, as a WebSocket client instead of an in-process call.
package simulator

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lokutor-ai/dialcore/internal/session"
)

func decodeB64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// Dialer owns one WebSocket connection to the server's /streams endpoint
// and the synthetic call/stream identifiers the session (spec.md §4.9)
// expects, framed exactly like a real telephony provider's.
type Dialer struct {
	conn      *websocket.Conn
	streamSid string
	callSid   string
}

// Dial opens the WebSocket connection and sends "connected" + "start".
func Dial(ctx context.Context, url string) (*Dialer, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("simulator: dial %s: %w", url, err)
	}

	d := &Dialer{
		conn:      conn,
		streamSid: "SM" + uuid.NewString(),
		callSid:   "CA" + uuid.NewString(),
	}

	if err := d.send(session.Envelope{Event: session.EventConnected}); err != nil {
		conn.Close()
		return nil, err
	}
	if err := d.send(session.Envelope{
		Event:     session.EventStart,
		StreamSid: d.streamSid,
		Start: &session.StartData{
			StreamSid:  d.streamSid,
			CallSid:    d.callSid,
			AccountSid: "AC" + uuid.NewString(),
		},
	}); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// SendMedia sends one inbound μ-law frame.
func (d *Dialer) SendMedia(payloadB64 string) error {
	return d.send(session.Envelope{
		Event:     session.EventMedia,
		StreamSid: d.streamSid,
		Media:     &session.MediaData{Payload: payloadB64, Track: "inbound"},
	})
}

// Stop sends the "stop" event, signaling end of call.
func (d *Dialer) Stop() error {
	return d.send(session.Envelope{Event: session.EventStop, StreamSid: d.streamSid})
}

// Close closes the underlying connection.
func (d *Dialer) Close() error { return d.conn.Close() }

func (d *Dialer) send(env session.Envelope) error {
	return d.conn.WriteJSON(env)
}

// ReadLoop drains inbound envelopes (the agent's outbound media/mark
// frames) until the connection closes or ctx is cancelled, handing each
// media frame's raw μ-law payload to onMedia. Errors other than a normal
// close are logged and terminate the loop.
func (d *Dialer) ReadLoop(ctx context.Context, onMedia func(mulaw []byte), onMark func(name string)) {
	for {
		if ctx.Err() != nil {
			return
		}
		var env session.Envelope
		if err := d.conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				log.Printf("simulator: read loop ended: %v", err)
			}
			return
		}
		switch env.Event {
		case session.EventMedia:
			if env.Media == nil {
				continue
			}
			raw, err := decodeB64(env.Media.Payload)
			if err != nil {
				continue
			}
			if onMedia != nil {
				onMedia(raw)
			}
		case session.EventMark:
			if env.Mark != nil && onMark != nil {
				onMark(env.Mark.Name)
			}
		}
	}
}
