package server

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/dialcore/internal/filler"
	"github.com/lokutor-ai/dialcore/internal/registry"
	"github.com/lokutor-ai/dialcore/internal/session"
	"github.com/lokutor-ai/dialcore/internal/turn"
	"github.com/lokutor-ai/dialcore/internal/vad"
	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// wsSender adapts one coder/websocket connection to audiosend.Sender,
// wire-framing outbound audio in the same base64-in-JSON-envelope shape
// the inbound media events use (spec.md §6).
type wsSender struct {
	conn      *websocket.Conn
	streamSid func() string
}

func (w *wsSender) WriteMediaFrame(ctx context.Context, payload []byte) error {
	env := session.Envelope{
		Event:     session.EventMedia,
		StreamSid: w.streamSid(),
		Media:     &session.MediaData{Payload: base64.StdEncoding.EncodeToString(payload)},
	}
	return wsjson.Write(ctx, w.conn, env)
}

func (w *wsSender) WriteMark(ctx context.Context, name string) error {
	env := session.Envelope{
		Event:     session.EventMark,
		StreamSid: w.streamSid(),
		Mark:      &session.MarkData{Name: name},
	}
	return wsjson.Write(ctx, w.conn, env)
}

// greetFunc schedules the initial greeting; internal/session.ScheduleGreeting
// matches this shape.
type greetFunc func(ctx context.Context, sess *session.CallSession, sender *wsSender, live func() bool)

// connLoop owns one live call's WebSocket lifecycle: upgrade already
// happened (conn is live), this reads Envelope frames until the peer
// closes or an unrecoverable error occurs, feeding VAD segmentation and
// the turn handler.
type connLoop struct {
	conn     *websocket.Conn
	sess     *session.CallSession
	sender   *wsSender
	handler  *turn.Handler
	filler   *filler.Coordinator
	greet    greetFunc
	registry registry.CallRegistry
	// startWait bounds how long the loop waits for "start" after
	// "connected" before logging the greeting-skipped error (spec.md §5).
	startWait time.Duration
	logger    contracts.Logger

	live         bool
	speechFrames int
}

// run blocks until the connection closes.
func (c *connLoop) run(ctx context.Context) {
	defer c.sess.Close()
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	start := time.Now()
	for {
		var env session.Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			if !isNormalClose(err) {
				c.logger.Warn("stream read failed", "call_id", c.sess.CallID(), "err", err)
			}
			return
		}

		switch env.Event {
		case session.EventConnected:
			c.sess.SetConnected()
			c.live = true
			c.maybeGreet(ctx)
			c.watchStartWait(ctx)
		case session.EventStart:
			if env.Start != nil {
				c.sess.BindStream(env.Start.StreamSid, env.Start.CallSid)
				c.resolveCallID(ctx, env.Start)
			}
			c.maybeGreet(ctx)
		case session.EventMedia:
			if env.Media == nil || (env.Media.Track != "" && env.Media.Track != "inbound") {
				continue
			}
			c.handleMedia(ctx, env.Media, time.Since(start).Milliseconds())
		case session.EventStop:
			return
		}
	}
}

// resolveCallID implements spec.md §4.5's call_id binding fallback chain:
// start.callSid (already tried by BindStream), then start.accountSid, then
// a best-effort lookup of the most recent "ringing" registry entry. If all
// three come up empty, the session logs an error and continues without
// persistence rather than failing the call.
func (c *connLoop) resolveCallID(ctx context.Context, start *session.StartData) {
	if c.sess.CallID() != "" {
		return
	}
	if start.AccountSid != "" {
		c.sess.SetCallID(start.AccountSid)
		return
	}
	if c.registry != nil {
		if ringing, ok, err := c.registry.MostRecentRinging(ctx); err == nil && ok {
			c.sess.SetCallID(ringing.CallID)
			return
		}
	}
	c.logger.Error("call_id binding failed: callSid, accountSid, and registry lookup all unavailable, continuing without persistence", "stream_id", start.StreamSid)
}

// watchStartWait logs the greeting-skipped error spec.md §5 requires when
// "start" never arrives within startWait of "connected" (the first of the
// two bounded greeting waits; the second, waiting for the socket to reach
// OPEN, is handled by session.ScheduleGreeting's waitForLive).
func (c *connLoop) watchStartWait(ctx context.Context) {
	if c.startWait <= 0 {
		return
	}
	go func() {
		timer := time.NewTimer(c.startWait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			if !c.sess.Snapshot().StartReceived {
				c.logger.Error("greeting skipped: start not received in time", "call_id", c.sess.CallID())
			}
		}
	}()
}

func (c *connLoop) maybeGreet(ctx context.Context) {
	if !c.sess.ReadyForGreeting() {
		return
	}
	go c.greet(ctx, c.sess, c.sender, c.isLive)
}

func (c *connLoop) isLive() bool { return c.live }

func (c *connLoop) handleMedia(ctx context.Context, media *session.MediaData, nowMs int64) {
	frame, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		c.logger.Warn("malformed media payload", "call_id", c.sess.CallID(), "err", err)
		return
	}

	whilePlaying := c.sess.Sched.Sending()
	suppressed := c.sess.Sched.GreetingInProgress()
	event := c.sess.VAD.Process(frame, whilePlaying, suppressed, nowMs)

	if c.sess.VAD.IsSpeaking() {
		c.speechFrames++
		if whilePlaying {
			c.filler.HandleSpeechStart(c.sess.Sched, c.speechFrames)
		}
	} else {
		c.speechFrames = 0
	}

	if event == nil || event.Type != vad.EventSpeechEnd || event.Discarded {
		return
	}
	c.handler.EnqueueSegment(ctx, c.sess, c.sender, c.isLive, event.Segment)
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
