// Package audiosend implements the generation-tagged, cooperatively
// cancellable outbound audio scheduler (spec.md §4.3): the
// systems-idiomatic replacement for an ad-hoc "is_playing" boolean. Every
// send is tagged with a monotonically increasing generation; a stop
// request names the generation it wants to stop; an uninterruptible
// generation is simply exempt from the signal.
package audiosend

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokutor-ai/dialcore/internal/callerr"
	"github.com/lokutor-ai/dialcore/pkg/codec"
)

// tickInterval is the wall-clock pace of outbound chunks: one 160-byte
// frame every 20ms, matching the peer's jitter buffer expectations.
const tickInterval = 20 * time.Millisecond

// Sender is how the scheduler reaches the wire; internal/session's
// per-call WebSocket connection implements it.
type Sender interface {
	WriteMediaFrame(ctx context.Context, payload []byte) error
	WriteMark(ctx context.Context, name string) error
}

// Options configures one Send call.
type Options struct {
	// Label identifies the send's purpose ("greeting", "filler", "reply")
	// for logging; the literal value "greeting" also sets
	// greeting_in_progress for the VAD guard's duration.
	Label string
	// Uninterruptible marks the generation exempt from stop requests.
	Uninterruptible bool
}

// Scheduler owns one call's audio-send generation state: active_gen,
// stop_gen, uninterruptible_gen, sending, greeting_in_progress, exactly the
// fields spec.md §3 assigns to this concern.
type Scheduler struct {
	sendMu sync.Mutex // serializes Send bodies: only one send in flight at a time

	mu                 sync.Mutex
	activeGen          uint64
	stopGen            uint64
	uninterruptibleGen uint64
	sending            bool
	greetingInProgress bool
	inFlight           chan struct{}
}

// New builds an idle Scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Sending reports whether a generation is currently being sent.
func (s *Scheduler) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// GreetingInProgress reports whether the current generation is the
// greeting, for the VAD suppression guard.
func (s *Scheduler) GreetingInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greetingInProgress
}

// Send streams mulaw to sender in 160-byte frames, one per 20ms tick,
// under a new generation. It returns true if the send completed
// naturally (and emitted a mark event), false if it was cancelled via
// RequestStop. live is consulted before the send starts, modeling "session
// liveness and stream_id known"; a nil live is treated as always-live.
func (s *Scheduler) Send(ctx context.Context, sender Sender, mulaw []byte, opts Options, live func() bool) (bool, error) {
	if live != nil && !live() {
		return false, callerr.Protocol("audio send attempted before stream_id is known", nil)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	g := s.activeGen + 1
	s.activeGen = g
	s.sending = true
	if opts.Uninterruptible {
		s.uninterruptibleGen = g
	}
	if opts.Label == "greeting" {
		s.greetingInProgress = true
	}
	done := make(chan struct{})
	s.inFlight = done
	s.mu.Unlock()

	completed := true
	defer func() {
		s.mu.Lock()
		if s.activeGen == g {
			s.sending = false
			s.greetingInProgress = false
			if s.uninterruptibleGen == g {
				s.uninterruptibleGen = 0
			}
		}
		close(done)
		s.mu.Unlock()
	}()

	frames, _ := codec.Chunk(mulaw, codec.FrameBytes)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for i, frame := range frames {
		if s.isStopped(g) {
			completed = false
			break
		}
		if err := sender.WriteMediaFrame(ctx, frame); err != nil {
			return false, callerr.Transport("write media frame", err)
		}
		if i < len(frames)-1 {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}

	if !completed {
		return false, nil
	}

	if err := sender.WriteMark(ctx, uuid.NewString()); err != nil {
		return false, callerr.Transport("write mark", err)
	}
	return true, nil
}

func (s *Scheduler) isStopped(g uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopGen == g && s.uninterruptibleGen != g
}

// RequestStop sets stop_gen to the current active_gen, unless that
// generation is uninterruptible, in which case the request is silently
// ignored (uninterruptible generations always emit their final mark).
func (s *Scheduler) RequestStop(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uninterruptibleGen == s.activeGen {
		return false
	}
	s.stopGen = s.activeGen
	return true
}

// StopAndWait requests a stop and blocks until the current send's
// completion future resolves (or ctx is done). Callers must call this
// before starting a new Send; Send's internal sendMu also enforces it as a
// safety net.
func (s *Scheduler) StopAndWait(ctx context.Context, reason string) {
	s.mu.Lock()
	inFlight := s.inFlight
	s.mu.Unlock()

	s.RequestStop(reason)

	if inFlight == nil {
		return
	}
	select {
	case <-inFlight:
	case <-ctx.Done():
	}
}
