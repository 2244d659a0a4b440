package session

import (
	"sync"
	"time"

	"github.com/lokutor-ai/dialcore/internal/audiosend"
	"github.com/lokutor-ai/dialcore/internal/vad"
	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// TTSBinding is the per-call (engine, voice, speed) triple spec.md §3 calls
// out as distinct from process-wide default configuration; it is resolved
// from the external call registry and falls back to process defaults when
// unavailable.
type TTSBinding struct {
	Engine contracts.Engine
	Voice  contracts.Voice
	Speed  float64
}

// State is the mutex-protected subset of CallSession's fields; the
// audiosend.Scheduler has its own lock, and the vad.Detector has none and
// is driven only from the connection's read loop. Kept as its own struct so Snapshot can return a cheap
// value copy for logging/metrics without exposing the lock.
type State struct {
	CallID        string
	StreamID      string
	Connected     bool
	StartReceived bool
	InitialSent   bool

	GreetingScheduled bool

	Binding TTSBinding

	ClosingAsked     bool
	PurposeCaptured  bool
	AIEnabled        bool

	History []contracts.Message

	// SegmentRunning is the turn handler's single-flight guard (spec.md §3:
	// "the turn handler is non-reentrant per session"); while true, new EOS
	// segments append to SegmentQueue instead of starting run_turn.
	SegmentRunning bool
	SegmentQueue   [][]byte

	// PendingSegments/PendingDeadline implement the merge window
	// (spec.md §4.6): consecutive EOS segments arriving within
	// MERGE_WINDOW_MS are concatenated before run_turn fires.
	PendingSegments   [][]byte
	PendingDeadline   time.Time
	PendingTimerValid int // bumped on every reset so a stale timer goroutine no-ops
}

// CallSession is the process-local, one-per-live-WebSocket state spec.md §3
// describes. The audio-send generation state synchronizes itself
// (internal/audiosend) and the VAD segmentation state is unsynchronized but
// touched only by the connection's read loop (internal/vad), so both are
// held as plain fields; everything else is guarded by mu.
type CallSession struct {
	Sched *audiosend.Scheduler
	VAD   *vad.Detector

	Logger contracts.Logger

	mu    sync.Mutex
	state State

	// sender is the live connection's audiosend.Sender, set once the
	// WebSocket upgrade completes. The control surface (POST /transfer,
	// POST /speak) needs this to push audio outside the inbound read loop.
	sender audiosend.Sender

	// closed is set once on Close so repeated Stop events / teardown races
	// are idempotent.
	closed bool
}

// SetSender records the live connection's outbound sender.
func (s *CallSession) SetSender(sender audiosend.Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

// Sender returns the live connection's outbound sender, or nil before the
// WebSocket upgrade completes (or after it closes).
func (s *CallSession) Sender() audiosend.Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender
}

// New builds a session with the given VAD config and default TTS binding.
// ai_enabled defaults true per spec.md (operator must explicitly disable).
func New(callID string, vadCfg vad.Config, defaultBinding TTSBinding) *CallSession {
	return &CallSession{
		Sched: audiosend.New(),
		VAD:   vad.New(vadCfg),
		state: State{
			CallID:    callID,
			Binding:   defaultBinding,
			AIEnabled: true,
		},
	}
}

// Snapshot returns a value copy of the mutex-protected state, safe to read
// without holding the session's lock afterward (history is shallow-copied:
// callers must not mutate its elements).
func (s *CallSession) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.History = append([]contracts.Message(nil), s.state.History...)
	return st
}

// SetConnected records the "connected" event.
func (s *CallSession) SetConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Connected = true
}

// BindStream records the "start" event's stream id and callSid-derived
// call_id (if the session didn't already have one from the upgrade URL).
func (s *CallSession) BindStream(streamID, callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.StreamID = streamID
	s.state.StartReceived = true
	if s.state.CallID == "" {
		s.state.CallID = callID
	}
}

// ReadyForGreeting reports connected && start_received && not already
// scheduled, and marks it scheduled atomically if so (so two racing
// callers can't both fire the greeting).
func (s *CallSession) ReadyForGreeting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Connected || !s.state.StartReceived || s.state.GreetingScheduled {
		return false
	}
	s.state.GreetingScheduled = true
	return true
}

// MarkInitialSent records that the greeting has gone out.
func (s *CallSession) MarkInitialSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.InitialSent = true
}

// CallID returns the current call id (may be empty until bound).
func (s *CallSession) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CallID
}

// SetCallID binds call_id from an external-registry lookup, when the
// upgrade URL and the start event's callSid/accountSid all came up empty.
func (s *CallSession) SetCallID(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.CallID == "" {
		s.state.CallID = callID
	}
}

// Binding returns the session's current per-call TTS binding.
func (s *CallSession) Binding() TTSBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Binding
}

// SetBinding installs a per-call TTS binding (from the external call
// registry), replacing whatever binding the session held before.
func (s *CallSession) SetBinding(b TTSBinding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Binding = b
}

// AIEnabled reports the operator's ai_enabled override.
func (s *CallSession) AIEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AIEnabled
}

// SetAIEnabled implements POST /ai-response.
func (s *CallSession) SetAIEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AIEnabled = enabled
}

// DialogFlags returns (closing_asked, purpose_captured).
func (s *CallSession) DialogFlags() (closingAsked, purposeCaptured bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ClosingAsked, s.state.PurposeCaptured
}

// SetClosing sets closing_asked/purpose_captured together, per the
// classifier's "closing" route (spec.md §4.6 step 5).
func (s *CallSession) SetClosing(closingAsked, purposeCaptured bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ClosingAsked = closingAsked
	s.state.PurposeCaptured = purposeCaptured
}

// History returns the last n messages (0 = all) for LLM context.
func (s *CallSession) History(n int) []contracts.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.state.History
	if n > 0 && len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	return append([]contracts.Message(nil), hist...)
}

// AppendMessage appends one turn to the local conversation-log mirror.
func (s *CallSession) AppendMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.History = append(s.state.History, contracts.Message{Role: role, Content: content})
}

// TryStartTurn implements the non-reentrant guard: returns true (and sets
// segment_running) only if no turn is currently running. If one is
// running, seg is appended to the queue instead and false is returned.
func (s *CallSession) TryStartTurn(seg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.SegmentRunning {
		s.state.SegmentQueue = append(s.state.SegmentQueue, seg)
		return false
	}
	s.state.SegmentRunning = true
	return true
}

// FinishTurn clears segment_running and pops the next queued segment (if
// any), reporting it so the caller can immediately start the next turn
// without releasing the non-reentrant guard in between.
func (s *CallSession) FinishTurn() (next []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.state.SegmentQueue) == 0 {
		s.state.SegmentRunning = false
		return nil, false
	}
	next = s.state.SegmentQueue[0]
	s.state.SegmentQueue = s.state.SegmentQueue[1:]
	// segment_running stays true: the caller runs `next` as the same
	// logical single-flight turn without any window where a third EOS
	// could slip in and race FinishTurn/TryStartTurn.
	return next, true
}

// MergePush manages the pending-segment merge window (spec.md §4.6).
// Push appends seg to the pending batch and returns the batch plus a fresh
// token; callers arm a timer for windowMS and, if it fires with the same
// token still current, flush.
func (s *CallSession) MergePush(seg []byte, windowMS int) (batch [][]byte, deadline time.Time, token int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PendingSegments = append(s.state.PendingSegments, seg)
	s.state.PendingTimerValid++
	s.state.PendingDeadline = time.Now().Add(time.Duration(windowMS) * time.Millisecond)
	return append([][]byte(nil), s.state.PendingSegments...), s.state.PendingDeadline, s.state.PendingTimerValid
}

// MergeFlush returns and clears the pending batch if token is still the
// current one (i.e. no further segment arrived since the timer was armed).
// ok is false if a newer Push has since invalidated this timer.
func (s *CallSession) MergeFlush(token int) (batch [][]byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.state.PendingTimerValid {
		return nil, false
	}
	batch = s.state.PendingSegments
	s.state.PendingSegments = nil
	return batch, true
}

// Close tears down the session's owned resources exactly once.
func (s *CallSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Sched.RequestStop("session_closed")
}
