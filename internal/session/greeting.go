package session

import (
	"context"
	"time"

	"github.com/lokutor-ai/dialcore/internal/audiosend"
	"github.com/lokutor-ai/dialcore/internal/registry"
	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// GreetingCache is the subset of internal/ttscache.Cache the greeting
// scheduler needs: a non-blocking peek for the fast path, and the full
// memory→store→synthesize chain for the on-demand path once the real
// per-call binding is known.
type GreetingCache interface {
	PeekGreeting(ctx context.Context, engine contracts.Engine, voice contracts.Voice, speed float64) ([]byte, bool)
	Greeting(ctx context.Context, engine contracts.Engine, voice contracts.Voice, speed float64) ([]byte, error)
}

// GreetingConfig bounds the two waits spec.md §5 describes: up to
// StartWait for (stream_id ∧ start_received) after "connected", and an
// additional SocketOpenWait for the transport to be ready to send. Both
// failures are logged and skip the greeting rather than failing the call.
type GreetingConfig struct {
	StartWait      time.Duration
	SocketOpenWait time.Duration
}

// ScheduleGreeting implements spec.md §4.5's greeting policy. It must be
// called exactly once per session, after ReadyForGreeting() returns true.
// On a cache hit for the session's current (default) binding, it sends
// immediately and never touches the registry. On a miss, it resolves the
// real per-call binding from reg and synthesizes on demand — without
// blocking a concurrent fast-path send, since by definition there wasn't
// one (the session already missed the peek).
func ScheduleGreeting(ctx context.Context, sess *CallSession, cache GreetingCache, sender audiosend.Sender, live func() bool, reg registry.CallRegistry, cfg GreetingConfig, logger contracts.Logger) {
	if logger == nil {
		logger = contracts.NoOpLogger{}
	}

	if !waitForLive(ctx, live, cfg.SocketOpenWait) {
		logger.Error("greeting skipped: socket did not reach OPEN in time", "call_id", sess.CallID())
		return
	}

	binding := sess.Binding()

	if audio, ok := cache.PeekGreeting(ctx, binding.Engine, binding.Voice, binding.Speed); ok {
		sendGreeting(ctx, sess, sender, audio, logger)
		return
	}

	if reg != nil {
		if resolved, err := reg.TTSBinding(ctx, sess.CallID()); err == nil {
			binding = TTSBinding{
				Engine: contracts.Engine(resolved.Engine),
				Voice:  contracts.Voice(resolved.Voice),
				Speed:  resolved.Speed,
			}
			sess.SetBinding(binding)
		} else {
			logger.Warn("greeting: per-call TTS binding lookup failed, using defaults", "err", err)
		}
	}

	audio, err := cache.Greeting(ctx, binding.Engine, binding.Voice, binding.Speed)
	if err != nil {
		logger.Error("greeting synthesis failed", "call_id", sess.CallID(), "err", err)
		return
	}
	sendGreeting(ctx, sess, sender, audio, logger)
}

func sendGreeting(ctx context.Context, sess *CallSession, sender audiosend.Sender, audio []byte, logger contracts.Logger) {
	alwaysLive := func() bool { return true }
	completed, err := sess.Sched.Send(ctx, sender, audio, audiosend.Options{Label: "greeting", Uninterruptible: true}, alwaysLive)
	if err != nil {
		logger.Error("greeting send failed", "call_id", sess.CallID(), "err", err)
		return
	}
	if completed {
		sess.MarkInitialSent()
	}
}

// waitForLive polls live up to timeout, implementing the "additional 2s for
// the socket to reach OPEN" wait of spec.md §5. A nil live is treated as
// always-ready (used by tests and by transports with no separate OPEN
// signal beyond the WebSocket upgrade itself).
func waitForLive(ctx context.Context, live func() bool, timeout time.Duration) bool {
	if live == nil || live() {
		return true
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if live() {
				return true
			}
		}
	}
	return false
}
