// Package filler implements the filler/barge-in coordinator (spec.md
// §4.4): it plays a short pre-rendered acknowledgement concurrently with
// reply generation, and decides when the caller's speech should cut the
// agent off.
//
// The min-words-to-interrupt guard is carried forward from a
// Config.MinWordsToInterrupt/countWords pattern, adapted here to the
// frame-counted VAD this engine uses instead of a streaming partial
// transcript: since there is no streaming STT provider wired, "words" is
// approximated by consecutive confirmed-speech frames since speech-start,
// which is the only continuous signal available at barge-in time.
package filler

import (
	"context"

	"github.com/lokutor-ai/dialcore/internal/audiosend"
	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// FillerText is the default pre-rendered acknowledgement, configurable per
// spec.md §4.4.
const FillerText = "Yes, thank you; the AI is thinking, please wait a moment"

// Cache is the subset of internal/ttscache.Cache the coordinator needs:
// look up (and, on miss, synthesize and cache) the filler audio for a
// per-call engine/voice/speed binding.
type Cache interface {
	Filler(ctx context.Context, engine contracts.Engine, voice contracts.Voice, speed float64) ([]byte, error)
}

// Config tunes the coordinator.
type Config struct {
	MinInterruptFrames int // frames-since-speech-start proxy for MinWordsToInterrupt
}

// Coordinator plays fillers and decides barge-in.
type Coordinator struct {
	cfg    Config
	cache  Cache
	logger contracts.Logger
}

// New builds a Coordinator.
func New(cfg Config, cache Cache, logger contracts.Logger) *Coordinator {
	if logger == nil {
		logger = contracts.NoOpLogger{}
	}
	return &Coordinator{cfg: cfg, cache: cache, logger: logger}
}

// MaybePlayFiller is invoked when a user segment is accepted for
// processing. If audio is currently being sent it first stops the
// in-flight send (subject to the uninterruptible rule), then looks up the
// filler and sends it through sched with label "filler" (interruptible).
// It runs the lookup and send in a goroutine and returns immediately: the
// caller (the turn handler) must not block the LLM/TTS pipeline on the
// filler, only retain the returned channel to await it if it chooses to.
func (c *Coordinator) MaybePlayFiller(ctx context.Context, sched *audiosend.Scheduler, sender audiosend.Sender, live func() bool, engine contracts.Engine, voice contracts.Voice, speed float64) <-chan struct{} {
	if sched.Sending() {
		sched.StopAndWait(ctx, "filler_preempt")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		audio, err := c.cache.Filler(ctx, engine, voice, speed)
		if err != nil || len(audio) == 0 {
			c.logger.Warn("filler lookup failed", "err", err)
			return
		}
		if _, err := sched.Send(ctx, sender, audio, audiosend.Options{Label: "filler"}, live); err != nil {
			c.logger.Warn("filler send failed", "err", err)
		}
	}()
	return done
}

// HandleSpeechStart implements the barge-in rule: on a confirmed VAD
// speech-start, if audio is currently being sent and the caller's
// continuous speech has lasted at least MinInterruptFrames frames, request
// a stop of the current generation (a no-op if it's uninterruptible). The
// caller's audio keeps accumulating into its segment regardless.
func (c *Coordinator) HandleSpeechStart(sched *audiosend.Scheduler, framesSinceStart int) bool {
	if !sched.Sending() {
		return false
	}
	if framesSinceStart < c.cfg.MinInterruptFrames {
		return false
	}
	return sched.RequestStop("caller_speech")
}
