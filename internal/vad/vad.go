// Package vad implements voice-activity detection and speech segmentation
// over inbound μ-law frames: an RMS energy detector generalized from a
// single fixed threshold/silence-limit pair into the context-dependent,
// frame-counted detector the telephony pipeline needs — idle vs.
// while-playing thresholds and warmup counts, a 0-100 normalized energy
// scale instead of a raw float RMS, and explicit segment assembly with
// trailing-silence trim instead of bare speech-start/end events.
package vad

import (
	"math"

	"github.com/lokutor-ai/dialcore/pkg/codec"
)

// FrameMS is the nominal duration of one inbound frame; used only to turn
// frame counts into millisecond durations for the minimum-segment checks.
const FrameMS = 20

// Config holds the thresholds from spec.md §6, each configurable and
// context-dependent (idle vs. while the agent is playing audio, to resist
// the caller-side echo of the agent's own voice).
type Config struct {
	ThresholdIdle         float64
	ThresholdWhilePlaying float64
	WarmupIdle            int
	WarmupWhilePlaying    int
	SilenceMS             int
	MinSpeechFrames       int
	MinSpeechBytes        int
	MinSpeechMS           int
}

// EventType distinguishes the two segmentation events the detector emits.
type EventType string

const (
	EventSpeechStart EventType = "speech_start"
	EventSpeechEnd   EventType = "speech_end"
)

// Event is emitted on a confirmed speech start or a declared end-of-speech.
// Segment is only populated on a non-discarded EventSpeechEnd: the trimmed,
// concatenated μ-law bytes from speech-start through the last non-silent
// frame (inclusive).
type Event struct {
	Type        EventType
	TimestampMs int64
	Segment     []byte
	Discarded   bool
}

// Detector holds the per-session segmentation state: speech_active,
// warmup_count, segment_frames, last_nonsilent_index, speech_start_ms,
// last_speech_ms, per spec.md §3's data model. One Detector per call.
type Detector struct {
	cfg Config

	speechActive       bool
	warmupCount        int
	segmentFrames      [][]byte
	lastNonSilentIndex int
	speechStartMs      int64
	lastSpeechMs       int64
}

// New builds a Detector from cfg.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// IsSpeaking reports whether a segment is currently being accumulated.
func (d *Detector) IsSpeaking() bool {
	return d.speechActive
}

// Reset clears all in-flight segmentation state without emitting an event.
// Process calls it once a segment ends, whether the segment is emitted or
// discarded, so the next segment starts from a clean warmup.
func (d *Detector) Reset() {
	d.speechActive = false
	d.warmupCount = 0
	d.segmentFrames = nil
	d.lastNonSilentIndex = 0
	d.speechStartMs = 0
	d.lastSpeechMs = 0
}

// Process feeds one inbound frame through the detector. whilePlaying
// selects the higher threshold/warmup pair while the agent's own audio is
// going out. suppressed implements the greeting guard: while true, the
// detector accumulates nothing and emits no event at all, so the greeting
// can never barge itself out. nowMs is the frame's arrival time.
func (d *Detector) Process(frame []byte, whilePlaying, suppressed bool, nowMs int64) *Event {
	if suppressed {
		return nil
	}

	threshold, warmup := d.cfg.ThresholdIdle, d.cfg.WarmupIdle
	if whilePlaying {
		threshold, warmup = d.cfg.ThresholdWhilePlaying, d.cfg.WarmupWhilePlaying
	}

	level := energyLevel(frame)
	above := level > threshold

	if above {
		d.warmupCount++
		if !d.speechActive {
			if d.warmupCount < warmup {
				return nil
			}
			d.speechActive = true
			d.segmentFrames = [][]byte{cloneFrame(frame)}
			d.lastNonSilentIndex = 0
			d.speechStartMs = nowMs
			d.lastSpeechMs = nowMs
			return &Event{Type: EventSpeechStart, TimestampMs: nowMs}
		}
		d.segmentFrames = append(d.segmentFrames, cloneFrame(frame))
		d.lastNonSilentIndex = len(d.segmentFrames) - 1
		d.lastSpeechMs = nowMs
		return nil
	}

	d.warmupCount = 0
	if !d.speechActive {
		return nil
	}

	// Silence frames in the middle of speech are kept verbatim: dropping
	// them distorts TTS-grade transcription.
	d.segmentFrames = append(d.segmentFrames, cloneFrame(frame))

	if nowMs-d.lastSpeechMs < int64(d.cfg.SilenceMS) {
		return nil
	}

	trimmed := d.segmentFrames[:d.lastNonSilentIndex+1]
	frameCount := len(trimmed)
	byteCount := 0
	for _, f := range trimmed {
		byteCount += len(f)
	}
	durationMs := frameCount * FrameMS

	discard := frameCount < d.cfg.MinSpeechFrames ||
		byteCount < d.cfg.MinSpeechBytes ||
		durationMs < d.cfg.MinSpeechMS

	var segment []byte
	if !discard {
		segment = make([]byte, 0, byteCount)
		for _, f := range trimmed {
			segment = append(segment, f...)
		}
	}

	d.Reset()
	return &Event{Type: EventSpeechEnd, TimestampMs: nowMs, Segment: segment, Discarded: discard}
}

func cloneFrame(frame []byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	return out
}

// energyLevel computes a frame's activity on a 0-100 scale. The fast path
// declares level 0 without decoding when the frame is (near-)entirely the
// μ-law idle byte; otherwise it decodes to linear PCM and uses normalized
// RMS.
func energyLevel(frame []byte) float64 {
	if codec.IsIdleFrame(frame) {
		return 0
	}
	samples := codec.DecodeSamples(frame)
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		sumSquares += f * f
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	level := rms * 100 * 6 // empirical scale so normal speech lands well above the default thresholds of 2/6
	if level > 100 {
		level = 100
	}
	return level
}
