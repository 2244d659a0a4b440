package vad

import (
	"testing"

	"github.com/lokutor-ai/dialcore/pkg/codec"
)

func testConfig() Config {
	return Config{
		ThresholdIdle:         2,
		ThresholdWhilePlaying: 6,
		WarmupIdle:            2,
		WarmupWhilePlaying:    4,
		SilenceMS:             400,
		MinSpeechFrames:       10,
		MinSpeechBytes:        1600,
		MinSpeechMS:           400,
	}
}

func idleFrame() []byte {
	f := make([]byte, codec.FrameBytes)
	for i := range f {
		f[i] = codec.MuLawIdleByte
	}
	return f
}

func loudFrame() []byte {
	f := make([]byte, codec.FrameBytes)
	// A square wave encodes to high-energy μ-law bytes far from the idle
	// byte, well above the default thresholds.
	for i := range f {
		if i%2 == 0 {
			f[i] = 0x00
		} else {
			f[i] = 0x7F
		}
	}
	return f
}

func TestSilenceProducesNoEvents(t *testing.T) {
	d := New(testConfig())
	var now int64
	for i := 0; i < 50; i++ {
		now += FrameMS
		if ev := d.Process(idleFrame(), false, false, now); ev != nil {
			t.Fatalf("expected no event on silence, got %+v", ev)
		}
	}
	if d.IsSpeaking() {
		t.Error("expected detector to not be speaking")
	}
}

func TestSpeechStartRequiresWarmup(t *testing.T) {
	cfg := testConfig()
	d := New(cfg)
	var now int64

	now += FrameMS
	if ev := d.Process(loudFrame(), false, false, now); ev != nil {
		t.Fatalf("expected no event on first loud frame (warmup=%d), got %+v", cfg.WarmupIdle, ev)
	}
	now += FrameMS
	ev := d.Process(loudFrame(), false, false, now)
	if ev == nil || ev.Type != EventSpeechStart {
		t.Fatalf("expected speech_start after %d consecutive loud frames, got %+v", cfg.WarmupIdle, ev)
	}
	if !d.IsSpeaking() {
		t.Error("expected detector to be speaking after confirmed start")
	}
}

func TestEndOfSpeechDiscardsShortSegment(t *testing.T) {
	d := New(testConfig())
	var now int64

	// Confirm speech start, then immediately go silent for longer than
	// SilenceMS: total speech is below MIN_SPEECH_FRAMES/MS.
	for i := 0; i < 2; i++ {
		now += FrameMS
		d.Process(loudFrame(), false, false, now)
	}

	var last *Event
	for i := 0; i < 25; i++ {
		now += FrameMS
		if ev := d.Process(idleFrame(), false, false, now); ev != nil {
			last = ev
			break
		}
	}
	if last == nil || last.Type != EventSpeechEnd {
		t.Fatalf("expected a speech_end event, got %+v", last)
	}
	if !last.Discarded {
		t.Errorf("expected a short segment to be discarded")
	}
	if d.IsSpeaking() {
		t.Error("expected detector to return to not-speaking after EOS")
	}
}

func TestEndOfSpeechAcceptsLongSegment(t *testing.T) {
	d := New(testConfig())
	var now int64

	// 30 loud frames (~600ms) easily clears MIN_SPEECH_FRAMES/BYTES/MS.
	for i := 0; i < 30; i++ {
		now += FrameMS
		d.Process(loudFrame(), false, false, now)
	}

	var last *Event
	for i := 0; i < 25; i++ {
		now += FrameMS
		if ev := d.Process(idleFrame(), false, false, now); ev != nil {
			last = ev
			break
		}
	}
	if last == nil || last.Type != EventSpeechEnd {
		t.Fatalf("expected a speech_end event, got %+v", last)
	}
	if last.Discarded {
		t.Error("expected a long segment to be accepted")
	}
	if len(last.Segment) == 0 {
		t.Error("expected a non-empty concatenated segment")
	}
}

func TestSuppressedDuringGreetingEmitsNothing(t *testing.T) {
	d := New(testConfig())
	var now int64
	for i := 0; i < 10; i++ {
		now += FrameMS
		if ev := d.Process(loudFrame(), false, true, now); ev != nil {
			t.Fatalf("expected no event while suppressed, got %+v", ev)
		}
	}
	if d.IsSpeaking() {
		t.Error("expected detector to never confirm speech while suppressed")
	}
}

func TestWhilePlayingUsesHigherThresholdAndWarmup(t *testing.T) {
	d := New(testConfig())
	var now int64
	// 3 loud frames would confirm speech idle (warmup=2), but while playing
	// the warmup is 4: the 3rd frame must still not confirm.
	for i := 0; i < 3; i++ {
		now += FrameMS
		if ev := d.Process(loudFrame(), true, false, now); ev != nil {
			t.Fatalf("expected no speech_start yet under while-playing warmup, got %+v", ev)
		}
	}
	now += FrameMS
	ev := d.Process(loudFrame(), true, false, now)
	if ev == nil || ev.Type != EventSpeechStart {
		t.Fatalf("expected speech_start on the 4th consecutive loud frame while playing, got %+v", ev)
	}
}
