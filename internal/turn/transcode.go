package turn

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/lokutor-ai/dialcore/pkg/codec"
)

// SpeechTranscoder implements spec.md §4.6 step 1: an 8kHz mono μ-law
// segment is transcoded to 16kHz mono WAV through a fixed cleanup filter
// chain (highpass/lowpass/gain) before being handed to STT, the same
// external-subprocess-with-removable-temp-files shape as
// pkg/providers/tts.Transcoder uses for the synthesis leg.
type SpeechTranscoder struct {
	binary  string
	filters string
}

// NewSpeechTranscoder builds a SpeechTranscoder invoking binary (e.g.
// "ffmpeg") with the given audio filter chain (WHISPER_AUDIO_FILTERS).
func NewSpeechTranscoder(binary, filters string) *SpeechTranscoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &SpeechTranscoder{binary: binary, filters: filters}
}

// Clean decodes mulaw8k, wraps it as an 8kHz WAV, and runs it through the
// external transcoder to produce a 16kHz mono WAV with the cleanup filter
// chain applied. Temp files are removed on every exit path.
func (t *SpeechTranscoder) Clean(ctx context.Context, mulaw8k []byte) ([]byte, error) {
	inWav := codec.NewWavBuffer(codec.DecodeToPCMBytes(mulaw8k), 8000)

	in, err := os.CreateTemp("", "dialcore-stt-in-*.wav")
	if err != nil {
		return nil, fmt.Errorf("speech transcoder: create input temp file: %w", err)
	}
	inPath := in.Name()
	defer os.Remove(inPath)

	if _, err := in.Write(inWav); err != nil {
		in.Close()
		return nil, fmt.Errorf("speech transcoder: write input temp file: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("speech transcoder: close input temp file: %w", err)
	}

	out, err := os.CreateTemp("", "dialcore-stt-out-*.wav")
	if err != nil {
		return nil, fmt.Errorf("speech transcoder: create output temp file: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	args := []string{"-y", "-i", inPath, "-ar", "16000", "-ac", "1"}
	if t.filters != "" {
		args = append(args, "-af", t.filters)
	}
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, t.binary, args...)
	if combined, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("speech transcoder: %s exited with error: %w (%s)", t.binary, err, combined)
	}

	return os.ReadFile(outPath)
}
