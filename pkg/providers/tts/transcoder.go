package tts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Transcoder shells out to an external binary (ffmpeg by convention) to
// re-encode an MP3-family buffer down to 8kHz mono mu-law, the wire format
// every cached/sent TTS reply is stored and played back as. Temporary files
// are removed on every exit path, success or error.
type Transcoder struct {
	binary string
}

// NewTranscoder builds a Transcoder invoking binary (e.g. "ffmpeg").
func NewTranscoder(binary string) *Transcoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Transcoder{binary: binary}
}

// ToMuLaw converts an MP3-family buffer to raw 8kHz mono mu-law bytes.
func (t *Transcoder) ToMuLaw(ctx context.Context, audio []byte) ([]byte, error) {
	in, err := os.CreateTemp("", "dialcore-tts-in-*.audio")
	if err != nil {
		return nil, fmt.Errorf("transcoder: create input temp file: %w", err)
	}
	inPath := in.Name()
	defer os.Remove(inPath)

	if _, err := in.Write(audio); err != nil {
		in.Close()
		return nil, fmt.Errorf("transcoder: write input temp file: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("transcoder: close input temp file: %w", err)
	}

	out, err := os.CreateTemp("", "dialcore-tts-out-*.ulaw")
	if err != nil {
		return nil, fmt.Errorf("transcoder: create output temp file: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, t.binary,
		"-y",
		"-i", inPath,
		"-ar", "8000",
		"-ac", "1",
		"-f", "mulaw",
		outPath,
	)
	if combined, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("transcoder: %s exited with error: %w (%s)", t.binary, err, combined)
	}

	return os.ReadFile(outPath)
}
