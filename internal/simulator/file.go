package simulator

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/lokutor-ai/dialcore/pkg/codec"
)

// FileModeConfig tunes a file-mode simulator run (spec.md §4.9's file
// mode).
type FileModeConfig struct {
	ServerURL string
	Pace      float64       // multiplier on the natural 20ms/frame pacing; 0 = as-fast-as-possible
	Grace     time.Duration // how long to keep listening for a trailing reply after stop; 0 = 5s
}

// RunFile decodes a WAV file, resamples to 8kHz mono, mu-law encodes, and
// streams it to the server at ServerURL as a sequence of 160B inbound media
// frames paced at 20ms (scaled by cfg.Pace), framed by
// connected/start/media(track=inbound)/stop. It blocks until the file is
// fully sent and the stop event has gone out; received audio is collected
// and returned for the caller to persist as a downloadable artifact.
func RunFile(ctx context.Context, cfg FileModeConfig, wavBytes []byte) ([]byte, error) {
	pcmBytes, info, err := codec.ReadWavPCM16(wavBytes)
	if err != nil {
		return nil, fmt.Errorf("simulator: %w", err)
	}

	samples := codec.PCM16BytesToInt16(pcmBytes, info.Channels)
	resampler := codec.NewResampler(info.SampleRate, 8000)
	resampled := resampler.Process(samples)
	mulaw := codec.EncodeSamples(resampled)

	frames, _ := codec.Chunk(mulaw, codec.FrameBytes)

	dialer, err := Dial(ctx, cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	defer dialer.Close()

	var received []byte
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go dialer.ReadLoop(readCtx, func(frame []byte) {
		received = append(received, frame...)
	}, nil)

	// A nil tick channel (pace <= 0) sends frames back to back.
	var tickC <-chan time.Time
	if cfg.Pace > 0 {
		ticker := time.NewTicker(time.Duration(float64(20*time.Millisecond) / cfg.Pace))
		defer ticker.Stop()
		tickC = ticker.C
	}

	for _, frame := range frames {
		if tickC != nil {
			select {
			case <-ctx.Done():
				return received, ctx.Err()
			case <-tickC:
			}
		} else if ctx.Err() != nil {
			return received, ctx.Err()
		}
		payload := base64.StdEncoding.EncodeToString(frame)
		if err := dialer.SendMedia(payload); err != nil {
			return received, fmt.Errorf("simulator: send media: %w", err)
		}
	}

	if err := dialer.Stop(); err != nil {
		return received, fmt.Errorf("simulator: send stop: %w", err)
	}

	grace := cfg.Grace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(grace):
	}
	return received, nil
}
