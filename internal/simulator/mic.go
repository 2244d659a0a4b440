package simulator

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/lokutor-ai/dialcore/pkg/codec"
)

// MicModeConfig tunes a live-mic simulator run (spec.md §4.9's live-mic
// mode). Capture/playback both run at DeviceSampleRate; the resamplers
// bridge to/from the wire's fixed 8kHz mono.
type MicModeConfig struct {
	ServerURL        string
	DeviceSampleRate int // 0 defaults to 44100
	ChunkMS          int // tick-drain interval; 0 defaults to 20ms (one wire frame)
}

// RunMic captures microphone audio, streams it to the server as inbound
// media, plays received audio back to the speaker, and returns the full
// received-audio buffer (resampled to the device's output rate) once ctx is
// cancelled (e.g. on SIGINT) so the caller can offer it as a downloadable
// artifact, per spec.md §4.9.
func RunMic(ctx context.Context, cfg MicModeConfig) ([]byte, error) {
	sampleRate := cfg.DeviceSampleRate
	if sampleRate == 0 {
		sampleRate = 44100
	}
	chunkMS := cfg.ChunkMS
	if chunkMS == 0 {
		chunkMS = 20
	}

	dialer, err := Dial(ctx, cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	defer dialer.Close()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("simulator: malgo init: %w", err)
	}
	defer mctx.Uninit()

	toWire := codec.NewResampler(sampleRate, 8000)
	fromWire := codec.NewResampler(8000, sampleRate)

	var captureMu sync.Mutex
	var captureBuf []int16 // device-rate PCM16 awaiting resample+send

	var playbackMu sync.Mutex
	var playbackBytes []byte // device-rate PCM16 bytes awaiting playback

	var receivedMu sync.Mutex
	var received []byte // device-rate PCM16 bytes, the downloadable artifact

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			samples := bytesToInt16LE(pInput)
			captureMu.Lock()
			captureBuf = append(captureBuf, samples...)
			captureMu.Unlock()
		}
		if pOutput != nil {
			playbackMu.Lock()
			n := copy(pOutput, playbackBytes)
			playbackBytes = playbackBytes[n:]
			playbackMu.Unlock()
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		return nil, fmt.Errorf("simulator: malgo device init: %w", err)
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		return nil, fmt.Errorf("simulator: malgo device start: %w", err)
	}

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go dialer.ReadLoop(readCtx, func(mulaw8k []byte) {
		pcm8k := codec.DecodeSamples(mulaw8k)
		pcmDevice := fromWire.Process(pcm8k)
		b := int16ToBytesLE(pcmDevice)
		playbackMu.Lock()
		playbackBytes = append(playbackBytes, b...)
		playbackMu.Unlock()
		receivedMu.Lock()
		received = append(received, b...)
		receivedMu.Unlock()
	}, nil)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(chunkMS) * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-sig:
			break loop
		case <-ticker.C:
			captureMu.Lock()
			pending := captureBuf
			captureBuf = nil
			captureMu.Unlock()
			if len(pending) == 0 {
				continue
			}
			pcm8k := toWire.Process(pending)
			mulaw := codec.EncodeSamples(pcm8k)
			frames, _ := codec.Chunk(mulaw, codec.FrameBytes)
			for _, frame := range frames {
				if err := dialer.SendMedia(base64.StdEncoding.EncodeToString(frame)); err != nil {
					break loop
				}
			}
		}
	}

	_ = dialer.Stop()

	receivedMu.Lock()
	defer receivedMu.Unlock()
	return append([]byte(nil), received...), nil
}

func bytesToInt16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}

func int16ToBytesLE(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
