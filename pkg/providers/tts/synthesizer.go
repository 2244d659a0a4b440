package tts

import (
	"context"
	"fmt"

	"github.com/lokutor-ai/dialcore/internal/ttscache"
	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// ProviderSynthesizer implements ttscache.Synthesizer: it dispatches a
// cache-miss synthesis to the TTS engine named by the key, then runs the
// result through the external transcoder to produce the raw mu-law bytes
// the cache stores and the scheduler sends.
type ProviderSynthesizer struct {
	engines    map[contracts.Engine]contracts.TTSProvider
	transcoder *Transcoder
}

// NewProviderSynthesizer builds a ProviderSynthesizer over the given
// engine -> provider bindings.
func NewProviderSynthesizer(engines map[contracts.Engine]contracts.TTSProvider, transcoder *Transcoder) *ProviderSynthesizer {
	return &ProviderSynthesizer{engines: engines, transcoder: transcoder}
}

func (s *ProviderSynthesizer) Synthesize(ctx context.Context, text string, key ttscache.Key) ([]byte, error) {
	provider, ok := s.engines[key.Engine]
	if !ok {
		return nil, fmt.Errorf("tts: no provider registered for engine %q", key.Engine)
	}

	audio, err := provider.Synthesize(ctx, text, contracts.TTSOptions{
		Voice: key.Voice,
		Speed: key.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("tts: synthesize via %s: %w", provider.Name(), err)
	}

	mulaw, err := s.transcoder.ToMuLaw(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("tts: transcode %s output: %w", provider.Name(), err)
	}

	return mulaw, nil
}
