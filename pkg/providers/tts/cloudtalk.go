package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// CloudtalkTTS is the alternative cloud TTS engine: language-coded voices
// (a voice name carries its language, e.g. "en-US-Neutral") rather than the
// bare identifiers lokutor uses, and a plain request/response HTTP call
// instead of a persistent stream. It returns an MP3-family buffer; the
// caller runs it through the external transcoder before caching or sending.
type CloudtalkTTS struct {
	apiKey string
	url    string
}

func NewCloudtalkTTS(apiKey string) *CloudtalkTTS {
	return &CloudtalkTTS{
		apiKey: apiKey,
		url:    "https://api.cloudtalk.example.com/v1/synthesize",
	}
}

func (t *CloudtalkTTS) Synthesize(ctx context.Context, text string, opts contracts.TTSOptions) ([]byte, error) {
	speed := opts.Speed
	if speed == 0 {
		speed = 1.0
	}

	payload := map[string]interface{}{
		"text":  text,
		"voice": string(opts.Voice),
		"speed": speed,
		"format": "mp3",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cloudtalk tts error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// StreamSynthesize has no native streaming mode on cloudtalk's HTTP API, so
// it synthesizes the full buffer and hands it to onChunk as one chunk.
func (t *CloudtalkTTS) StreamSynthesize(ctx context.Context, text string, opts contracts.TTSOptions, onChunk func([]byte) error) error {
	audio, err := t.Synthesize(ctx, text, opts)
	if err != nil {
		return err
	}
	return onChunk(audio)
}

// Abort is a no-op: cloudtalk holds no persistent connection to tear down.
func (t *CloudtalkTTS) Abort() error {
	return nil
}

func (t *CloudtalkTTS) Name() string {
	return "cloudtalk"
}
