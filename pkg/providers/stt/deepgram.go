package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// DeepgramSTT calls Deepgram's prerecorded transcription endpoint, passing
// the WAV buffer through as-is (Deepgram sniffs the container from the
// bytes, so no explicit Content-Type rate/channel hints are needed once the
// body is a real WAV file).
type DeepgramSTT struct {
	apiKey string
	url    string
}

func NewDeepgramSTT(apiKey string) *DeepgramSTT {
	return &DeepgramSTT{
		apiKey: apiKey,
		url:    "https://api.deepgram.com/v1/listen",
	}
}

func (s *DeepgramSTT) Name() string {
	return "deepgram-stt"
}

func (s *DeepgramSTT) Transcribe(ctx context.Context, wavAudio []byte, opts contracts.STTOptions) (contracts.Transcription, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return contracts.Transcription{}, err
	}

	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	if opts.Language != "" {
		params.Set("language", string(opts.Language))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(wavAudio))
	if err != nil {
		return contracts.Transcription{}, err
	}

	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return contracts.Transcription{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return contracts.Transcription{}, fmt.Errorf("deepgram error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return contracts.Transcription{}, err
	}

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return contracts.Transcription{}, nil
	}

	return contracts.Transcription{Text: result.Results.Channels[0].Alternatives[0].Transcript}, nil
}
