package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

// GroqSTT calls Groq's OpenAI-compatible Whisper transcription endpoint.
// The buffer handed to Transcribe is already a complete WAV file (the turn
// handler transcodes and applies the cleanup filter chain before calling
// STT), so this provider just uploads it as-is.
type GroqSTT struct {
	apiKey string
	url    string
	model  string
}

// NewGroqSTT builds a GroqSTT using model, defaulting to
// whisper-large-v3-turbo.
func NewGroqSTT(apiKey, model string) *GroqSTT {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &GroqSTT{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/audio/transcriptions",
		model:  model,
	}
}

func (s *GroqSTT) Transcribe(ctx context.Context, wavAudio []byte, opts contracts.STTOptions) (contracts.Transcription, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", s.model); err != nil {
		return contracts.Transcription{}, err
	}
	if opts.Language != "" {
		if err := writer.WriteField("language", string(opts.Language)); err != nil {
			return contracts.Transcription{}, err
		}
	}
	if err := writer.WriteField("temperature", strconv.FormatFloat(opts.Temperature, 'f', -1, 64)); err != nil {
		return contracts.Transcription{}, err
	}
	if opts.Verbose {
		if err := writer.WriteField("response_format", "verbose_json"); err != nil {
			return contracts.Transcription{}, err
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return contracts.Transcription{}, err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavAudio)); err != nil {
		return contracts.Transcription{}, err
	}
	if err := writer.Close(); err != nil {
		return contracts.Transcription{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, body)
	if err != nil {
		return contracts.Transcription{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return contracts.Transcription{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return contracts.Transcription{}, fmt.Errorf("groq stt error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return contracts.Transcription{}, err
	}

	return contracts.Transcription{Text: result.Text}, nil
}

func (s *GroqSTT) Name() string {
	return "groq-stt"
}
