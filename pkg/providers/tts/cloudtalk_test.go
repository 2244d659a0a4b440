package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

func TestCloudtalkSynthesize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req["voice"] != "en-US-Neutral" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte("fake-mp3-bytes"))
	}))
	defer server.Close()

	tts := &CloudtalkTTS{apiKey: "test-key", url: server.URL}

	audio, err := tts.Synthesize(context.Background(), "hello", contracts.TTSOptions{Voice: "en-US-Neutral"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "fake-mp3-bytes" {
		t.Errorf("expected fake-mp3-bytes, got %q", string(audio))
	}
	if tts.Name() != "cloudtalk" {
		t.Errorf("expected cloudtalk, got %s", tts.Name())
	}
	if err := tts.Abort(); err != nil {
		t.Errorf("expected nil from Abort, got %v", err)
	}
}

func TestCloudtalkStreamSynthesizeSingleChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("chunk"))
	}))
	defer server.Close()

	tts := &CloudtalkTTS{apiKey: "test-key", url: server.URL}

	var got []byte
	chunks := 0
	err := tts.StreamSynthesize(context.Background(), "hi", contracts.TTSOptions{Voice: "en-US-Neutral"}, func(c []byte) error {
		chunks++
		got = append(got, c...)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks != 1 {
		t.Errorf("expected exactly one chunk, got %d", chunks)
	}
	if string(got) != "chunk" {
		t.Errorf("expected 'chunk', got %q", string(got))
	}
}
