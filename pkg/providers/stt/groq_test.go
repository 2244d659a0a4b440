package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

func TestGroqSTT(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		resp := struct {
			Text string `json:"text"`
		}{
			Text: "groq transcription",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	s := &GroqSTT{
		apiKey: "test-key",
		url:    server.URL,
		model:  "whisper-large-v3-turbo",
	}

	result, err := s.Transcribe(context.Background(), []byte{0}, contracts.STTOptions{Language: contracts.LanguageEn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Text != "groq transcription" {
		t.Errorf("expected 'groq transcription', got '%s'", result.Text)
	}

	if s.Name() != "groq-stt" {
		t.Errorf("expected groq-stt, got %s", s.Name())
	}
}

func TestGroqSTTUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	s := &GroqSTT{apiKey: "wrong-key", url: server.URL, model: "whisper-large-v3-turbo"}

	if _, err := s.Transcribe(context.Background(), []byte{0}, contracts.STTOptions{}); err == nil {
		t.Fatal("expected error on unauthorized response")
	}
}
