package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lokutor-ai/dialcore/pkg/contracts"
)

func TestAssemblyAISTT(t *testing.T) {
	polls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/upload"):
			json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.assemblyai.com/audio123"})
		case strings.HasSuffix(r.URL.Path, "/v2/transcript") && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]string{"id": "tid-1"})
		case strings.Contains(r.URL.Path, "/v2/transcript/"):
			polls++
			status := "processing"
			if polls > 1 {
				status = "completed"
			}
			json.NewEncoder(w).Encode(map[string]string{"status": status, "text": "assembly transcription"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	s := &AssemblyAISTT{apiKey: "test-key", baseURL: server.URL}

	result, err := s.Transcribe(context.Background(), []byte{0}, contracts.STTOptions{Language: contracts.LanguageEn})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "assembly transcription" {
		t.Errorf("expected 'assembly transcription', got '%s'", result.Text)
	}
	if s.Name() != "assemblyai-stt" {
		t.Errorf("expected assemblyai-stt, got %s", s.Name())
	}
}
