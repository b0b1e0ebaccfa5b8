package stt

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/voicegate-io/voicegate/pkg/core/fault"
)

func TestWhisperTranscribe(t *testing.T) {
	var calls atomic.Int64
	var lastLanguage atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		calls.Add(1)
		var req struct {
			Audio      string `json:"audio"`
			SampleRate int    `json:"sample_rate"`
			Language   string `json:"language"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		lastLanguage.Store(req.Language)
		json.NewEncoder(w).Encode(map[string]any{
			"text":                 "hello world",
			"language":             "en",
			"language_probability": 0.93,
		})
	}))
	defer server.Close()

	backend := NewWhisper(WhisperConfig{BaseURL: server.URL}, testLogger())
	result, err := backend.Transcribe(t.Context(), secondOfAudio(), 16000, "auto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", result.Text)
	}
	if result.Confidence != 0.93 {
		t.Errorf("expected confidence 0.93, got %v", result.Confidence)
	}
	if result.Language != "en" || result.Backend != "whisper" {
		t.Errorf("expected en/whisper, got %s/%s", result.Language, result.Backend)
	}
	// "auto" becomes an empty hint so the service detects the language.
	if got := lastLanguage.Load(); got != "" {
		t.Errorf("expected empty language hint, got %v", got)
	}
}

func TestWhisperConfidenceFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"text": "नमस्ते", "language": "hi"})
	}))
	defer server.Close()

	backend := NewWhisper(WhisperConfig{BaseURL: server.URL}, testLogger())
	result, err := backend.Transcribe(t.Context(), secondOfAudio(), 16000, "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Confidence != 0.8 {
		t.Errorf("expected fallback confidence 0.8, got %v", result.Confidence)
	}
}

func TestWhisperShortAudio(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	backend := NewWhisper(WhisperConfig{BaseURL: server.URL}, testLogger())
	result, err := backend.Transcribe(t.Context(), make([]float64, 800), 16000, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "" || result.Confidence != 0 {
		t.Errorf("expected empty zero-confidence result, got %q / %v", result.Text, result.Confidence)
	}
	if calls.Load() != 0 {
		t.Error("expected no service call for sub-minimum audio")
	}
}

func TestWhisperServiceDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	backend := NewWhisper(WhisperConfig{BaseURL: server.URL}, testLogger())
	if !backend.IsAvailable(t.Context()) {
		t.Fatal("expected backend available while service is up")
	}

	server.Close()

	_, err := backend.Transcribe(t.Context(), secondOfAudio(), 16000, "en")
	if err == nil {
		t.Fatal("expected error after service shutdown")
	}
	if fault.CodeOf(err) != fault.ModelUnavailable {
		t.Errorf("expected model_unavailable, got %v", fault.CodeOf(err))
	}
	if backend.IsAvailable(t.Context()) {
		t.Error("expected availability cache dropped after transport failure")
	}
}

func TestWhisperServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of memory", http.StatusInternalServerError)
	}))
	defer server.Close()

	backend := NewWhisper(WhisperConfig{BaseURL: server.URL}, testLogger())
	_, err := backend.Transcribe(t.Context(), secondOfAudio(), 16000, "en")
	if err == nil {
		t.Fatal("expected error for service 500")
	}
	if fault.CodeOf(err) != fault.InferenceError {
		t.Errorf("expected inference_error, got %v", fault.CodeOf(err))
	}
}
