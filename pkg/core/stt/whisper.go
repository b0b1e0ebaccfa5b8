package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/voicegate-io/voicegate/pkg/core/fault"
)

// WhisperConfig points at the whisper transcription service.
type WhisperConfig struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	Languages []string      `json:"languages"`
}

// Whisper is the general-purpose fallback backend. The remote service
// does its own decoding, so unlike the conformer this client only
// shuttles audio out and text back.
type Whisper struct {
	config WhisperConfig
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	healthy bool
}

// NewWhisper builds the backend. The default language set declares
// English, which marks the backend as the general-purpose fallback.
func NewWhisper(config WhisperConfig, logger *slog.Logger) *Whisper {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if len(config.Languages) == 0 {
		config.Languages = []string{"en", "hi"}
	}
	return &Whisper{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

func (w *Whisper) Name() string { return "whisper" }

func (w *Whisper) SupportedLanguages() []string {
	out := make([]string, len(w.config.Languages))
	copy(out, w.config.Languages)
	return out
}

// IsAvailable probes the service health endpoint, caching success until
// a transcription fails at the transport level.
func (w *Whisper) IsAvailable(ctx context.Context) bool {
	w.mu.Lock()
	if w.healthy {
		w.mu.Unlock()
		return true
	}
	w.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.config.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Debug("whisper health probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return false
	}

	w.mu.Lock()
	w.healthy = true
	w.mu.Unlock()
	return true
}

func (w *Whisper) markUnhealthy() {
	w.mu.Lock()
	w.healthy = false
	w.mu.Unlock()
}

// Transcribe sends the utterance to the whisper service. Sub-minimum
// audio returns an empty zero-confidence result without a service call.
// The service reports the detected language and its probability, which
// doubles as the transcript confidence.
func (w *Whisper) Transcribe(ctx context.Context, samples []float64, sampleRate int, language string) (Result, error) {
	if language == LanguageAuto {
		language = ""
	}
	if TooShort(samples, sampleRate) {
		return EmptyResult(w.Name(), language), nil
	}

	reqBody, err := json.Marshal(map[string]any{
		"audio":       encodeFloat32(samples),
		"sample_rate": sampleRate,
		"language":    language,
	})
	if err != nil {
		return Result{}, fault.Wrap(fault.InferenceError, "encoding transcribe request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.BaseURL+"/transcribe", bytes.NewReader(reqBody))
	if err != nil {
		return Result{}, fault.Wrap(fault.InferenceError, "building transcribe request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.markUnhealthy()
		if ctxErr(ctx) != nil {
			return Result{}, ctxErr(ctx)
		}
		return Result{}, fault.Wrap(fault.ModelUnavailable, "calling whisper service", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		w.markUnhealthy()
		return Result{}, fault.Wrap(fault.ModelUnavailable, "reading whisper response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fault.Newf(fault.InferenceError, "whisper service returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var payload struct {
		Text                string  `json:"text"`
		Language            string  `json:"language"`
		LanguageProbability float64 `json:"language_probability"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, fault.Wrap(fault.InferenceError, "decoding whisper response", err)
	}

	confidence := payload.LanguageProbability
	if confidence <= 0 {
		confidence = 0.8
	}
	resolved := payload.Language
	if resolved == "" {
		resolved = language
	}
	return Result{Text: payload.Text, Confidence: confidence, Language: resolved, Backend: w.Name()}, nil
}
