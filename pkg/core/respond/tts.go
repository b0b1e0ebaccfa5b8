package respond

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode"

	"github.com/voicegate-io/voicegate/pkg/core/audio"
)

// indicScripts covers the writing systems the Indic synthesis engine
// handles. Text dominated by these scripts routes to it; everything
// else routes to the English engine.
var indicScripts = []*unicode.RangeTable{
	unicode.Devanagari,
	unicode.Bengali,
	unicode.Gurmukhi,
	unicode.Gujarati,
	unicode.Oriya,
	unicode.Tamil,
	unicode.Telugu,
	unicode.Kannada,
	unicode.Malayalam,
}

// DetectSpeechLanguage classifies reply text as "en" or "indic" by the
// share of Indic-script runes among non-space runes. The threshold
// matches the synthesis service's own fallback detection.
func DetectSpeechLanguage(text string) string {
	var indic, total int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsOneOf(indicScripts, r) {
			indic++
		}
	}
	if total == 0 {
		return "en"
	}
	if float64(indic)/float64(total) > 0.3 {
		return "indic"
	}
	return "en"
}

// TTSConfig points at the synthesis service.
type TTSConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
	// Description optionally steers the Indic engine's voice.
	Description string `json:"description"`
	// TargetRate is the session sample rate the output must match.
	TargetRate int `json:"target_rate"`
}

// TTS shuttles reply text to the synthesis service and returns session
// rate PCM. The service picks its engine by language and answers with
// a WAV container at the engine's native rate, so output is decoded
// and resampled here.
type TTS struct {
	config TTSConfig
	client *http.Client
	logger *slog.Logger
}

// NewTTS builds the synthesizer.
func NewTTS(config TTSConfig, logger *slog.Logger) *TTS {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.TargetRate <= 0 {
		config.TargetRate = 16000
	}
	return &TTS{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

func (t *TTS) Name() string { return "tts" }

// IsAvailable probes the service health endpoint.
func (t *TTS) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.config.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Synthesize renders text to mono 16-bit PCM at the target rate. An
// explicit "en" language forces the English engine; any other explicit
// language uses the Indic engine; with no hint the text's script
// decides.
func (t *TTS) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	switch language {
	case "", "auto":
		language = DetectSpeechLanguage(text)
	case "en":
	default:
		language = "indic"
	}

	payload := map[string]any{"text": text, "language": language}
	if t.config.Description != "" {
		payload["description"] = t.config.Description
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.BaseURL+"/synthesize", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesis service returned status %d: %s", resp.StatusCode, truncate(body))
	}

	var parsed struct {
		Audio      string  `json:"audio"`
		Format     string  `json:"format"`
		SampleRate int     `json:"sample_rate"`
		Duration   float64 `json:"duration_seconds"`
		Engine     string  `json:"engine"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	wav, err := base64.StdEncoding.DecodeString(parsed.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	pcm, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	t.logger.Debug("synthesis complete",
		"engine", parsed.Engine,
		"language", language,
		"native_rate", rate,
		"duration_s", parsed.Duration)

	if rate != t.config.TargetRate {
		samples := audio.DecodePCM16(pcm)
		resampled := audio.Resample(samples, rate, t.config.TargetRate)
		pcm = audio.EncodePCM16(resampled)
	}
	return pcm, nil
}
