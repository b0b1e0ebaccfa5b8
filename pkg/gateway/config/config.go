// Package config loads the gateway's tuning from the environment. Every
// knob has a default and is validated at load time with an error naming
// the offending variable, so a bad deployment fails at startup instead
// of at 3am under traffic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Reply backends the dispatcher can be wired to.
const (
	ReplyBackendOllama = "ollama"
	ReplyBackendGemini = "gemini"
)

// SampleRate is the only rate the pipeline runs at. The env var exists
// so a misconfigured deployment fails loudly rather than resampling
// garbage.
const SampleRate = 16000

type Config struct {
	Addr string

	// CORS allowlist for browser clients. Empty means same-origin only.
	CORSAllowedOrigins map[string]struct{}
	LogAccess          bool

	// Session audio pipeline.
	SampleRate         int
	VADWindowMs        int
	VADSpeechThreshold float64
	VADEnergyFloorDB   float64
	VADOnsetWindows    int
	VADEndSilenceMs    int
	VADMinSpeechMs     int
	VADMaxUtteranceMs  int
	EnergyGateDB       float64
	BargeMinSpeechMs   int
	BargeThresholdDB   float64
	BufferDuration     time.Duration
	Language           string
	HistoryLimit       int

	// Transcription collaborators. An empty URL leaves that backend
	// unregistered; at least one must be set.
	ConformerURL     string
	WhisperURL       string
	WhisperLanguages []string
	STTTimeout       time.Duration

	// Reply generation.
	ReplyBackend string
	OllamaURL    string
	OllamaModel  string
	GeminiAPIKey string
	GeminiModel  string
	ReplyTimeout time.Duration

	// Speech synthesis.
	TTSURL     string
	TTSTimeout time.Duration

	// Session registry.
	MaxSessions        int
	SessionIdleTimeout time.Duration
	CleanupInterval    time.Duration

	// WebSocket transport.
	WSMaxMessageBytes   int64
	InboundBytesPerSec  int64
	InboundBurstSeconds int
	WSPingInterval      time.Duration
	WSWriteTimeout      time.Duration

	// Turn persistence. Empty DSN disables it.
	PostgresDSN string

	MetricsNamespace string

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOICEGATE_ADDR", ":8100"),
		CORSAllowedOrigins:  make(map[string]struct{}),
		LogAccess:           envBoolOr("VOICEGATE_LOG_ACCESS", true),
		SampleRate:          envIntOr("VOICEGATE_SAMPLE_RATE", SampleRate),
		VADWindowMs:         envIntOr("VOICEGATE_VAD_WINDOW_MS", 20),
		VADSpeechThreshold:  envFloat64Or("VOICEGATE_VAD_SPEECH_THRESHOLD", 0.12),
		VADEnergyFloorDB:    envFloat64Or("VOICEGATE_VAD_ENERGY_FLOOR_DB", -50),
		VADOnsetWindows:     envIntOr("VOICEGATE_VAD_ONSET_WINDOWS", 12),
		VADEndSilenceMs:     envIntOr("VOICEGATE_VAD_END_SILENCE_MS", 500),
		VADMinSpeechMs:      envIntOr("VOICEGATE_VAD_MIN_SPEECH_MS", 200),
		VADMaxUtteranceMs:   envIntOr("VOICEGATE_VAD_MAX_UTTERANCE_MS", 30000),
		EnergyGateDB:        envFloat64Or("VOICEGATE_ENERGY_GATE_DB", -45),
		BargeMinSpeechMs:    envIntOr("VOICEGATE_BARGE_MIN_SPEECH_MS", 150),
		BargeThresholdDB:    envFloat64Or("VOICEGATE_BARGE_THRESHOLD_DB", -40),
		BufferDuration:      envDurationOr("VOICEGATE_BUFFER_DURATION", 35*time.Second),
		Language:            envOr("VOICEGATE_LANGUAGE", "auto"),
		HistoryLimit:        envIntOr("VOICEGATE_HISTORY_LIMIT", 16),
		ConformerURL:        envOr("VOICEGATE_CONFORMER_URL", "http://localhost:8001"),
		WhisperURL:          envOr("VOICEGATE_WHISPER_URL", "http://localhost:8002"),
		WhisperLanguages:    splitCSV(envOr("VOICEGATE_WHISPER_LANGUAGES", "en,hi")),
		STTTimeout:          envDurationOr("VOICEGATE_STT_TIMEOUT", 10*time.Second),
		ReplyBackend:        envOr("VOICEGATE_REPLY_BACKEND", ReplyBackendOllama),
		OllamaURL:           envOr("VOICEGATE_OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:         envOr("VOICEGATE_OLLAMA_MODEL", "qwen3:4b-instruct-2507-q4_K_M"),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("VOICEGATE_GEMINI_API_KEY")),
		GeminiModel:         envOr("VOICEGATE_GEMINI_MODEL", "gemini-2.0-flash"),
		ReplyTimeout:        envDurationOr("VOICEGATE_REPLY_TIMEOUT", 60*time.Second),
		TTSURL:              envOr("VOICEGATE_TTS_URL", "http://localhost:8003"),
		TTSTimeout:          envDurationOr("VOICEGATE_TTS_TIMEOUT", 15*time.Second),
		MaxSessions:         envIntOr("VOICEGATE_MAX_SESSIONS", 64),
		SessionIdleTimeout:  envDurationOr("VOICEGATE_SESSION_IDLE_TIMEOUT", time.Hour),
		CleanupInterval:     envDurationOr("VOICEGATE_CLEANUP_INTERVAL", 5*time.Minute),
		WSMaxMessageBytes:   envInt64Or("VOICEGATE_WS_MAX_MESSAGE_BYTES", 256*1024),
		InboundBytesPerSec:  envInt64Or("VOICEGATE_INBOUND_BYTES_PER_SEC", 128*1024),
		InboundBurstSeconds: envIntOr("VOICEGATE_INBOUND_BURST_SECONDS", 2),
		WSPingInterval:      envDurationOr("VOICEGATE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("VOICEGATE_WS_WRITE_TIMEOUT", 5*time.Second),
		PostgresDSN:         strings.TrimSpace(os.Getenv("VOICEGATE_POSTGRES_DSN")),
		MetricsNamespace:    envOr("VOICEGATE_METRICS_NAMESPACE", "voicegate"),
		ReadHeaderTimeout:   envDurationOr("VOICEGATE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("VOICEGATE_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("VOICEGATE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.SampleRate != SampleRate {
		return Config{}, fmt.Errorf("VOICEGATE_SAMPLE_RATE must be %d", SampleRate)
	}
	if cfg.VADWindowMs < 10 || cfg.VADWindowMs > 30 {
		return Config{}, fmt.Errorf("VOICEGATE_VAD_WINDOW_MS must be in 10..30")
	}
	if cfg.VADSpeechThreshold < 0 || cfg.VADSpeechThreshold > 1 {
		return Config{}, fmt.Errorf("VOICEGATE_VAD_SPEECH_THRESHOLD must be in 0..1")
	}
	if cfg.VADEnergyFloorDB >= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_VAD_ENERGY_FLOOR_DB must be < 0")
	}
	if cfg.VADOnsetWindows <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_VAD_ONSET_WINDOWS must be > 0")
	}
	if cfg.VADEndSilenceMs < 200 || cfg.VADEndSilenceMs > 1000 {
		return Config{}, fmt.Errorf("VOICEGATE_VAD_END_SILENCE_MS must be in 200..1000")
	}
	if cfg.VADMinSpeechMs <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_VAD_MIN_SPEECH_MS must be > 0")
	}
	if cfg.VADMaxUtteranceMs <= cfg.VADEndSilenceMs {
		return Config{}, fmt.Errorf("VOICEGATE_VAD_MAX_UTTERANCE_MS must exceed VOICEGATE_VAD_END_SILENCE_MS")
	}
	if cfg.EnergyGateDB >= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_ENERGY_GATE_DB must be < 0")
	}
	if cfg.BargeMinSpeechMs <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_BARGE_MIN_SPEECH_MS must be > 0")
	}
	if cfg.BargeThresholdDB >= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_BARGE_THRESHOLD_DB must be < 0")
	}
	if cfg.BufferDuration <= time.Duration(cfg.VADMaxUtteranceMs)*time.Millisecond {
		return Config{}, fmt.Errorf("VOICEGATE_BUFFER_DURATION must exceed VOICEGATE_VAD_MAX_UTTERANCE_MS")
	}
	if strings.TrimSpace(cfg.Language) == "" {
		return Config{}, fmt.Errorf("VOICEGATE_LANGUAGE must not be empty")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_HISTORY_LIMIT must be > 0")
	}
	if strings.TrimSpace(cfg.WhisperURL) != "" && len(cfg.WhisperLanguages) == 0 {
		return Config{}, fmt.Errorf("VOICEGATE_WHISPER_LANGUAGES must not be empty when VOICEGATE_WHISPER_URL is set")
	}
	if cfg.STTTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_STT_TIMEOUT must be > 0")
	}
	switch cfg.ReplyBackend {
	case ReplyBackendOllama:
	case ReplyBackendGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, fmt.Errorf("VOICEGATE_GEMINI_API_KEY must be set when VOICEGATE_REPLY_BACKEND=gemini")
		}
	default:
		return Config{}, fmt.Errorf("VOICEGATE_REPLY_BACKEND must be one of ollama|gemini")
	}
	if strings.TrimSpace(cfg.OllamaURL) == "" {
		return Config{}, fmt.Errorf("VOICEGATE_OLLAMA_URL must not be empty")
	}
	if strings.TrimSpace(cfg.OllamaModel) == "" {
		return Config{}, fmt.Errorf("VOICEGATE_OLLAMA_MODEL must not be empty")
	}
	if cfg.ReplyTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_REPLY_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.TTSURL) == "" {
		return Config{}, fmt.Errorf("VOICEGATE_TTS_URL must not be empty")
	}
	if cfg.TTSTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_TTS_TIMEOUT must be > 0")
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_MAX_SESSIONS must be > 0")
	}
	if cfg.SessionIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_SESSION_IDLE_TIMEOUT must be > 0")
	}
	if cfg.CleanupInterval <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_CLEANUP_INTERVAL must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.InboundBytesPerSec < 0 {
		return Config{}, fmt.Errorf("VOICEGATE_INBOUND_BYTES_PER_SEC must be >= 0")
	}
	if cfg.InboundBytesPerSec > 0 && cfg.InboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("VOICEGATE_INBOUND_BURST_SECONDS must be >= 1 when the inbound byte limit is enabled")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_WS_WRITE_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.MetricsNamespace) == "" {
		return Config{}, fmt.Errorf("VOICEGATE_METRICS_NAMESPACE must not be empty")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICEGATE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
