package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/voicegate-io/voicegate/pkg/core/fault"
)

// ConformerDefaultLanguage is used when the caller asked for automatic
// selection but the request still has to name a decoder block.
const ConformerDefaultLanguage = "hi"

// ConformerConfig points at the conformer model runtime.
type ConformerConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
}

// Conformer transcribes Indic speech through the conformer model
// runtime. The runtime returns raw per-frame scores over the joint
// vocabulary; masking, re-normalization and greedy CTC decoding happen
// here so the runtime stays a dumb acoustic model server.
type Conformer struct {
	config ConformerConfig
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	healthy bool
	vocabs  map[string]Vocab
}

// NewConformer builds the backend. No network traffic happens until the
// first IsAvailable or Transcribe call.
func NewConformer(config ConformerConfig, logger *slog.Logger) *Conformer {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Conformer{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
		vocabs: make(map[string]Vocab),
	}
}

func (c *Conformer) Name() string { return "conformer" }

// SupportedLanguages lists the decoder blocks the joint vocabulary
// carries. English is deliberately absent.
func (c *Conformer) SupportedLanguages() []string {
	out := make([]string, len(ConformerLanguages))
	copy(out, ConformerLanguages)
	return out
}

// IsAvailable reports whether the runtime answers its health endpoint.
// A successful probe is cached; a failed transcription drops the cache
// so the next probe hits the network again.
func (c *Conformer) IsAvailable(ctx context.Context) bool {
	c.mu.Lock()
	if c.healthy {
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("conformer health probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return false
	}

	c.mu.Lock()
	c.healthy = true
	c.mu.Unlock()
	return true
}

func (c *Conformer) markUnhealthy() {
	c.mu.Lock()
	c.healthy = false
	c.mu.Unlock()
}

// Transcribe runs the acoustic model remotely and decodes the returned
// score matrix locally. Audio shorter than the minimum is answered with
// an empty zero-confidence result without touching the runtime.
func (c *Conformer) Transcribe(ctx context.Context, samples []float64, sampleRate int, language string) (Result, error) {
	if language == "" || language == LanguageAuto {
		language = ConformerDefaultLanguage
	}
	if TooShort(samples, sampleRate) {
		return EmptyResult(c.Name(), language), nil
	}
	if _, ok := LanguageOffset(language); !ok {
		return Result{}, fault.Newf(fault.InferenceError, "language %q has no decoder block", language)
	}

	vocab, err := c.vocab(ctx, language)
	if err != nil {
		return Result{}, err
	}
	mask, err := LanguageMask(language)
	if err != nil {
		return Result{}, fault.Wrap(fault.InferenceError, "building language mask", err)
	}

	logProbs, err := c.fetchLogProbs(ctx, samples, sampleRate, language)
	if err != nil {
		return Result{}, err
	}

	text, confidence, err := DecodeGreedy(logProbs, mask, vocab)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, Confidence: confidence, Language: language, Backend: c.Name()}, nil
}

// vocab returns the 257-token filtered vocabulary for a language,
// fetching it from the runtime at most once per language.
func (c *Conformer) vocab(ctx context.Context, language string) (Vocab, error) {
	c.mu.Lock()
	if v, ok := c.vocabs[language]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/vocab/"+language, nil)
	if err != nil {
		return nil, fault.Wrap(fault.InferenceError, "building vocab request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.markUnhealthy()
		return nil, fault.Wrap(fault.ModelUnavailable, "fetching vocabulary", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.markUnhealthy()
		return nil, fault.Wrap(fault.ModelUnavailable, "reading vocabulary response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.Newf(fault.InferenceError, "vocab request for %q returned status %d", language, resp.StatusCode)
	}

	var payload struct {
		Language string   `json:"language"`
		Tokens   []string `json:"tokens"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fault.Wrap(fault.InferenceError, "decoding vocabulary response", err)
	}
	v := Vocab(payload.Tokens)
	if err := v.Validate(); err != nil {
		return nil, fault.Wrap(fault.InferenceError, fmt.Sprintf("vocabulary for %q", language), err)
	}

	c.mu.Lock()
	c.vocabs[language] = v
	c.mu.Unlock()
	c.logger.Debug("conformer vocabulary cached", "language", language, "tokens", len(v))
	return v, nil
}

// fetchLogProbs sends the audio to the runtime and unpacks the raw
// per-frame score matrix over the joint vocabulary.
func (c *Conformer) fetchLogProbs(ctx context.Context, samples []float64, sampleRate int, language string) ([][]float64, error) {
	reqBody, err := json.Marshal(map[string]any{
		"audio":       encodeFloat32(samples),
		"sample_rate": sampleRate,
		"language":    language,
	})
	if err != nil {
		return nil, fault.Wrap(fault.InferenceError, "encoding logprobs request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/logprobs", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fault.Wrap(fault.InferenceError, "building logprobs request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.markUnhealthy()
		if ctxErr(ctx) != nil {
			return nil, ctxErr(ctx)
		}
		return nil, fault.Wrap(fault.ModelUnavailable, "calling conformer runtime", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.markUnhealthy()
		return nil, fault.Wrap(fault.ModelUnavailable, "reading conformer response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.Newf(fault.InferenceError, "conformer runtime returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var payload struct {
		Frames int    `json:"frames"`
		Vocab  int    `json:"vocab"`
		Data   string `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fault.Wrap(fault.InferenceError, "decoding conformer response", err)
	}
	if payload.Vocab != JointVocabSize {
		return nil, fault.Newf(fault.InferenceError, "conformer returned vocab width %d, expected %d", payload.Vocab, JointVocabSize)
	}

	values, err := decodeFloat32(payload.Data)
	if err != nil {
		return nil, fault.Wrap(fault.InferenceError, "decoding score matrix", err)
	}
	if len(values) != payload.Frames*payload.Vocab {
		return nil, fault.Newf(fault.InferenceError, "score matrix has %d values, expected %d", len(values), payload.Frames*payload.Vocab)
	}

	rows := make([][]float64, payload.Frames)
	for i := range rows {
		rows[i] = values[i*payload.Vocab : (i+1)*payload.Vocab]
	}
	return rows, nil
}

// encodeFloat32 packs samples as little-endian float32 and encodes the
// bytes with standard base64.
func encodeFloat32(samples []float64) string {
	buf := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(s)))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// decodeFloat32 is the inverse of encodeFloat32.
func decodeFloat32(encoded string) ([]float64, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of 4", len(raw))
	}
	out := make([]float64, len(raw)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	return out, nil
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
