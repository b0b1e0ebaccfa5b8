package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// GeminiDefaultBaseURL is the public Gemini API endpoint.
const GeminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiConfig points at the Gemini API. The replier is optional and
// only constructed when an API key is configured.
type GeminiConfig struct {
	APIKey       string        `json:"-"`
	BaseURL      string        `json:"base_url"`
	Model        string        `json:"model"`
	SystemPrompt string        `json:"system_prompt"`
	MaxTokens    int           `json:"max_tokens"`
	Timeout      time.Duration `json:"timeout"`
}

// Gemini generates replies through the hosted Gemini API. Alternative
// to the local Ollama replier for deployments with cloud access.
type Gemini struct {
	config GeminiConfig
	client *http.Client
	logger *slog.Logger
}

// NewGemini builds the replier.
func NewGemini(config GeminiConfig, logger *slog.Logger) *Gemini {
	if config.BaseURL == "" {
		config.BaseURL = GeminiDefaultBaseURL
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 150
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &Gemini{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

func (g *Gemini) Name() string { return "gemini" }

// Gemini API uses camelCase field names.
type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenConfig struct {
	MaxOutputTokens *int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// Reply maps the conversation onto Gemini contents. Assistant turns
// take the "model" role; the system prompt rides separately as the
// system instruction.
func (g *Gemini) Reply(ctx context.Context, transcript string, history []Message) (string, error) {
	contents := make([]geminiContent, 0, len(history)+1)
	for _, m := range history {
		role := m.Role
		if role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	contents = append(contents, geminiContent{Role: RoleUser, Parts: []geminiPart{{Text: transcript}}})

	reqBody, err := json.Marshal(geminiRequest{
		Contents: contents,
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: g.config.SystemPrompt}},
		},
		GenerationConfig: &geminiGenConfig{MaxOutputTokens: &g.config.MaxTokens},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(g.config.BaseURL, "/"), g.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.config.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, truncate(body))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return strings.TrimSpace(text.String()), nil
}
