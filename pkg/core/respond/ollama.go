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

	"github.com/sethvargo/go-retry"
)

// DefaultSystemPrompt keeps replies short enough to speak.
const DefaultSystemPrompt = "You are a helpful voice assistant. Answer in one or two short sentences; your reply will be read aloud."

// OllamaConfig points at a local Ollama server.
type OllamaConfig struct {
	BaseURL      string        `json:"base_url"`
	Model        string        `json:"model"`
	SystemPrompt string        `json:"system_prompt"`
	Temperature  float64       `json:"temperature"`
	MaxTokens    int           `json:"max_tokens"`
	Timeout      time.Duration `json:"timeout"`
	MaxRetries   uint64        `json:"max_retries"`
}

// DefaultOllamaConfig matches the local-first deployment the pipeline
// is built around.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL:      "http://localhost:11434",
		Model:        "qwen3:4b-instruct-2507-q4_K_M",
		SystemPrompt: DefaultSystemPrompt,
		Temperature:  0.7,
		MaxTokens:    150,
		Timeout:      60 * time.Second,
		MaxRetries:   2,
	}
}

// Ollama is the default reply generator. Server errors and transport
// failures are retried with exponential backoff; 4xx responses are
// not.
type Ollama struct {
	config OllamaConfig
	client *http.Client
	logger *slog.Logger
}

// NewOllama builds the replier, filling zero config fields with
// defaults.
func NewOllama(config OllamaConfig, logger *slog.Logger) *Ollama {
	def := DefaultOllamaConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = def.SystemPrompt
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = def.MaxTokens
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &Ollama{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

func (o *Ollama) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
	Think    bool           `json:"think"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Reply sends the conversation to Ollama's chat endpoint. The system
// prompt goes first, then history, then the new transcript as the
// final user message.
func (o *Ollama) Reply(ctx context.Context, transcript string, history []Message) (string, error) {
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: o.config.SystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: transcript})

	reqBody, err := json.Marshal(ollamaChatRequest{
		Model:    o.config.Model,
		Messages: messages,
		Stream:   false,
		Options: &ollamaOptions{
			Temperature: o.config.Temperature,
			NumPredict:  o.config.MaxTokens,
		},
		Think: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	backoff := retry.WithMaxRetries(o.config.MaxRetries, retry.NewExponential(500*time.Millisecond))

	var reply string
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.BaseURL+"/api/chat", bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.StatusCode >= 500 {
			o.logger.Warn("ollama server error, will retry", "status", resp.StatusCode)
			return retry.RetryableError(fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, truncate(body)))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, truncate(body))
		}

		var parsed ollamaChatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		reply = strings.TrimSpace(parsed.Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// IsAvailable checks that the server answers its model listing
// endpoint.
func (o *Ollama) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func truncate(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
