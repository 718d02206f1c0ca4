package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenRouter defaults
const (
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultOpenRouterReferer = "http://localhost:3000"
	DefaultOpenRouterTitle   = "Supply Chain PO Automation"
)

// System prompts sent ahead of every user prompt.
const (
	jsonSystemPrompt = "Respond only with valid JSON."
	textSystemPrompt = "You are a procurement analyst."
)

// OpenRouterOptions tunes the HTTP client. Zero values use defaults.
type OpenRouterOptions struct {
	BaseURL     string
	Referer     string
	Title       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// OpenRouterClient implements Client against an OpenAI-compatible
// chat completions endpoint.
type OpenRouterClient struct {
	config *Config
	apiKey string
	opts   OpenRouterOptions
	http   *http.Client
}

// NewOpenRouterClient creates a client. A missing API key yields a *ConfigError.
func NewOpenRouterClient(config *Config, apiKey string, opts OpenRouterOptions) (*OpenRouterClient, error) {
	if apiKey == "" {
		return nil, &ConfigError{Message: "OPENROUTER_API_KEY is not configured. Add it to .env before running the pipeline"}
	}
	if config == nil {
		config = DefaultOpenRouterConfig("")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOpenRouterBaseURL
	}
	if opts.Referer == "" {
		opts.Referer = DefaultOpenRouterReferer
	}
	if opts.Title == "" {
		opts.Title = DefaultOpenRouterTitle
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1024
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.1
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &OpenRouterClient{config: config, apiKey: apiKey, opts: opts, http: httpClient}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// GenerateContent implements Client.
func (c *OpenRouterClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	text, err := c.complete(ctx, textSystemPrompt, prompt, tier)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// GenerateJSON implements Client.
func (c *OpenRouterClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	text, err := c.complete(ctx, jsonSystemPrompt, prompt, tier)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

// GetModel implements Client.
func (c *OpenRouterClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close implements Client.
func (c *OpenRouterClient) Close() error { return nil }

func (c *OpenRouterClient) complete(ctx context.Context, system, prompt string, tier ModelTier) (string, error) {
	model := c.config.GetModel(tier)
	if model == "" {
		return "", &ConfigError{Message: fmt.Sprintf("no model configured for tier %s", tier)}
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.opts.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &ConfigError{Message: "failed to build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.opts.Referer)
	req.Header.Set("X-Title", c.opts.Title)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &ConnectivityError{Provider: ProviderOpenRouter, Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ConnectivityError{Provider: ProviderOpenRouter, Cause: err}
	}

	var parsed chatResponse
	decodeErr := json.Unmarshal(data, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return "", &ResponseError{Provider: ProviderOpenRouter, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", &ResponseError{Provider: ProviderOpenRouter, Message: fmt.Sprintf("malformed response: %v", decodeErr)}
	}
	if parsed.Error != nil {
		return "", &ResponseError{Provider: ProviderOpenRouter, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &ResponseError{Provider: ProviderOpenRouter, Message: "no choices in response"}
	}
	return parsed.Choices[0].Message.Content, nil
}
