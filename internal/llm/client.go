// Package llm is a minimal chat-completion client for the query translator.
// It speaks the OpenAI, Anthropic, and Ollama response formats; the caller
// only ever needs a single completion string back.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config selects the provider and model.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string // optional override; required for ollama off localhost
	Timeout  time.Duration
}

// Client makes chat-completion calls.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates an LLM client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Complete sends a single-turn prompt and returns the completion text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.cfg.APIKey == "" && c.cfg.Provider != ProviderOllama {
		return "", fmt.Errorf("no API key configured for provider %s", c.cfg.Provider)
	}

	reqBody := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.0,
		"max_tokens":  1024,
	}
	if c.cfg.Provider == ProviderOllama {
		reqBody["stream"] = false
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(), bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req)

	c.logger.Debug("making LLM API request",
		"provider", c.cfg.Provider,
		"model", c.cfg.Model,
		"prompt_length", len(prompt),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return parseResponse(c.cfg.Provider, body)
}

func (c *Client) apiURL() string {
	switch c.cfg.Provider {
	case ProviderAnthropic:
		if c.cfg.BaseURL != "" {
			return c.cfg.BaseURL + "/v1/messages"
		}
		return "https://api.anthropic.com/v1/messages"
	case ProviderOllama:
		baseURL := c.cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return baseURL + "/api/chat"
	default:
		if c.cfg.BaseURL != "" {
			return c.cfg.BaseURL + "/v1/chat/completions"
		}
		return "https://api.openai.com/v1/chat/completions"
	}
}

func (c *Client) setAuthHeaders(req *http.Request) {
	switch c.cfg.Provider {
	case ProviderAnthropic:
		req.Header.Set("x-api-key", c.cfg.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	case ProviderOllama:
		// No auth needed
	default:
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

// parseResponse extracts the completion text from the provider's format.
func parseResponse(provider string, body []byte) (string, error) {
	switch provider {
	case ProviderAnthropic:
		var parsed struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", fmt.Errorf("failed to parse anthropic response: %w", err)
		}
		if len(parsed.Content) == 0 {
			return "", fmt.Errorf("anthropic response has no content")
		}
		return parsed.Content[0].Text, nil

	case ProviderOllama:
		var parsed struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", fmt.Errorf("failed to parse ollama response: %w", err)
		}
		return parsed.Message.Content, nil

	default:
		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return "", fmt.Errorf("response has no choices")
		}
		return parsed.Choices[0].Message.Content, nil
	}
}
