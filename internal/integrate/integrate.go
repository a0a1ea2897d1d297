// Package integrate optionally rewrites the structurally merged document
// into one coherent answer using a chat-completions model. It is strictly
// best-effort: any failure leaves the structural merge untouched.
package integrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/answerhive/answerhive/config"
)

// Integrator turns a merged multi-source document into a single synthesized
// answer for the original query.
type Integrator interface {
	Integrate(ctx context.Context, query, merged string) (string, error)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// FromConfig returns nil when no API key is configured, which callers treat
// as integration disabled.
func FromConfig(cfg config.IntegrateConfig) *Client {
	if cfg.APIKey == "" {
		return nil
	}
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

const systemPrompt = `You are an answer synthesizer. You receive one question and several answers to it collected from different AI chat platforms, separated into labeled sections. Produce a single coherent answer: reconcile agreements, note real disagreements explicitly, and drop filler. Do not invent information absent from the sources. Treat sections marked simulated as low-trust placeholders.`

func (c *Client) Integrate(ctx context.Context, query, merged string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Question:\n%s\n\nCollected answers:\n%s", query, merged)},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	t0 := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("integration endpoint returned %d after %s", resp.StatusCode, time.Since(t0).Round(time.Millisecond))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("integration endpoint returned no content")
	}
	return out.Choices[0].Message.Content, nil
}
