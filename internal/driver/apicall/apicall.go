// Package apicall is the credential acquisition tier: when a platform has a
// stored API credential and a chat-completions endpoint, the answer is
// fetched directly over HTTP instead of through a live browser tab.
package apicall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/answerhive/answerhive/config"
	"github.com/answerhive/answerhive/internal/credstore"
	"github.com/answerhive/answerhive/internal/search"
)

// message is one turn in a chat-completions conversation.
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
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Driver calls each platform's own chat-completions endpoint with a stored
// credential. One HTTP round trip produces the whole answer, so the stream
// it opens is a buffered one-shot.
type Driver struct {
	creds      credstore.Store
	platforms  map[string]config.PlatformConfig
	httpClient *http.Client
}

func New(creds credstore.Store, platforms []config.PlatformConfig, timeout time.Duration) *Driver {
	byName := make(map[string]config.PlatformConfig, len(platforms))
	for _, p := range platforms {
		byName[p.Name] = p
	}
	return &Driver{
		creds:      creds,
		platforms:  byName,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (d *Driver) Tier() search.Tier { return search.TierCredential }

// Available requires both an endpoint to call and a credential to call it
// with. A credential-store read error counts as unavailable rather than
// failing the platform: the next tier may still serve it.
func (d *Driver) Available(_ context.Context, platform string) bool {
	p, ok := d.platforms[platform]
	if !ok || p.ChatEndpoint == "" {
		return false
	}
	cred, err := d.creds.Load(platform)
	return err == nil && cred != nil && cred.APIKey != ""
}

func (d *Driver) Open(ctx context.Context, platform, query string) (search.ContentStream, error) {
	p, ok := d.platforms[platform]
	if !ok || p.ChatEndpoint == "" {
		return nil, fmt.Errorf("platform %s has no chat endpoint", platform)
	}
	cred, err := d.creds.Load(platform)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil || cred.APIKey == "" {
		return nil, fmt.Errorf("no credential stored for %s", platform)
	}

	s := &stream{done: make(chan struct{})}
	go func() {
		defer close(s.done)
		content, err := d.complete(ctx, p, cred.APIKey, query)
		s.mu.Lock()
		s.content, s.err = content, err
		s.mu.Unlock()
	}()
	return s, nil
}

func (d *Driver) complete(ctx context.Context, p config.PlatformConfig, apiKey, query string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       p.Model,
		Messages:    []message{{Role: "user", Content: query}},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.ChatEndpoint, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("chat endpoint error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("chat endpoint returned no content")
	}
	return out.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// stream buffers a one-shot completion. Sample reports nothing until the
// round trip finishes, then the full answer; Done flips at the same moment,
// so the monitor completes on its very next check.
type stream struct {
	done chan struct{}

	mu      sync.Mutex
	content string
	err     error
}

func (s *stream) Sample(context.Context) (string, error) {
	select {
	case <-s.done:
	default:
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content, s.err
}

func (s *stream) Done() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stream) Close() error { return nil }
