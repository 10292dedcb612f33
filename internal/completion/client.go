// Package completion wraps the one external generative capability the
// engine depends on: complete(messages) -> text plus token usage. All
// transport failures (network, timeout, non-2xx, malformed body)
// surface as a single error to the caller.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const callTimeout = 30 * time.Second

// ErrNoAPIKey means no credential is configured. It is checked before
// any request is enqueued, not discovered mid-call.
var ErrNoAPIKey = errors.New("completion: no api key configured")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
	// ImageB64 is an optional PNG screen snapshot, base64 encoded,
	// attached to the last user message.
	ImageB64 string
}

type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client is the boundary the scheduler dispatches through. Tests
// substitute fakes; production uses HTTPClient.
type Client interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}

type HTTPClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(apiKey, baseURL string) *HTTPClient {
	return &HTTPClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: callTimeout},
	}
}

// Configured reports whether a credential is present.
func (c *HTTPClient) Configured() bool {
	return strings.TrimSpace(c.apiKey) != ""
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Result, error) {
	if !c.Configured() {
		return nil, ErrNoAPIKey
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("completion: missing base url")
	}
	if req.Model == "" {
		return nil, fmt.Errorf("completion: missing model")
	}

	messages := make([]map[string]any, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, map[string]any{
			"role":    "system",
			"content": req.System,
		})
	}
	for i, m := range req.Messages {
		if req.ImageB64 != "" && i == len(req.Messages)-1 && m.Role == "user" {
			messages = append(messages, map[string]any{
				"role": m.Role,
				"content": []map[string]any{
					{"type": "text", "text": m.Content},
					{"type": "image_url", "image_url": map[string]string{
						"url": "data:image/png;base64," + req.ImageB64,
					}},
				},
			})
			continue
		}
		messages = append(messages, map[string]any{
			"role":    m.Role,
			"content": m.Content,
		})
	}

	body := map[string]any{
		"model":      req.Model,
		"messages":   messages,
		"max_tokens": req.MaxTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("completion http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	return &Result{
		Text:         strings.TrimSpace(decoded.Choices[0].Message.Content),
		InputTokens:  decoded.Usage.PromptTokens,
		OutputTokens: decoded.Usage.CompletionTokens,
	}, nil
}
