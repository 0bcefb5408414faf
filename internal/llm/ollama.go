package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaProvider produces completions using a local Ollama server.
// Recommended for on-premises deployments: content never leaves the
// customer's network and there are no external API costs.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaProvider creates a provider that calls Ollama's chat API.
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Model returns the pinned model name.
func (p *OllamaProvider) Model() string { return p.model }

type ollamaChatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Format  json.RawMessage `json:"format,omitempty"`
	Stream  bool            `json:"stream"`
	Options map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error,omitempty"`
}

// Complete runs a schema-constrained completion. Ollama accepts the JSON
// schema directly in the "format" field.
func (p *OllamaProvider) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body := ollamaChatRequest{
		Model:   p.model,
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	}
	if req.System != "" {
		body.Messages = append(body.Messages, struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: "user", Content: req.Prompt})
	if len(req.Schema.Schema) > 0 {
		body.Format = req.Schema.Schema
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, string(b))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama: %s", result.Error)
	}
	if result.Message.Content == "" {
		return nil, fmt.Errorf("ollama: empty completion")
	}
	return json.RawMessage(result.Message.Content), nil
}

// NoopProvider always reports unavailable. Consumers fall back to their
// deterministic heuristics, which keeps the pipeline runnable without any
// model credentials (e.g. in tests).
type NoopProvider struct{}

// Model returns the provider tag recorded in result metadata.
func (NoopProvider) Model() string { return "noop" }

// Complete reports unavailable.
func (NoopProvider) Complete(context.Context, Request) (json.RawMessage, error) {
	return nil, ErrUnavailable
}

// DescribeImage reports unavailable.
func (NoopProvider) DescribeImage(context.Context, string) (string, error) {
	return "", ErrUnavailable
}
