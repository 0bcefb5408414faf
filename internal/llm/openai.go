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

const openAIChatURL = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider produces completions and vision descriptions via the
// OpenAI chat completions API with JSON-schema response formatting.
type OpenAIProvider struct {
	apiKey      string
	model       string
	visionModel string
	httpClient  *http.Client
}

// NewOpenAIProvider creates an OpenAI provider. visionModel may equal model.
func NewOpenAIProvider(apiKey, model, visionModel string) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:      apiKey,
		model:       model,
		visionModel: visionModel,
		httpClient:  &http.Client{},
	}
}

// Model returns the pinned completion model name.
func (p *OpenAIProvider) Model() string { return p.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat any           `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete runs a schema-constrained completion at temperature 0.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (json.RawMessage, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: 0,
		MaxTokens:   req.MaxTokens,
	}
	if req.Schema.Name != "" {
		body.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   req.Schema.Name,
				"strict": true,
				"schema": req.Schema.Schema,
			},
		}
	}

	content, err := p.send(ctx, body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(content), nil
}

// DescribeImage asks the vision model for OCR text plus a scene description.
func (p *OpenAIProvider) DescribeImage(ctx context.Context, imageURL string) (string, error) {
	if p.apiKey == "" {
		return "", ErrUnavailable
	}

	body := chatRequest{
		Model: p.visionModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []any{
				map[string]any{
					"type": "text",
					"text": "Transcribe any text in this image, then describe the scene in two or three factual sentences. Note visible people, places, dates, and numbers.",
				},
				map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": imageURL},
				},
			},
		}},
		Temperature: 0,
		MaxTokens:   500,
	}
	return p.send(ctx, body)
}

func (p *OpenAIProvider) send(ctx context.Context, body chatRequest) (string, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("llm: unmarshal response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("llm: openai error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: unexpected status %d", resp.StatusCode)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("llm: no choices in response")
	}
	return result.Choices[0].Message.Content, nil
}

// Reachable checks whether an HTTP endpoint answers within two seconds.
// Used by provider auto-detection at startup.
func Reachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}
