// Package llm provides the language-model provider interface used across the
// analysis pipeline: schema-constrained completions, vision descriptions for
// image attachments, and embeddings for the corpus retriever.
//
// Defines the interfaces plus OpenAI, Ollama, and noop implementations. The
// interfaces allow swapping providers without changing consumers.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUnavailable signals that no model is configured or the provider declined
// the call. Callers treat it as a null result and use their heuristic
// fallback path.
var ErrUnavailable = errors.New("llm: provider unavailable")

// Schema names a strict JSON schema the completion must conform to.
type Schema struct {
	Name   string
	Schema json.RawMessage
}

// Request is the envelope for one schema-constrained completion.
type Request struct {
	System    string
	Prompt    string
	Schema    Schema
	MaxTokens int
	Timeout   time.Duration
}

// Provider produces schema-constrained JSON completions at temperature 0.
type Provider interface {
	// Complete returns the raw JSON object for req. Implementations apply
	// req.Timeout to the outbound call and honor ctx cancellation.
	Complete(ctx context.Context, req Request) (json.RawMessage, error)

	// Model identifies the pinned model version for determinism records.
	Model() string
}

// Describer turns an image URL into an OCR-plus-scene description.
type Describer interface {
	DescribeImage(ctx context.Context, imageURL string) (string, error)
}
