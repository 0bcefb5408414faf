package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)
		require.NotEmpty(t, req.Messages)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"content": `{"topic":"health"}`},
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "test-model")
	raw, err := p.Complete(context.Background(), Request{
		Prompt: "classify this",
		Schema: Schema{Name: "topic", Schema: json.RawMessage(`{"type":"object"}`)},
	})
	require.NoError(t, err)

	var out struct {
		Topic string `json:"topic"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "health", out.Topic)
}

func TestOllamaCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "missing")
	_, err := p.Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorContains(t, err, "status 404")
}

func TestOllamaCompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "slow")
	start := time.Now()
	_, err := p.Complete(context.Background(), Request{Prompt: "x", Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNoopProvider(t *testing.T) {
	var p Provider = NoopProvider{}
	_, err := p.Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "noop", p.Model())
}
