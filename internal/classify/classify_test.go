package classify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/verity-ai/verity/internal/llm"
	"github.com/verity-ai/verity/internal/testutil"
)

// stubProvider returns a fixed payload for every completion.
type stubProvider struct {
	payload string
	err     error
}

func (s stubProvider) Complete(context.Context, llm.Request) (json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.payload), nil
}

func (stubProvider) Model() string { return "stub" }

func TestClassifyModelPath(t *testing.T) {
	c := New(stubProvider{payload: `{"topic":"politics","bias":"Center-left","confidence":0.92,"rationale":"election coverage"}`}, time.Second, testutil.TestLogger())

	result := c.Classify(context.Background(), "The senator announced her campaign.", "")
	assert.Equal(t, TopicPolitics, result.Topic)
	assert.Equal(t, BiasCenterLeft, result.Bias)
	assert.InDelta(t, 0.92, result.Confidence, 1e-9)
	assert.False(t, result.FallbackUsed)
	assert.Equal(t, "stub", result.Model)
}

func TestClassifyBiasIgnoredOutsidePolitics(t *testing.T) {
	c := New(stubProvider{payload: `{"topic":"health","bias":"Left","confidence":0.8,"rationale":"vaccine study"}`}, time.Second, testutil.TestLogger())

	result := c.Classify(context.Background(), "New vaccine trial results released.", "")
	assert.Equal(t, TopicHealth, result.Topic)
	assert.Empty(t, result.Bias)
}

func TestClassifyFallbackOnUnavailable(t *testing.T) {
	c := New(stubProvider{err: llm.ErrUnavailable}, time.Second, testutil.TestLogger())

	result := c.Classify(context.Background(), "The vaccine reduced hospital admissions for patients with the virus in the disease registry.", "")
	assert.Equal(t, TopicHealth, result.Topic)
	assert.True(t, result.FallbackUsed)
	assert.LessOrEqual(t, result.Confidence, 0.45)
}

func TestClassifyFallbackOnMalformedOutput(t *testing.T) {
	c := New(stubProvider{payload: `{"topic":"astrology","confidence":2}`}, time.Second, testutil.TestLogger())

	result := c.Classify(context.Background(), "stock market inflation earnings bank", "")
	assert.True(t, result.FallbackUsed)
	assert.Equal(t, TopicFinance, result.Topic)
}

func TestClassifyHeuristicGeneral(t *testing.T) {
	result := classifyHeuristic("a plain sentence about nothing in particular")
	assert.Equal(t, TopicGeneral, result.Topic)
	assert.True(t, result.FallbackUsed)
}
