package claims

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-ai/verity/internal/llm"
	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/testutil"
)

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

func newExtractor(p llm.Provider) *Extractor {
	return New(p, 3, 0.5, time.Second, testutil.TestLogger())
}

func TestExtractModelPath(t *testing.T) {
	payload := `{"claims":[
		{"text":"The capital of France is Paris.","extraction_confidence":0.95,"verdict":"Verified","confidence":0.9},
		{"text":"France joined the EU in 1957.","extraction_confidence":0.85,"verdict":"Mostly Accurate","confidence":0.7}
	]}`
	e := newExtractor(stubProvider{payload: payload})

	claims, meta := e.Extract(context.Background(), "some text")
	require.Len(t, claims, 2)
	assert.Equal(t, "The capital of France is Paris.", claims[0].Text)
	assert.Equal(t, model.LabelVerified, claims[0].Verdict)
	assert.NotEmpty(t, claims[0].ID)
	assert.Equal(t, 2, meta.TotalClaims)
	assert.False(t, meta.UsedFallback)
}

func TestExtractFiltersLowConfidence(t *testing.T) {
	payload := `{"claims":[
		{"text":"Solid claim about a real event.","extraction_confidence":0.8,"verdict":"Verified","confidence":0.8},
		{"text":"Shaky claim.","extraction_confidence":0.3,"verdict":"False","confidence":0.4}
	]}`
	e := newExtractor(stubProvider{payload: payload})

	claims, _ := e.Extract(context.Background(), "text")
	require.Len(t, claims, 1)
	assert.Equal(t, "Solid claim about a real event.", claims[0].Text)
}

func TestExtractCapsAtMax(t *testing.T) {
	payload := `{"claims":[
		{"text":"First claim stated here.","extraction_confidence":0.9,"verdict":"Verified","confidence":0.9},
		{"text":"Second claim stated here.","extraction_confidence":0.9,"verdict":"Verified","confidence":0.9},
		{"text":"Third claim stated here.","extraction_confidence":0.9,"verdict":"Verified","confidence":0.9},
		{"text":"Fourth claim stated here.","extraction_confidence":0.9,"verdict":"Verified","confidence":0.9}
	]}`
	e := newExtractor(stubProvider{payload: payload})

	claims, meta := e.Extract(context.Background(), "text")
	assert.Len(t, claims, 3)
	assert.Equal(t, 3, meta.TotalClaims)
}

func TestExtractEmptyForNonFactual(t *testing.T) {
	e := newExtractor(stubProvider{payload: `{"claims":[]}`})
	claims, meta := e.Extract(context.Background(), "I love sunny days!")
	assert.Empty(t, claims)
	assert.Equal(t, 0, meta.TotalClaims)
}

func TestExtractFallbackSentenceSplit(t *testing.T) {
	e := newExtractor(stubProvider{err: llm.ErrUnavailable})

	claims, meta := e.Extract(context.Background(),
		"The dam released water on Monday. Three villages were evacuated downstream. Officials expect levels to drop by Friday. A fourth sentence is ignored.")
	require.Len(t, claims, 3)
	assert.True(t, meta.UsedFallback)
	assert.InDelta(t, 0.55, claims[0].ExtractionConfidence, 1e-9)
	assert.InDelta(t, 0.50, claims[1].ExtractionConfidence, 1e-9)
	assert.InDelta(t, 0.45, claims[2].ExtractionConfidence, 1e-9)
	for _, c := range claims {
		assert.Equal(t, model.LabelUnverified, c.Verdict,
			"fallback claims carry no preliminary finding")
	}
}

func TestMergeAdjacent(t *testing.T) {
	claims := []model.Claim{
		{Text: "The budget increased by", ExtractionConfidence: 0.6, Confidence: 0.5},
		{Text: "twelve percent last year.", ExtractionConfidence: 0.8, Confidence: 0.7},
		{Text: "A separate complete claim.", ExtractionConfidence: 0.9, Confidence: 0.9},
	}
	merged := MergeAdjacent(claims)
	require.Len(t, merged, 2)
	assert.Equal(t, "The budget increased by twelve percent last year.", merged[0].Text)
	assert.InDelta(t, 0.8, merged[0].ExtractionConfidence, 1e-9)
	assert.InDelta(t, 0.7, merged[0].Confidence, 1e-9)
}

func TestMergeAdjacentSkipsTerminatedOrCapitalized(t *testing.T) {
	claims := []model.Claim{
		{Text: "Complete sentence."},
		{Text: "another fragment"},
		{Text: "No terminator here"},
		{Text: "Capitalized follow-on"},
	}
	merged := MergeAdjacent(claims)
	assert.Len(t, merged, 4)
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("One. Two! Three? Trailing fragment")
	assert.Equal(t, []string{"One.", "Two!", "Three?", "Trailing fragment"}, got)
}
