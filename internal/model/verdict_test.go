package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelForScore(t *testing.T) {
	tests := []struct {
		score int
		want  VerdictLabel
	}{
		{100, LabelVerified},
		{76, LabelVerified},
		{75, LabelMostlyAccurate},
		{61, LabelMostlyAccurate},
		{60, LabelPartiallyAccurate},
		{41, LabelPartiallyAccurate},
		{40, LabelFalse},
		{0, LabelFalse},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LabelForScore(tt.score), "score %d", tt.score)
	}
}

func TestScoreInBand(t *testing.T) {
	ptr := func(n int) *int { return &n }

	assert.True(t, ScoreInBand(LabelUnverified, nil))
	assert.False(t, ScoreInBand(LabelUnverified, ptr(50)))
	assert.True(t, ScoreInBand(LabelVerified, ptr(100)))
	assert.False(t, ScoreInBand(LabelVerified, ptr(75)))
	assert.True(t, ScoreInBand(LabelFalse, ptr(0)))
	assert.False(t, ScoreInBand(LabelFalse, ptr(41)))
	assert.False(t, ScoreInBand(LabelMostlyAccurate, nil))
}

func TestVerdictPin(t *testing.T) {
	score := func(n int) *int { return &n }

	v := Verdict{Score: score(80), Label: LabelVerified, Confidence: 0.7}
	v.Pin()
	require.NotNil(t, v.Score)
	assert.Equal(t, 100, *v.Score)

	v = Verdict{Score: score(30), Label: LabelFalse, Confidence: 0.95}
	v.Pin()
	require.NotNil(t, v.Score)
	assert.Equal(t, 0, *v.Score)

	// False below the confidence threshold is not pinned.
	v = Verdict{Score: score(30), Label: LabelFalse, Confidence: 0.8}
	v.Pin()
	assert.Equal(t, 30, *v.Score)
}

func TestSubmissionValidate(t *testing.T) {
	err := Submission{MediaType: "text/plain", Text: "hello"}.Validate()
	assert.NoError(t, err)

	err = Submission{Text: "hello"}.Validate()
	assert.ErrorContains(t, err, "media_type")

	err = Submission{MediaType: "text/plain"}.Validate()
	assert.ErrorContains(t, err, "requires text")

	err = Submission{
		MediaType:   "text/plain",
		Attachments: []Attachment{{Kind: "video", URL: "https://example.com"}},
	}.Validate()
	assert.ErrorContains(t, err, "unknown attachment kind")
}
