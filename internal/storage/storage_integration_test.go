package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/storage"
	"github.com/verity-ai/verity/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close(ctx)

	return m.Run()
}

func newSubmission() model.Submission {
	return model.Submission{
		ID:        uuid.New(),
		MediaType: "social_post",
		Text:      "The Amazon rainforest produces 20% of the world's oxygen.",
	}
}

func mustCreate(t *testing.T, sub model.Submission) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, testDB.CreateAnalysis(context.Background(), id, sub))
	return id
}

func sampleResult(id string) *model.AnalysisResult {
	score := 35
	return &model.AnalysisResult{
		AnalysisID: id,
		Topic:      "science",
		Verdict: model.Verdict{
			Score:      &score,
			Label:      model.LabelFalse,
			Confidence: 0.8,
			Summary:    "Verdict: False — The figure is a long-debunked overestimate.",
			Rationale:  "Peer-reviewed estimates put the net contribution near zero.",
		},
		Title:          "Fact Check: Amazon Oxygen Production Claim",
		Recommendation: model.RecommendNone,
		Complexity:     model.ComplexityMedium,
		Claims: []model.Claim{
			{ID: uuid.NewString(), Text: "The Amazon produces 20% of the world's oxygen.",
				ExtractionConfidence: 0.9, Verdict: model.LabelFalse, Confidence: 0.8},
		},
		ClaimMeta: model.ClaimMeta{TotalClaims: 1},
		Sources: []model.Source{
			{Key: "S1", Provider: "web_search", Title: "Amazon oxygen myth", URL: "https://example-news.com/amazon",
				Host: "example-news.com", Summary: "Scientists debunk the 20% figure.", AdjustedReliability: 0.8,
				Evaluation: &model.Evaluation{Reliability: 0.8, Relevance: 0.9, Stance: model.StanceRefutes,
					Assessment: "Directly contradicts the claim."}},
		},
		Explanation: []model.ExplanationStep{
			{Position: 1, Title: "Topic identified", Body: "Classified as science."},
			{Position: 2, Title: "Verdict reached", Body: "The figure is an overestimate."},
		},
		Epistemic: json.RawMessage(`{"confidence_band":"low"}`),
		Metadata:  model.ResultMetadata{Model: "test-model"},
	}
}

func TestCreateAndGetAnalysis(t *testing.T) {
	ctx := context.Background()
	sub := newSubmission()
	id := mustCreate(t, sub)

	analysis, err := testDB.GetAnalysis(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, analysis.ID)
	assert.Equal(t, model.StatusQueued, analysis.Status)
	assert.Equal(t, sub.Text, analysis.Submission.Text)
	assert.Nil(t, analysis.Result)
	assert.Nil(t, analysis.CompletedAt)
}

func TestGetAnalysis_NotFound(t *testing.T) {
	_, err := testDB.GetAnalysis(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMarkProcessing(t *testing.T) {
	ctx := context.Background()
	id := mustCreate(t, newSubmission())

	fresh, err := testDB.MarkProcessing(ctx, id)
	require.NoError(t, err)
	assert.True(t, fresh, "QUEUED -> PROCESSING must succeed")

	// Idempotent while still processing.
	fresh, err = testDB.MarkProcessing(ctx, id)
	require.NoError(t, err)
	assert.True(t, fresh, "PROCESSING -> PROCESSING must succeed")

	require.NoError(t, testDB.CompleteAnalysis(ctx, id, sampleResult(id), nil))

	// A redelivered job sees false once the analysis is COMPLETED.
	fresh, err = testDB.MarkProcessing(ctx, id)
	require.NoError(t, err)
	assert.False(t, fresh, "COMPLETED analysis must not return to PROCESSING")
}

func TestCompleteAnalysis(t *testing.T) {
	ctx := context.Background()
	id := mustCreate(t, newSubmission())
	_, err := testDB.MarkProcessing(ctx, id)
	require.NoError(t, err)

	result := sampleResult(id)
	require.NoError(t, testDB.CompleteAnalysis(ctx, id, result, nil))

	analysis, err := testDB.GetAnalysis(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, analysis.Status)
	require.NotNil(t, analysis.CompletedAt)
	require.NotNil(t, analysis.Result)
	assert.Equal(t, result.Title, analysis.Result.Title)
	assert.Equal(t, model.LabelFalse, analysis.Result.Verdict.Label)
	require.NotNil(t, analysis.Result.Verdict.Score)
	assert.Equal(t, 35, *analysis.Result.Verdict.Score)
	assert.Len(t, analysis.Result.Claims, 1)
	assert.Len(t, analysis.Result.Sources, 1)
	assert.JSONEq(t, `{"confidence_band":"low"}`, string(analysis.Result.Epistemic))
}

func TestCompleteAnalysis_ReplacesChildren(t *testing.T) {
	ctx := context.Background()
	id := mustCreate(t, newSubmission())

	first := sampleResult(id)
	require.NoError(t, testDB.CompleteAnalysis(ctx, id, first, nil))

	second := sampleResult(id)
	second.Claims = append(second.Claims, model.Claim{
		ID: uuid.NewString(), Text: "A second claim.", ExtractionConfidence: 0.7,
		Verdict: model.LabelUnverified, Confidence: 0.5,
	})
	require.NoError(t, testDB.CompleteAnalysis(ctx, id, second, nil))

	var claimCount, sourceCount, stepCount int
	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM analysis_claims WHERE analysis_id = $1),
		   (SELECT count(*) FROM analysis_sources WHERE analysis_id = $1),
		   (SELECT count(*) FROM explanation_steps WHERE analysis_id = $1)`,
		id,
	).Scan(&claimCount, &sourceCount, &stepCount))
	assert.Equal(t, 2, claimCount, "claims must be replaced, not appended")
	assert.Equal(t, 1, sourceCount)
	assert.Equal(t, 2, stepCount)
}

func TestCompleteAnalysis_StoresEmbeddings(t *testing.T) {
	ctx := context.Background()
	id := mustCreate(t, newSubmission())

	result := sampleResult(id)
	vec := make([]float32, 1536)
	vec[0] = 0.5
	embeddings := []pgvector.Vector{pgvector.NewVector(vec)}
	require.NoError(t, testDB.CompleteAnalysis(ctx, id, result, embeddings))

	var stored pgvector.Vector
	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT embedding FROM analysis_claims WHERE analysis_id = $1`, id,
	).Scan(&stored))
	require.Len(t, stored.Slice(), 1536)
	assert.InDelta(t, 0.5, stored.Slice()[0], 1e-6)
}

func TestCompleteAnalysis_UnknownID(t *testing.T) {
	id := uuid.NewString()
	err := testDB.CompleteAnalysis(context.Background(), id, sampleResult(id), nil)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFailAnalysis(t *testing.T) {
	ctx := context.Background()
	id := mustCreate(t, newSubmission())

	require.NoError(t, testDB.FailAnalysis(ctx, id, "Unable to extract meaningful claims from the provided content."))

	analysis, err := testDB.GetAnalysis(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, analysis.Status)
	assert.Equal(t, "Unable to extract meaningful claims from the provided content.", analysis.Error)
}

func TestFailAnalysis_NeverDemotesCompleted(t *testing.T) {
	ctx := context.Background()
	id := mustCreate(t, newSubmission())
	require.NoError(t, testDB.CompleteAnalysis(ctx, id, sampleResult(id), nil))

	require.NoError(t, testDB.FailAnalysis(ctx, id, "late retry failure"))

	analysis, err := testDB.GetAnalysis(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, analysis.Status)
	assert.Empty(t, analysis.Error)
}

func TestListAnalyses(t *testing.T) {
	ctx := context.Background()
	id := mustCreate(t, newSubmission())
	require.NoError(t, testDB.CompleteAnalysis(ctx, id, sampleResult(id), nil))

	analyses, err := testDB.ListAnalyses(ctx, 100)
	require.NoError(t, err)
	require.NotEmpty(t, analyses)

	var found *model.Analysis
	for i := range analyses {
		if analyses[i].ID == id {
			found = &analyses[i]
		}
	}
	require.NotNil(t, found, "listing must include the new analysis")
	assert.Equal(t, model.StatusCompleted, found.Status)
	require.NotNil(t, found.Result)
	assert.Equal(t, "Fact Check: Amazon Oxygen Production Claim", found.Result.Title)

	// Newest first.
	for i := 1; i < len(analyses); i++ {
		assert.False(t, analyses[i].CreatedAt.After(analyses[i-1].CreatedAt),
			"analyses must be ordered newest first")
	}
}

func TestListAnalyses_LimitClamped(t *testing.T) {
	for i := 0; i < 3; i++ {
		mustCreate(t, newSubmission())
	}
	analyses, err := testDB.ListAnalyses(context.Background(), -5)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(analyses), 20)
}

func TestNotifyRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, testDB.Listen(ctx, storage.ChannelJobs))
	require.NoError(t, testDB.Notify(ctx, storage.ChannelJobs, "ping"))

	channel, payload, err := testDB.WaitForNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.ChannelJobs, channel)
	assert.Equal(t, "ping", payload)
}
