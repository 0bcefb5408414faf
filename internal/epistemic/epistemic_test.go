package epistemic

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-ai/verity/internal/evidence"
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

type stubRetriever struct {
	items []model.EvidenceItem
}

func (s stubRetriever) Retrieve(context.Context, evidence.Options) []model.EvidenceItem {
	return s.items
}

type passEvaluator struct{}

func (passEvaluator) Evaluate(_ context.Context, _ string, items []model.EvidenceItem) []model.EvidenceItem {
	return items
}

func evidenceItem(url string, reliability float64, stance model.Stance) model.EvidenceItem {
	return model.EvidenceItem{
		ID:          url,
		Provider:    "test",
		Title:       "Title",
		URL:         url,
		Summary:     "Summary of the reporting.",
		Reliability: reliability,
		Evaluation:  &model.Evaluation{Reliability: reliability, Relevance: 0.8, Stance: stance, Assessment: "a"},
	}
}

func newTestEvaluator(items []model.EvidenceItem) *Evaluator {
	e := New(stubProvider{err: llm.ErrUnavailable}, stubRetriever{items: items}, passEvaluator{}, 2, time.Second, time.Second, testutil.TestLogger())
	e.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

func TestParseHeuristic(t *testing.T) {
	sc := parseHeuristic(model.Claim{ID: "c1", Text: "Smoking always causes cancer in every country worldwide."})
	assert.Equal(t, CausalCausal, sc.CausalStructure)
	assert.Equal(t, ScopeGlobal, sc.Geography.Scope)
	assert.ElementsMatch(t, []string{"always", "every"}, sc.Quantifiers)
	assert.Equal(t, CertaintyNone, sc.CertaintyLanguage)
}

func TestParseHeuristicTimeframeAndCertainty(t *testing.T) {
	sc := parseHeuristic(model.Claim{ID: "c1", Text: "The company reportedly announced layoffs last week."})
	assert.Equal(t, TimeframePast, sc.Timeframe.Type)
	assert.Equal(t, CertaintyUncertain, sc.CertaintyLanguage)
	assert.Contains(t, sc.CertaintyMarkers, "reportedly")
}

func TestTypeClaims(t *testing.T) {
	structured := []StructuredClaim{
		{ClaimID: "a", Text: "Governments should ban this additive."},
		{ClaimID: "b", Text: "Studies show the additive raises blood pressure."},
		{ClaimID: "c", Text: "The model predicts sea level rise of one meter by 2100.", Timeframe: Timeframe{Type: TimeframeFuture}},
		{ClaimID: "d", Text: "The additive was approved in 1998."},
	}
	typed := typeClaims(structured)
	require.Len(t, typed, 4)
	assert.Equal(t, TypeNormative, typed[0].Type)
	assert.True(t, typed[0].IsNormative)
	assert.Equal(t, TypeMeta, typed[1].Type)
	assert.Equal(t, TypeModelBased, typed[2].Type)
	assert.Equal(t, TypeEmpirical, typed[3].Type)
}

func TestGraphStats(t *testing.T) {
	items := []model.EvidenceItem{
		evidenceItem("https://reuters.com/a", 0.9, model.StanceSupports),
		evidenceItem("https://reuters.com/b", 0.9, model.StanceSupports),
		evidenceItem("https://nature.com/c", 0.95, model.StanceSupports),
	}
	g := newGraph("c1", items)
	assert.Equal(t, 2, g.Stats.UniqueHostnames)
	assert.Equal(t, 3, g.Stats.SupportingCount)
	assert.Equal(t, 1, g.Stats.PeerReviewedCount)
	assert.True(t, g.Stats.SingleSourceDominance)
	assert.InDelta(t, 0.9166, g.Stats.AverageReliability, 0.001)
}

func TestClassifySource(t *testing.T) {
	st, pr := classifySource("nature.com", model.EvidenceItem{Title: "A systematic review and meta-analysis"})
	assert.Equal(t, SourceMetaAnalysis, st)
	assert.True(t, pr)

	st, _ = classifySource("cdc.gov", model.EvidenceItem{})
	assert.Equal(t, SourceInstitutionalConsensus, st)

	st, _ = classifySource("reuters.com", model.EvidenceItem{Title: "Floods hit region"})
	assert.Equal(t, SourceNewsReport, st)

	st, _ = classifySource("randomblog.example", model.EvidenceItem{Title: "My opinion on floods"})
	assert.Equal(t, SourceOpinion, st)
}

func TestDetectRefutingMajority(t *testing.T) {
	items := []model.EvidenceItem{
		evidenceItem("https://reuters.com/a", 0.9, model.StanceRefutes),
		evidenceItem("https://bbc.com/b", 0.9, model.StanceRefutes),
		evidenceItem("https://apnews.com/c", 0.9, model.StanceSupports),
	}
	g := newGraph("c1", items)
	tc := TypedClaim{StructuredClaim: StructuredClaim{ClaimID: "c1", Text: "x"}, Type: TypeEmpirical}

	penalties := detectFailureModes(tc, g, time.Now())
	modes := modeSet(penalties)
	assert.Contains(t, modes, ModeRefutingMajority)
	assert.NotContains(t, modes, ModeLowAverageReliability)
}

func TestDetectEmptyGraphIsLowReliability(t *testing.T) {
	g := newGraph("c1", nil)
	tc := TypedClaim{StructuredClaim: StructuredClaim{ClaimID: "c1"}, Type: TypeEmpirical}
	modes := modeSet(detectFailureModes(tc, g, time.Now()))
	assert.Contains(t, modes, ModeLowAverageReliability)
	// No items means no peer-review penalty either.
	assert.NotContains(t, modes, ModeNoPeerReviewed)
}

func TestDetectUniversalQuantifier(t *testing.T) {
	items := []model.EvidenceItem{evidenceItem("https://reuters.com/a", 0.9, model.StanceSupports)}
	g := newGraph("c1", items)
	tc := TypedClaim{
		StructuredClaim: StructuredClaim{ClaimID: "c1", Quantifiers: []string{"always"}},
		Type:            TypeEmpirical,
	}
	modes := modeSet(detectFailureModes(tc, g, time.Now()))
	assert.Contains(t, modes, ModeUniversalWithoutEvidence)
}

func TestDetectGeographyMismatch(t *testing.T) {
	items := []model.EvidenceItem{evidenceItem("https://reuters.com/a", 0.9, model.StanceSupports)}
	g := newGraph("c1", items)
	tc := TypedClaim{
		StructuredClaim: StructuredClaim{
			ClaimID:   "c1",
			Geography: Geography{Scope: ScopeNational, Terms: []string{"ruritania"}},
		},
		Type: TypeEmpirical,
	}
	modes := modeSet(detectFailureModes(tc, g, time.Now()))
	assert.Contains(t, modes, ModeGeographyMismatch)
}

func TestScoreClaimBandsAndCeiling(t *testing.T) {
	empirical := TypedClaim{StructuredClaim: StructuredClaim{ClaimID: "c1"}, Type: TypeEmpirical}
	s := scoreClaim(empirical, nil)
	require.NotNil(t, s)
	assert.Equal(t, 100, s.Final)
	assert.Equal(t, BandStronglySupported, s.Band)

	modelBased := TypedClaim{StructuredClaim: StructuredClaim{ClaimID: "c2"}, Type: TypeModelBased}
	s = scoreClaim(modelBased, nil)
	require.NotNil(t, s)
	assert.Equal(t, 89, s.Final)
	assert.True(t, s.CeilingApplied)
	assert.Equal(t, BandSupported, s.Band)

	s = scoreClaim(empirical, []Penalty{{Mode: "x", Weight: 30}, {Mode: "y", Weight: 30}})
	assert.Equal(t, 40, s.Final)
	assert.Equal(t, BandWeaklySupported, s.Band)
}

func TestScoreClaimSkipsNormative(t *testing.T) {
	normative := TypedClaim{StructuredClaim: StructuredClaim{ClaimID: "c1"}, Type: TypeNormative, IsNormative: true}
	assert.Nil(t, scoreClaim(normative, nil))
}

func TestExplainConfidenceInterval(t *testing.T) {
	tc := TypedClaim{StructuredClaim: StructuredClaim{ClaimID: "c1"}, Type: TypeEmpirical}
	g := newGraph("c1", []model.EvidenceItem{evidenceItem("https://reuters.com/a", 0.9, model.StanceSupports)})
	s := scoreClaim(tc, nil)

	ex := explainClaim(tc, g, nil, s)
	require.NotNil(t, ex)
	// spread = max(5, round(20 - 0.9*15)) = max(5, 7) = 7
	assert.Equal(t, 93, ex.ConfidenceLow)
	assert.Equal(t, 100, ex.ConfidenceHigh)
	assert.Equal(t, []string{"no failure modes detected"}, ex.KeyReasons)
}

func TestEvaluateProducesDeterministicHashes(t *testing.T) {
	items := []model.EvidenceItem{
		evidenceItem("https://reuters.com/a", 0.9, model.StanceSupports),
		evidenceItem("https://bbc.com/b", 0.85, model.StanceSupports),
	}
	claims := []model.Claim{
		{ID: "c1", Text: "The dam released water on Monday.", Verdict: model.LabelUnverified, Confidence: 0.6},
		{ID: "c2", Text: "Officials should resign over the failure.", Verdict: model.LabelOpinion, Confidence: 0.5},
	}

	first := newTestEvaluator(items).Evaluate(context.Background(), claims, "general")
	second := newTestEvaluator(items).Evaluate(context.Background(), claims, "general")
	require.NotNil(t, first)
	require.Len(t, first.StageLogs, 6)

	for i := range first.StageLogs {
		assert.True(t, first.StageLogs[i].Success)
		assert.Equal(t, first.StageLogs[i].OutputHash, second.StageLogs[i].OutputHash, first.StageLogs[i].Stage)
	}
	assert.NotEmpty(t, first.MerkleRoot)
	assert.Equal(t, first.MerkleRoot, second.MerkleRoot)
}

func TestEvaluateNormativeClaimUnscored(t *testing.T) {
	claims := []model.Claim{{ID: "c1", Text: "The law should be repealed.", Verdict: model.LabelOpinion, Confidence: 0.5}}
	report := newTestEvaluator(nil).Evaluate(context.Background(), claims, "politics")
	require.NotNil(t, report)
	require.Len(t, report.Claims, 1)
	assert.True(t, report.Claims[0].Typed.IsNormative)
	assert.Nil(t, report.Claims[0].Score)
	assert.Nil(t, report.Claims[0].Graph)
	assert.Nil(t, report.Claims[0].Explanation)
}

func TestEvaluateEmptyClaims(t *testing.T) {
	assert.Nil(t, newTestEvaluator(nil).Evaluate(context.Background(), nil, "general"))
}

func modeSet(penalties []Penalty) []string {
	modes := make([]string, 0, len(penalties))
	for _, p := range penalties {
		modes = append(modes, p.Mode)
	}
	return modes
}
