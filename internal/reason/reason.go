// Package reason synthesizes a grounded verdict from claims and their
// evaluated, ranked sources.
//
// The numeric score is authoritative: when the model's textual label
// disagrees with the band its score falls in, the band wins and the
// disagreement is logged. Textual outputs are normalized so the summary
// always opens with the verdict prefix and never leans on attribution
// language.
package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/verity-ai/verity/internal/claims"
	"github.com/verity-ai/verity/internal/llm"
	"github.com/verity-ai/verity/internal/model"
)

const (
	// summaryMaxSentences and contextMaxSentences cap the normalized outputs.
	summaryMaxSentences = 3
	contextMaxSentences = 5

	// imageScorePenalty and imageConfidencePenalty apply when an
	// image-derived claim has no supporting source.
	imageScorePenalty      = 30
	imageConfidencePenalty = 0.2

	// offTopicFraction is the share of evaluated sources that must be
	// irrelevant before the whole verdict collapses to Unverified.
	offTopicFraction = 0.6

	// minRelevance below which an evaluated source counts as off-topic.
	minRelevance = 0.2
)

// Reasoner produces verdicts.
type Reasoner struct {
	provider llm.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a verdict reasoner.
func New(provider llm.Provider, timeout time.Duration, logger *slog.Logger) *Reasoner {
	return &Reasoner{provider: provider, timeout: timeout, logger: logger}
}

var reasonSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"verdict": {"type": "string", "enum": ["Verified", "Mostly Accurate", "Partially Accurate", "False", "Unverified"]},
		"score": {"type": ["integer", "null"], "minimum": 0, "maximum": 100},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"summary": {"type": "string"},
		"context": {"type": "string"},
		"rationale": {"type": "string"},
		"claim_support": {
			"type": "object",
			"additionalProperties": {"type": "array", "items": {"type": "string"}}
		}
	},
	"required": ["verdict", "score", "confidence", "summary", "context", "rationale", "claim_support"],
	"additionalProperties": false
}`)

// Reason synthesizes one verdict for the claim set. Returns nil when there
// are no claims to judge. imageDerived holds the IDs of claims that came
// from image descriptions; those need explicit evidence support.
func (r *Reasoner) Reason(ctx context.Context, claimList []model.Claim, sources []model.Source, imageDerived map[string]bool) *model.Verdict {
	if len(claimList) == 0 {
		return nil
	}

	// All-opinion content carries no checkable claim.
	if allOpinion(claimList) {
		return &model.Verdict{
			Label:      model.LabelOpinion,
			Confidence: 1,
			Summary:    fmt.Sprintf("Verdict: %s — The content expresses opinion rather than checkable statements of fact.", model.LabelOpinion),
		}
	}

	verdict, ok := r.reasonWithModel(ctx, claimList, sources)
	if !ok {
		verdict = synthesize(claimList, sources)
	}

	// Predominantly off-topic evidence cannot ground a verdict.
	if verdict.Label != model.LabelUnverified && offTopic(sources) {
		r.logger.Warn("reason: evidence predominantly off-topic, downgrading to unverified")
		verdict = &model.Verdict{Label: model.LabelUnverified, Confidence: 0.3}
	}

	r.applyImagePenalty(verdict, claimList, sources, imageDerived)
	verdict.Pin()
	normalize(verdict)
	return verdict
}

func (r *Reasoner) reasonWithModel(ctx context.Context, claimList []model.Claim, sources []model.Source) (*model.Verdict, bool) {
	raw, err := r.provider.Complete(ctx, llm.Request{
		System: "You are a verdict synthesis engine. Base every field only on the evidence payload supplied. " +
			"Never use outside knowledge. Answer with JSON only.",
		Prompt:    buildPrompt(claimList, sources),
		Schema:    llm.Schema{Name: "verdict_synthesis", Schema: reasonSchema},
		MaxTokens: 1200,
		Timeout:   r.timeout,
	})
	if err != nil {
		if err != llm.ErrUnavailable {
			r.logger.Warn("reason: model call failed, synthesizing heuristically", "error", err)
		}
		return nil, false
	}

	var out struct {
		Verdict      string              `json:"verdict"`
		Score        *int                `json:"score"`
		Confidence   float64             `json:"confidence"`
		Summary      string              `json:"summary"`
		Context      string              `json:"context"`
		Rationale    string              `json:"rationale"`
		ClaimSupport map[string][]string `json:"claim_support"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		r.logger.Warn("reason: malformed model output, synthesizing heuristically", "error", err)
		return nil, false
	}

	verdict := &model.Verdict{
		Score:        out.Score,
		Label:        model.VerdictLabel(out.Verdict),
		Confidence:   clamp01(out.Confidence),
		Summary:      out.Summary,
		Context:      out.Context,
		Rationale:    out.Rationale,
		ClaimSupport: filterClaimSupport(out.ClaimSupport, claimList, sources),
	}

	// The numeric score is authoritative over the textual label.
	if verdict.Score != nil {
		s := min(100, max(0, *verdict.Score))
		verdict.Score = &s
		if derived := model.LabelForScore(s); derived != verdict.Label {
			r.logger.Warn("reason: label disagrees with score band, score wins",
				"label", verdict.Label, "score", s, "derived", derived)
			verdict.Label = derived
		}
	} else if verdict.Label != model.LabelUnverified {
		r.logger.Warn("reason: missing score for scored label, downgrading to unverified", "label", verdict.Label)
		verdict.Label = model.LabelUnverified
	}

	return verdict, true
}

func buildPrompt(claimList []model.Claim, sources []model.Source) string {
	var sb strings.Builder
	sb.WriteString("Claims under review:\n")
	for _, c := range claimList {
		fmt.Fprintf(&sb, "- id=%s confidence=%.2f verdict_prior=%s text=%s\n", c.ID, c.Confidence, c.Verdict, c.Text)
	}
	sb.WriteString("\nEvidence sources (ranked):\n")
	for _, s := range sources {
		fmt.Fprintf(&sb, "- key=%s host=%s reliability=%.2f", s.Key, s.Host, s.AdjustedReliability)
		if s.Evaluation != nil {
			fmt.Fprintf(&sb, " stance=%s relevance=%.2f assessment=%s", s.Evaluation.Stance, s.Evaluation.Relevance, s.Evaluation.Assessment)
		}
		if s.PublishedAt != nil {
			fmt.Fprintf(&sb, " published=%s", s.PublishedAt.Format("2006-01-02"))
		}
		fmt.Fprintf(&sb, "\n  title=%s\n  summary=%s\n", s.Title, truncate(s.Summary, 500))
	}
	sb.WriteString("\nSynthesize one overall verdict. Score 76-100 means Verified, 61-75 Mostly Accurate, " +
		"41-60 Partially Accurate, 0-40 False; use a null score with verdict Unverified when the evidence " +
		"is insufficient or off-topic. Prefer corroboration across different hostnames and, for " +
		"time-sensitive claims, newer high-reliability items. Map each claim id to the keys of the " +
		"sources that bear on it in claim_support.")
	return sb.String()
}

// synthesize builds a conservative verdict from stance mass when no model is
// available.
func synthesize(claimList []model.Claim, sources []model.Source) *model.Verdict {
	var supportMass, refuteMass, evaluated float64
	claimSupport := make(map[string][]string)
	for _, s := range sources {
		if s.Evaluation == nil {
			continue
		}
		evaluated++
		weight := s.AdjustedReliability * s.Evaluation.Relevance
		switch s.Evaluation.Stance {
		case model.StanceSupports:
			supportMass += weight
		case model.StanceRefutes:
			refuteMass += weight
		case model.StanceMixed:
			supportMass += weight / 2
			refuteMass += weight / 2
		}
		if s.ClaimID != "" {
			claimSupport[s.ClaimID] = append(claimSupport[s.ClaimID], s.Key)
		}
	}

	if evaluated == 0 || supportMass+refuteMass == 0 {
		return &model.Verdict{
			Label:        model.LabelUnverified,
			Confidence:   0.3,
			Rationale:    "no evaluated evidence bears on the claims",
			ClaimSupport: claimSupport,
		}
	}

	ratio := supportMass / (supportMass + refuteMass)
	score := int(ratio * 100)
	label := model.LabelForScore(score)
	confidence := min(0.7, 0.4+0.1*evaluated)

	return &model.Verdict{
		Score:        &score,
		Label:        label,
		Confidence:   confidence,
		Summary:      summaryForRatio(label, len(claimList)),
		Rationale:    fmt.Sprintf("stance-weighted synthesis over %d evaluated sources", int(evaluated)),
		ClaimSupport: claimSupport,
	}
}

func summaryForRatio(label model.VerdictLabel, claimCount int) string {
	noun := "claim"
	if claimCount > 1 {
		noun = "claims"
	}
	switch label {
	case model.LabelVerified:
		return fmt.Sprintf("The available evidence supports the %s.", noun)
	case model.LabelMostlyAccurate:
		return fmt.Sprintf("The available evidence largely supports the %s with minor discrepancies.", noun)
	case model.LabelPartiallyAccurate:
		return fmt.Sprintf("The available evidence is mixed on the %s.", noun)
	default:
		return fmt.Sprintf("The available evidence contradicts the %s.", noun)
	}
}

// applyImagePenalty reduces the verdict when an image-derived claim has no
// supporting source, then re-derives the label from the reduced score.
func (r *Reasoner) applyImagePenalty(v *model.Verdict, claimList []model.Claim, sources []model.Source, imageDerived map[string]bool) {
	if v.Score == nil || len(imageDerived) == 0 {
		return
	}

	supported := make(map[string]bool)
	for _, s := range sources {
		if s.ClaimID != "" && s.Evaluation != nil && s.Evaluation.Stance == model.StanceSupports {
			supported[s.ClaimID] = true
		}
	}
	for claimID, keys := range v.ClaimSupport {
		if len(keys) > 0 {
			supported[claimID] = true
		}
	}

	for _, c := range claimList {
		if !imageDerived[c.ID] || supported[c.ID] {
			continue
		}
		score := max(0, *v.Score-imageScorePenalty)
		v.Score = &score
		v.Confidence = max(0, v.Confidence-imageConfidencePenalty)
		v.Label = model.LabelForScore(score)
		r.logger.Info("reason: image-derived claim lacks support, verdict reduced", "claim_id", c.ID, "score", score)
		return
	}
}

func offTopic(sources []model.Source) bool {
	var evaluated, irrelevant float64
	for _, s := range sources {
		if s.Evaluation == nil {
			continue
		}
		evaluated++
		if s.Evaluation.Stance == model.StanceIrrelevant || s.Evaluation.Relevance < minRelevance {
			irrelevant++
		}
	}
	return evaluated > 0 && irrelevant/evaluated > offTopicFraction
}

// attributionRe matches hedging attribution phrases that delegate the
// verdict to unnamed sources.
var attributionRe = regexp.MustCompile(`(?i)\b(according to [^,.;]+,?\s*|sources (?:say|claim|report|suggest|indicate)(?: that)?\s*|reports (?:say|claim|suggest|indicate)(?: that)?\s*)`)

var trueWordRe = regexp.MustCompile(`(?i)\btrue\b`)
var falseWordRe = regexp.MustCompile(`(?i)\bfalse\b`)

// normalize enforces the textual output contract: attribution stripped, the
// summary prefixed with the verdict, sentence caps applied, and the literal
// band words kept out of the prose.
func normalize(v *model.Verdict) {
	summary := attributionRe.ReplaceAllString(v.Summary, "")
	summary = strings.TrimPrefix(summary, fmt.Sprintf("Verdict: %s — ", v.Label))
	// A stale prefix from a pre-adjustment label is also stripped.
	if i := strings.Index(summary, " — "); i > 0 && strings.HasPrefix(summary, "Verdict: ") {
		summary = summary[i+len(" — "):]
	}
	summary = capSentences(summary, summaryMaxSentences)
	summary = scrubBandWords(summary)
	if summary == "" {
		summary = "The available evidence does not settle the claim."
	}
	v.Summary = fmt.Sprintf("Verdict: %s — %s", v.Label, upperFirst(summary))

	if v.Context != "" {
		ctx := attributionRe.ReplaceAllString(v.Context, "")
		ctx = capSentences(ctx, contextMaxSentences)
		v.Context = upperFirst(scrubBandWords(ctx))
	}
}

func capSentences(text string, n int) string {
	sentences := claims.SplitSentences(text)
	if len(sentences) > n {
		sentences = sentences[:n]
	}
	return strings.TrimSpace(strings.Join(sentences, " "))
}

func scrubBandWords(text string) string {
	text = trueWordRe.ReplaceAllString(text, "accurate")
	return falseWordRe.ReplaceAllString(text, "inaccurate")
}

func filterClaimSupport(support map[string][]string, claimList []model.Claim, sources []model.Source) map[string][]string {
	if len(support) == 0 {
		return nil
	}
	validClaim := make(map[string]bool, len(claimList))
	for _, c := range claimList {
		validClaim[c.ID] = true
	}
	validKey := make(map[string]bool, len(sources))
	for _, s := range sources {
		validKey[s.Key] = true
	}

	out := make(map[string][]string, len(support))
	for claimID, keys := range support {
		if !validClaim[claimID] {
			continue
		}
		var kept []string
		for _, k := range keys {
			if validKey[k] {
				kept = append(kept, k)
			}
		}
		if len(kept) > 0 {
			out[claimID] = kept
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func allOpinion(claimList []model.Claim) bool {
	for _, c := range claimList {
		if c.Verdict != model.LabelOpinion {
			return false
		}
	}
	return true
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	return strings.ToUpper(string(runes[0])) + string(runes[1:])
}

func clamp01(f float64) float64 {
	return max(0, min(1, f))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
