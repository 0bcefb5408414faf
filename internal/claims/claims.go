// Package claims decomposes submission content into atomic, verifiable
// factual claims with extraction confidence and a preliminary verdict.
package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verity-ai/verity/internal/llm"
	"github.com/verity-ai/verity/internal/model"
)

// fallbackBaseConfidence is the extraction confidence assigned to the first
// sentence-split fallback claim; each subsequent claim steps down by 0.05.
const fallbackBaseConfidence = 0.55

// mergeMaxNextLen bounds the follow-on fragment length for adjacency merge.
const mergeMaxNextLen = 80

// Extractor produces claims from analysis text.
type Extractor struct {
	provider      llm.Provider
	maxClaims     int
	minConfidence float64
	timeout       time.Duration
	logger        *slog.Logger
}

// New creates a claim extractor.
func New(provider llm.Provider, maxClaims int, minConfidence float64, timeout time.Duration, logger *slog.Logger) *Extractor {
	return &Extractor{
		provider:      provider,
		maxClaims:     maxClaims,
		minConfidence: minConfidence,
		timeout:       timeout,
		logger:        logger,
	}
}

var extractSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"claims": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"text": {"type": "string"},
					"extraction_confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"verdict": {"type": "string", "enum": ["Verified", "Mostly Accurate", "Partially Accurate", "False", "Opinion"]},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1}
				},
				"required": ["text", "extraction_confidence", "verdict", "confidence"],
				"additionalProperties": false
			}
		}
	},
	"required": ["claims"],
	"additionalProperties": false
}`)

// Extract decomposes text into at most maxClaims atomic claims. Non-factual
// input yields an empty list, not an error.
func (e *Extractor) Extract(ctx context.Context, text string) ([]model.Claim, model.ClaimMeta) {
	claims, meta, ok := e.extractWithModel(ctx, text)
	if ok {
		claims = e.filter(claims)
	} else {
		// The fallback is already a last resort; its stepped confidences are
		// not subject to the extraction-confidence filter.
		claims = e.extractFallback(text)
		meta = model.ClaimMeta{Model: "heuristic", UsedFallback: true}
	}

	claims = MergeAdjacent(claims)
	if len(claims) > e.maxClaims {
		claims = claims[:e.maxClaims]
	}
	meta.TotalClaims = len(claims)
	return claims, meta
}

func (e *Extractor) extractWithModel(ctx context.Context, text string) ([]model.Claim, model.ClaimMeta, bool) {
	prompt := fmt.Sprintf(
		"Extract at most %d atomic, verifiable factual claims from the content below. "+
			"A claim is a single checkable statement of fact — not a question, opinion, or prediction. "+
			"If the content contains no factual claims, return an empty list. "+
			"For each claim give extraction_confidence (how faithfully the claim restates the content), "+
			"a preliminary verdict, and a prior confidence in that verdict.\n\nContent:\n%s",
		e.maxClaims, truncate(text, 6000))

	raw, err := e.provider.Complete(ctx, llm.Request{
		System:    "You are a claim extraction engine. Answer with JSON only.",
		Prompt:    prompt,
		Schema:    llm.Schema{Name: "claim_extraction", Schema: extractSchema},
		MaxTokens: 800,
		Timeout:   e.timeout,
	})
	if err != nil {
		if err != llm.ErrUnavailable {
			e.logger.Warn("claims: model call failed, using fallback", "error", err)
		}
		return nil, model.ClaimMeta{}, false
	}

	var out struct {
		Claims []struct {
			Text                 string  `json:"text"`
			ExtractionConfidence float64 `json:"extraction_confidence"`
			Verdict              string  `json:"verdict"`
			Confidence           float64 `json:"confidence"`
		} `json:"claims"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		e.logger.Warn("claims: malformed model output, using fallback", "error", err)
		return nil, model.ClaimMeta{}, false
	}

	claims := make([]model.Claim, 0, len(out.Claims))
	for _, c := range out.Claims {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		if len(text) > model.MaxClaimTextLen {
			text = text[:model.MaxClaimTextLen]
		}
		claims = append(claims, model.Claim{
			ID:                   uuid.NewString(),
			Text:                 text,
			ExtractionConfidence: clamp01(c.ExtractionConfidence),
			Verdict:              preliminaryVerdict(c.Verdict),
			Confidence:           clamp01(c.Confidence),
		})
	}
	return claims, model.ClaimMeta{Model: e.provider.Model()}, true
}

// extractFallback splits the input on sentence terminators and takes up to
// maxClaims sentences with decreasing confidence.
func (e *Extractor) extractFallback(text string) []model.Claim {
	var claims []model.Claim
	for _, sentence := range SplitSentences(text) {
		if len(claims) >= e.maxClaims {
			break
		}
		if len(strings.Fields(sentence)) < 3 {
			continue
		}
		if len(sentence) > model.MaxClaimTextLen {
			sentence = sentence[:model.MaxClaimTextLen]
		}
		conf := fallbackBaseConfidence - 0.05*float64(len(claims))
		// No model saw these claims, so they carry no preliminary finding;
		// UNVERIFIED leaves the grading to the reasoner.
		claims = append(claims, model.Claim{
			ID:                   uuid.NewString(),
			Text:                 sentence,
			ExtractionConfidence: conf,
			Verdict:              model.LabelUnverified,
			Confidence:           conf,
		})
	}
	return claims
}

func (e *Extractor) filter(claims []model.Claim) []model.Claim {
	kept := claims[:0]
	for _, c := range claims {
		if c.ExtractionConfidence >= e.minConfidence {
			kept = append(kept, c)
		}
	}
	return kept
}

// MergeAdjacent joins claim n+1 into claim n when n ends without a sentence
// terminator and n+1 begins lowercase and is short — the typical signature
// of a sentence split mid-claim. The merged claim takes the max confidences.
func MergeAdjacent(claims []model.Claim) []model.Claim {
	if len(claims) < 2 {
		return claims
	}
	merged := make([]model.Claim, 0, len(claims))
	merged = append(merged, claims[0])
	for _, next := range claims[1:] {
		last := &merged[len(merged)-1]
		if shouldMerge(last.Text, next.Text) {
			last.Text = last.Text + " " + next.Text
			if len(last.Text) > model.MaxClaimTextLen {
				last.Text = last.Text[:model.MaxClaimTextLen]
			}
			last.ExtractionConfidence = max(last.ExtractionConfidence, next.ExtractionConfidence)
			last.Confidence = max(last.Confidence, next.Confidence)
			continue
		}
		merged = append(merged, next)
	}
	return merged
}

func shouldMerge(prev, next string) bool {
	prev = strings.TrimSpace(prev)
	next = strings.TrimSpace(next)
	if prev == "" || next == "" {
		return false
	}
	lastRune := rune(prev[len(prev)-1])
	if lastRune == '.' || lastRune == '!' || lastRune == '?' {
		return false
	}
	first := []rune(next)[0]
	return first >= 'a' && first <= 'z' && len(next) < mergeMaxNextLen
}

// SplitSentences splits text on sentence terminators, preserving them.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func preliminaryVerdict(s string) model.VerdictLabel {
	switch v := model.VerdictLabel(s); v {
	case model.LabelVerified, model.LabelMostlyAccurate, model.LabelPartiallyAccurate, model.LabelFalse, model.LabelOpinion:
		return v
	}
	return model.LabelUnverified
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
