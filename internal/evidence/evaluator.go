package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verity-ai/verity/internal/cache"
	"github.com/verity-ai/verity/internal/llm"
	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/trust"
)

// evalBatchSize is the maximum number of items sent to the model per call.
const evalBatchSize = 5

// evalSummaryKeyLen bounds the summary prefix used in the cache key.
const evalSummaryKeyLen = 500

// Evaluator scores evidence items against a claim.
type Evaluator struct {
	provider llm.Provider
	registry *trust.Registry
	cache    *cache.Cache
	timeout  time.Duration
	logger   *slog.Logger
}

// NewEvaluator creates an evidence evaluator.
func NewEvaluator(provider llm.Provider, registry *trust.Registry, ttl, timeout time.Duration, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		provider: provider,
		registry: registry,
		cache:    cache.New(ttl),
		timeout:  timeout,
		logger:   logger,
	}
}

var evalSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"evaluations": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"index": {"type": "integer", "minimum": 0},
					"reliability": {"type": "number", "minimum": 0, "maximum": 1},
					"relevance": {"type": "number", "minimum": 0, "maximum": 1},
					"stance": {"type": "string", "enum": ["supports", "refutes", "mixed", "unclear", "irrelevant"]},
					"assessment": {"type": "string"}
				},
				"required": ["index", "reliability", "relevance", "stance", "assessment"],
				"additionalProperties": false
			}
		}
	},
	"required": ["evaluations"],
	"additionalProperties": false
}`)

// Evaluate returns evaluated copies of items. Batches that fail or time out
// come back unevaluated; the caller sees fewer Evaluation sub-records, not
// an error.
func (e *Evaluator) Evaluate(ctx context.Context, claimText string, items []model.EvidenceItem) []model.EvidenceItem {
	if len(items) == 0 {
		return nil
	}

	key := e.cacheKey(claimText, items)
	var cached []model.EvidenceItem
	if e.cache.Get(key, &cached) {
		return cached
	}

	out := make([]model.EvidenceItem, len(items))
	copy(out, items)

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(out); start += evalBatchSize {
		end := min(start+evalBatchSize, len(out))
		batch := out[start:end]
		g.Go(func() error {
			e.evaluateBatch(gctx, claimText, batch)
			return nil
		})
	}
	_ = g.Wait()

	// Feed observed reliabilities into the trust registry and blend.
	for i := range out {
		if out[i].Evaluation == nil {
			continue
		}
		observed := out[i].Evaluation.Reliability
		e.registry.RecordEvidenceReliability(out[i].URL, observed)
		out[i].Reliability = (out[i].Reliability + observed) / 2
	}

	e.cache.Set(key, out)
	return out
}

// evaluateBatch scores one batch in place. On any failure the batch is left
// unevaluated.
func (e *Evaluator) evaluateBatch(ctx context.Context, claimText string, batch []model.EvidenceItem) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Claim under review:\n%s\n\nEvidence items:\n", claimText)
	for i, item := range batch {
		fmt.Fprintf(&sb, "[%d] title: %s\nurl: %s\nsummary: %s\n\n", i, item.Title, item.URL, truncate(item.Summary, 1000))
	}
	sb.WriteString("For each item give reliability of the source, relevance to the claim, stance, and a one-sentence assessment. " +
		"If an item supports the core event but disagrees on a specific detail such as a number, date, or actor, " +
		"the stance is \"mixed\". Use \"refutes\" only when the core event itself is contradicted.")

	raw, err := e.provider.Complete(ctx, llm.Request{
		System:    "You are an evidence evaluation engine. Answer with JSON only.",
		Prompt:    sb.String(),
		Schema:    llm.Schema{Name: "evidence_evaluation", Schema: evalSchema},
		MaxTokens: 1000,
		Timeout:   e.timeout,
	})
	if err != nil {
		if err != llm.ErrUnavailable {
			e.logger.Warn("evidence: evaluator call failed, batch left unevaluated", "error", err)
		}
		return
	}

	var out struct {
		Evaluations []struct {
			Index       int     `json:"index"`
			Reliability float64 `json:"reliability"`
			Relevance   float64 `json:"relevance"`
			Stance      string  `json:"stance"`
			Assessment  string  `json:"assessment"`
		} `json:"evaluations"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		e.logger.Warn("evidence: malformed evaluator output, batch left unevaluated", "error", err)
		return
	}

	for _, ev := range out.Evaluations {
		if ev.Index < 0 || ev.Index >= len(batch) {
			continue
		}
		assessment := ev.Assessment
		if len(assessment) > model.MaxAssessmentLen {
			assessment = strings.ToValidUTF8(assessment[:model.MaxAssessmentLen], "")
		}
		batch[ev.Index].Evaluation = &model.Evaluation{
			Reliability: clamp01(ev.Reliability),
			Relevance:   clamp01(ev.Relevance),
			Stance:      validStance(ev.Stance),
			Assessment:  assessment,
		}
	}
}

// cacheKey hashes the claim and the identifying fields of every item. The
// summary contributes only its first evalSummaryKeyLen characters.
func (e *Evaluator) cacheKey(claimText string, items []model.EvidenceItem) string {
	parts := make([]string, 0, 1+4*len(items))
	parts = append(parts, claimText)
	for _, item := range items {
		parts = append(parts, item.URL, item.Provider, item.Title, truncate(item.Summary, evalSummaryKeyLen))
	}
	return cache.Key(parts...)
}

func validStance(s string) model.Stance {
	switch st := model.Stance(s); st {
	case model.StanceSupports, model.StanceRefutes, model.StanceMixed, model.StanceIrrelevant:
		return st
	}
	return model.StanceUnclear
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
