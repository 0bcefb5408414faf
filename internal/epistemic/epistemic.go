package epistemic

import (
	"context"
	"log/slog"
	"time"

	"github.com/verity-ai/verity/internal/evidence"
	"github.com/verity-ai/verity/internal/integrity"
	"github.com/verity-ai/verity/internal/llm"
	"github.com/verity-ai/verity/internal/model"
)

// EvidenceRetriever is the slice of the retrieval manager the graph stage
// needs.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, opts evidence.Options) []model.EvidenceItem
}

// EvidenceEvaluator scores retrieved items against a claim.
type EvidenceEvaluator interface {
	Evaluate(ctx context.Context, claimText string, items []model.EvidenceItem) []model.EvidenceItem
}

// Evaluator runs the six-stage pipeline.
type Evaluator struct {
	provider          llm.Provider
	manager           EvidenceRetriever
	evidenceEvaluator EvidenceEvaluator
	maxEvidence       int
	timeout           time.Duration // per model call
	retrieveTimeout   time.Duration // per retriever call
	logger            *slog.Logger
	now               func() time.Time
}

// New creates an epistemic evaluator.
func New(provider llm.Provider, manager EvidenceRetriever, evidenceEvaluator EvidenceEvaluator, maxEvidence int, timeout, retrieveTimeout time.Duration, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		provider:          provider,
		manager:           manager,
		evidenceEvaluator: evidenceEvaluator,
		maxEvidence:       maxEvidence,
		timeout:           timeout,
		retrieveTimeout:   retrieveTimeout,
		logger:            logger,
		now:               time.Now,
	}
}

// Evaluate re-scores the claim set. Every stage emits a content-hashed
// artifact; the report's Merkle root commits to all six stage outputs.
func (e *Evaluator) Evaluate(ctx context.Context, claimList []model.Claim, topic string) *Report {
	if len(claimList) == 0 {
		return nil
	}

	report := &Report{}

	var structured []StructuredClaim
	e.runStage(report, "claim_parsing", claimList, func() any {
		structured = e.parseClaims(ctx, claimList)
		return structured
	})

	var typed []TypedClaim
	e.runStage(report, "claim_typing", structured, func() any {
		typed = typeClaims(structured)
		return typed
	})

	var graphs []*EvidenceGraph
	e.runStage(report, "evidence_retrieval", typed, func() any {
		graphs = e.buildGraphs(ctx, typed, topic)
		return graphs
	})

	now := e.now().UTC()
	var penalties [][]Penalty
	e.runStage(report, "failure_mode_detection", graphs, func() any {
		penalties = make([][]Penalty, len(typed))
		for i, tc := range typed {
			penalties[i] = detectFailureModes(tc, graphs[i], now)
		}
		return penalties
	})

	var scores []*Score
	e.runStage(report, "scoring", penalties, func() any {
		scores = make([]*Score, len(typed))
		for i, tc := range typed {
			scores[i] = scoreClaim(tc, penalties[i])
		}
		return scores
	})

	var explanations []*Explanation
	e.runStage(report, "explanation", scores, func() any {
		explanations = make([]*Explanation, len(typed))
		for i, tc := range typed {
			if graphs[i] != nil {
				explanations[i] = explainClaim(tc, graphs[i], penalties[i], scores[i])
			}
		}
		return explanations
	})

	report.Claims = make([]ClaimReport, len(typed))
	for i, tc := range typed {
		report.Claims[i] = ClaimReport{
			ClaimID:     tc.ClaimID,
			Structured:  structured[i],
			Typed:       tc,
			Graph:       graphs[i],
			Penalties:   penalties[i],
			Score:       scores[i],
			Explanation: explanations[i],
		}
	}

	leaves := make([]string, 0, len(report.StageLogs))
	for _, sl := range report.StageLogs {
		leaves = append(leaves, sl.OutputHash)
	}
	report.MerkleRoot = integrity.BuildMerkleRoot(leaves)
	return report
}

// runStage executes one stage, hashing its input and output artifacts and
// appending a stage log.
func (e *Evaluator) runStage(report *Report, name string, input any, fn func() any) {
	started := e.now().UTC()
	inputHash, inErr := integrity.ContentHash(input)

	output := fn()

	ended := e.now().UTC()
	outputHash, outErr := integrity.ContentHash(output)

	sl := StageLog{
		Stage:      name,
		StartedAt:  started,
		EndedAt:    ended,
		DurationMs: ended.Sub(started).Milliseconds(),
		InputHash:  inputHash,
		OutputHash: outputHash,
		Success:    inErr == nil && outErr == nil,
	}
	if inErr != nil {
		sl.Error = inErr.Error()
	} else if outErr != nil {
		sl.Error = outErr.Error()
	}
	report.StageLogs = append(report.StageLogs, sl)

	e.logger.Info("epistemic: stage complete",
		"stage", name,
		"duration_ms", sl.DurationMs,
		"input_hash", sl.InputHash,
		"output_hash", sl.OutputHash,
		"success", sl.Success)
}
