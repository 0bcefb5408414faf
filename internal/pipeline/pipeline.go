// Package pipeline orchestrates one analysis end to end: ingestion,
// classification, claim extraction, evidence retrieval and evaluation,
// verdict reasoning, and the optional epistemic re-scoring pass.
//
// The orchestrator preserves partial results wherever it can. Only three
// conditions are fatal: no meaningful text, no extractable claims, and
// persistence failure (which is the caller's concern). Everything else
// degrades to warnings on the result.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/verity-ai/verity/internal/claims"
	"github.com/verity-ai/verity/internal/classify"
	"github.com/verity-ai/verity/internal/epistemic"
	"github.com/verity-ai/verity/internal/evidence"
	"github.com/verity-ai/verity/internal/ingest"
	"github.com/verity-ai/verity/internal/integrity"
	"github.com/verity-ai/verity/internal/llm"
	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/reason"
	"github.com/verity-ai/verity/internal/telemetry"
	"github.com/verity-ai/verity/internal/trust"
)

// minMeaningfulChars is the threshold below which attachment-backed
// submissions are rejected as having no analyzable content.
const minMeaningfulChars = 20

const (
	noContentMessage = "Unable to extract meaningful content from the provided attachments. Try submitting a screenshot of the content instead."
	noClaimsMessage  = "Unable to extract meaningful claims from the provided content."
)

// TerminalError is a pipeline failure that retrying cannot fix. The queue
// worker fails the analysis with UserMessage instead of redelivering.
type TerminalError struct {
	UserMessage string
	Err         error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("pipeline: terminal: %v", e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

func terminal(userMessage string, err error) error {
	return &TerminalError{UserMessage: userMessage, Err: err}
}

// Config holds the orchestrator's tunables.
type Config struct {
	EvidenceMaxPerClaim   int
	EvidenceMaxPerHost    int
	RetrieverTimeout      time.Duration
	TitleTimeout          time.Duration
	AllowSyntheticSources bool
}

// Pipeline wires the analysis stages together.
type Pipeline struct {
	ingestor   *ingest.Ingestor
	classifier *classify.Classifier
	extractor  *claims.Extractor
	manager    *evidence.Manager
	evaluator  *evidence.Evaluator
	reasoner   *reason.Reasoner
	epistemic  *epistemic.Evaluator // nil disables the re-scoring pass
	registry   *trust.Registry
	provider   llm.Provider
	embedder   llm.Embedder // nil disables claim embeddings
	stageHist  metric.Float64Histogram
	cfg        Config
	logger     *slog.Logger
}

// New creates a pipeline. epistemicEval and embedder may be nil.
func New(
	ingestor *ingest.Ingestor,
	classifier *classify.Classifier,
	extractor *claims.Extractor,
	manager *evidence.Manager,
	evaluator *evidence.Evaluator,
	reasoner *reason.Reasoner,
	epistemicEval *epistemic.Evaluator,
	registry *trust.Registry,
	provider llm.Provider,
	embedder llm.Embedder,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	if cfg.TitleTimeout <= 0 {
		cfg.TitleTimeout = 5 * time.Second
	}
	stageHist, err := telemetry.Meter("verity/pipeline").Float64Histogram(
		"verity.pipeline.stage.duration",
		metric.WithDescription("Duration of each analysis pipeline stage"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Warn("pipeline: stage histogram unavailable", "error", err)
	}
	return &Pipeline{
		ingestor:   ingestor,
		classifier: classifier,
		extractor:  extractor,
		manager:    manager,
		evaluator:  evaluator,
		reasoner:   reasoner,
		epistemic:  epistemicEval,
		registry:   registry,
		provider:   provider,
		embedder:   embedder,
		stageHist:  stageHist,
		cfg:        cfg,
		logger:     logger,
	}
}

var bareURLRe = regexp.MustCompile(`^https?://\S+$`)

// Run executes the full analysis for one submission. The returned embeddings
// slice is aligned with the result's claims; it is nil when no embedder is
// configured.
func (p *Pipeline) Run(ctx context.Context, analysisID string, sub model.Submission) (*model.AnalysisResult, []pgvector.Vector, error) {
	ctx, span := telemetry.Tracer("verity/pipeline").Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("analysis.id", analysisID))

	timings := make(map[string]int64)
	defer p.recordStageTimings(ctx, timings)

	// Step 1: a bare URL with no attachments becomes a link attachment.
	text := strings.TrimSpace(sub.Text)
	attachments := sub.Attachments
	if bareURLRe.MatchString(text) && len(attachments) == 0 {
		attachments = []model.Attachment{{Kind: model.AttachmentLink, URL: text}}
		text = ""
	}
	if sub.ContentURI != "" {
		attachments = append(attachments, model.Attachment{Kind: model.AttachmentLink, URL: sub.ContentURI})
	}

	// Step 2: ingest attachments in parallel.
	var ingestion model.IngestionResult
	if len(attachments) > 0 {
		start := time.Now()
		ingestion = p.ingestor.Ingest(ctx, attachments)
		timings["ingest"] = time.Since(start).Milliseconds()
	}

	// Steps 3-4: assemble the corpus and validate it.
	corpus := joinNonEmpty(text, ingestion.CombinedText)
	if len(attachments) > 0 && meaningfulChars(corpus) < minMeaningfulChars {
		return nil, nil, terminal(noContentMessage, fmt.Errorf("pipeline: %d meaningful chars in corpus", meaningfulChars(corpus)))
	}

	// Step 5: classify and extract in parallel over the same corpus.
	var (
		classification classify.Result
		claimList      []model.Claim
		claimMeta      model.ClaimMeta
	)
	stageStart := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		classification = p.classifier.Classify(gctx, corpus, sub.TopicHint)
		return nil
	})
	g.Go(func() error {
		claimList, claimMeta = p.extractor.Extract(gctx, corpus)
		return nil
	})
	_ = g.Wait()
	timings["classify_extract"] = time.Since(stageStart).Milliseconds()

	// Step 6: no claims is fatal.
	if len(claimList) == 0 {
		return nil, nil, terminal(noClaimsMessage, fmt.Errorf("pipeline: no claims extracted"))
	}

	// Step 14 runs concurrently with steps 7-11 over the same claim set.
	// The goroutine keeps its timing local; the map is written only after
	// Wait.
	var (
		epistemicJSON json.RawMessage
		epistemicMs   int64
	)
	eg, egctx := errgroup.WithContext(ctx)
	if p.epistemic != nil {
		eg.Go(func() error {
			start := time.Now()
			report := p.epistemic.Evaluate(egctx, claimList, string(classification.Topic))
			epistemicMs = time.Since(start).Milliseconds()
			if report == nil {
				return nil
			}
			raw, err := json.Marshal(report)
			if err != nil {
				p.logger.Warn("pipeline: epistemic report marshal failed", "error", err)
				return nil
			}
			epistemicJSON = raw
			return nil
		})
	}

	// Step 7: retrieve and evaluate evidence for every claim in parallel.
	stageStart = time.Now()
	perClaim := p.gatherEvidence(egctx, classification.Topic, claimList)
	timings["evidence"] = time.Since(stageStart).Milliseconds()

	// Step 8: flatten, rank, cap, and key the sources.
	sources := p.assembleSources(claimList, perClaim)
	if len(sources) == 0 && p.cfg.AllowSyntheticSources {
		sources = syntheticSources()
	}

	// Step 9: image-derived claim detection.
	imageDerived := detectImageDerived(claimList, ingestion.Records)

	// Steps 10-11: reason the verdict. The reasoner falls back to heuristic
	// synthesis and applies the pinning rules itself.
	stageStart = time.Now()
	verdict := p.reasoner.Reason(egctx, claimList, sources, imageDerived)
	timings["reason"] = time.Since(stageStart).Milliseconds()

	// Step 13: title.
	stageStart = time.Now()
	title := p.generateTitle(egctx, classification.Topic, claimList, verdict)
	timings["title"] = time.Since(stageStart).Milliseconds()

	_ = eg.Wait()
	if p.epistemic != nil {
		timings["epistemic"] = epistemicMs
	}

	// Steps 12 and 15: complexity and final assembly.
	quality := overallQuality(ingestion.Records)
	dynamicLowTrust, dynamicBlacklist := p.registry.Snapshot()

	result := &model.AnalysisResult{
		AnalysisID:     analysisID,
		Topic:          string(classification.Topic),
		Bias:           string(classification.Bias),
		Verdict:        *verdict,
		Title:          title,
		Recommendation: recommendationFor(quality),
		Complexity:     complexityFor(len(claimList), len(sources), len(attachments)),
		Claims:         claimList,
		ClaimMeta:      claimMeta,
		Sources:        sources,
		Explanation:    explanationSteps(classification, claimList, claimMeta, sources, verdict, ingestion),
		Metadata: model.ResultMetadata{
			Model:            p.provider.Model(),
			FallbackUsed:     classification.FallbackUsed || claimMeta.UsedFallback,
			StageTimingsMs:   timings,
			DynamicLowTrust:  dynamicLowTrust,
			DynamicBlacklist: dynamicBlacklist,
		},
	}
	if len(ingestion.Records) > 0 {
		result.Ingestion = &ingestion
	}
	if quality != nil {
		result.Quality = quality
	}
	result.Epistemic = epistemicJSON

	if hash, err := integrity.ContentHash(result); err == nil {
		result.Metadata.ContentHash = hash
	} else {
		p.logger.Warn("pipeline: content hash failed", "error", err)
	}

	embeddings := p.embedClaims(ctx, claimList)
	return result, embeddings, nil
}

// recordStageTimings exports the collected stage durations. The noop meter
// makes this free when OTEL is not configured.
func (p *Pipeline) recordStageTimings(ctx context.Context, timings map[string]int64) {
	if p.stageHist == nil {
		return
	}
	for stage, ms := range timings {
		p.stageHist.Record(ctx, float64(ms), metric.WithAttributes(attribute.String("stage", stage)))
	}
}

// gatherEvidence fans out retrieval and evaluation per claim. Results keep
// the claim order regardless of completion order.
func (p *Pipeline) gatherEvidence(ctx context.Context, topic classify.Topic, claimList []model.Claim) [][]model.EvidenceItem {
	perClaim := make([][]model.EvidenceItem, len(claimList))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, c := range claimList {
		g.Go(func() error {
			items := p.manager.Retrieve(gctx, evidence.Options{
				Topic:      string(topic),
				ClaimText:  c.Text,
				MaxResults: p.cfg.EvidenceMaxPerClaim,
				Timeout:    p.cfg.RetrieverTimeout,
			})
			perClaim[i] = p.evaluator.Evaluate(gctx, c.Text, items)
			return nil
		})
	}
	_ = g.Wait()
	return perClaim
}

// embedClaims produces one vector per claim, aligned by index. A failed
// embedding leaves a zero vector; a nil embedder yields nil.
func (p *Pipeline) embedClaims(ctx context.Context, claimList []model.Claim) []pgvector.Vector {
	if p.embedder == nil {
		return nil
	}
	embeddings := make([]pgvector.Vector, len(claimList))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, c := range claimList {
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, c.Text)
			if err != nil {
				p.logger.Debug("pipeline: claim embedding failed", "claim_id", c.ID, "error", err)
				return nil
			}
			embeddings[i] = vec
			return nil
		})
	}
	_ = g.Wait()
	return embeddings
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}

func meaningfulChars(s string) int {
	n := 0
	for _, r := range s {
		if !isSpace(r) {
			n++
		}
	}
	return n
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
