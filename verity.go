// Package verity is the public API for embedding the Verity fact-checking
// engine.
//
// Consumers import this package to construct and extend the engine without
// forking it:
//
//	app, err := verity.New(
//	    verity.WithVersion(version),
//	    verity.WithLogger(logger),
//	    verity.WithRetriever(myArchiveRetriever{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: verity (root) imports
// internal/*, but internal/* never imports verity (root). Public types
// (Submission, Analysis, etc.) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package verity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/verity-ai/verity/internal/classify"
	"github.com/verity-ai/verity/internal/claims"
	"github.com/verity-ai/verity/internal/config"
	"github.com/verity-ai/verity/internal/epistemic"
	"github.com/verity-ai/verity/internal/evidence"
	"github.com/verity-ai/verity/internal/ingest"
	"github.com/verity-ai/verity/internal/llm"
	"github.com/verity-ai/verity/internal/mcp"
	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/pipeline"
	"github.com/verity-ai/verity/internal/queue"
	"github.com/verity-ai/verity/internal/reason"
	"github.com/verity-ai/verity/internal/storage"
	"github.com/verity-ai/verity/internal/telemetry"
	"github.com/verity-ai/verity/internal/trust"
	"github.com/verity-ai/verity/migrations"
)

// ErrNotFound is returned by Get for unknown analysis IDs.
var ErrNotFound = errors.New("verity: analysis not found")

// App is the Verity engine lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	queue        *queue.Queue
	worker       *queue.Worker
	mcpSrv       *mcp.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the engine. It connects to the database, runs migrations,
// and wires all subsystems. It does NOT start any goroutines — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("verity starting", "version", version)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	// Verify critical tables exist after migration.
	var schemaOK bool
	if err := db.Pool().QueryRow(context.Background(),
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'analyses')`,
	).Scan(&schemaOK); err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("critical table 'analyses' does not exist after migration — check that the pgvector extension is created")
	}

	provider := newCompletionProvider(cfg, logger)

	var embedder llm.Embedder
	if cfg.OpenAIAPIKey != "" {
		embedder = llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		logger.Info("embedder: openai", "model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)
	} else {
		logger.Info("embedder: disabled (no OPENAI_API_KEY, claim vectors and corpus search off)")
	}

	registry := trust.NewRegistry(thresholdsFromConfig(cfg))

	describer, _ := provider.(llm.Describer)
	ingestor := ingest.New([]ingest.Extractor{ingest.NewHTMLExtractor()}, describer, cfg.IngestTimeout, logger)

	retrievers, err := buildRetrievers(cfg, embedder, o.retrievers, logger)
	if err != nil {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, err
	}

	manager := evidence.NewManager(retrievers, registry, cfg.RetrieverCacheTTL, cfg.LowTrustThreshold, cfg.EvidenceMaxPerHost, logger)
	evaluator := evidence.NewEvaluator(provider, registry, cfg.EvaluatorCacheTTL, cfg.EvaluatorTimeout, logger)
	classifier := classify.New(provider, cfg.EvaluatorTimeout, logger)
	extractor := claims.New(provider, cfg.ClaimExtractionMax, cfg.ClaimConfidenceThreshold, cfg.EvaluatorTimeout, logger)
	reasoner := reason.New(provider, cfg.EvaluatorTimeout, logger)
	epistemicEval := epistemic.New(provider, manager, evaluator, cfg.EvidenceMaxPerClaim, cfg.EvaluatorTimeout, cfg.RetrieverTimeout, logger)

	pipe := pipeline.New(ingestor, classifier, extractor, manager, evaluator, reasoner, epistemicEval,
		registry, provider, embedder,
		pipeline.Config{
			EvidenceMaxPerClaim:   cfg.EvidenceMaxPerClaim,
			EvidenceMaxPerHost:    cfg.EvidenceMaxPerHost,
			RetrieverTimeout:      cfg.RetrieverTimeout,
			AllowSyntheticSources: cfg.AllowSyntheticSources,
		}, logger)

	qcfg := queue.Config{
		Attempts:     cfg.QueueAttempts,
		BackoffBase:  cfg.QueueBackoffBase,
		PollInterval: cfg.QueuePollInterval,
		AddTimeout:   cfg.QueueAddTimeout,
		KeepAge:      cfg.QueueCompletedAge,
		KeepCount:    cfg.QueueKeepCompleted,
	}
	q := queue.New(db, qcfg)
	worker := queue.NewWorker(db, analysisHandler(db, pipe), qcfg, logger)

	mcpSrv := mcp.New(db, q, version, logger)

	return &App{
		cfg:          cfg,
		db:           db,
		queue:        q,
		worker:       worker,
		mcpSrv:       mcpSrv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// analysisHandler is the queue worker callback: claim the analysis, run the
// pipeline, persist the result. Terminal pipeline failures map to terminal
// queue failures so the job is not redelivered.
func analysisHandler(db *storage.DB, pipe *pipeline.Pipeline) queue.Handler {
	return func(ctx context.Context, analysisID string, sub model.Submission) error {
		fresh, err := db.MarkProcessing(ctx, analysisID)
		if err != nil {
			return err
		}
		if !fresh {
			// A previous delivery already completed this analysis.
			return nil
		}

		result, embeddings, err := pipe.Run(ctx, analysisID, sub)
		if err != nil {
			var term *pipeline.TerminalError
			if errors.As(err, &term) {
				return queue.Terminal(term.UserMessage, term)
			}
			return err
		}
		return db.CompleteAnalysis(ctx, analysisID, result, embeddings)
	}
}

// Run starts the queue worker and blocks until ctx is cancelled. On return,
// Shutdown is called automatically — callers should not call Shutdown
// separately.
func (a *App) Run(ctx context.Context) error {
	a.worker.Start(ctx)
	<-ctx.Done()
	return a.Shutdown(context.Background())
}

// Shutdown drains the queue worker, then closes the database pool and the
// OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("verity shutting down")

	drainCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a.worker.Drain(drainCtx)
	cancel()

	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("verity stopped")
	return nil
}

// Submit validates and enqueues one analysis, returning its ID. The analysis
// runs asynchronously; poll with Get.
func (a *App) Submit(ctx context.Context, sub Submission) (string, error) {
	internal := model.Submission{
		ID:         uuid.New(),
		Text:       sub.Text,
		ContentURI: sub.ContentURI,
		MediaType:  sub.MediaType,
		TopicHint:  sub.TopicHint,
	}
	for _, att := range sub.Attachments {
		internal.Attachments = append(internal.Attachments, model.Attachment{
			Kind:      model.AttachmentKind(att.Kind),
			URL:       att.URL,
			MediaType: att.MediaType,
			Title:     att.Title,
			Summary:   att.Summary,
			AltText:   att.AltText,
			Caption:   att.Caption,
		})
	}
	if err := internal.Validate(); err != nil {
		return "", err
	}

	analysisID := uuid.NewString()
	if err := a.db.CreateAnalysis(ctx, analysisID, internal); err != nil {
		return "", fmt.Errorf("create analysis: %w", err)
	}
	if err := a.queue.Enqueue(ctx, analysisID, internal); err != nil {
		_ = a.db.FailAnalysis(ctx, analysisID, queue.FailureMessage)
		return "", fmt.Errorf("enqueue analysis: %w", err)
	}
	return analysisID, nil
}

// Get fetches one analysis by ID. Returns ErrNotFound for unknown IDs.
func (a *App) Get(ctx context.Context, analysisID string) (*Analysis, error) {
	analysis, err := a.db.GetAnalysis(ctx, analysisID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pub := toPublicAnalysis(analysis)
	return &pub, nil
}

// MCP returns the configured MCP server for transport setup (stdio or HTTP).
func (a *App) MCP() *mcp.Server {
	return a.mcpSrv
}

// ── Adapters (defined here because this file imports both sides) ─────────────

// retrieverAdapter wraps a public verity.Retriever to satisfy
// evidence.Retriever. It converts public evidence items to internal model
// types at the boundary.
type retrieverAdapter struct {
	r Retriever
}

func (a *retrieverAdapter) Name() string       { return a.r.Name() }
func (a *retrieverAdapter) IsConfigured() bool { return a.r.IsConfigured() }

func (a *retrieverAdapter) FetchEvidence(ctx context.Context, opts evidence.Options) ([]model.EvidenceItem, error) {
	items, err := a.r.FetchEvidence(ctx, RetrieverQuery{
		Topic:      opts.Topic,
		ClaimText:  opts.ClaimText,
		MaxResults: opts.MaxResults,
		Timeout:    opts.Timeout,
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.EvidenceItem, len(items))
	for i, item := range items {
		out[i] = model.EvidenceItem{
			ID:          uuid.NewString(),
			Provider:    item.Provider,
			Title:       item.Title,
			URL:         item.URL,
			Summary:     item.Summary,
			Reliability: item.Reliability,
			PublishedAt: item.PublishedAt,
		}
	}
	return out, nil
}

// ── Type converters ──────────────────────────────────────────────────────────

// toPublicAnalysis converts an internal model.Analysis to the public
// verity.Analysis. Lives here because this is the only file that imports both
// sides of the boundary.
func toPublicAnalysis(a *model.Analysis) Analysis {
	pub := Analysis{
		ID:          a.ID,
		Status:      Status(a.Status),
		Error:       a.Error,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		CompletedAt: a.CompletedAt,
	}
	if a.Result != nil {
		r := toPublicResult(a.Result)
		pub.Result = &r
	}
	return pub
}

func toPublicResult(r *model.AnalysisResult) Result {
	out := Result{
		Topic:          r.Topic,
		Bias:           r.Bias,
		Title:          r.Title,
		Complexity:     string(r.Complexity),
		Recommendation: string(r.Recommendation),
		Model:          r.Metadata.Model,
		FallbackUsed:   r.Metadata.FallbackUsed,
		ContentHash:    r.Metadata.ContentHash,
		Verdict: Verdict{
			Label:      string(r.Verdict.Label),
			Score:      r.Verdict.Score,
			Confidence: r.Verdict.Confidence,
			Summary:    r.Verdict.Summary,
			Context:    r.Verdict.Context,
			Rationale:  r.Verdict.Rationale,
		},
	}
	for _, c := range r.Claims {
		out.Claims = append(out.Claims, Claim{ID: c.ID, Text: c.Text, Confidence: c.Confidence})
	}
	for _, s := range r.Sources {
		out.Sources = append(out.Sources, Source{
			Key:         s.Key,
			Provider:    s.Provider,
			Title:       s.Title,
			URL:         s.URL,
			Host:        s.Host,
			Summary:     s.Summary,
			Reliability: s.AdjustedReliability,
			ClaimID:     s.ClaimID,
		})
	}
	for _, step := range r.Explanation {
		out.Explanation = append(out.Explanation, ExplanationStep{Position: step.Position, Title: step.Title, Body: step.Body})
	}
	return out
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func thresholdsFromConfig(cfg config.Config) trust.Thresholds {
	th := trust.DefaultThresholds()
	th.LowTrustMinObservations = cfg.LowTrustMinObservations
	th.LowTrustMean = cfg.LowTrustThreshold
	th.BlacklistMinObservations = cfg.BlacklistMinObservations
	th.BlacklistClamp = cfg.BlacklistReliability
	th.LowTrustClamp = cfg.DynamicLowTrustClamp
	return th
}

func newCompletionProvider(cfg config.Config, logger *slog.Logger) llm.Provider {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when VERITY_LLM_PROVIDER=openai")
			return llm.NoopProvider{}
		}
		logger.Info("llm provider: openai", "model", cfg.CompletionModel, "vision_model", cfg.VisionModel)
		return llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.CompletionModel, cfg.VisionModel)
	case "ollama":
		logger.Info("llm provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return llm.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel)
	case "noop":
		logger.Info("llm provider: noop (heuristic fallbacks only)")
		return llm.NoopProvider{}
	case "auto":
		fallthrough
	default:
		if cfg.OpenAIAPIKey != "" {
			logger.Info("llm provider: openai (auto-detected)", "model", cfg.CompletionModel)
			return llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.CompletionModel, cfg.VisionModel)
		}
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("llm provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
			return llm.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel)
		}
		logger.Warn("no llm provider available, using noop (heuristic fallbacks only)")
		return llm.NoopProvider{}
	}
}

func buildRetrievers(cfg config.Config, embedder llm.Embedder, extra []Retriever, logger *slog.Logger) ([]evidence.Retriever, error) {
	var retrievers []evidence.Retriever

	if cfg.SearchAPIKey != "" {
		retrievers = append(retrievers, evidence.NewSearchAPIRetriever(cfg.SearchAPIEndpoint, cfg.SearchAPIKey))
		logger.Info("retriever: web search enabled")
	}
	if cfg.FactCheckAPIKey != "" {
		retrievers = append(retrievers, evidence.NewFactCheckRetriever("", cfg.FactCheckAPIKey))
		logger.Info("retriever: fact-check API enabled")
	}
	if cfg.QdrantURL != "" && embedder != nil {
		corpus, err := evidence.NewCorpusRetriever(evidence.CorpusConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, embedder, logger)
		if err != nil {
			return nil, fmt.Errorf("corpus retriever: %w", err)
		}
		if err := corpus.EnsureCollection(context.Background()); err != nil {
			return nil, fmt.Errorf("corpus ensure collection: %w", err)
		}
		retrievers = append(retrievers, corpus)
		logger.Info("retriever: corpus enabled", "collection", cfg.QdrantCollection)
	} else if cfg.QdrantURL != "" {
		logger.Warn("retriever: corpus disabled (no embedder configured)")
	}
	for _, r := range extra {
		retrievers = append(retrievers, &retrieverAdapter{r: r})
	}

	if len(retrievers) == 0 {
		logger.Warn("no evidence retrievers configured, verdicts will rely on model knowledge only")
	}
	return retrievers, nil
}

func ollamaReachable(baseURL string) bool {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(c, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
