package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/verity-ai/verity/internal/llm"
	"github.com/verity-ai/verity/internal/model"
)

// corpusMinScore drops corpus hits whose cosine similarity to the claim is
// too low to be useful evidence.
const corpusMinScore = float32(0.4)

// CorpusConfig holds configuration for the indexed fact-check corpus.
type CorpusConfig struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// CorpusRetriever serves evidence from a pre-indexed corpus of fact-check
// articles held in Qdrant, matched by embedding similarity.
type CorpusRetriever struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	embedder   llm.Embedder
	logger     *slog.Logger
}

// parseCorpusURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseCorpusURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("evidence: invalid corpus URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("evidence: invalid port in corpus URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewCorpusRetriever connects to the corpus index via gRPC. An empty URL
// returns an unconfigured retriever without error.
func NewCorpusRetriever(cfg CorpusConfig, embedder llm.Embedder, logger *slog.Logger) (*CorpusRetriever, error) {
	if cfg.URL == "" {
		return &CorpusRetriever{logger: logger}, nil
	}

	host, port, useTLS, err := parseCorpusURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("evidence: connect to corpus at %s:%d: %w", host, port, err)
	}

	return &CorpusRetriever{
		client:     client,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		embedder:   embedder,
		logger:     logger,
	}, nil
}

func (r *CorpusRetriever) Name() string { return "corpus" }

func (r *CorpusRetriever) IsConfigured() bool { return r.client != nil && r.embedder != nil }

// EnsureCollection creates the corpus collection if it doesn't already exist.
// CreateFieldIndex is idempotent on Qdrant, so index creation is always
// attempted to backfill indexes added after the collection was first created.
func (r *CorpusRetriever) EnsureCollection(ctx context.Context) error {
	if !r.IsConfigured() {
		return nil
	}

	exists, err := r.client.CollectionExists(ctx, r.collection)
	if err != nil {
		return fmt.Errorf("evidence: check corpus collection exists: %w", err)
	}

	if !exists {
		if err := r.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: r.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     r.dims,
				Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return fmt.Errorf("evidence: create corpus collection %q: %w", r.collection, err)
		}
		r.logger.Info("corpus: created collection", "collection", r.collection, "dims", r.dims)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"topic", "host"} {
		if _, err := r.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: r.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("evidence: ensure corpus index on %q: %w", field, err)
		}
	}
	return nil
}

func (r *CorpusRetriever) FetchEvidence(ctx context.Context, opts Options) ([]model.EvidenceItem, error) {
	vec, err := r.embedder.Embed(ctx, opts.ClaimText)
	if err != nil {
		return nil, fmt.Errorf("evidence: embed claim for corpus search: %w", err)
	}

	var filter *qdrant.Filter
	if opts.Topic != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("topic", opts.Topic)}}
	}

	limit := uint64(max(opts.MaxResults, 1)) //nolint:gosec
	scored, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQueryDense(vec.Slice()),
		Filter:         filter,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("evidence: corpus query: %w", err)
	}

	items := make([]model.EvidenceItem, 0, len(scored))
	for _, sp := range scored {
		if sp.Score < corpusMinScore {
			continue
		}
		payload := sp.Payload
		item := model.EvidenceItem{
			ID:          uuid.NewString(),
			Provider:    r.Name(),
			Title:       payload["title"].GetStringValue(),
			URL:         payload["url"].GetStringValue(),
			Summary:     payload["summary"].GetStringValue(),
			Reliability: payload["reliability"].GetDoubleValue(),
		}
		if item.URL == "" {
			continue
		}
		if item.Reliability == 0 {
			item.Reliability = factCheckBaselineReliability
		}
		if unix := payload["published_unix"].GetIntegerValue(); unix > 0 {
			ts := time.Unix(unix, 0).UTC()
			item.PublishedAt = &ts
		}
		items = append(items, item)
	}
	return items, nil
}
