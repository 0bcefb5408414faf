package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/verity-ai/verity/internal/model"
)

// searchBaselineReliability is the prior for general web search hits before
// trust adjustment and evaluation.
const searchBaselineReliability = 0.5

// SearchAPIRetriever queries a Brave-compatible web search API.
type SearchAPIRetriever struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewSearchAPIRetriever creates a web search retriever. An empty apiKey
// leaves it unconfigured.
func NewSearchAPIRetriever(endpoint, apiKey string) *SearchAPIRetriever {
	if endpoint == "" {
		endpoint = "https://api.search.brave.com/res/v1/web/search"
	}
	return &SearchAPIRetriever{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *SearchAPIRetriever) Name() string { return "web_search" }

func (r *SearchAPIRetriever) IsConfigured() bool { return r.apiKey != "" }

type searchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			PageAge     string `json:"page_age"`
		} `json:"results"`
	} `json:"web"`
}

func (r *SearchAPIRetriever) FetchEvidence(ctx context.Context, opts Options) ([]model.EvidenceItem, error) {
	q := url.Values{}
	q.Set("q", opts.ClaimText)
	q.Set("count", strconv.Itoa(max(opts.MaxResults, 1)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("evidence: build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evidence: search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("evidence: search API returned status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("evidence: decode search response: %w", err)
	}

	items := make([]model.EvidenceItem, 0, len(body.Web.Results))
	for _, res := range body.Web.Results {
		if res.URL == "" {
			continue
		}
		item := model.EvidenceItem{
			ID:          uuid.NewString(),
			Provider:    r.Name(),
			Title:       res.Title,
			URL:         res.URL,
			Summary:     res.Description,
			Reliability: searchBaselineReliability,
		}
		if ts, err := time.Parse(time.RFC3339, res.PageAge); err == nil {
			item.PublishedAt = &ts
		}
		items = append(items, item)
		if len(items) == opts.MaxResults {
			break
		}
	}
	return items, nil
}
