package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verity-ai/verity/internal/model"
)

// factCheckBaselineReliability is the prior for published fact checks. Fact
// checking organizations start above general search results.
const factCheckBaselineReliability = 0.75

// FactCheckRetriever queries the Google Fact Check Tools claims API.
type FactCheckRetriever struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewFactCheckRetriever creates a fact-check retriever. An empty apiKey
// leaves it unconfigured.
func NewFactCheckRetriever(endpoint, apiKey string) *FactCheckRetriever {
	if endpoint == "" {
		endpoint = "https://factchecktools.googleapis.com/v1alpha1/claims:search"
	}
	return &FactCheckRetriever{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *FactCheckRetriever) Name() string { return "fact_check" }

func (r *FactCheckRetriever) IsConfigured() bool { return r.apiKey != "" }

type factCheckResponse struct {
	Claims []struct {
		Text        string `json:"text"`
		Claimant    string `json:"claimant"`
		ClaimReview []struct {
			Publisher struct {
				Name string `json:"name"`
				Site string `json:"site"`
			} `json:"publisher"`
			URL           string `json:"url"`
			Title         string `json:"title"`
			ReviewDate    string `json:"reviewDate"`
			TextualRating string `json:"textualRating"`
		} `json:"claimReview"`
	} `json:"claims"`
}

func (r *FactCheckRetriever) FetchEvidence(ctx context.Context, opts Options) ([]model.EvidenceItem, error) {
	q := url.Values{}
	q.Set("query", opts.ClaimText)
	q.Set("pageSize", strconv.Itoa(max(opts.MaxResults, 1)))
	q.Set("key", r.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("evidence: build fact-check request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evidence: fact-check request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("evidence: fact-check API returned status %d", resp.StatusCode)
	}

	var body factCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("evidence: decode fact-check response: %w", err)
	}

	var items []model.EvidenceItem
	for _, claim := range body.Claims {
		for _, review := range claim.ClaimReview {
			if review.URL == "" {
				continue
			}
			summary := claim.Text
			if review.TextualRating != "" {
				summary = fmt.Sprintf("%s Rated %q by %s.", summary, review.TextualRating, review.Publisher.Name)
			}
			item := model.EvidenceItem{
				ID:          uuid.NewString(),
				Provider:    r.Name(),
				Title:       reviewTitle(review.Title, claim.Text),
				URL:         review.URL,
				Summary:     strings.TrimSpace(summary),
				Reliability: factCheckBaselineReliability,
			}
			if ts, err := time.Parse("2006-01-02T15:04:05Z", review.ReviewDate); err == nil {
				item.PublishedAt = &ts
			}
			items = append(items, item)
			if len(items) == opts.MaxResults {
				return items, nil
			}
		}
	}
	return items, nil
}

func reviewTitle(title, claimText string) string {
	if title != "" {
		return title
	}
	return claimText
}
