package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/trust"
)

// relevanceWeight blends evaluator relevance into the ranking score for
// evaluated sources.
const relevanceWeight = 0.3

// assembleSources flattens per-claim evidence into the ranked source list.
// URLs repeated across claims keep only the first occurrence, so a source's
// ClaimID points at the first claim it was retrieved for. Ranking is stable,
// so ties preserve the flattened per-claim order.
func (p *Pipeline) assembleSources(claimList []model.Claim, perClaim [][]model.EvidenceItem) []model.Source {
	seen := make(map[string]bool)
	var sources []model.Source
	for i, items := range perClaim {
		for _, item := range items {
			if seen[item.URL] {
				continue
			}
			seen[item.URL] = true
			sources = append(sources, model.Source{
				Provider:            item.Provider,
				Title:               item.Title,
				URL:                 item.URL,
				Host:                trust.NormalizeHost(item.URL),
				Summary:             item.Summary,
				AdjustedReliability: item.Reliability,
				PublishedAt:         item.PublishedAt,
				Evaluation:          item.Evaluation,
				ClaimID:             claimList[i].ID,
			})
		}
	}

	sort.SliceStable(sources, func(a, b int) bool {
		return rankScore(sources[a]) > rankScore(sources[b])
	})

	sources = capPerHost(sources, p.cfg.EvidenceMaxPerHost)
	for i := range sources {
		sources[i].Key = fmt.Sprintf("S%d", i+1)
	}
	return sources
}

func rankScore(s model.Source) float64 {
	if s.Evaluation == nil {
		return s.AdjustedReliability
	}
	return (1-relevanceWeight)*s.AdjustedReliability + relevanceWeight*s.Evaluation.Relevance
}

func capPerHost(sources []model.Source, maxPerHost int) []model.Source {
	if maxPerHost <= 0 {
		return sources
	}
	counts := make(map[string]int)
	kept := sources[:0]
	for _, s := range sources {
		if s.Host != "" {
			if counts[s.Host] >= maxPerHost {
				continue
			}
			counts[s.Host]++
		}
		kept = append(kept, s)
	}
	return kept
}

// syntheticSources is the opt-in fallback when retrieval produced nothing.
// The single low-reliability source makes the provenance explicit instead of
// letting the reasoner cite nothing.
func syntheticSources() []model.Source {
	return []model.Source{{
		Key:                 "S1",
		Provider:            "synthetic",
		Title:               "Model background assessment",
		Summary:             "No external sources were retrieved; the assessment relies on model background knowledge.",
		AdjustedReliability: 0.3,
	}}
}

// imageKeywords flag claims that describe visual content rather than the
// underlying event.
var imageKeywords = []string{"image", "photo", "picture", "screenshot", "infographic", "the video shows"}

// detectImageDerived maps claim IDs to whether the claim came from a vision
// description, by keyword or by overlap with an image-derived ingestion
// record.
func detectImageDerived(claimList []model.Claim, records []model.IngestionRecord) map[string]bool {
	var imageTexts []string
	for _, rec := range records {
		if rec.ImageDerived && rec.Text != "" {
			imageTexts = append(imageTexts, strings.ToLower(rec.Text))
		}
	}

	derived := make(map[string]bool)
	for _, c := range claimList {
		lower := strings.ToLower(c.Text)
		for _, kw := range imageKeywords {
			if strings.Contains(lower, kw) {
				derived[c.ID] = true
				break
			}
		}
		if derived[c.ID] {
			continue
		}
		probe := lower
		if len(probe) > 60 {
			cut := 60
			for cut > 0 && !utf8.RuneStart(probe[cut]) {
				cut--
			}
			probe = probe[:cut]
		}
		for _, it := range imageTexts {
			if strings.Contains(it, probe) {
				derived[c.ID] = true
				break
			}
		}
	}
	return derived
}

// complexityFor grades the analysis by its artifact counts.
func complexityFor(claimCount, sourceCount, attachmentCount int) model.Complexity {
	switch {
	case claimCount >= 3 || sourceCount >= 5:
		return model.ComplexityComplex
	case claimCount == 1 && sourceCount <= 1 && attachmentCount <= 1:
		return model.ComplexitySimple
	default:
		return model.ComplexityMedium
	}
}

// qualityRank orders levels worst-first for aggregation.
var qualityRank = map[model.QualityLevel]int{
	model.QualityInsufficient: 0,
	model.QualityPoor:         1,
	model.QualityFair:         2,
	model.QualityGood:         3,
	model.QualityExcellent:    4,
}

// overallQuality is the worst per-attachment quality; a single bad
// attachment drives the recommendation.
func overallQuality(records []model.IngestionRecord) *model.Quality {
	var worst *model.Quality
	for i := range records {
		if records[i].Error != "" {
			continue
		}
		q := records[i].Quality
		if worst == nil || qualityRank[q.Level] < qualityRank[worst.Level] {
			worst = &records[i].Quality
		}
	}
	return worst
}

func recommendationFor(q *model.Quality) model.Recommendation {
	if q == nil {
		return model.RecommendNone
	}
	if q.Recommendation != "" {
		return q.Recommendation
	}
	switch q.Level {
	case model.QualityPoor, model.QualityInsufficient:
		return model.RecommendScreenshot
	default:
		return model.RecommendNone
	}
}
