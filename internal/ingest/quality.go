package ingest

import (
	"strings"

	"github.com/verity-ai/verity/internal/model"
)

// boilerplatePhrases are fragments that indicate an extraction captured
// chrome instead of content. Text made only of these is insufficient.
var boilerplatePhrases = []string{
	"log in",
	"sign up",
	"accept cookies",
	"enable javascript",
	"javascript is disabled",
	"page not found",
	"access denied",
}

// AssessQuality computes the deterministic extraction-quality verdict for one
// attachment's text.
//
// Scoring factors:
//   - word count (>=120 excellent tier, >=60 good, >=20 fair)
//   - unique-word diversity ratio (>=0.55 excellent, >=0.5 good, <0.45 poor)
//   - author/media metadata present: required for excellent
//   - truncation: one-level downgrade
func AssessQuality(text string, hasMetadata, truncated bool) model.Quality {
	trimmed := strings.TrimSpace(text)
	words := strings.Fields(trimmed)
	wordCount := len(words)

	var reasons []string

	if wordCount == 0 || isBoilerplateOnly(trimmed) {
		return model.Quality{
			Level:          model.QualityInsufficient,
			Score:          0,
			Reasons:        []string{"no extractable content"},
			Recommendation: model.RecommendScreenshot,
		}
	}

	diversity := uniqueRatio(words)

	var level model.QualityLevel
	switch {
	case wordCount >= 120 && diversity >= 0.55 && hasMetadata:
		level = model.QualityExcellent
	case wordCount >= 60 && diversity >= 0.5:
		level = model.QualityGood
	case wordCount >= 20 && diversity >= 0.45:
		level = model.QualityFair
	default:
		level = model.QualityPoor
		if wordCount < 20 {
			reasons = append(reasons, "fewer than 20 words extracted")
		}
		if diversity < 0.45 {
			reasons = append(reasons, "low vocabulary diversity suggests boilerplate")
		}
	}

	if truncated && level != model.QualityPoor {
		level = downgrade(level)
		reasons = append(reasons, "content was truncated")
	}
	if !hasMetadata && level == model.QualityExcellent {
		level = model.QualityGood
	}

	q := model.Quality{
		Level:          level,
		Score:          scoreFor(level, wordCount, diversity),
		Reasons:        reasons,
		Recommendation: model.RecommendNone,
	}
	if level == model.QualityPoor {
		q.Recommendation = model.RecommendScreenshot
	}
	return q
}

func uniqueRatio(words []string) float64 {
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[strings.ToLower(strings.Trim(w, ".,!?;:\"'()"))] = struct{}{}
	}
	return float64(len(seen)) / float64(len(words))
}

func isBoilerplateOnly(text string) bool {
	lower := strings.ToLower(text)
	if len(strings.Fields(lower)) > 12 {
		return false
	}
	for _, phrase := range boilerplatePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func downgrade(level model.QualityLevel) model.QualityLevel {
	switch level {
	case model.QualityExcellent:
		return model.QualityGood
	case model.QualityGood:
		return model.QualityFair
	default:
		return model.QualityPoor
	}
}

// scoreFor maps the level to a base score, nudged by the underlying signals
// so equal levels still order sensibly.
func scoreFor(level model.QualityLevel, wordCount int, diversity float64) float64 {
	var base float64
	switch level {
	case model.QualityExcellent:
		base = 0.9
	case model.QualityGood:
		base = 0.7
	case model.QualityFair:
		base = 0.5
	case model.QualityPoor:
		base = 0.25
	default:
		return 0
	}
	bonus := min(float64(wordCount)/2000, 0.05) + min(diversity/20, 0.04)
	return min(base+bonus, 1)
}
