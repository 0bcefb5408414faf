package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/verity-ai/verity/internal/model"
)

// loremWords builds text with n distinct words so diversity stays high.
func distinctWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "word" + string(rune('a'+i%26)) + string(rune('a'+(i/26)%26)) + string(rune('a'+(i/676)%26))
	}
	return strings.Join(words, " ")
}

func TestAssessQualityLevels(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		hasMetadata bool
		truncated   bool
		want        model.QualityLevel
	}{
		{"excellent", distinctWords(150), true, false, model.QualityExcellent},
		{"excellent without metadata downgrades", distinctWords(150), false, false, model.QualityGood},
		{"good", distinctWords(70), false, false, model.QualityGood},
		{"fair", distinctWords(25), false, false, model.QualityFair},
		{"poor short", "too short", false, false, model.QualityPoor},
		{"poor low diversity", strings.Repeat("same same same ", 30), false, false, model.QualityPoor},
		{"truncated downgrades one level", distinctWords(150), true, true, model.QualityGood},
		{"empty", "", false, false, model.QualityInsufficient},
		{"boilerplate only", "Please enable JavaScript to continue", false, false, model.QualityInsufficient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := AssessQuality(tt.text, tt.hasMetadata, tt.truncated)
			assert.Equal(t, tt.want, q.Level)
			assert.GreaterOrEqual(t, q.Score, 0.0)
			assert.LessOrEqual(t, q.Score, 1.0)
		})
	}
}

func TestAssessQualityRecommendation(t *testing.T) {
	q := AssessQuality("", false, false)
	assert.Equal(t, model.RecommendScreenshot, q.Recommendation)

	q = AssessQuality("tiny", false, false)
	assert.Equal(t, model.RecommendScreenshot, q.Recommendation)

	q = AssessQuality(distinctWords(80), false, false)
	assert.Equal(t, model.RecommendNone, q.Recommendation)
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		url  string
		want Platform
	}{
		{"https://twitter.com/user/status/1", PlatformTwitter},
		{"https://x.com/user/status/1", PlatformTwitter},
		{"https://www.instagram.com/p/abc/", PlatformInstagram},
		{"https://www.threads.net/@user/post/1", PlatformThreads},
		{"https://m.facebook.com/story.php?id=1", PlatformFacebook},
		{"https://vm.tiktok.com/ZM1/", PlatformTikTok},
		{"https://youtu.be/dQw4w9WgXcQ", PlatformYouTube},
		{"https://example.com/article", PlatformGeneric},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectPlatform(tt.url), tt.url)
	}
}
