package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/verity-ai/verity/internal/classify"
	"github.com/verity-ai/verity/internal/llm"
	"github.com/verity-ai/verity/internal/model"
)

const (
	titleMinWords = 3
	titleMaxWords = 10
)

var titleSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"title": {"type": "string"}
	},
	"required": ["title"],
	"additionalProperties": false
}`)

// generateTitle asks the model for a short headline and falls back to a
// deterministic construction that always satisfies the word-count bounds.
func (p *Pipeline) generateTitle(ctx context.Context, topic classify.Topic, claimList []model.Claim, verdict *model.Verdict) string {
	prompt := fmt.Sprintf(
		"Write a neutral headline of %d to %d words for a fact-check of this claim. "+
			"Do not state the verdict.\n\nClaim: %s\nVerdict label: %s",
		titleMinWords, titleMaxWords, claimList[0].Text, verdict.Label)

	raw, err := p.provider.Complete(ctx, llm.Request{
		System:    "You write concise fact-check headlines. Answer with JSON only.",
		Prompt:    prompt,
		Schema:    llm.Schema{Name: "title", Schema: titleSchema},
		MaxTokens: 60,
		Timeout:   p.cfg.TitleTimeout,
	})
	if err == nil {
		var out struct {
			Title string `json:"title"`
		}
		if json.Unmarshal(raw, &out) == nil {
			if t := strings.TrimSpace(out.Title); wordCountOK(t) {
				return t
			}
		}
	} else if !errors.Is(err, llm.ErrUnavailable) {
		p.logger.Debug("pipeline: title generation failed, using fallback", "error", err)
	}

	return fallbackTitle(topic, claimList)
}

func wordCountOK(title string) bool {
	n := len(strings.Fields(title))
	return n >= titleMinWords && n <= titleMaxWords
}

// fallbackTitle builds "Fact Check: <leading claim words>", trimming the
// claim to keep the total within the bounds.
func fallbackTitle(topic classify.Topic, claimList []model.Claim) string {
	words := strings.Fields(claimList[0].Text)
	if len(words) > titleMaxWords-2 {
		words = words[:titleMaxWords-2]
	}
	for len(words) > 0 {
		last := strings.TrimRight(words[len(words)-1], ".,;:!?")
		if last == "" {
			words = words[:len(words)-1]
			continue
		}
		words[len(words)-1] = last
		break
	}
	if len(words) < titleMinWords-2 {
		return fmt.Sprintf("Fact Check: %s Claims Reviewed", titleCase(string(topic)))
	}
	return "Fact Check: " + strings.Join(words, " ")
}

func titleCase(s string) string {
	if s == "" {
		return "General"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
