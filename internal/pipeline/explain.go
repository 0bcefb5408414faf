package pipeline

import (
	"fmt"
	"strings"

	"github.com/verity-ai/verity/internal/classify"
	"github.com/verity-ai/verity/internal/model"
)

// explanationSteps builds the user-facing reasoning trail persisted with
// the result.
func explanationSteps(
	classification classify.Result,
	claimList []model.Claim,
	claimMeta model.ClaimMeta,
	sources []model.Source,
	verdict *model.Verdict,
	ingestion model.IngestionResult,
) []model.ExplanationStep {
	var steps []model.ExplanationStep
	add := func(title, body string) {
		steps = append(steps, model.ExplanationStep{Position: len(steps) + 1, Title: title, Body: body})
	}

	if len(ingestion.Records) > 0 {
		ok := 0
		for _, rec := range ingestion.Records {
			if rec.Error == "" {
				ok++
			}
		}
		body := fmt.Sprintf("Extracted content from %d of %d attachments.", ok, len(ingestion.Records))
		if len(ingestion.Warnings) > 0 {
			body += fmt.Sprintf(" %d attachment(s) could not be processed.", len(ingestion.Warnings))
		}
		add("Content ingested", body)
	}

	topicBody := fmt.Sprintf("Classified the content as %s (confidence %.0f%%).",
		classification.Topic, classification.Confidence*100)
	if classification.Bias != "" {
		topicBody += fmt.Sprintf(" Political bias assessed as %s.", classification.Bias)
	}
	add("Topic identified", topicBody)

	claimBody := fmt.Sprintf("Identified %d verifiable claim(s) to check.", len(claimList))
	if claimMeta.UsedFallback {
		claimBody += " Claims were derived by sentence analysis."
	}
	add("Claims extracted", claimBody)

	hosts := make(map[string]bool)
	for _, s := range sources {
		if s.Host != "" {
			hosts[s.Host] = true
		}
	}
	if len(sources) > 0 {
		add("Evidence gathered", fmt.Sprintf("Consulted %d source(s) across %d distinct site(s), ranked by reliability.",
			len(sources), len(hosts)))
	} else {
		add("Evidence gathered", "No external sources could be retrieved for these claims.")
	}

	verdictBody := verdict.Rationale
	if verdictBody == "" {
		verdictBody = strings.TrimSpace(verdict.Summary)
	}
	add("Verdict reached", verdictBody)

	return steps
}
