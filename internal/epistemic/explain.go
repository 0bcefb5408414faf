package epistemic

import (
	"fmt"
	"math"
	"strings"
)

// explainClaim runs stage 6: deterministic composition of the evidence
// summary, key reasons, explanation text, and the confidence interval.
func explainClaim(tc TypedClaim, graph *EvidenceGraph, penalties []Penalty, score *Score) *Explanation {
	if score == nil {
		return nil
	}

	ex := &Explanation{ClaimID: tc.ClaimID}

	stats := graph.Stats
	ex.EvidenceSummary = fmt.Sprintf(
		"%d sources across %d hosts; average reliability %.2f; %d peer-reviewed; %d supporting, %d refuting.",
		len(graph.Items), stats.UniqueHostnames, stats.AverageReliability,
		stats.PeerReviewedCount, stats.SupportingCount, stats.RefutingCount)

	for _, p := range penalties {
		ex.KeyReasons = append(ex.KeyReasons, fmt.Sprintf("%s (-%d): %s", p.Mode, p.Weight, p.Rationale))
	}
	if len(ex.KeyReasons) == 0 {
		ex.KeyReasons = []string{"no failure modes detected"}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "The claim scores %d (%s). ", score.Final, score.BandLabel)
	if len(penalties) > 0 {
		fmt.Fprintf(&sb, "Deductions came from %d detected weakness", len(penalties))
		if len(penalties) > 1 {
			sb.WriteString("es")
		}
		sb.WriteString(" in the evidence base. ")
	}
	if score.CeilingApplied {
		sb.WriteString("A ceiling for this claim type capped the score. ")
	}
	if score.FloorApplied {
		sb.WriteString("A floor for this claim type raised the score. ")
	}
	sb.WriteString(ex.EvidenceSummary)
	ex.ExplanationText = sb.String()

	// Interval spread narrows as average reliability rises, floored at 5.
	spread := int(math.Round(20 - stats.AverageReliability*15))
	if spread < 5 {
		spread = 5
	}
	ex.ConfidenceLow = max(0, score.Final-spread)
	ex.ConfidenceHigh = min(100, score.Final+spread)
	return ex
}
