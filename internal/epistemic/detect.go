package epistemic

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Failure mode identifiers. These names are stable: they appear in persisted
// penalty ledgers and must not change across releases.
const (
	ModeSingleSourceDominance    = "single-source-dominance"
	ModeLowAverageReliability    = "low-average-reliability"
	ModeNoPeerReviewed           = "no-peer-reviewed"
	ModeRefutingMajority         = "refuting-majority"
	ModeStaleEvidence            = "stale-evidence"
	ModeUniversalWithoutEvidence = "quantifier-universal-without-evidence"
	ModeCausalWithoutMechanism   = "causal-claim-without-mechanism"
	ModeGeographyMismatch        = "geography-mismatch"
)

const (
	// lowReliabilityThreshold triggers the low-average-reliability mode.
	lowReliabilityThreshold = 0.5

	// staleEvidenceAge is the age past which evidence for a present-tense
	// claim no longer counts as current.
	staleEvidenceAge = 2 * 365 * 24 * time.Hour

	// universalSupportMin is the corroboration a universal quantifier needs.
	universalSupportMin = 2
)

var mechanismRe = regexp.MustCompile(`(?i)\b(mechanism|pathway|because|explains?|due to|driven by|mediated)\b`)

var universalSet = map[string]bool{
	"all": true, "every": true, "always": true, "never": true,
	"none": true, "no one": true, "nobody": true, "everyone": true, "everything": true,
}

// detectFailureModes runs stage 4: the deterministic rule set producing the
// penalty ledger for one claim. now is injected so the stale-evidence rule
// hashes identically across re-runs with a pinned clock.
func detectFailureModes(tc TypedClaim, graph *EvidenceGraph, now time.Time) []Penalty {
	if graph == nil {
		return nil
	}
	stats := graph.Stats
	var penalties []Penalty

	if stats.SingleSourceDominance {
		penalties = append(penalties, Penalty{
			Mode:      ModeSingleSourceDominance,
			Weight:    15,
			Severity:  SeverityMedium,
			Rationale: fmt.Sprintf("a single host dominates the %d evidence items", len(graph.Items)),
		})
	}

	if len(graph.Items) == 0 || stats.AverageReliability < lowReliabilityThreshold {
		penalties = append(penalties, Penalty{
			Mode:      ModeLowAverageReliability,
			Weight:    20,
			Severity:  SeverityHigh,
			Rationale: fmt.Sprintf("average source reliability %.2f is below %.2f", stats.AverageReliability, lowReliabilityThreshold),
		})
	}

	if (tc.Type == TypeEmpirical || tc.Type == TypeModelBased || tc.Type == TypeMeta) &&
		len(graph.Items) > 0 && stats.PeerReviewedCount == 0 {
		penalties = append(penalties, Penalty{
			Mode:      ModeNoPeerReviewed,
			Weight:    10,
			Severity:  SeverityLow,
			Rationale: "no peer-reviewed source among the evidence",
		})
	}

	if stats.RefutingCount > stats.SupportingCount {
		penalties = append(penalties, Penalty{
			Mode:      ModeRefutingMajority,
			Weight:    30,
			Severity:  SeverityHigh,
			Rationale: fmt.Sprintf("%d refuting vs %d supporting sources", stats.RefutingCount, stats.SupportingCount),
		})
	}

	if stale(tc, graph, now) {
		penalties = append(penalties, Penalty{
			Mode:      ModeStaleEvidence,
			Weight:    10,
			Severity:  SeverityLow,
			Rationale: "every dated source is older than two years for a current claim",
		})
	}

	if hasUniversalQuantifier(tc.Quantifiers) && stats.SupportingCount < universalSupportMin {
		penalties = append(penalties, Penalty{
			Mode:      ModeUniversalWithoutEvidence,
			Weight:    15,
			Severity:  SeverityMedium,
			Rationale: fmt.Sprintf("universal quantifier backed by %d supporting sources", stats.SupportingCount),
		})
	}

	if tc.CausalStructure == CausalCausal && stats.PeerReviewedCount == 0 && !mentionsMechanism(graph) {
		penalties = append(penalties, Penalty{
			Mode:      ModeCausalWithoutMechanism,
			Weight:    15,
			Severity:  SeverityMedium,
			Rationale: "causal claim without a peer-reviewed source or a described mechanism",
		})
	}

	if geographyMismatch(tc, graph) {
		penalties = append(penalties, Penalty{
			Mode:      ModeGeographyMismatch,
			Weight:    10,
			Severity:  SeverityMedium,
			Rationale: fmt.Sprintf("no evidence mentions the claim's geography (%s)", strings.Join(tc.Geography.Terms, ", ")),
		})
	}

	return penalties
}

// stale reports whether a past/present claim is supported only by sources
// older than staleEvidenceAge. Undated sources do not count as stale.
func stale(tc TypedClaim, graph *EvidenceGraph, now time.Time) bool {
	if tc.Timeframe.Type != TimeframePresent && tc.Timeframe.Type != TimeframePast {
		return false
	}
	dated := 0
	for _, item := range graph.Items {
		if item.PublishedAt == nil {
			continue
		}
		dated++
		if now.Sub(*item.PublishedAt) < staleEvidenceAge {
			return false
		}
	}
	return dated > 0
}

func hasUniversalQuantifier(quantifiers []string) bool {
	for _, q := range quantifiers {
		if universalSet[strings.ToLower(q)] {
			return true
		}
	}
	return false
}

func mentionsMechanism(graph *EvidenceGraph) bool {
	for _, item := range graph.Items {
		if mechanismRe.MatchString(item.Title + " " + item.Summary) {
			return true
		}
	}
	return false
}

// geographyMismatch is true when the claim names concrete geography but no
// evidence item mentions any of its terms.
func geographyMismatch(tc TypedClaim, graph *EvidenceGraph) bool {
	if len(tc.Geography.Terms) == 0 || len(graph.Items) == 0 {
		return false
	}
	switch tc.Geography.Scope {
	case ScopeGlobal, ScopeUnspecified:
		return false
	}
	for _, item := range graph.Items {
		text := strings.ToLower(item.Title + " " + item.Summary)
		for _, term := range tc.Geography.Terms {
			if strings.Contains(text, strings.ToLower(term)) {
				return false
			}
		}
	}
	return true
}
