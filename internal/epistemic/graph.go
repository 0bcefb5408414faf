package epistemic

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/verity-ai/verity/internal/evidence"
	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/trust"
)

// peerReviewedHosts are publication hosts treated as peer-reviewed venues.
var peerReviewedHosts = map[string]bool{
	"nature.com":              true,
	"science.org":             true,
	"nejm.org":                true,
	"thelancet.com":           true,
	"bmj.com":                 true,
	"cell.com":                true,
	"pnas.org":                true,
	"sciencedirect.com":       true,
	"link.springer.com":       true,
	"onlinelibrary.wiley.com": true,
	"pubmed.ncbi.nlm.nih.gov": true,
	"arxiv.org":               true,
	"plos.org":                true,
}

var (
	metaAnalysisRe = regexp.MustCompile(`(?i)\b(meta.analysis|systematic review|pooled analysis)\b`)
	modelSourceRe  = regexp.MustCompile(`(?i)\b(model|projection|forecast|simulation)\b`)
	opinionRe      = regexp.MustCompile(`(?i)\b(opinion|op.ed|editorial|commentary|blog)\b`)
)

// institutionalSuffixes mark official bodies whose output counts as
// institutional consensus.
var institutionalSuffixes = []string{".gov", ".edu", ".int", "who.int", "un.org", "europa.eu", "cdc.gov", "nih.gov", "noaa.gov", "nasa.gov"}

// buildGraphs runs stage 3: retrieve and evaluate evidence for every
// scorable claim in parallel, then compute graph stats. Normative claims get
// no graph.
func (e *Evaluator) buildGraphs(ctx context.Context, typed []TypedClaim, topic string) []*EvidenceGraph {
	graphs := make([]*EvidenceGraph, len(typed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, tc := range typed {
		if tc.IsNormative {
			continue
		}
		g.Go(func() error {
			items := e.manager.Retrieve(gctx, evidence.Options{
				Topic:      topic,
				ClaimText:  tc.Text,
				MaxResults: e.maxEvidence,
				Timeout:    e.retrieveTimeout,
			})
			items = e.evidenceEvaluator.Evaluate(gctx, tc.Text, items)
			graphs[i] = newGraph(tc.ClaimID, items)
			return nil
		})
	}
	_ = g.Wait()

	// A scorable claim with a failed retrieval still gets an empty graph so
	// downstream stages see a uniform shape.
	for i, tc := range typed {
		if !tc.IsNormative && graphs[i] == nil {
			graphs[i] = newGraph(tc.ClaimID, nil)
		}
	}
	return graphs
}

// newGraph classifies the items and computes the stats for one claim.
func newGraph(claimID string, items []model.EvidenceItem) *EvidenceGraph {
	graph := &EvidenceGraph{
		ClaimID: claimID,
		Items:   make([]GraphItem, 0, len(items)),
		Stats: GraphStats{
			HostnameDistribution:   map[string]int{},
			SourceTypeDistribution: map[SourceType]int{},
		},
	}

	var reliabilitySum float64
	for _, item := range items {
		host := trust.NormalizeHost(item.URL)
		gi := GraphItem{
			URL:         item.URL,
			Host:        host,
			Title:       item.Title,
			Summary:     item.Summary,
			Reliability: item.Reliability,
			PublishedAt: item.PublishedAt,
		}
		gi.SourceType, gi.PeerReviewed = classifySource(host, item)
		if item.Evaluation != nil {
			gi.Stance = string(item.Evaluation.Stance)
			switch item.Evaluation.Stance {
			case model.StanceSupports:
				graph.Stats.SupportingCount++
			case model.StanceRefutes:
				graph.Stats.RefutingCount++
			}
		}
		if gi.PeerReviewed {
			graph.Stats.PeerReviewedCount++
		}

		graph.Items = append(graph.Items, gi)
		graph.Stats.HostnameDistribution[host]++
		graph.Stats.SourceTypeDistribution[gi.SourceType]++
		reliabilitySum += item.Reliability
	}

	graph.Stats.UniqueHostnames = len(graph.Stats.HostnameDistribution)
	if len(graph.Items) > 0 {
		graph.Stats.AverageReliability = reliabilitySum / float64(len(graph.Items))
	}
	graph.Stats.SingleSourceDominance = singleSourceDominance(graph.Stats.HostnameDistribution, len(graph.Items))

	// Deterministic item order: reliability desc, then URL.
	sort.SliceStable(graph.Items, func(i, j int) bool {
		if graph.Items[i].Reliability != graph.Items[j].Reliability {
			return graph.Items[i].Reliability > graph.Items[j].Reliability
		}
		return graph.Items[i].URL < graph.Items[j].URL
	})
	return graph
}

// singleSourceDominance is true when one host contributes at least half of a
// multi-item graph, or when every item shares one host.
func singleSourceDominance(hosts map[string]int, total int) bool {
	if total == 0 {
		return false
	}
	maxCount := 0
	for _, n := range hosts {
		maxCount = max(maxCount, n)
	}
	if len(hosts) == 1 {
		return true
	}
	return total >= 2 && maxCount*2 >= total
}

// classifySource maps an evidence item onto the source-type taxonomy.
func classifySource(host string, item model.EvidenceItem) (SourceType, bool) {
	text := item.Title + " " + item.Summary

	if peerReviewedHosts[host] {
		if metaAnalysisRe.MatchString(text) {
			return SourceMetaAnalysis, true
		}
		return SourceEmpirical, true
	}
	for _, suffix := range institutionalSuffixes {
		if strings.HasSuffix(host, suffix) || host == strings.TrimPrefix(suffix, ".") {
			return SourceInstitutionalConsensus, false
		}
	}
	if metaAnalysisRe.MatchString(text) {
		return SourceMetaAnalysis, false
	}
	if opinionRe.MatchString(text) {
		return SourceOpinion, false
	}
	if modelSourceRe.MatchString(text) {
		return SourceModelBased, false
	}
	if _, canonical := trust.CanonicalReliability(host); canonical {
		return SourceNewsReport, false
	}
	return SourceUnknown, false
}
