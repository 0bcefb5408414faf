package epistemic

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/verity-ai/verity/internal/llm"
	"github.com/verity-ai/verity/internal/model"
)

var parseSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"claims": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"claim_id": {"type": "string"},
					"subject": {"type": "string"},
					"predicate": {"type": "string"},
					"timeframe": {"type": "string", "enum": ["past", "present", "future", "unspecified"]},
					"geography_scope": {"type": "string", "enum": ["global", "regional", "national", "local", "unspecified"]},
					"geography_terms": {"type": "array", "items": {"type": "string"}},
					"causal_structure": {"type": "string", "enum": ["causal", "correlational", "descriptive", "unclear"]},
					"quantifiers": {"type": "array", "items": {"type": "string"}},
					"certainty_language": {"type": "string", "enum": ["definite", "probable", "possible", "uncertain", "none"]},
					"certainty_markers": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["claim_id", "subject", "predicate", "timeframe", "geography_scope", "geography_terms", "causal_structure", "quantifiers", "certainty_language", "certainty_markers"],
				"additionalProperties": false
			}
		}
	},
	"required": ["claims"],
	"additionalProperties": false
}`)

// parseClaims decomposes each claim into its structural components, using
// the model when available and the lexical heuristics otherwise. The result
// is ordered like the input regardless of path.
func (e *Evaluator) parseClaims(ctx context.Context, claimList []model.Claim) []StructuredClaim {
	byID, ok := e.parseWithModel(ctx, claimList)
	out := make([]StructuredClaim, 0, len(claimList))
	for _, c := range claimList {
		if ok {
			if sc, found := byID[c.ID]; found {
				out = append(out, sc)
				continue
			}
		}
		out = append(out, parseHeuristic(c))
	}
	return out
}

func (e *Evaluator) parseWithModel(ctx context.Context, claimList []model.Claim) (map[string]StructuredClaim, bool) {
	if len(claimList) == 0 {
		return nil, false
	}

	var sb strings.Builder
	sb.WriteString("Decompose each claim into subject, predicate, timeframe, geography, causal structure, " +
		"quantifiers, and certainty language. geography_terms lists the literal place names in the claim; " +
		"certainty_markers lists the literal hedging words.\n\nClaims:\n")
	for _, c := range claimList {
		fmt.Fprintf(&sb, "- id=%s text=%s\n", c.ID, c.Text)
	}

	raw, err := e.provider.Complete(ctx, llm.Request{
		System:    "You are a claim structure parser. Answer with JSON only.",
		Prompt:    sb.String(),
		Schema:    llm.Schema{Name: "claim_parsing", Schema: parseSchema},
		MaxTokens: 1200,
		Timeout:   e.timeout,
	})
	if err != nil {
		if err != llm.ErrUnavailable {
			e.logger.Warn("epistemic: parse model call failed, using heuristics", "error", err)
		}
		return nil, false
	}

	var out struct {
		Claims []struct {
			ClaimID           string   `json:"claim_id"`
			Subject           string   `json:"subject"`
			Predicate         string   `json:"predicate"`
			Timeframe         string   `json:"timeframe"`
			GeographyScope    string   `json:"geography_scope"`
			GeographyTerms    []string `json:"geography_terms"`
			CausalStructure   string   `json:"causal_structure"`
			Quantifiers       []string `json:"quantifiers"`
			CertaintyLanguage string   `json:"certainty_language"`
			CertaintyMarkers  []string `json:"certainty_markers"`
		} `json:"claims"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		e.logger.Warn("epistemic: malformed parse output, using heuristics", "error", err)
		return nil, false
	}

	text := make(map[string]string, len(claimList))
	for _, c := range claimList {
		text[c.ID] = c.Text
	}

	byID := make(map[string]StructuredClaim, len(out.Claims))
	for _, p := range out.Claims {
		claimText, known := text[p.ClaimID]
		if !known {
			continue
		}
		byID[p.ClaimID] = StructuredClaim{
			ClaimID:           p.ClaimID,
			Text:              claimText,
			Subject:           p.Subject,
			Predicate:         p.Predicate,
			Timeframe:         Timeframe{Type: validTimeframe(p.Timeframe)},
			Geography:         Geography{Scope: validScope(p.GeographyScope), Terms: sorted(p.GeographyTerms)},
			CausalStructure:   validCausal(p.CausalStructure),
			Quantifiers:       sorted(p.Quantifiers),
			CertaintyLanguage: validCertainty(p.CertaintyLanguage),
			CertaintyMarkers:  sorted(p.CertaintyMarkers),
		}
	}
	return byID, true
}

var (
	pastRe    = regexp.MustCompile(`(?i)\b(was|were|did|had|happened|occurred|announced|released|reported|fell|rose|died|won|lost)\b`)
	futureRe  = regexp.MustCompile(`(?i)\b(will|going to|expects? to|shall|by 20\d\d)\b`)
	presentRe = regexp.MustCompile(`(?i)\b(is|are|has|have|remains?)\b`)

	causalRe        = regexp.MustCompile(`(?i)\b(causes?|caused|leads? to|led to|results? in|resulted in|because|due to|triggers?|drives?)\b`)
	correlationalRe = regexp.MustCompile(`(?i)\b(linked to|associated with|correlat\w*|relationship between|tied to)\b`)

	universalQuantifierRe = regexp.MustCompile(`(?i)\b(all|every|always|never|none|no one|nobody|everyone|everything)\b`)
	partialQuantifierRe   = regexp.MustCompile(`(?i)\b(most|many|some|few|several|majority|minority)\b`)

	definiteRe  = regexp.MustCompile(`(?i)\b(definitely|certainly|undoubtedly|clearly|proven|confirmed)\b`)
	probableRe  = regexp.MustCompile(`(?i)\b(probably|likely|expected|almost certainly)\b`)
	possibleRe  = regexp.MustCompile(`(?i)\b(possibly|might|may|could|perhaps)\b`)
	uncertainRe = regexp.MustCompile(`(?i)\b(unclear|uncertain|unknown|disputed|alleged|reportedly|rumored)\b`)

	globalGeoRe   = regexp.MustCompile(`(?i)\b(global|globally|worldwide|world|international|planet)\b`)
	regionalGeoRe = regexp.MustCompile(`(?i)\b(europe|asia|africa|latin america|middle east|continent|region|regional)\b`)
	nationalGeoRe = regexp.MustCompile(`(?i)\b(nation|national|country|federal|the (united states|uk|us|eu))\b`)
	localGeoRe    = regexp.MustCompile(`(?i)\b(city|town|county|village|district|municipal|local)\b`)
)

// parseHeuristic is the deterministic lexical fallback for stage 1.
func parseHeuristic(c model.Claim) StructuredClaim {
	text := c.Text

	subject, predicate := splitSubjectPredicate(text)

	tf := TimeframeUnspecified
	switch {
	case futureRe.MatchString(text):
		tf = TimeframeFuture
	case pastRe.MatchString(text):
		tf = TimeframePast
	case presentRe.MatchString(text):
		tf = TimeframePresent
	}

	causal := CausalDescriptive
	switch {
	case causalRe.MatchString(text):
		causal = CausalCausal
	case correlationalRe.MatchString(text):
		causal = CausalCorrelational
	}

	var quantifiers []string
	quantifiers = append(quantifiers, matches(universalQuantifierRe, text)...)
	quantifiers = append(quantifiers, matches(partialQuantifierRe, text)...)

	certainty := CertaintyNone
	var markers []string
	switch {
	case definiteRe.MatchString(text):
		certainty = CertaintyDefinite
		markers = matches(definiteRe, text)
	case uncertainRe.MatchString(text):
		certainty = CertaintyUncertain
		markers = matches(uncertainRe, text)
	case probableRe.MatchString(text):
		certainty = CertaintyProbable
		markers = matches(probableRe, text)
	case possibleRe.MatchString(text):
		certainty = CertaintyPossible
		markers = matches(possibleRe, text)
	}

	geo := Geography{Scope: ScopeUnspecified}
	switch {
	case globalGeoRe.MatchString(text):
		geo.Scope = ScopeGlobal
		geo.Terms = matches(globalGeoRe, text)
	case regionalGeoRe.MatchString(text):
		geo.Scope = ScopeRegional
		geo.Terms = matches(regionalGeoRe, text)
	case nationalGeoRe.MatchString(text):
		geo.Scope = ScopeNational
		geo.Terms = matches(nationalGeoRe, text)
	case localGeoRe.MatchString(text):
		geo.Scope = ScopeLocal
		geo.Terms = matches(localGeoRe, text)
	}

	return StructuredClaim{
		ClaimID:           c.ID,
		Text:              text,
		Subject:           subject,
		Predicate:         predicate,
		Timeframe:         Timeframe{Type: tf},
		Geography:         geo,
		CausalStructure:   causal,
		Quantifiers:       sorted(quantifiers),
		CertaintyLanguage: certainty,
		CertaintyMarkers:  sorted(markers),
	}
}

var finiteVerbRe = regexp.MustCompile(`(?i)\b(is|are|was|were|has|have|had|will|did|does|causes?|caused|leads?|led|announced|released|reported|rose|fell|won|lost|remains?)\b`)

// splitSubjectPredicate cuts at the first finite verb as a rough
// approximation of the grammatical boundary.
func splitSubjectPredicate(text string) (string, string) {
	loc := finiteVerbRe.FindStringIndex(text)
	if loc == nil || loc[0] == 0 {
		return text, ""
	}
	return strings.TrimSpace(text[:loc[0]]), strings.TrimSpace(text[loc[0]:])
}

// matches returns the deduplicated lowercased match set, sorted for
// deterministic hashing.
func matches(re *regexp.Regexp, text string) []string {
	found := re.FindAllString(text, -1)
	if len(found) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(found))
	var out []string
	for _, f := range found {
		f = strings.ToLower(f)
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func sorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func validTimeframe(s string) TimeframeType {
	switch t := TimeframeType(s); t {
	case TimeframePast, TimeframePresent, TimeframeFuture:
		return t
	}
	return TimeframeUnspecified
}

func validScope(s string) GeographyScope {
	switch g := GeographyScope(s); g {
	case ScopeGlobal, ScopeRegional, ScopeNational, ScopeLocal:
		return g
	}
	return ScopeUnspecified
}

func validCausal(s string) CausalStructure {
	switch c := CausalStructure(s); c {
	case CausalCausal, CausalCorrelational, CausalDescriptive:
		return c
	}
	return CausalUnclear
}

func validCertainty(s string) CertaintyLanguage {
	switch c := CertaintyLanguage(s); c {
	case CertaintyDefinite, CertaintyProbable, CertaintyPossible, CertaintyUncertain:
		return c
	}
	return CertaintyNone
}
