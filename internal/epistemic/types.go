// Package epistemic re-scores extracted claims through a deterministic
// six-stage pipeline: parsing, typing, evidence retrieval, failure mode
// detection, scoring, and explanation. Every stage emits a content-hashed
// artifact so a re-run over identical inputs produces identical hashes.
package epistemic

import "time"

// TimeframeType classifies when a claim asserts its event.
type TimeframeType string

const (
	TimeframePast        TimeframeType = "past"
	TimeframePresent     TimeframeType = "present"
	TimeframeFuture      TimeframeType = "future"
	TimeframeUnspecified TimeframeType = "unspecified"
)

// GeographyScope classifies the spatial reach of a claim.
type GeographyScope string

const (
	ScopeGlobal      GeographyScope = "global"
	ScopeRegional    GeographyScope = "regional"
	ScopeNational    GeographyScope = "national"
	ScopeLocal       GeographyScope = "local"
	ScopeUnspecified GeographyScope = "unspecified"
)

// CausalStructure classifies how a claim links its subject and predicate.
type CausalStructure string

const (
	CausalCausal        CausalStructure = "causal"
	CausalCorrelational CausalStructure = "correlational"
	CausalDescriptive   CausalStructure = "descriptive"
	CausalUnclear       CausalStructure = "unclear"
)

// CertaintyLanguage grades the hedging in a claim's wording.
type CertaintyLanguage string

const (
	CertaintyDefinite  CertaintyLanguage = "definite"
	CertaintyProbable  CertaintyLanguage = "probable"
	CertaintyPossible  CertaintyLanguage = "possible"
	CertaintyUncertain CertaintyLanguage = "uncertain"
	CertaintyNone      CertaintyLanguage = "none"
)

// Timeframe is the temporal component of a structured claim.
type Timeframe struct {
	Type TimeframeType `json:"type"`
}

// Geography is the spatial component of a structured claim. Terms holds the
// literal place markers found in the claim text.
type Geography struct {
	Scope GeographyScope `json:"scope"`
	Terms []string       `json:"terms,omitempty"`
}

// StructuredClaim is the stage-1 decomposition of one claim.
type StructuredClaim struct {
	ClaimID           string            `json:"claim_id"`
	Text              string            `json:"text"`
	Subject           string            `json:"subject"`
	Predicate         string            `json:"predicate"`
	Timeframe         Timeframe         `json:"timeframe"`
	Geography         Geography         `json:"geography"`
	CausalStructure   CausalStructure   `json:"causal_structure"`
	Quantifiers       []string          `json:"quantifiers,omitempty"`
	CertaintyLanguage CertaintyLanguage `json:"certainty_language"`
	CertaintyMarkers  []string          `json:"certainty_markers,omitempty"`
}

// ClaimType is the stage-2 epistemic category of a claim.
type ClaimType string

const (
	TypeEmpirical  ClaimType = "empirical"
	TypeModelBased ClaimType = "model_based"
	TypeNormative  ClaimType = "normative"
	TypeMeta       ClaimType = "meta"
)

// TypedClaim pairs a structured claim with its type. Normative claims are
// flagged and excluded from scoring.
type TypedClaim struct {
	StructuredClaim
	Type        ClaimType `json:"type"`
	IsNormative bool      `json:"is_normative"`
}

// SourceType classifies an evidence item by the kind of knowledge it carries.
type SourceType string

const (
	SourceEmpirical              SourceType = "empirical"
	SourceModelBased             SourceType = "model_based"
	SourceMetaAnalysis           SourceType = "meta_analysis"
	SourceInstitutionalConsensus SourceType = "institutional_consensus"
	SourceNewsReport             SourceType = "news_report"
	SourceOpinion                SourceType = "opinion"
	SourceUnknown                SourceType = "unknown"
)

// GraphStats summarizes the evidence graph for one claim.
type GraphStats struct {
	UniqueHostnames        int                `json:"unique_hostnames"`
	HostnameDistribution   map[string]int     `json:"hostname_distribution"`
	SourceTypeDistribution map[SourceType]int `json:"source_type_distribution"`
	AverageReliability     float64            `json:"average_reliability"`
	PeerReviewedCount      int                `json:"peer_reviewed_count"`
	SupportingCount        int                `json:"supporting_count"`
	RefutingCount          int                `json:"refuting_count"`
	SingleSourceDominance  bool               `json:"single_source_dominance"`
}

// GraphItem is one evidence node with its epistemic classification.
type GraphItem struct {
	URL          string     `json:"url"`
	Host         string     `json:"host"`
	Title        string     `json:"title"`
	Summary      string     `json:"summary"`
	Reliability  float64    `json:"reliability"`
	SourceType   SourceType `json:"source_type"`
	PeerReviewed bool       `json:"peer_reviewed"`
	Stance       string     `json:"stance,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
}

// EvidenceGraph is the stage-3 artifact for one claim.
type EvidenceGraph struct {
	ClaimID string      `json:"claim_id"`
	Items   []GraphItem `json:"items"`
	Stats   GraphStats  `json:"stats"`
}

// Severity grades a penalty.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Penalty is one entry in the stage-4 ledger. Mode is a stable identifier.
type Penalty struct {
	Mode      string   `json:"mode"`
	Weight    int      `json:"weight"` // 0..30
	Severity  Severity `json:"severity"`
	Rationale string   `json:"rationale"`
}

// Band is the fixed epistemic score band.
type Band string

const (
	BandStronglySupported Band = "STRONGLY_SUPPORTED" // 90-100
	BandSupported         Band = "SUPPORTED"          // 75-89
	BandPlausible         Band = "PLAUSIBLE"          // 60-74
	BandMixed             Band = "MIXED"              // 45-59
	BandWeaklySupported   Band = "WEAKLY_SUPPORTED"   // 30-44
	BandMostlyFalse       Band = "MOSTLY_FALSE"       // 15-29
	BandFalse             Band = "FALSE"              // 0-14
)

// BandForScore maps a final score onto the fixed band table.
func BandForScore(score int) Band {
	switch {
	case score >= 90:
		return BandStronglySupported
	case score >= 75:
		return BandSupported
	case score >= 60:
		return BandPlausible
	case score >= 45:
		return BandMixed
	case score >= 30:
		return BandWeaklySupported
	case score >= 15:
		return BandMostlyFalse
	default:
		return BandFalse
	}
}

// BandLabel is the human-readable form of a band.
func BandLabel(b Band) string {
	switch b {
	case BandStronglySupported:
		return "Strongly Supported"
	case BandSupported:
		return "Supported"
	case BandPlausible:
		return "Plausible"
	case BandMixed:
		return "Mixed"
	case BandWeaklySupported:
		return "Weakly Supported"
	case BandMostlyFalse:
		return "Mostly False"
	default:
		return "False"
	}
}

// Score is the stage-5 artifact for one claim.
type Score struct {
	ClaimID        string `json:"claim_id"`
	Initial        int    `json:"initial"`
	Raw            int    `json:"raw"`
	Final          int    `json:"final"`
	FloorApplied   bool   `json:"floor_applied"`
	CeilingApplied bool   `json:"ceiling_applied"`
	Band           Band   `json:"band"`
	BandLabel      string `json:"band_label"`
}

// Explanation is the stage-6 artifact for one claim.
type Explanation struct {
	ClaimID         string   `json:"claim_id"`
	EvidenceSummary string   `json:"evidence_summary"`
	KeyReasons      []string `json:"key_reasons"`
	ExplanationText string   `json:"explanation_text"`
	ConfidenceLow   int      `json:"confidence_low"`
	ConfidenceHigh  int      `json:"confidence_high"`
}

// StageLog records one stage execution for observability and audit.
type StageLog struct {
	Stage      string    `json:"stage"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMs int64     `json:"duration_ms"`
	InputHash  string    `json:"input_hash"`
	OutputHash string    `json:"output_hash"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// ClaimReport collects every per-claim artifact.
type ClaimReport struct {
	ClaimID     string          `json:"claim_id"`
	Structured  StructuredClaim `json:"structured"`
	Typed       TypedClaim      `json:"typed"`
	Graph       *EvidenceGraph  `json:"graph,omitempty"`
	Penalties   []Penalty       `json:"penalties,omitempty"`
	Score       *Score          `json:"score,omitempty"`
	Explanation *Explanation    `json:"explanation,omitempty"`
}

// Report is the full epistemic evaluation output.
type Report struct {
	Claims     []ClaimReport `json:"claims"`
	StageLogs  []StageLog    `json:"stage_logs"`
	MerkleRoot string        `json:"merkle_root"`
}
