package model

// VerdictLabel is the closed set of wire values for claim and analysis
// verdicts. Case-sensitive; "Unverified" is the no-finding state and is
// always accompanied by a null score.
type VerdictLabel string

const (
	LabelVerified          VerdictLabel = "Verified"
	LabelMostlyAccurate    VerdictLabel = "Mostly Accurate"
	LabelPartiallyAccurate VerdictLabel = "Partially Accurate"
	LabelFalse             VerdictLabel = "False"
	LabelUnverified        VerdictLabel = "Unverified"
	LabelOpinion           VerdictLabel = "Opinion"
)

// Claim is an atomic verifiable statement extracted from submission content.
type Claim struct {
	ID                   string       `json:"id"`
	Text                 string       `json:"text"` // <= MaxClaimTextLen
	ExtractionConfidence float64      `json:"extraction_confidence"` // [0,1]
	Verdict              VerdictLabel `json:"verdict"`               // preliminary
	Confidence           float64      `json:"confidence"`            // [0,1]
}

// ClaimMeta describes how a claim set was produced.
type ClaimMeta struct {
	Model        string   `json:"model,omitempty"`
	UsedFallback bool     `json:"used_fallback"`
	TotalClaims  int      `json:"total_claims"`
	Warnings     []string `json:"warnings,omitempty"`
}
