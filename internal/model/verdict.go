package model

// Score bands for verdict labels. A verdict's numeric score must fall in
// the band for its label; "Unverified" carries a nil score.
const (
	VerifiedMin          = 76
	MostlyAccurateMin    = 61
	PartiallyAccurateMin = 41
	// 0..40 is False.
)

// LabelForScore derives the verdict label from a numeric score.
func LabelForScore(score int) VerdictLabel {
	switch {
	case score >= VerifiedMin:
		return LabelVerified
	case score >= MostlyAccurateMin:
		return LabelMostlyAccurate
	case score >= PartiallyAccurateMin:
		return LabelPartiallyAccurate
	default:
		return LabelFalse
	}
}

// ScoreInBand reports whether score is consistent with label.
// Unverified and Opinion carry no numeric score.
func ScoreInBand(label VerdictLabel, score *int) bool {
	if label == LabelUnverified {
		return score == nil
	}
	if score == nil {
		return label == LabelOpinion
	}
	s := *score
	switch label {
	case LabelVerified:
		return s >= VerifiedMin && s <= 100
	case LabelMostlyAccurate:
		return s >= MostlyAccurateMin && s < VerifiedMin
	case LabelPartiallyAccurate:
		return s >= PartiallyAccurateMin && s < MostlyAccurateMin
	case LabelFalse:
		return s >= 0 && s < PartiallyAccurateMin
	case LabelOpinion:
		return true
	default:
		return false
	}
}

// Verdict is the synthesized finding for one analysis.
type Verdict struct {
	Score        *int                `json:"score"` // nil only for Unverified/Opinion
	Label        VerdictLabel        `json:"label"`
	Confidence   float64             `json:"confidence"` // [0,1]
	Summary      string              `json:"summary"`    // begins "Verdict: <LABEL> — "
	Context      string              `json:"context,omitempty"`
	Rationale    string              `json:"rationale,omitempty"`
	ClaimSupport map[string][]string `json:"claim_support,omitempty"` // claimID -> source keys
}

// Pin applies the score pinning rules: Verified pins to 100; False with
// confidence >= 0.9 pins to 0.
func (v *Verdict) Pin() {
	switch {
	case v.Label == LabelVerified:
		s := 100
		v.Score = &s
	case v.Label == LabelFalse && v.Confidence >= 0.9:
		s := 0
		v.Score = &s
	}
}

// Complexity grades an analysis by claim, source, and attachment counts.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// ExplanationStep is one user-facing reasoning step persisted with the result.
type ExplanationStep struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}
