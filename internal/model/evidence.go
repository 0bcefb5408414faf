package model

import "time"

// Stance classifies an evidence item against a claim. Detail disagreement
// (a number, date, or actor) is "mixed"; "refutes" requires the core event
// to be contradicted.
type Stance string

const (
	StanceSupports   Stance = "supports"
	StanceRefutes    Stance = "refutes"
	StanceMixed      Stance = "mixed"
	StanceUnclear    Stance = "unclear"
	StanceIrrelevant Stance = "irrelevant"
)

// MaxAssessmentLen caps the evaluator's per-item assessment string.
const MaxAssessmentLen = 140

// Evaluation is the evaluator's per-claim judgement of one evidence item.
type Evaluation struct {
	Reliability float64 `json:"reliability"` // [0,1]
	Relevance   float64 `json:"relevance"`   // [0,1]
	Stance      Stance  `json:"stance"`
	Assessment  string  `json:"assessment"` // <= MaxAssessmentLen
}

// EvidenceItem is a single search/fact-check result candidate.
type EvidenceItem struct {
	ID          string      `json:"id"`
	Provider    string      `json:"provider"`
	Title       string      `json:"title"`
	URL         string      `json:"url"`
	Summary     string      `json:"summary"`
	Reliability float64     `json:"reliability"` // baseline, blended after evaluation
	PublishedAt *time.Time  `json:"published_at,omitempty"`
	Evaluation  *Evaluation `json:"evaluation,omitempty"`
}

// Source is the ranked, deduplicated projection of evidence used in the
// final result. AdjustedReliability reflects the trust registry.
type Source struct {
	Key                 string      `json:"key"`
	Provider            string      `json:"provider"`
	Title               string      `json:"title"`
	URL                 string      `json:"url"`
	Host                string      `json:"host"`
	Summary             string      `json:"summary"`
	AdjustedReliability float64     `json:"adjusted_reliability"`
	PublishedAt         *time.Time  `json:"published_at,omitempty"`
	Evaluation          *Evaluation `json:"evaluation,omitempty"`
	ClaimID             string      `json:"claim_id,omitempty"`
}
