package model

import (
	"encoding/json"
	"time"
)

// ResultMetadata carries provenance and diagnostics for a completed
// analysis.
type ResultMetadata struct {
	Model            string           `json:"model"`
	FallbackUsed     bool             `json:"fallback_used"`
	StageTimingsMs   map[string]int64 `json:"stage_timings_ms,omitempty"`
	DynamicLowTrust  []string         `json:"dynamic_low_trust,omitempty"`
	DynamicBlacklist []string         `json:"dynamic_blacklist,omitempty"`
	ContentHash      string           `json:"content_hash,omitempty"`
}

// AnalysisResult is the full artifact produced by the pipeline for one
// analysis. Epistemic holds the serialized epistemic report when that
// evaluator ran.
type AnalysisResult struct {
	AnalysisID     string            `json:"analysis_id"`
	Topic          string            `json:"topic"`
	Bias           string            `json:"bias,omitempty"`
	Verdict        Verdict           `json:"verdict"`
	Title          string            `json:"title"`
	Recommendation Recommendation    `json:"recommendation"`
	Complexity     Complexity        `json:"complexity"`
	Claims         []Claim           `json:"claims"`
	ClaimMeta      ClaimMeta         `json:"claim_meta"`
	Sources        []Source          `json:"sources"`
	Explanation    []ExplanationStep `json:"explanation"`
	Ingestion      *IngestionResult  `json:"ingestion,omitempty"`
	Quality        *Quality          `json:"quality,omitempty"`
	Epistemic      json.RawMessage   `json:"epistemic,omitempty"`
	Metadata       ResultMetadata    `json:"metadata"`
}

// Analysis is one stored submission with its lifecycle state and, once
// completed, its result.
type Analysis struct {
	ID          string          `json:"id"`
	Status      AnalysisStatus  `json:"status"`
	Submission  Submission      `json:"submission"`
	Result      *AnalysisResult `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
