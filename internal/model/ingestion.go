package model

// QualityLevel grades how much usable text an attachment yielded.
type QualityLevel string

const (
	QualityExcellent    QualityLevel = "excellent"
	QualityGood         QualityLevel = "good"
	QualityFair         QualityLevel = "fair"
	QualityPoor         QualityLevel = "poor"
	QualityInsufficient QualityLevel = "insufficient"
)

// Recommendation is an optional suggestion surfaced to the user when
// extraction quality is too low to analyze.
type Recommendation string

const (
	RecommendScreenshot Recommendation = "screenshot"
	RecommendAPIKey     Recommendation = "api_key"
	RecommendNone       Recommendation = "none"
)

// Quality is the deterministic extraction-quality verdict for one attachment.
type Quality struct {
	Level          QualityLevel   `json:"level"`
	Score          float64        `json:"score"` // [0,1]
	Reasons        []string       `json:"reasons,omitempty"`
	Recommendation Recommendation `json:"recommendation,omitempty"`
}

// IngestionRecord is the per-attachment extraction outcome. A failed
// attachment carries Error and empty Text; it never aborts the run.
type IngestionRecord struct {
	Attachment Attachment `json:"attachment"`
	Text       string     `json:"text"`
	Truncated  bool       `json:"truncated"`
	WordCount  int        `json:"word_count"`
	Error      string     `json:"error,omitempty"`
	Quality    Quality    `json:"quality"`

	// ImageDerived marks text obtained from a vision description rather
	// than the attachment's own content.
	ImageDerived bool `json:"image_derived,omitempty"`
}

// IngestionResult aggregates all attachment records for one submission.
type IngestionResult struct {
	CombinedText string            `json:"combined_text"`
	Records      []IngestionRecord `json:"records"`
	Warnings     []string          `json:"warnings,omitempty"`
}
