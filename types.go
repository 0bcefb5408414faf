package verity

import "time"

// Status is the lifecycle state of an analysis.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// AttachmentKind discriminates attachment payloads.
type AttachmentKind string

const (
	AttachmentLink     AttachmentKind = "link"
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is an external artifact submitted alongside the text.
type Attachment struct {
	Kind      AttachmentKind
	URL       string
	MediaType string
	Title     string
	Summary   string
	AltText   string
	Caption   string
}

// Submission is the input to one fact-check analysis. MediaType is required;
// at least one of Text, ContentURI, or Attachments must be present.
type Submission struct {
	Text        string
	ContentURI  string
	MediaType   string
	TopicHint   string
	Attachments []Attachment
}

// Claim is one verifiable assertion extracted from the content.
type Claim struct {
	ID         string
	Text       string
	Confidence float64
}

// Verdict is the overall judgment for an analysis. Score is nil for
// Unverified and Opinion verdicts.
type Verdict struct {
	Label      string
	Score      *int
	Confidence float64
	Summary    string
	Context    string
	Rationale  string
}

// Source is one ranked evidence source backing the verdict.
type Source struct {
	Key         string
	Provider    string
	Title       string
	URL         string
	Host        string
	Summary     string
	Reliability float64
	ClaimID     string
}

// ExplanationStep is one entry in the user-facing reasoning trail.
type ExplanationStep struct {
	Position int
	Title    string
	Body     string
}

// Result is the completed analysis artifact.
type Result struct {
	Topic          string
	Bias           string
	Title          string
	Verdict        Verdict
	Complexity     string
	Recommendation string
	Claims         []Claim
	Sources        []Source
	Explanation    []ExplanationStep
	Model          string
	FallbackUsed   bool
	ContentHash    string
}

// Analysis is one stored submission with its lifecycle state and, once
// completed, its result.
type Analysis struct {
	ID          string
	Status      Status
	Error       string
	Result      *Result
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// EvidenceItem is one candidate source produced by a Retriever.
type EvidenceItem struct {
	Provider    string
	Title       string
	URL         string
	Summary     string
	Reliability float64
	PublishedAt *time.Time
}

// RetrieverQuery parameterizes one evidence retrieval pass for a claim.
type RetrieverQuery struct {
	Topic      string
	ClaimText  string
	MaxResults int
	Timeout    time.Duration
}
