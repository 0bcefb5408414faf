// Package model defines the core domain types for Verity.
//
// Types correspond directly to database rows and pipeline artifacts.
// Strong typing throughout (UUIDs, time.Time, enums); no interface{}
// where a closed set exists.
package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AttachmentKind is the tagged-union discriminator for attachments.
type AttachmentKind string

const (
	AttachmentLink     AttachmentKind = "link"
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
)

// MaxClaimTextLen caps claim text flowing into Postgres TEXT columns
// and evaluator prompts.
const MaxClaimTextLen = 512

// Attachment is an external artifact associated with a submission.
type Attachment struct {
	Kind      AttachmentKind `json:"kind"`
	URL       string         `json:"url"`
	MediaType string         `json:"media_type,omitempty"`
	Title     string         `json:"title,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	AltText   string         `json:"alt_text,omitempty"`
	Caption   string         `json:"caption,omitempty"`
}

// Validate checks the attachment kind and URL presence.
func (a Attachment) Validate() error {
	switch a.Kind {
	case AttachmentLink, AttachmentImage, AttachmentDocument:
	default:
		return fmt.Errorf("model: unknown attachment kind %q", a.Kind)
	}
	if strings.TrimSpace(a.URL) == "" {
		return fmt.Errorf("model: attachment url is required")
	}
	return nil
}

// Submission is the user-facing input to one analysis run.
type Submission struct {
	ID          uuid.UUID    `json:"id"`
	Text        string       `json:"text,omitempty"`
	ContentURI  string       `json:"content_uri,omitempty"`
	MediaType   string       `json:"media_type"`
	TopicHint   string       `json:"topic_hint,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Validate enforces the submission contract: mediaType is mandatory and
// at least one of text, contentUri, or attachments must be present.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.MediaType) == "" {
		return fmt.Errorf("model: media_type is required")
	}
	if strings.TrimSpace(s.Text) == "" && strings.TrimSpace(s.ContentURI) == "" && len(s.Attachments) == 0 {
		return fmt.Errorf("model: submission requires text, content_uri, or attachments")
	}
	for i, a := range s.Attachments {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("model: attachment[%d]: %w", i, err)
		}
	}
	return nil
}

// AnalysisStatus is the lifecycle state of an analysis.
type AnalysisStatus string

const (
	StatusQueued     AnalysisStatus = "QUEUED"
	StatusProcessing AnalysisStatus = "PROCESSING"
	StatusCompleted  AnalysisStatus = "COMPLETED"
	StatusFailed     AnalysisStatus = "FAILED"
)
