// Package evidence retrieves and evaluates evidence for claims.
//
// Retrievers are pluggable providers; the Manager fans out to all configured
// retrievers in parallel, then deduplicates, trust-adjusts, and caps the
// combined results. The Evaluator scores each surviving item against the
// claim with a schema-constrained model call.
package evidence

import (
	"context"
	"time"

	"github.com/verity-ai/verity/internal/model"
)

// Options parameterizes a single retrieval pass for one claim.
type Options struct {
	Topic      string
	ClaimText  string
	MaxResults int
	Timeout    time.Duration
}

// Retriever is a single evidence provider. An unconfigured retriever
// contributes zero results without error.
type Retriever interface {
	Name() string
	IsConfigured() bool
	FetchEvidence(ctx context.Context, opts Options) ([]model.EvidenceItem, error)
}
