// Package queue implements the Postgres-backed analysis job queue.
//
// Delivery is at-least-once: jobs are claimed with FOR UPDATE SKIP LOCKED
// and re-delivered after a lock expiry, so the handler must be idempotent
// with respect to the analysis identifier. Transient failures retry with
// exponential backoff; exhausted or terminal jobs mark the analysis FAILED
// with a user-visible message.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/storage"
)

// FailureMessage is shown to users when an analysis cannot be processed.
const FailureMessage = "Unable to process analysis at this time. Please try again in a moment."

// backoffCapSeconds bounds the exponential retry backoff.
const backoffCapSeconds = 300

// TerminalError wraps an error that retrying cannot fix (schema mismatch,
// input validation). The queue fails the analysis immediately instead of
// redelivering.
type TerminalError struct {
	// UserMessage is persisted on the analysis for the submitter to see.
	UserMessage string
	Err         error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("queue: terminal: %v", e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal marks err as non-retriable with a user-visible message.
func Terminal(userMessage string, err error) error {
	return &TerminalError{UserMessage: userMessage, Err: err}
}

// Config holds queue tuning.
type Config struct {
	Attempts     int           // per-job attempt budget
	BackoffBase  time.Duration // exponential backoff base
	PollInterval time.Duration
	AddTimeout   time.Duration // watchdog on Enqueue
	KeepAge      time.Duration // completed jobs older than this are removed
	KeepCount    int           // completed jobs beyond this count are removed
}

// Queue enqueues analysis jobs.
type Queue struct {
	db  *storage.DB
	cfg Config
}

// New creates a queue over the given database.
func New(db *storage.DB, cfg Config) *Queue {
	return &Queue{db: db, cfg: cfg}
}

// Enqueue adds one job for the analysis. The insert runs under a watchdog
// timeout so a wedged database surfaces an explicit error instead of a
// hanging submission.
func (q *Queue) Enqueue(ctx context.Context, analysisID string, sub model.Submission) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("queue: marshal payload: %w", err)
	}

	addCtx, cancel := context.WithTimeout(ctx, q.cfg.AddTimeout)
	defer cancel()

	_, err = q.db.Pool().Exec(addCtx,
		`INSERT INTO analysis_jobs (analysis_id, payload) VALUES ($1, $2)`,
		analysisID, payload,
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("queue: enqueue timed out after %s: %w", q.cfg.AddTimeout, err)
		}
		return fmt.Errorf("queue: enqueue: %w", err)
	}

	// Wake the worker. Best-effort: the poll loop picks the job up anyway.
	if err := q.db.Notify(ctx, storage.ChannelJobs, analysisID); err != nil {
		return nil //nolint:nilerr // notification is an optimization, not a requirement
	}
	return nil
}

// Depth returns the number of jobs still eligible for processing.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM analysis_jobs WHERE completed_at IS NULL AND attempts < $1`,
		q.cfg.Attempts,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return n, nil
}
