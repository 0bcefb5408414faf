package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/metric"

	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/storage"
	"github.com/verity-ai/verity/internal/telemetry"
)

// Handler processes one analysis job. A plain error is treated as transient
// and retried; wrap with Terminal to fail the analysis immediately.
type Handler func(ctx context.Context, analysisID string, sub model.Submission) error

// job is one claimed row from analysis_jobs.
type job struct {
	ID         int64
	AnalysisID string
	Payload    []byte
	Attempts   int
}

// Worker polls the analysis_jobs table and runs the handler for each job.
// A LISTEN/NOTIFY wakeup shortens the latency between enqueue and pickup;
// the ticker remains the source of truth.
type Worker struct {
	db      *storage.DB
	handler Handler
	cfg     Config
	logger  *slog.Logger

	started     atomic.Bool
	cancelLoop  context.CancelFunc
	done        chan struct{}
	once        sync.Once
	wake        chan struct{}
	lastCleanup time.Time
	drainCh     chan context.Context // carries the drain context to pollLoop for the final poll
}

// NewWorker creates a queue worker.
func NewWorker(db *storage.DB, handler Handler, cfg Config, logger *slog.Logger) *Worker {
	return &Worker{
		db:      db,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		drainCh: make(chan context.Context, 1),
	}
}

// Start begins the background poll loop. Safe to call only once; subsequent
// calls are no-ops and log a warning.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("queue: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.listenLoop(loopCtx)
	go w.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, processes remaining claimable jobs,
// and blocks until done or the context expires.
func (w *Worker) Drain(ctx context.Context) {
	// Send the drain context to pollLoop via channel (race-free). Must be
	// sent before cancelLoop so pollLoop can receive it on ctx.Done().
	select {
	case w.drainCh <- ctx:
	default:
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("queue: drain timed out")
	}
}

// listenLoop forwards LISTEN notifications into the wake channel.
func (w *Worker) listenLoop(ctx context.Context) {
	if err := w.db.Listen(ctx, storage.ChannelJobs); err != nil {
		w.logger.Debug("queue: listen unavailable, polling only", "error", err)
		return
	}
	for {
		if _, _, err := w.db.WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("queue: notification wait failed", "error", err)
			return
		}
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final drain: prefer the drain context so the last pass
			// respects the caller's deadline.
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx != nil {
				w.processBatch(drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.processBatch(fallbackCtx)
				cancel()
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-w.wake:
		case <-ticker.C:
		}

		batchCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		w.processBatch(batchCtx)
		cancel()
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	j, ok := w.claim(ctx)
	for ok {
		w.process(ctx, j)
		if ctx.Err() != nil {
			break
		}
		j, ok = w.claim(ctx)
	}

	if time.Since(w.lastCleanup) > time.Hour {
		w.cleanup(ctx)
		w.lastCleanup = time.Now()
	}
}

// claim selects and locks one eligible job. The lock outlives the handler's
// expected runtime so a second worker cannot pick the job up mid-flight.
func (w *Worker) claim(ctx context.Context) (job, bool) {
	tx, err := w.db.Pool().Begin(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("queue: begin claim tx", "error", err)
		}
		return job{}, false
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var j job
	err = tx.QueryRow(ctx,
		`SELECT id, analysis_id, payload, attempts
		 FROM analysis_jobs
		 WHERE completed_at IS NULL
		   AND attempts < $1
		   AND (locked_until IS NULL OR locked_until < now())
		 ORDER BY created_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		w.cfg.Attempts,
	).Scan(&j.ID, &j.AnalysisID, &j.Payload, &j.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return job{}, false
	}
	if err != nil {
		w.logger.Error("queue: select job", "error", err)
		return job{}, false
	}

	if _, err := tx.Exec(ctx,
		`UPDATE analysis_jobs SET locked_until = now() + interval '6 minutes' WHERE id = $1`,
		j.ID,
	); err != nil {
		w.logger.Error("queue: lock job", "error", err)
		return job{}, false
	}
	if err := tx.Commit(ctx); err != nil {
		w.logger.Error("queue: commit claim", "error", err)
		return job{}, false
	}
	return j, true
}

func (w *Worker) process(ctx context.Context, j job) {
	var sub model.Submission
	if err := json.Unmarshal(j.Payload, &sub); err != nil {
		w.logger.Error("queue: malformed job payload", "job_id", j.ID, "analysis_id", j.AnalysisID, "error", err)
		w.terminal(ctx, j, FailureMessage, err)
		return
	}

	err := w.handler(ctx, j.AnalysisID, sub)
	if err == nil {
		w.succeed(ctx, j)
		return
	}

	var term *TerminalError
	if errors.As(err, &term) {
		msg := term.UserMessage
		if msg == "" {
			msg = FailureMessage
		}
		w.terminal(ctx, j, msg, err)
		return
	}

	var schema *storage.SchemaMismatchError
	if errors.As(err, &schema) {
		w.terminal(ctx, j, FailureMessage, err)
		return
	}

	w.retry(ctx, j, err)
}

// succeed marks the job completed. The row is kept until cleanup for
// inspection.
func (w *Worker) succeed(ctx context.Context, j job) {
	if _, err := w.db.Pool().Exec(ctx,
		`UPDATE analysis_jobs SET completed_at = now(), locked_until = NULL WHERE id = $1`,
		j.ID,
	); err != nil {
		w.logger.Error("queue: mark job completed", "job_id", j.ID, "error", err)
	}
}

// retry releases the job with an incremented attempt count and exponential
// backoff. When the attempt budget is exhausted the analysis fails with the
// generic user message.
func (w *Worker) retry(ctx context.Context, j job, cause error) {
	attempts := j.Attempts + 1
	if attempts >= w.cfg.Attempts {
		w.logger.Warn("queue: job attempts exhausted",
			"job_id", j.ID, "analysis_id", j.AnalysisID, "attempts", attempts, "error", cause)
		w.terminal(ctx, j, FailureMessage, cause)
		return
	}

	backoff := min(int64(w.cfg.BackoffBase.Seconds())<<j.Attempts, backoffCapSeconds)
	if _, err := w.db.Pool().Exec(ctx,
		`UPDATE analysis_jobs
		 SET attempts = attempts + 1,
		     last_error = $2,
		     locked_until = now() + $3 * interval '1 second'
		 WHERE id = $1`,
		j.ID, cause.Error(), backoff,
	); err != nil {
		w.logger.Error("queue: release job for retry", "job_id", j.ID, "error", err)
		return
	}
	w.logger.Info("queue: job released for retry",
		"job_id", j.ID, "analysis_id", j.AnalysisID, "attempts", attempts, "backoff_s", backoff)
}

// terminal completes the job and fails the analysis with a user-visible
// message. FailAnalysis never demotes a COMPLETED analysis, so a duplicate
// delivery of an already-finished job is harmless.
func (w *Worker) terminal(ctx context.Context, j job, userMessage string, cause error) {
	if err := w.db.FailAnalysis(ctx, j.AnalysisID, userMessage); err != nil {
		w.logger.Error("queue: fail analysis", "analysis_id", j.AnalysisID, "error", err)
	}
	if _, err := w.db.Pool().Exec(ctx,
		`UPDATE analysis_jobs SET completed_at = now(), locked_until = NULL, last_error = $2 WHERE id = $1`,
		j.ID, cause.Error(),
	); err != nil {
		w.logger.Error("queue: mark job terminal", "job_id", j.ID, "error", err)
	}
}

// cleanup removes completed jobs past the retention age and, independently,
// beyond the retention count.
func (w *Worker) cleanup(ctx context.Context) {
	tag, err := w.db.Pool().Exec(ctx,
		`DELETE FROM analysis_jobs
		 WHERE completed_at IS NOT NULL AND completed_at < now() - $1 * interval '1 second'`,
		int64(w.cfg.KeepAge.Seconds()),
	)
	if err != nil {
		w.logger.Error("queue: cleanup by age failed", "error", err)
		return
	}
	deleted := tag.RowsAffected()

	tag, err = w.db.Pool().Exec(ctx,
		`DELETE FROM analysis_jobs
		 WHERE completed_at IS NOT NULL AND id NOT IN (
		     SELECT id FROM analysis_jobs
		     WHERE completed_at IS NOT NULL
		     ORDER BY completed_at DESC
		     LIMIT $1
		 )`,
		w.cfg.KeepCount,
	)
	if err != nil {
		w.logger.Error("queue: cleanup by count failed", "error", err)
		return
	}
	deleted += tag.RowsAffected()

	if deleted > 0 {
		w.logger.Info("queue: cleaned completed jobs", "deleted", deleted)
	}
}

// registerMetrics registers an observable gauge for queue depth.
func (w *Worker) registerMetrics() {
	meter := telemetry.Meter("verity/queue")

	_, _ = meter.Int64ObservableGauge("verity.queue.depth",
		metric.WithDescription("Number of pending analysis jobs"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			var count int64
			err := w.db.Pool().QueryRow(ctx,
				`SELECT COUNT(*) FROM analysis_jobs WHERE completed_at IS NULL AND attempts < $1`,
				w.cfg.Attempts,
			).Scan(&count)
			if err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			o.Observe(count)
			return nil
		}),
	)
}
