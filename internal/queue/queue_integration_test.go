package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-ai/verity/internal/model"
	"github.com/verity-ai/verity/internal/storage"
	"github.com/verity-ai/verity/internal/testutil"
)

var (
	testDB     *storage.DB
	testLogger *slog.Logger
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()
	testLogger = testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

func testConfig() Config {
	return Config{
		Attempts:     3,
		BackoffBase:  2 * time.Second,
		PollInterval: 50 * time.Millisecond,
		AddTimeout:   5 * time.Second,
		KeepAge:      24 * time.Hour,
		KeepCount:    1000,
	}
}

// createAnalysis inserts a QUEUED analysis and returns its ID.
func createAnalysis(ctx context.Context, t *testing.T) string {
	t.Helper()
	id := uuid.NewString()
	err := testDB.CreateAnalysis(ctx, id, model.Submission{
		MediaType: "social_post",
		Text:      "The Eiffel Tower is in Paris.",
	})
	require.NoError(t, err)
	return id
}

// insertJob inserts a job row directly, bypassing Enqueue, for seeding
// attempts or lock state.
func insertJob(ctx context.Context, t *testing.T, analysisID, payload string, attempts int) int64 {
	t.Helper()
	var id int64
	err := testDB.Pool().QueryRow(ctx,
		`INSERT INTO analysis_jobs (analysis_id, payload, attempts) VALUES ($1, $2, $3) RETURNING id`,
		analysisID, payload, attempts,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// getJob fetches the mutable job columns.
func getJob(ctx context.Context, t *testing.T, id int64) (attempts int, lastError *string, lockedUntil, completedAt *time.Time) {
	t.Helper()
	err := testDB.Pool().QueryRow(ctx,
		`SELECT attempts, last_error, locked_until, completed_at FROM analysis_jobs WHERE id = $1`, id,
	).Scan(&attempts, &lastError, &lockedUntil, &completedAt)
	require.NoError(t, err)
	return
}

func jobForAnalysis(ctx context.Context, t *testing.T, analysisID string) int64 {
	t.Helper()
	var id int64
	err := testDB.Pool().QueryRow(ctx,
		`SELECT id FROM analysis_jobs WHERE analysis_id = $1`, analysisID,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// cleanJobs removes all jobs so tests do not see each other's rows.
func cleanJobs(ctx context.Context, t *testing.T) {
	t.Helper()
	_, err := testDB.Pool().Exec(ctx, `DELETE FROM analysis_jobs`)
	require.NoError(t, err)
}

func analysisStatus(ctx context.Context, t *testing.T, id string) (model.AnalysisStatus, string) {
	t.Helper()
	a, err := testDB.GetAnalysis(ctx, id)
	require.NoError(t, err)
	return a.Status, a.Error
}

func TestEnqueueAndDepth(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	q := New(testDB, testConfig())
	analysisID := createAnalysis(ctx, t)

	err := q.Enqueue(ctx, analysisID, model.Submission{MediaType: "social_post", Text: "hello"})
	require.NoError(t, err)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	jobID := jobForAnalysis(ctx, t, analysisID)
	attempts, lastErr, lockedUntil, completedAt := getJob(ctx, t, jobID)
	assert.Equal(t, 0, attempts)
	assert.Nil(t, lastErr)
	assert.Nil(t, lockedUntil)
	assert.Nil(t, completedAt)
}

func TestWorker_Success(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	analysisID := createAnalysis(ctx, t)
	q := New(testDB, testConfig())
	require.NoError(t, q.Enqueue(ctx, analysisID, model.Submission{MediaType: "social_post", Text: "hello"}))
	jobID := jobForAnalysis(ctx, t, analysisID)

	var handled atomic.Int32
	w := NewWorker(testDB, func(ctx context.Context, id string, sub model.Submission) error {
		handled.Add(1)
		assert.Equal(t, analysisID, id)
		assert.Equal(t, "hello", sub.Text)
		return nil
	}, testConfig(), testLogger)
	w.lastCleanup = time.Now()

	w.processBatch(ctx)

	assert.Equal(t, int32(1), handled.Load())
	_, _, _, completedAt := getJob(ctx, t, jobID)
	require.NotNil(t, completedAt, "job should be completed after successful handling")

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestWorker_TransientFailureRetries(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	analysisID := createAnalysis(ctx, t)
	q := New(testDB, testConfig())
	require.NoError(t, q.Enqueue(ctx, analysisID, model.Submission{MediaType: "social_post", Text: "x"}))
	jobID := jobForAnalysis(ctx, t, analysisID)

	w := NewWorker(testDB, func(ctx context.Context, id string, sub model.Submission) error {
		return errors.New("provider unavailable")
	}, testConfig(), testLogger)
	w.lastCleanup = time.Now()

	w.processBatch(ctx)

	attempts, lastErr, lockedUntil, completedAt := getJob(ctx, t, jobID)
	assert.Equal(t, 1, attempts)
	require.NotNil(t, lastErr)
	assert.Equal(t, "provider unavailable", *lastErr)
	require.NotNil(t, lockedUntil)
	assert.True(t, lockedUntil.After(time.Now()), "released job should be locked into the future")
	assert.Nil(t, completedAt, "failed job should remain incomplete for retry")

	// The analysis is untouched while retries remain.
	status, _ := analysisStatus(ctx, t, analysisID)
	assert.Equal(t, model.StatusQueued, status)
}

func TestWorker_BackoffGrowsWithAttempts(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	cfg := testConfig()
	cfg.Attempts = 10

	id1 := createAnalysis(ctx, t)
	id2 := createAnalysis(ctx, t)
	jobLow := insertJob(ctx, t, id1, `{"media_type":"social_post","text":"a"}`, 0)
	jobHigh := insertJob(ctx, t, id2, `{"media_type":"social_post","text":"b"}`, 5)

	w := NewWorker(testDB, func(ctx context.Context, id string, sub model.Submission) error {
		return errors.New("flaky")
	}, cfg, testLogger)
	w.lastCleanup = time.Now()

	w.processBatch(ctx)

	// Low-attempt job: backoff = 2s << 0 = 2s. High-attempt: 2s << 5 = 64s.
	_, _, lockedLow, _ := getJob(ctx, t, jobLow)
	_, _, lockedHigh, _ := getJob(ctx, t, jobHigh)
	require.NotNil(t, lockedLow)
	require.NotNil(t, lockedHigh)
	assert.True(t, lockedLow.Before(time.Now().Add(10*time.Second)),
		"low-attempt job should have short backoff")
	assert.True(t, lockedHigh.After(time.Now().Add(30*time.Second)),
		"high-attempt job should have longer backoff")
}

func TestWorker_TerminalErrorFailsAnalysis(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	analysisID := createAnalysis(ctx, t)
	q := New(testDB, testConfig())
	require.NoError(t, q.Enqueue(ctx, analysisID, model.Submission{MediaType: "social_post", Text: "x"}))
	jobID := jobForAnalysis(ctx, t, analysisID)

	w := NewWorker(testDB, func(ctx context.Context, id string, sub model.Submission) error {
		return Terminal("Unable to extract meaningful claims from the provided content.", errors.New("no claims"))
	}, testConfig(), testLogger)
	w.lastCleanup = time.Now()

	w.processBatch(ctx)

	_, _, _, completedAt := getJob(ctx, t, jobID)
	require.NotNil(t, completedAt, "terminal job should be completed, not retried")

	status, errMsg := analysisStatus(ctx, t, analysisID)
	assert.Equal(t, model.StatusFailed, status)
	assert.Equal(t, "Unable to extract meaningful claims from the provided content.", errMsg)
}

func TestWorker_AttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	cfg := testConfig()
	analysisID := createAnalysis(ctx, t)
	jobID := insertJob(ctx, t, analysisID, `{"media_type":"social_post","text":"x"}`, cfg.Attempts-1)

	w := NewWorker(testDB, func(ctx context.Context, id string, sub model.Submission) error {
		return errors.New("still failing")
	}, cfg, testLogger)
	w.lastCleanup = time.Now()

	w.processBatch(ctx)

	_, lastErr, _, completedAt := getJob(ctx, t, jobID)
	require.NotNil(t, completedAt, "exhausted job should be completed")
	require.NotNil(t, lastErr)
	assert.Equal(t, "still failing", *lastErr)

	status, errMsg := analysisStatus(ctx, t, analysisID)
	assert.Equal(t, model.StatusFailed, status)
	assert.Equal(t, FailureMessage, errMsg)
}

func TestWorker_MalformedPayloadIsTerminal(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	analysisID := createAnalysis(ctx, t)
	// Valid JSON, but the id field cannot unmarshal into a UUID.
	jobID := insertJob(ctx, t, analysisID, `{"id":"not-a-uuid"}`, 0)

	w := NewWorker(testDB, func(ctx context.Context, id string, sub model.Submission) error {
		t.Fatal("handler should not run for malformed payload")
		return nil
	}, testConfig(), testLogger)
	w.lastCleanup = time.Now()

	w.processBatch(ctx)

	_, _, _, completedAt := getJob(ctx, t, jobID)
	require.NotNil(t, completedAt)

	status, errMsg := analysisStatus(ctx, t, analysisID)
	assert.Equal(t, model.StatusFailed, status)
	assert.Equal(t, FailureMessage, errMsg)
}

func TestWorker_SkipsLockedJobs(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	analysisID := createAnalysis(ctx, t)
	var jobID int64
	err := testDB.Pool().QueryRow(ctx,
		`INSERT INTO analysis_jobs (analysis_id, payload, locked_until)
		 VALUES ($1, $2, now() + interval '1 hour') RETURNING id`,
		analysisID, `{"media_type":"social_post","text":"x"}`,
	).Scan(&jobID)
	require.NoError(t, err)

	w := NewWorker(testDB, func(ctx context.Context, id string, sub model.Submission) error {
		t.Fatal("handler should not run for a locked job")
		return nil
	}, testConfig(), testLogger)
	w.lastCleanup = time.Now()

	w.processBatch(ctx)

	attempts, _, _, completedAt := getJob(ctx, t, jobID)
	assert.Equal(t, 0, attempts)
	assert.Nil(t, completedAt)
}

func TestWorker_SkipsExhaustedJobs(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	cfg := testConfig()
	analysisID := createAnalysis(ctx, t)
	insertJob(ctx, t, analysisID, `{"media_type":"social_post","text":"x"}`, cfg.Attempts)

	var handled atomic.Int32
	w := NewWorker(testDB, func(ctx context.Context, id string, sub model.Submission) error {
		handled.Add(1)
		return nil
	}, cfg, testLogger)
	w.lastCleanup = time.Now()

	w.processBatch(ctx)
	assert.Zero(t, handled.Load(), "job at the attempt budget should not be claimed")
}

func TestWorker_FailAnalysisNeverDemotesCompleted(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	analysisID := createAnalysis(ctx, t)
	ok, err := testDB.MarkProcessing(ctx, analysisID)
	require.NoError(t, err)
	require.True(t, ok)

	score := 90
	require.NoError(t, testDB.CompleteAnalysis(ctx, analysisID, &model.AnalysisResult{
		AnalysisID: analysisID,
		Topic:      "geography",
		Title:      "Eiffel Tower Location Confirmed",
		Verdict: model.Verdict{
			Label:      model.LabelVerified,
			Score:      &score,
			Confidence: 0.9,
			Summary:    "The claim is well supported.",
		},
	}, nil))

	// A stale redelivery failing after completion must not clobber the result.
	jobID := insertJob(ctx, t, analysisID, `{"media_type":"social_post","text":"x"}`, 0)
	w := NewWorker(testDB, func(ctx context.Context, id string, sub model.Submission) error {
		return Terminal("too late", errors.New("redelivered"))
	}, testConfig(), testLogger)
	w.lastCleanup = time.Now()

	w.processBatch(ctx)

	_, _, _, completedAt := getJob(ctx, t, jobID)
	require.NotNil(t, completedAt)
	status, _ := analysisStatus(ctx, t, analysisID)
	assert.Equal(t, model.StatusCompleted, status)
}

func TestWorker_CleanupByAge(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	cfg := testConfig()
	analysisID := createAnalysis(ctx, t)

	var oldID, recentID int64
	err := testDB.Pool().QueryRow(ctx,
		`INSERT INTO analysis_jobs (analysis_id, payload, completed_at)
		 VALUES ($1, '{}', now() - interval '48 hours') RETURNING id`,
		analysisID,
	).Scan(&oldID)
	require.NoError(t, err)
	err = testDB.Pool().QueryRow(ctx,
		`INSERT INTO analysis_jobs (analysis_id, payload, completed_at)
		 VALUES ($1, '{}', now() - interval '1 hour') RETURNING id`,
		analysisID,
	).Scan(&recentID)
	require.NoError(t, err)

	w := NewWorker(testDB, nil, cfg, testLogger)
	w.cleanup(ctx)

	var exists bool
	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM analysis_jobs WHERE id = $1)`, oldID).Scan(&exists))
	assert.False(t, exists, "completed job older than KeepAge should be removed")

	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM analysis_jobs WHERE id = $1)`, recentID).Scan(&exists))
	assert.True(t, exists, "recent completed job should be kept")
}

func TestWorker_CleanupByCount(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	cfg := testConfig()
	cfg.KeepCount = 2
	analysisID := createAnalysis(ctx, t)

	ids := make([]int64, 4)
	for i := range ids {
		err := testDB.Pool().QueryRow(ctx,
			`INSERT INTO analysis_jobs (analysis_id, payload, completed_at)
			 VALUES ($1, '{}', now() - $2 * interval '1 minute') RETURNING id`,
			analysisID, i,
		).Scan(&ids[i])
		require.NoError(t, err)
	}

	w := NewWorker(testDB, nil, cfg, testLogger)
	w.cleanup(ctx)

	var remaining int
	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM analysis_jobs WHERE completed_at IS NOT NULL`).Scan(&remaining))
	assert.Equal(t, 2, remaining, "only the newest KeepCount completed jobs should survive")

	// The two newest (smallest age offsets) are the survivors.
	var exists bool
	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM analysis_jobs WHERE id = $1)`, ids[0]).Scan(&exists))
	assert.True(t, exists)
	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM analysis_jobs WHERE id = $1)`, ids[3]).Scan(&exists))
	assert.False(t, exists)
}

func TestWorker_FullCycle(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	analysisID := createAnalysis(ctx, t)
	q := New(testDB, testConfig())

	var handled atomic.Int32
	w := NewWorker(testDB, func(ctx context.Context, id string, sub model.Submission) error {
		handled.Add(1)
		return nil
	}, testConfig(), testLogger)

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	w.Start(bgCtx)
	assert.True(t, w.started.Load())

	require.NoError(t, q.Enqueue(ctx, analysisID, model.Submission{MediaType: "social_post", Text: "x"}))

	// The LISTEN wakeup or the 50ms ticker should pick the job up quickly.
	require.Eventually(t, func() bool {
		return handled.Load() == 1
	}, 5*time.Second, 25*time.Millisecond)

	drainCtx, drainCancel := context.WithTimeout(ctx, 5*time.Second)
	defer drainCancel()
	w.Drain(drainCtx)

	select {
	case <-w.done:
	default:
		t.Fatal("done channel should be closed after drain")
	}
}

func TestWorker_StartTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	cleanJobs(ctx, t)

	w := NewWorker(testDB, func(ctx context.Context, id string, sub model.Submission) error {
		return nil
	}, testConfig(), testLogger)

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	w.Start(bgCtx)
	w.Start(bgCtx) // Second call must not spawn a second loop or panic.

	drainCtx, drainCancel := context.WithTimeout(ctx, 5*time.Second)
	defer drainCancel()
	w.Drain(drainCtx)
}

func TestTerminalError(t *testing.T) {
	inner := errors.New("schema drift")
	err := Terminal("please retry later", inner)

	var term *TerminalError
	require.ErrorAs(t, err, &term)
	assert.Equal(t, "please retry later", term.UserMessage)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "schema drift")
}
