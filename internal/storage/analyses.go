package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/verity-ai/verity/internal/model"
)

// CreateAnalysis inserts a new analysis in QUEUED state.
func (db *DB) CreateAnalysis(ctx context.Context, id string, sub model.Submission) error {
	input, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("storage: marshal submission: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO analyses (id, status, media_type, input_json)
		 VALUES ($1, $2, $3, $4)`,
		id, model.StatusQueued, sub.MediaType, input,
	)
	if err != nil {
		return fmt.Errorf("storage: create analysis: %w", classifySchemaError(err))
	}
	return nil
}

// MarkProcessing transitions an analysis to PROCESSING. The transition is
// idempotent: re-running it on an already-processing analysis succeeds, and
// a COMPLETED or FAILED analysis reports false so a redelivered job becomes
// a no-op.
func (db *DB) MarkProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE analyses SET status = $2, updated_at = now()
		 WHERE id = $1 AND status IN ($2, $3)`,
		id, model.StatusProcessing, model.StatusQueued,
	)
	if err != nil {
		return false, fmt.Errorf("storage: mark processing: %w", classifySchemaError(err))
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteAnalysis persists the full result and transitions the analysis to
// COMPLETED. Safe to repeat for the same analysis: child rows are replaced,
// not appended. embeddings, when non-nil, is aligned with result.Claims and
// may contain zero vectors for claims that were not embedded.
func (db *DB) CompleteAnalysis(ctx context.Context, id string, result *model.AnalysisResult, embeddings []pgvector.Vector) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("storage: marshal result: %w", err)
	}

	// The child-row replacement can deadlock against a concurrent retry of
	// the same analysis.
	return WithRetry(ctx, 3, 100*time.Millisecond, func() error {
		return db.completeAnalysisTx(ctx, id, result, resultJSON, embeddings)
	})
}

func (db *DB) completeAnalysisTx(ctx context.Context, id string, result *model.AnalysisResult, resultJSON []byte, embeddings []pgvector.Vector) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin complete: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE analyses
		 SET status = $2, topic = $3, bias = $4, score = $5, label = $6,
		     confidence = $7, title = $8, summary = $9, recommendation = $10,
		     complexity = $11, result_json = $12, error = NULL,
		     updated_at = now(), completed_at = COALESCE(completed_at, now())
		 WHERE id = $1`,
		id, model.StatusCompleted, result.Topic, nullable(result.Bias), result.Verdict.Score,
		string(result.Verdict.Label), result.Verdict.Confidence, result.Title,
		result.Verdict.Summary, string(result.Recommendation),
		string(result.Complexity), resultJSON,
	)
	if err != nil {
		return fmt.Errorf("storage: complete analysis: %w", classifySchemaError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := db.replaceChildren(ctx, tx, id, result, embeddings); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit complete: %w", err)
	}
	return nil
}

func (db *DB) replaceChildren(ctx context.Context, tx pgx.Tx, id string, result *model.AnalysisResult, embeddings []pgvector.Vector) error {
	for _, table := range []string{"explanation_steps", "analysis_sources", "analysis_claims"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE analysis_id = $1`, id); err != nil {
			return fmt.Errorf("storage: clear %s: %w", table, classifySchemaError(err))
		}
	}

	for i, c := range result.Claims {
		var emb *pgvector.Vector
		if i < len(embeddings) {
			emb = &embeddings[i]
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO analysis_claims
			 (id, analysis_id, position, text, extraction_confidence, verdict, confidence, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, id, i, c.Text, c.ExtractionConfidence, string(c.Verdict), c.Confidence, emb,
		); err != nil {
			return fmt.Errorf("storage: insert claim: %w", classifySchemaError(err))
		}
	}

	for i, s := range result.Sources {
		var stance, assessment *string
		var relevance *float64
		if s.Evaluation != nil {
			st := string(s.Evaluation.Stance)
			stance = &st
			assessment = &s.Evaluation.Assessment
			relevance = &s.Evaluation.Relevance
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO analysis_sources
			 (analysis_id, key, claim_id, position, provider, title, url, host,
			  summary, reliability, stance, relevance, assessment, published_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			id, s.Key, nullable(s.ClaimID), i, s.Provider, s.Title, s.URL, s.Host,
			s.Summary, s.AdjustedReliability, stance, relevance, assessment, s.PublishedAt,
		); err != nil {
			return fmt.Errorf("storage: insert source: %w", classifySchemaError(err))
		}
	}

	for _, step := range result.Explanation {
		if _, err := tx.Exec(ctx,
			`INSERT INTO explanation_steps (analysis_id, position, title, body)
			 VALUES ($1, $2, $3, $4)`,
			id, step.Position, step.Title, step.Body,
		); err != nil {
			return fmt.Errorf("storage: insert explanation step: %w", classifySchemaError(err))
		}
	}

	if len(result.Epistemic) > 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO epistemic_reports (analysis_id, report_json)
			 VALUES ($1, $2)
			 ON CONFLICT (analysis_id) DO UPDATE SET report_json = EXCLUDED.report_json`,
			id, []byte(result.Epistemic),
		); err != nil {
			return fmt.Errorf("storage: upsert epistemic report: %w", classifySchemaError(err))
		}
	}
	return nil
}

// FailAnalysis transitions an analysis to FAILED with a user-visible
// message. A COMPLETED analysis is left untouched so a late retry of an
// already-successful job cannot clobber its result.
func (db *DB) FailAnalysis(ctx context.Context, id, message string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE analyses SET status = $2, error = $3, updated_at = now()
		 WHERE id = $1 AND status <> $4`,
		id, model.StatusFailed, message, model.StatusCompleted,
	)
	if err != nil {
		return fmt.Errorf("storage: fail analysis: %w", classifySchemaError(err))
	}
	return nil
}

// GetAnalysis fetches one analysis with its result artifact.
func (db *DB) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	var (
		a          model.Analysis
		inputJSON  []byte
		resultJSON []byte
		errMsg     *string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, status, input_json, result_json, error, created_at, updated_at, completed_at
		 FROM analyses WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.Status, &inputJSON, &resultJSON, &errMsg, &a.CreatedAt, &a.UpdatedAt, &a.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get analysis: %w", classifySchemaError(err))
	}

	if err := json.Unmarshal(inputJSON, &a.Submission); err != nil {
		return nil, fmt.Errorf("storage: decode submission: %w", err)
	}
	if len(resultJSON) > 0 {
		a.Result = &model.AnalysisResult{}
		if err := json.Unmarshal(resultJSON, a.Result); err != nil {
			return nil, fmt.Errorf("storage: decode result: %w", err)
		}
	}
	if errMsg != nil {
		a.Error = *errMsg
	}
	return &a, nil
}

// ListAnalyses returns the most recent analyses, newest first.
func (db *DB) ListAnalyses(ctx context.Context, limit int) ([]model.Analysis, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, status, title, label, score, error, created_at, updated_at, completed_at
		 FROM analyses ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list analyses: %w", classifySchemaError(err))
	}
	defer rows.Close()

	var out []model.Analysis
	for rows.Next() {
		var (
			a      model.Analysis
			title  *string
			label  *string
			score  *int
			errMsg *string
		)
		if err := rows.Scan(&a.ID, &a.Status, &title, &label, &score, &errMsg,
			&a.CreatedAt, &a.UpdatedAt, &a.CompletedAt); err != nil {
			return nil, fmt.Errorf("storage: scan analysis: %w", err)
		}
		if title != nil || label != nil {
			a.Result = &model.AnalysisResult{}
			if title != nil {
				a.Result.Title = *title
			}
			if label != nil {
				a.Result.Verdict = model.Verdict{Label: model.VerdictLabel(*label), Score: score}
			}
		}
		if errMsg != nil {
			a.Error = *errMsg
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// nullable converts an empty string to NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
