package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/agentsql/agentsql/internal/catalog"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

const runColumns = `run_id, trace_id, question, db_id, strategy, num_demonstrations, prompt_template, model,
generated_sql, corrected_sql, final_sql, execution_status, error_message, row_count,
prompt_tokens, completion_tokens, cost_usd, duration_ms, status, created_at`

func (r *Repository) RecordRun(ctx context.Context, in catalog.RecordRunInput) (catalog.Run, error) {
	if strings.TrimSpace(in.RunID) == "" {
		return catalog.Run{}, fmt.Errorf("run id is required")
	}
	switch in.Status {
	case catalog.RunStatusSucceeded, catalog.RunStatusFailed:
	default:
		return catalog.Run{}, fmt.Errorf("invalid run status %q", in.Status)
	}

	query := `
INSERT INTO pipeline_run (run_id, trace_id, question, db_id, strategy, num_demonstrations, prompt_template, model,
generated_sql, corrected_sql, final_sql, execution_status, error_message, row_count,
prompt_tokens, completion_tokens, cost_usd, duration_ms, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
RETURNING created_at`

	run := catalog.Run{
		RunID:             in.RunID,
		TraceID:           in.TraceID,
		Question:          in.Question,
		DBID:              in.DBID,
		Strategy:          in.Strategy,
		NumDemonstrations: in.NumDemonstrations,
		PromptTemplate:    in.PromptTemplate,
		Model:             in.Model,
		GeneratedSQL:      in.GeneratedSQL,
		CorrectedSQL:      in.CorrectedSQL,
		FinalSQL:          in.FinalSQL,
		ExecutionStatus:   in.ExecutionStatus,
		ErrorMessage:      in.ErrorMessage,
		RowCount:          in.RowCount,
		PromptTokens:      in.PromptTokens,
		CompletionTokens:  in.CompletionTokens,
		CostUSD:           in.CostUSD,
		DurationMs:        in.DurationMs,
		Status:            in.Status,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.RunID, in.TraceID, in.Question, in.DBID, in.Strategy, in.NumDemonstrations, in.PromptTemplate, in.Model,
		in.GeneratedSQL, in.CorrectedSQL, in.FinalSQL, in.ExecutionStatus, in.ErrorMessage, in.RowCount,
		in.PromptTokens, in.CompletionTokens, in.CostUSD, in.DurationMs, in.Status,
	).Scan(&run.CreatedAt); err != nil {
		return catalog.Run{}, fmt.Errorf("record run: %w", err)
	}
	return run, nil
}

func (r *Repository) GetRun(ctx context.Context, runID string) (catalog.Run, error) {
	query := `
SELECT ` + runColumns + `
FROM pipeline_run
WHERE run_id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Run{}, catalog.ErrNotFound
		}
		return catalog.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (r *Repository) ListRuns(ctx context.Context, limit int) ([]catalog.Run, error) {
	query := `
SELECT ` + runColumns + `
FROM pipeline_run
ORDER BY created_at DESC, run_id ASC`

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+`
LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]catalog.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

func (r *Repository) RunStats(ctx context.Context) (catalog.RunStats, error) {
	query := `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'succeeded'),
	COUNT(*) FILTER (WHERE status = 'failed'),
	COUNT(*) FILTER (WHERE execution_status = 'error'),
	COALESCE(SUM(cost_usd), 0),
	COALESCE(AVG(cost_usd), 0)
FROM pipeline_run`

	var stats catalog.RunStats
	if err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Total,
		&stats.Succeeded,
		&stats.Failed,
		&stats.ExecutionErrors,
		&stats.TotalCostUSD,
		&stats.AvgCostUSD,
	); err != nil {
		return catalog.RunStats{}, fmt.Errorf("run stats: %w", err)
	}
	return stats, nil
}

func (r *Repository) RecordEvaluation(ctx context.Context, in catalog.RecordEvaluationInput) (catalog.Evaluation, error) {
	if in.Total < 0 || in.Executed < 0 || in.Correct < 0 || in.Correct > in.Total {
		return catalog.Evaluation{}, fmt.Errorf("invalid evaluation counts total=%d executed=%d correct=%d", in.Total, in.Executed, in.Correct)
	}
	query := `
INSERT INTO evaluation_run (split, strategy, total, executed, correct, accuracy, cost_usd)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING evaluation_id, created_at`

	evaluation := catalog.Evaluation{
		Split:    in.Split,
		Strategy: in.Strategy,
		Total:    in.Total,
		Executed: in.Executed,
		Correct:  in.Correct,
		Accuracy: in.Accuracy,
		CostUSD:  in.CostUSD,
	}
	if err := r.db.QueryRowContext(ctx, query, in.Split, in.Strategy, in.Total, in.Executed, in.Correct, in.Accuracy, in.CostUSD).
		Scan(&evaluation.EvaluationID, &evaluation.CreatedAt); err != nil {
		return catalog.Evaluation{}, fmt.Errorf("record evaluation: %w", err)
	}
	return evaluation, nil
}

func (r *Repository) ListEvaluations(ctx context.Context, limit int) ([]catalog.Evaluation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT evaluation_id, split, strategy, total, executed, correct, accuracy, cost_usd, created_at
FROM evaluation_run
ORDER BY evaluation_id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	evaluations := make([]catalog.Evaluation, 0)
	for rows.Next() {
		var evaluation catalog.Evaluation
		if err := rows.Scan(
			&evaluation.EvaluationID,
			&evaluation.Split,
			&evaluation.Strategy,
			&evaluation.Total,
			&evaluation.Executed,
			&evaluation.Correct,
			&evaluation.Accuracy,
			&evaluation.CostUSD,
			&evaluation.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan evaluation row: %w", err)
		}
		evaluations = append(evaluations, evaluation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluation rows: %w", err)
	}
	return evaluations, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (catalog.Run, error) {
	var run catalog.Run
	err := row.Scan(
		&run.RunID,
		&run.TraceID,
		&run.Question,
		&run.DBID,
		&run.Strategy,
		&run.NumDemonstrations,
		&run.PromptTemplate,
		&run.Model,
		&run.GeneratedSQL,
		&run.CorrectedSQL,
		&run.FinalSQL,
		&run.ExecutionStatus,
		&run.ErrorMessage,
		&run.RowCount,
		&run.PromptTokens,
		&run.CompletionTokens,
		&run.CostUSD,
		&run.DurationMs,
		&run.Status,
		&run.CreatedAt,
	)
	return run, err
}

var _ catalog.Repository = (*Repository)(nil)
