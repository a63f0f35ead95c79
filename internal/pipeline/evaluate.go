package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agentsql/agentsql/internal/catalog"
	"github.com/agentsql/agentsql/internal/demonstration"
	"github.com/agentsql/agentsql/internal/observability"
	"github.com/agentsql/agentsql/internal/query"
)

const DefaultEvaluationWorkers = 4

type EvaluateOptions struct {
	Split     string
	Workers   int
	Configure func(*Request)
}

type EvaluationItem struct {
	Idx          int     `json:"idx"`
	DBID         string  `json:"db_id"`
	PredictedSQL string  `json:"predicted_sql"`
	Executed     bool    `json:"executed"`
	Correct      bool    `json:"correct"`
	Error        string  `json:"error,omitempty"`
	CostUSD      float64 `json:"cost_usd"`
}

type Report struct {
	Total    int              `json:"total"`
	Executed int              `json:"executed"`
	Correct  int              `json:"correct"`
	Accuracy float64          `json:"accuracy"`
	Errors   int              `json:"errors"`
	CostUSD  float64          `json:"cost_usd"`
	Items    []EvaluationItem `json:"items"`
}

// Per-example failures are counted in the report; only cancellation aborts.
func (c *Center) Evaluate(ctx context.Context, examples []demonstration.Example, opts EvaluateOptions) (Report, error) {
	c.ensureDefaults()
	if c.Engine == nil {
		return Report{}, errors.New("evaluate: no engine configured")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultEvaluationWorkers
	}

	items := make([]EvaluationItem, len(examples))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i, example := range examples {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			items[i] = c.evaluateOne(groupCtx, example, opts.Configure)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Report{}, fmt.Errorf("evaluate: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("evaluate: %w", err)
	}

	report := Report{Total: len(items), Items: items}
	for _, item := range items {
		report.CostUSD += item.CostUSD
		if item.Error != "" && !item.Executed {
			report.Errors++
		}
		if item.Executed {
			report.Executed++
		}
		if item.Correct {
			report.Correct++
		}
	}
	if report.Total > 0 {
		report.Accuracy = float64(report.Correct) / float64(report.Total)
	}
	observability.SetEvaluationAccuracy(report.Accuracy)
	c.Logger.InfoContext(ctx, "evaluation_completed",
		slog.String("split", opts.Split),
		slog.Int("total", report.Total),
		slog.Int("executed", report.Executed),
		slog.Int("correct", report.Correct),
		slog.Float64("accuracy", report.Accuracy),
		slog.Float64("cost_usd", report.CostUSD),
	)

	if c.Evaluations != nil {
		_, err := c.Evaluations.RecordEvaluation(ctx, catalog.RecordEvaluationInput{
			Split:    opts.Split,
			Strategy: c.Defaults.Strategy,
			Total:    report.Total,
			Executed: report.Executed,
			Correct:  report.Correct,
			Accuracy: report.Accuracy,
			CostUSD:  report.CostUSD,
		})
		if err != nil {
			c.Logger.ErrorContext(ctx, "evaluation_record_failed", slog.String("error", err.Error()))
		}
	}
	return report, nil
}

func (c *Center) evaluateOne(ctx context.Context, example demonstration.Example, configure func(*Request)) EvaluationItem {
	item := EvaluationItem{Idx: example.Idx, DBID: example.DBID}

	req := c.NewRequest(example.Question)
	req.DBID = example.DBID
	req.UseRouting = false
	if configure != nil {
		configure(&req)
	}
	req.UseExecution = true

	result, err := c.Run(ctx, req)
	item.PredictedSQL = result.FinalSQL
	item.CostUSD = result.CostUSD
	if err != nil {
		item.Error = err.Error()
		return item
	}
	if result.Execution == nil {
		item.Error = "sql execution is inactive"
		return item
	}
	if !result.Execution.OK() {
		item.Error = result.Execution.ErrorMessage
		return item
	}
	item.Executed = true

	gold := query.Outcome(c.Engine.Execute(ctx, query.Request{SQL: example.Query, DBID: example.DBID, RowLimit: c.Defaults.RowLimit}))
	if !gold.OK() {
		item.Error = "gold query failed: " + gold.ErrorMessage
		return item
	}
	item.Correct = SameRows(result.Execution.Rows, gold.Rows)
	return item
}

func SameRows(a, b [][]any) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, row := range a {
		counts[rowKey(row)]++
	}
	for _, row := range b {
		key := rowKey(row)
		if counts[key] == 0 {
			return false
		}
		counts[key]--
	}
	return true
}

func rowKey(row []any) string {
	parts := make([]string, len(row))
	for i, value := range row {
		parts[i] = fmt.Sprint(value)
	}
	return strings.Join(parts, "\x1f")
}
