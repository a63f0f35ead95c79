package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

type Repository interface {
	HealthCheck(ctx context.Context) error
	RecordRun(ctx context.Context, in RecordRunInput) (Run, error)
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	RunStats(ctx context.Context) (RunStats, error)
	RecordEvaluation(ctx context.Context, in RecordEvaluationInput) (Evaluation, error)
	ListEvaluations(ctx context.Context, limit int) ([]Evaluation, error)
}

type Run struct {
	RunID             string
	TraceID           string
	Question          string
	DBID              string
	Strategy          string
	NumDemonstrations int
	PromptTemplate    string
	Model             string
	GeneratedSQL      string
	CorrectedSQL      string
	FinalSQL          string
	ExecutionStatus   string
	ErrorMessage      string
	RowCount          int
	PromptTokens      int
	CompletionTokens  int
	CostUSD           float64
	DurationMs        int64
	Status            string
	CreatedAt         time.Time
}

type RecordRunInput struct {
	RunID             string
	TraceID           string
	Question          string
	DBID              string
	Strategy          string
	NumDemonstrations int
	PromptTemplate    string
	Model             string
	GeneratedSQL      string
	CorrectedSQL      string
	FinalSQL          string
	ExecutionStatus   string
	ErrorMessage      string
	RowCount          int
	PromptTokens      int
	CompletionTokens  int
	CostUSD           float64
	DurationMs        int64
	Status            string
}

type RunStats struct {
	Total           int64
	Succeeded       int64
	Failed          int64
	ExecutionErrors int64
	TotalCostUSD    float64
	AvgCostUSD      float64
}

type Evaluation struct {
	EvaluationID int64
	Split        string
	Strategy     string
	Total        int
	Executed     int
	Correct      int
	Accuracy     float64
	CostUSD      float64
	CreatedAt    time.Time
}

type RecordEvaluationInput struct {
	Split    string
	Strategy string
	Total    int
	Executed int
	Correct  int
	Accuracy float64
	CostUSD  float64
}
