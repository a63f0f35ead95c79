package query

import (
	"context"
	"time"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

type TableFile struct {
	TableName     string
	ObjectPath    string
	FileSizeBytes int64
}

type Request struct {
	SQL      string
	DBID     string
	RowLimit int
	Files    []TableFile
}

type Result struct {
	Columns      []string
	Rows         [][]any
	ScannedFiles int
	ScannedBytes int64
	Duration     time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// A failing statement is data here, not an error.
type ExecutionOutcome struct {
	Status       string           `json:"status"`
	Columns      []string         `json:"columns,omitempty"`
	Records      []map[string]any `json:"records,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`

	Rows [][]any `json:"-"`
}

func (o ExecutionOutcome) OK() bool {
	return o.Status == StatusOK
}

func Outcome(result Result, err error) ExecutionOutcome {
	if err != nil {
		return ExecutionOutcome{Status: StatusError, ErrorMessage: err.Error()}
	}
	records := make([]map[string]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		record := make(map[string]any, len(result.Columns))
		for i, column := range result.Columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		records = append(records, record)
	}
	return ExecutionOutcome{Status: StatusOK, Columns: result.Columns, Records: records, Rows: result.Rows}
}
