package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/agentsql/agentsql/internal/observability"
	"github.com/agentsql/agentsql/internal/query"
	"github.com/agentsql/agentsql/internal/storage"
)

const engineName = "duckdb"

type Engine struct {
	Store storage.ObjectStore
}

func NewEngine(store storage.ObjectStore) *Engine {
	return &Engine{Store: store}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (result query.Result, err error) {
	start := time.Now()
	defer func() {
		observability.ObserveSQLExecution(engineName, time.Since(start), err)
	}()

	sqlText := query.StripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if len(request.Files) == 0 {
		return query.Result{}, fmt.Errorf("no parquet files to query")
	}
	if e.Store == nil {
		return query.Result{}, fmt.Errorf("object store is required")
	}

	workDir, err := os.MkdirTemp("", "agentsql-duckdb-")
	if err != nil {
		return query.Result{}, fmt.Errorf("create query temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	tablePaths, scannedBytes, err := e.download(ctx, workDir, request.Files)
	if err != nil {
		return query.Result{}, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return query.Result{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	tableNames := make([]string, 0, len(tablePaths))
	for name := range tablePaths {
		tableNames = append(tableNames, name)
	}
	slices.Sort(tableNames)
	for _, name := range tableNames {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(name), quoteStringArray(tablePaths[name]))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			return query.Result{}, fmt.Errorf("create view for table %q: %w", name, err)
		}
	}

	rows, err := db.QueryContext(ctx, query.LimitRows(sqlText, request.RowLimit))
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, resultRows, err := query.ScanRows(rows)
	if err != nil {
		return query.Result{}, err
	}

	return query.Result{
		Columns:      columns,
		Rows:         resultRows,
		ScannedFiles: len(request.Files),
		ScannedBytes: scannedBytes,
		Duration:     time.Since(start),
	}, nil
}

func (e *Engine) download(ctx context.Context, workDir string, files []query.TableFile) (map[string][]string, int64, error) {
	tablePaths := map[string][]string{}
	var scannedBytes int64
	for index, file := range files {
		if strings.TrimSpace(file.TableName) == "" {
			return nil, 0, fmt.Errorf("table name is required for %q", file.ObjectPath)
		}
		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(file.TableName), index))
		written, err := e.fetch(ctx, file.ObjectPath, localPath)
		if err != nil {
			return nil, 0, err
		}
		tablePaths[file.TableName] = append(tablePaths[file.TableName], localPath)
		if file.FileSizeBytes > 0 {
			scannedBytes += file.FileSizeBytes
		} else {
			scannedBytes += written
		}
	}
	return tablePaths, scannedBytes, nil
}

func (e *Engine) fetch(ctx context.Context, objectPath, localPath string) (int64, error) {
	reader, err := e.Store.Get(ctx, objectPath)
	if err != nil {
		return 0, fmt.Errorf("get object %q: %w", objectPath, err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("create local parquet file %q: %w", localPath, err)
	}
	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	return written, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
