package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentsql/agentsql/internal/observability"
	"github.com/agentsql/agentsql/internal/query"
)

const engineName = "sqlite"

var ErrDatabaseNotFound = errors.New("database not found")

type Engine struct {
	Dir     string
	Timeout time.Duration
}

func NewEngine(dir string, timeout time.Duration) *Engine {
	return &Engine{Dir: dir, Timeout: timeout}
}

func DatabasePath(dir, dbID string) (string, error) {
	dbID = strings.TrimSpace(dbID)
	if dbID == "" {
		return "", fmt.Errorf("db_id is required")
	}
	if strings.ContainsAny(dbID, `/\`) || dbID == "." || dbID == ".." {
		return "", fmt.Errorf("invalid db_id: %q", dbID)
	}
	return filepath.Join(dir, dbID, dbID+".sqlite"), nil
}

func OpenReadOnly(ctx context.Context, path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %q: %w", path, ErrDatabaseNotFound)
		}
		return nil, fmt.Errorf("stat %q: %w", path, err)
	}
	db, err := sql.Open("sqlite", "file:"+filepath.ToSlash(path)+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	return db, nil
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
	path, err := DatabasePath(e.Dir, request.DBID)
	if err != nil {
		return query.Result{}, err
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	db, err := OpenReadOnly(ctx, path)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = db.Close() }()

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
		ScannedFiles: 1,
		Duration:     time.Since(start),
	}, nil
}
