package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/agentsql/agentsql/internal/observability"
	"github.com/agentsql/agentsql/internal/query/sqlite"
)

const (
	DefaultSeparator   = "\n\n"
	defaultCacheSize   = 256
	defaultConcurrency = 4
)

var ErrUnknownDatabase = errors.New("unknown database")

type Options struct {
	CacheSize int
	Separator string
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	statements map[string][]string
	separator  string
	texts      *lru.Cache[string, string]
}

func NewFetcher(statements map[string][]string, opts Options) (*Fetcher, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	texts, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create schema text cache: %w", err)
	}
	separator := opts.Separator
	if separator == "" {
		separator = DefaultSeparator
	}
	copied := make(map[string][]string, len(statements))
	for dbID, stmts := range statements {
		copied[dbID] = slices.Clone(stmts)
	}
	return &Fetcher{statements: copied, separator: separator, texts: texts}, nil
}

func LoadCache(path string, opts Options) (*Fetcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema cache %q: %w", path, err)
	}
	var statements map[string][]string
	if err := json.Unmarshal(data, &statements); err != nil {
		return nil, fmt.Errorf("decode schema cache %q: %w", path, err)
	}
	return NewFetcher(statements, opts)
}

type ComputeOptions struct {
	Options
	Concurrency int
	Logger      *slog.Logger
}

// When a db_id appears in more than one dir the first dir wins.
func Compute(ctx context.Context, dirs []string, opts ComputeOptions) (*Fetcher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	paths := map[string]string{}
	for _, dir := range dirs {
		found, err := discoverDatabases(dir)
		if err != nil {
			return nil, err
		}
		for dbID, path := range found {
			if _, ok := paths[dbID]; !ok {
				paths[dbID] = path
			}
		}
	}

	var mu sync.Mutex
	statements := make(map[string][]string, len(paths))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)
	for dbID, path := range paths {
		group.Go(func() error {
			stmts, err := IntrospectDatabase(groupCtx, path)
			if err != nil {
				return fmt.Errorf("introspect %s: %w", dbID, err)
			}
			mu.Lock()
			statements[dbID] = stmts
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	logger.Info("schema_cache_computed", slog.Int("databases", len(statements)))
	return NewFetcher(statements, opts.Options)
}

func discoverDatabases(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read database dir %q: %w", dir, err)
	}
	found := map[string]string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path, err := sqlite.DatabasePath(dir, entry.Name())
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			found[entry.Name()] = path
		}
	}
	return found, nil
}

func IntrospectDatabase(ctx context.Context, path string) ([]string, error) {
	db, err := sqlite.OpenReadOnly(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND sql IS NOT NULL AND name NOT LIKE 'sqlite_%' ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query sqlite_master: %w", err)
	}
	defer func() { _ = rows.Close() }()

	statements := []string{}
	for rows.Next() {
		var statement string
		if err := rows.Scan(&statement); err != nil {
			return nil, fmt.Errorf("scan table statement: %w", err)
		}
		statements = append(statements, strings.TrimSpace(statement))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table statements: %w", err)
	}
	return statements, nil
}

func (f *Fetcher) Fetch(_ context.Context, dbID string) (string, error) {
	if text, ok := f.texts.Get(dbID); ok {
		return text, nil
	}
	stmts, ok := f.statements[dbID]
	if !ok {
		return "", fmt.Errorf("fetch schema %q: %w", dbID, ErrUnknownDatabase)
	}
	text := strings.Join(stmts, f.separator)
	f.texts.Add(dbID, text)
	return text, nil
}

func (f *Fetcher) Statements(dbID string) ([]string, bool) {
	stmts, ok := f.statements[dbID]
	return slices.Clone(stmts), ok
}

func (f *Fetcher) DBIDs() []string {
	ids := make([]string, 0, len(f.statements))
	for dbID := range f.statements {
		ids = append(ids, dbID)
	}
	slices.Sort(ids)
	return ids
}

func (f *Fetcher) WriteCache(path string) error {
	data, err := json.MarshalIndent(f.statements, "", "    ")
	if err != nil {
		return fmt.Errorf("encode schema cache: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create schema cache dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write schema cache %q: %w", path, err)
	}
	return nil
}
