package agentsqlctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/agentsql/agentsql/internal/catalog"
	catalogpostgres "github.com/agentsql/agentsql/internal/catalog/postgres"
	"github.com/agentsql/agentsql/internal/config"
	"github.com/agentsql/agentsql/internal/dataset"
	"github.com/agentsql/agentsql/internal/demonstration"
	"github.com/agentsql/agentsql/internal/nl2sql"
	"github.com/agentsql/agentsql/internal/query/sqlite"
	"github.com/agentsql/agentsql/internal/schema"
	"github.com/agentsql/agentsql/internal/storage"
	s3store "github.com/agentsql/agentsql/internal/storage/s3"
)

type env struct {
	cfg     config.Config
	logger  *slog.Logger
	options Options

	store    storage.ObjectStore
	loader   *dataset.Loader
	schemas  *schema.Fetcher
	closers  []func() error
	catalogs catalog.Repository
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}

func (e *env) objectStore(ctx context.Context) (storage.ObjectStore, error) {
	if e.store != nil {
		return e.store, nil
	}
	if e.options.ObjectStore != nil {
		e.store = e.options.ObjectStore
		return e.store, nil
	}
	store, err := s3store.New(ctx, e.cfg.ObjectStore)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	e.store = store
	return store, nil
}

func (e *env) datasetLoader(ctx context.Context) (*dataset.Loader, error) {
	if e.loader != nil {
		return e.loader, nil
	}
	var source dataset.Source = dataset.DirSource{Root: e.cfg.Dataset.Dir}
	if e.cfg.Dataset.Source == config.DatasetSourceObject {
		store, err := e.objectStore(ctx)
		if err != nil {
			return nil, err
		}
		source = dataset.ObjectSource{Store: store, Prefix: e.cfg.Dataset.ObjectPrefix}
	}
	loader, err := dataset.NewLoader(source, dataset.Options{
		Name:       e.cfg.Dataset.Name,
		Retokenize: e.cfg.Dataset.Retokenize,
	})
	if err != nil {
		return nil, err
	}
	e.loader = loader
	return loader, nil
}

func (e *env) loadPool(ctx context.Context) (*demonstration.Pool, error) {
	if e.cfg.Dataset.PoolSnapshot {
		return e.loadPoolSnapshot(ctx)
	}
	loader, err := e.datasetLoader(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := loader.LoadPool(ctx, e.cfg.Dataset.PoolSplit)
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	e.logger.Debug("pool_loaded", slog.String("split", e.cfg.Dataset.PoolSplit), slog.Int("examples", pool.Len()))
	return pool, nil
}

func (e *env) loadPoolSnapshot(ctx context.Context) (*demonstration.Pool, error) {
	store, err := e.objectStore(ctx)
	if err != nil {
		return nil, err
	}
	key, err := storage.PoolObjectKey(e.cfg.Dataset.PoolSplit)
	if err != nil {
		return nil, err
	}
	examples, err := dataset.ImportPool(ctx, store, key)
	if err != nil {
		return nil, fmt.Errorf("load pool snapshot: %w", err)
	}
	pool, err := demonstration.NewPool(examples)
	if err != nil {
		return nil, fmt.Errorf("load pool snapshot: %w", err)
	}
	e.logger.Debug("pool_snapshot_loaded", slog.String("key", key), slog.Int("examples", pool.Len()))
	return pool, nil
}

func (e *env) agent(pool *demonstration.Pool, seed int64) *demonstration.Agent {
	return demonstration.NewAgent(demonstration.NewFactory(pool, seed), nil, e.logger)
}

func (e *env) schemaFetcher(ctx context.Context) (*schema.Fetcher, error) {
	if e.schemas != nil {
		return e.schemas, nil
	}
	opts := schema.Options{CacheSize: e.cfg.Schema.CacheSize}
	if path := e.cfg.Schema.CachePath; path != "" {
		if _, err := os.Stat(path); err == nil {
			fetcher, err := schema.LoadCache(path, opts)
			if err != nil {
				return nil, err
			}
			e.schemas = fetcher
			return fetcher, nil
		}
	}
	fetcher, err := e.computeSchemas(ctx)
	if err != nil {
		return nil, err
	}
	e.schemas = fetcher
	return fetcher, nil
}

func (e *env) computeSchemas(ctx context.Context) (*schema.Fetcher, error) {
	if e.cfg.Dataset.Name == config.DatasetNameWikiSQL {
		loader, err := e.datasetLoader(ctx)
		if err != nil {
			return nil, err
		}
		statements, err := loader.LoadWikiSQLSchemas(ctx, dataset.SplitTrain, dataset.SplitDev, dataset.SplitTest)
		if err != nil {
			return nil, err
		}
		return schema.NewFetcher(statements, schema.Options{CacheSize: e.cfg.Schema.CacheSize})
	}
	var dirs []string
	for _, split := range []string{dataset.SplitTrain, dataset.SplitTest} {
		dir, err := dataset.DatabaseDir(e.cfg.Dataset.Dir, split)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	return schema.Compute(ctx, dirs, schema.ComputeOptions{
		Options:     schema.Options{CacheSize: e.cfg.Schema.CacheSize},
		Concurrency: e.cfg.Schema.Concurrency,
		Logger:      e.logger,
	})
}

func (e *env) translator() (nl2sql.Translator, error) {
	if e.options.Translator != nil {
		return e.options.Translator, nil
	}
	return nl2sql.NewOpenAITranslator(nl2sql.OpenAIConfig{
		BaseURL:      e.cfg.AI.BaseURL,
		APIKey:       e.cfg.AI.APIKey,
		Organization: e.cfg.AI.Organization,
		Model:        e.cfg.AI.Model,
		Temperature:  e.cfg.AI.Temperature,
		Timeout:      e.cfg.AI.Timeout,
		MaxAttempts:  e.cfg.AI.MaxAttempts,
		RetryDelay:   e.cfg.AI.RetryDelay,
	}, e.logger)
}

func (e *env) sqliteEngine(split string) (*sqlite.Engine, error) {
	dir, err := dataset.DatabaseDir(e.cfg.Dataset.Dir, split)
	if err != nil {
		return nil, err
	}
	return sqlite.NewEngine(dir, e.cfg.Execution.Timeout), nil
}

func (e *env) catalog(ctx context.Context) (catalog.Repository, error) {
	if e.catalogs != nil {
		return e.catalogs, nil
	}
	if e.options.Catalog != nil {
		e.catalogs = e.options.Catalog
		return e.catalogs, nil
	}
	if !e.cfg.Catalog.Enabled {
		return nil, nil
	}
	db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfigFromCatalog(e.cfg.Catalog))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	e.closers = append(e.closers, db.Close)
	e.catalogs = catalogpostgres.NewRepository(db)
	return e.catalogs, nil
}

var errUsage = errors.New("usage")
