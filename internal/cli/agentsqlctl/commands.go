package agentsqlctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/agentsql/agentsql/internal/config"
	"github.com/agentsql/agentsql/internal/dataset"
	"github.com/agentsql/agentsql/internal/demonstration"
	"github.com/agentsql/agentsql/internal/nl2sql"
	"github.com/agentsql/agentsql/internal/observability"
	"github.com/agentsql/agentsql/internal/pipeline"
	"github.com/agentsql/agentsql/internal/query"
	duckdbengine "github.com/agentsql/agentsql/internal/query/duckdb"
	"github.com/agentsql/agentsql/internal/routing"
	"github.com/agentsql/agentsql/internal/storage"
)

func runSelect(ctx context.Context, e *env, args []string, stdout, _ io.Writer) error {
	fs := newFlagSet("select", e.options.Stderr)
	question := fs.String("question", "", "natural language question")
	strategy := fs.String("strategy", e.cfg.Selection.Strategy, "selection strategy: first_k|random|jaccard")
	k := fs.Int("k", e.cfg.Selection.NumDemonstrations, "number of demonstrations")
	indices := fs.Bool("indices", false, "print pool indices instead of question/query pairs")
	seed := fs.Int64("seed", e.cfg.Selection.RandomSeed, "seed for the random strategy")
	if err := parseFlags(fs, args, map[string]*string{"question": question}); err != nil {
		return err
	}

	pool, err := e.loadPool(ctx)
	if err != nil {
		return err
	}
	agent := e.agent(pool, *seed)
	if *indices {
		selected, err := agent.SelectIndices(ctx, *question, *strategy, *k)
		if err != nil {
			return err
		}
		return writeJSON(stdout, selected)
	}
	pairs, err := agent.Select(ctx, *question, *strategy, *k)
	if err != nil {
		return err
	}
	return writeJSON(stdout, pairs)
}

func runPrompt(ctx context.Context, e *env, args []string, stdout, _ io.Writer) error {
	fs := newFlagSet("prompt", e.options.Stderr)
	question := fs.String("question", "", "natural language question")
	dbID := fs.String("db-id", "", "target database; empty leaves out the schema section")
	template := fs.String("template", e.cfg.Prompt.Template, "prompt template: "+strings.Join(nl2sql.PromptOptions(), "|"))
	strategy := fs.String("strategy", e.cfg.Selection.Strategy, "selection strategy")
	k := fs.Int("k", e.cfg.Selection.NumDemonstrations, "number of demonstrations")
	noDemos := fs.Bool("no-demos", !e.cfg.Pipeline.UseDemonstrations, "leave out demonstrations")
	if err := parseFlags(fs, args, map[string]*string{"question": question}); err != nil {
		return err
	}

	schemaText := ""
	if strings.TrimSpace(*dbID) != "" {
		fetcher, err := e.schemaFetcher(ctx)
		if err != nil {
			return err
		}
		schemaText, err = fetcher.Fetch(ctx, strings.TrimSpace(*dbID))
		if err != nil {
			return err
		}
	}
	demoText := ""
	if !*noDemos {
		pool, err := e.loadPool(ctx)
		if err != nil {
			return err
		}
		pairs, err := e.agent(pool, e.cfg.Selection.RandomSeed).Select(ctx, *question, *strategy, *k)
		if err != nil {
			return err
		}
		demoText = demonstration.Render(pairs, e.cfg.Selection.Template)
	}

	prompt, err := nl2sql.BuildPrompt(*template, *question, schemaText, demoText)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, prompt)
	return err
}

type centerOptions struct {
	route     bool
	demos     bool
	split     string
	disabled  []string
	configure func(*pipeline.Defaults)
}

func (e *env) center(ctx context.Context, opts centerOptions) (*pipeline.Center, error) {
	translator, err := e.translator()
	if err != nil {
		return nil, err
	}
	fetcher, err := e.schemaFetcher(ctx)
	if err != nil {
		return nil, err
	}
	repo, err := e.catalog(ctx)
	if err != nil {
		return nil, err
	}

	center := &pipeline.Center{
		Schemas:    fetcher,
		Translator: translator,
		Defaults:   pipeline.DefaultsFromConfig(e.cfg),
		Logger:     e.logger,
	}
	// WikiSQL databases store columns as col<N>, not header names.
	if e.cfg.Dataset.Name != config.DatasetNameWikiSQL {
		engine, err := e.sqliteEngine(opts.split)
		if err != nil {
			return nil, err
		}
		center.Engine = engine
	}
	if repo != nil {
		center.Runs = repo
		center.Evaluations = repo
	}
	if opts.demos || opts.route {
		pool, err := e.loadPool(ctx)
		if err != nil {
			return nil, err
		}
		center.Demonstrations = e.agent(pool, e.cfg.Selection.RandomSeed)
		if opts.route {
			router, err := routing.NewBleveRouter(pool, e.cfg.Routing.TopHits)
			if err != nil {
				return nil, err
			}
			e.closers = append(e.closers, router.Close)
			center.Router = router
		}
	}
	for _, name := range opts.disabled {
		if err := center.SetStatus(name, pipeline.StatusInactive); err != nil {
			return nil, err
		}
	}
	if opts.configure != nil {
		opts.configure(&center.Defaults)
	}
	return center, nil
}

func runPipeline(ctx context.Context, e *env, args []string, stdout, _ io.Writer) error {
	fs := newFlagSet("run", e.options.Stderr)
	question := fs.String("question", "", "natural language question")
	dbID := fs.String("db-id", "", "target database")
	route := fs.Bool("route", e.cfg.Pipeline.UseRouting, "predict the database from the question")
	noDemos := fs.Bool("no-demos", !e.cfg.Pipeline.UseDemonstrations, "skip demonstration selection")
	correct := fs.Bool("correct", e.cfg.Pipeline.UseErrorCorrection, "run the error correction pass")
	execute := fs.Bool("execute", e.cfg.Pipeline.UseExecution, "execute the final SQL")
	disable := fs.String("disable", "", "comma separated agents to mark inactive")
	strategy := fs.String("strategy", e.cfg.Selection.Strategy, "selection strategy")
	k := fs.Int("k", e.cfg.Selection.NumDemonstrations, "number of demonstrations")
	template := fs.String("template", e.cfg.Prompt.Template, "prompt template")
	model := fs.String("model", e.cfg.AI.Model, "chat completion model")
	split := fs.String("split", e.cfg.Dataset.EvalSplit, "split whose databases execute the SQL")
	if err := parseFlags(fs, args, map[string]*string{"question": question}); err != nil {
		return err
	}

	center, err := e.center(ctx, centerOptions{
		route:    *route,
		demos:    !*noDemos,
		split:    *split,
		disabled: splitList(*disable),
	})
	if err != nil {
		return err
	}
	req := center.NewRequest(*question)
	req.DBID = *dbID
	req.UseRouting = *route
	req.UseDemonstrations = !*noDemos
	req.UseErrorCorrection = *correct
	req.UseExecution = *execute
	req.Strategy = *strategy
	req.NumDemonstrations = *k
	req.PromptTemplate = *template
	req.Model = *model

	result, err := center.Run(ctx, req)
	if err != nil {
		return err
	}
	return writeJSON(stdout, result)
}

func runEval(ctx context.Context, e *env, args []string, stdout, _ io.Writer) error {
	fs := newFlagSet("eval", e.options.Stderr)
	split := fs.String("split", e.cfg.Dataset.EvalSplit, "split to evaluate")
	limit := fs.Int("limit", 0, "evaluate only the first N examples; 0 means all")
	workers := fs.Int("workers", pipeline.DefaultEvaluationWorkers, "concurrent pipeline runs")
	metricsFile := fs.String("metrics-file", e.cfg.Observability.MetricsFile, "write Prometheus metrics here when done")
	noDemos := fs.Bool("no-demos", !e.cfg.Pipeline.UseDemonstrations, "skip demonstration selection")
	correct := fs.Bool("correct", e.cfg.Pipeline.UseErrorCorrection, "run the error correction pass")
	strategy := fs.String("strategy", e.cfg.Selection.Strategy, "selection strategy")
	k := fs.Int("k", e.cfg.Selection.NumDemonstrations, "number of demonstrations")
	items := fs.Bool("items", false, "include per-example results")
	if err := parseFlags(fs, args, nil); err != nil {
		return err
	}

	loader, err := e.datasetLoader(ctx)
	if err != nil {
		return err
	}
	examples, err := loader.LoadSplit(ctx, *split)
	if err != nil {
		return err
	}
	if *limit > 0 && *limit < len(examples) {
		examples = examples[:*limit]
	}

	center, err := e.center(ctx, centerOptions{
		demos: !*noDemos,
		split: *split,
		configure: func(defaults *pipeline.Defaults) {
			defaults.Strategy = *strategy
			defaults.NumDemonstrations = *k
			defaults.UseDemonstrations = !*noDemos
			defaults.UseErrorCorrection = *correct
		},
	})
	if err != nil {
		return err
	}
	report, err := center.Evaluate(ctx, examples, pipeline.EvaluateOptions{Split: *split, Workers: *workers})
	if err != nil {
		return err
	}
	if !*items {
		report.Items = nil
	}
	if path := strings.TrimSpace(*metricsFile); path != "" {
		if err := observability.WriteMetricsFile(path); err != nil {
			return err
		}
	}
	return writeJSON(stdout, report)
}

func runSchema(ctx context.Context, e *env, args []string, stdout, _ io.Writer) error {
	fs := newFlagSet("schema", e.options.Stderr)
	dbID := fs.String("db-id", "", "database id")
	if err := parseFlags(fs, args, map[string]*string{"db-id": dbID}); err != nil {
		return err
	}
	fetcher, err := e.schemaFetcher(ctx)
	if err != nil {
		return err
	}
	text, err := fetcher.Fetch(ctx, strings.TrimSpace(*dbID))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, text)
	return err
}

func runSchemaCache(ctx context.Context, e *env, args []string, stdout, _ io.Writer) error {
	fs := newFlagSet("schema-cache", e.options.Stderr)
	out := fs.String("out", e.cfg.Schema.CachePath, "cache file to write")
	if err := parseFlags(fs, args, map[string]*string{"out": out}); err != nil {
		return err
	}
	fetcher, err := e.computeSchemas(ctx)
	if err != nil {
		return err
	}
	if err := fetcher.WriteCache(*out); err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "wrote %d database schema(s) to %s\n", len(fetcher.DBIDs()), *out)
	return err
}

type goldSQLOutput struct {
	Question        string `json:"question"`
	MatchedQuestion string `json:"matched_question"`
	SQL             string `json:"sql"`
}

func runGoldSQL(ctx context.Context, e *env, args []string, stdout, _ io.Writer) error {
	fs := newFlagSet("gold-sql", e.options.Stderr)
	question := fs.String("question", "", "natural language question")
	splits := fs.String("splits", strings.Join([]string{dataset.SplitTrain, dataset.SplitDev, dataset.SplitTest}, ","), "comma-separated splits to search")
	if err := parseFlags(fs, args, map[string]*string{"question": question}); err != nil {
		return err
	}

	loader, err := e.datasetLoader(ctx)
	if err != nil {
		return err
	}
	var examples []demonstration.Example
	for _, split := range strings.Split(*splits, ",") {
		split = strings.TrimSpace(split)
		if split == "" {
			continue
		}
		loaded, err := loader.LoadSplit(ctx, split)
		if errors.Is(err, dataset.ErrFileNotFound) {
			e.logger.Debug("gold_split_skipped", slog.String("split", split))
			continue
		}
		if err != nil {
			return err
		}
		examples = append(examples, loaded...)
	}

	retriever, err := routing.NewGoldSQLRetriever(examples)
	if err != nil {
		return err
	}
	defer func() { _ = retriever.Close() }()

	sql, matched, err := retriever.Retrieve(ctx, *question)
	if err != nil {
		return err
	}
	return writeJSON(stdout, goldSQLOutput{Question: *question, MatchedQuestion: matched, SQL: sql})
}

type exportSummary struct {
	Key      string `json:"key"`
	Split    string `json:"split"`
	Examples int    `json:"examples"`
	Size     int64  `json:"size_bytes"`
}

func runPoolExport(ctx context.Context, e *env, args []string, stdout, _ io.Writer) error {
	fs := newFlagSet("pool-export", e.options.Stderr)
	split := fs.String("split", e.cfg.Dataset.PoolSplit, "split to export")
	key := fs.String("key", "", "object key; defaults to pool/<split>/examples.parquet")
	if err := parseFlags(fs, args, nil); err != nil {
		return err
	}
	objectKey, err := poolKey(*key, *split)
	if err != nil {
		return err
	}

	loader, err := e.datasetLoader(ctx)
	if err != nil {
		return err
	}
	examples, err := loader.LoadSplit(ctx, *split)
	if err != nil {
		return err
	}
	store, err := e.objectStore(ctx)
	if err != nil {
		return err
	}
	info, err := dataset.ExportPool(ctx, store, objectKey, examples)
	if err != nil {
		return err
	}
	return writeJSON(stdout, exportSummary{Key: objectKey, Split: *split, Examples: len(examples), Size: info.Size})
}

func runPoolQuery(ctx context.Context, e *env, args []string, stdout, _ io.Writer) error {
	fs := newFlagSet("pool-query", e.options.Stderr)
	sqlText := fs.String("sql", "", "DuckDB SQL over the table "+dataset.PoolTable)
	split := fs.String("split", e.cfg.Dataset.PoolSplit, "split whose snapshot is queried")
	key := fs.String("key", "", "object key; defaults to pool/<split>/examples.parquet")
	limit := fs.Int("limit", e.cfg.Execution.RowLimit, "maximum rows; 0 means no limit")
	if err := parseFlags(fs, args, map[string]*string{"sql": sqlText}); err != nil {
		return err
	}
	objectKey, err := poolKey(*key, *split)
	if err != nil {
		return err
	}
	store, err := e.objectStore(ctx)
	if err != nil {
		return err
	}

	outcome := query.Outcome(duckdbengine.NewEngine(store).Execute(ctx, query.Request{
		SQL:      *sqlText,
		RowLimit: *limit,
		Files:    []query.TableFile{{TableName: dataset.PoolTable, ObjectPath: objectKey}},
	}))
	if !outcome.OK() {
		return fmt.Errorf("%s", outcome.ErrorMessage)
	}
	return writeJSON(stdout, outcome)
}

func runRuns(ctx context.Context, e *env, args []string, stdout, _ io.Writer) error {
	fs := newFlagSet("runs", e.options.Stderr)
	runID := fs.String("id", "", "show a single run")
	limit := fs.Int("limit", 20, "maximum rows")
	stats := fs.Bool("stats", false, "print aggregate run statistics")
	evaluations := fs.Bool("evaluations", false, "list evaluation summaries instead of runs")
	if err := parseFlags(fs, args, nil); err != nil {
		return err
	}
	repo, err := e.catalog(ctx)
	if err != nil {
		return err
	}
	if repo == nil {
		return fmt.Errorf("run catalog is disabled; set AGENTSQL_CATALOG_ENABLED=true")
	}

	switch {
	case strings.TrimSpace(*runID) != "":
		run, err := repo.GetRun(ctx, strings.TrimSpace(*runID))
		if err != nil {
			return err
		}
		return writeJSON(stdout, run)
	case *stats:
		summary, err := repo.RunStats(ctx)
		if err != nil {
			return err
		}
		return writeJSON(stdout, summary)
	case *evaluations:
		list, err := repo.ListEvaluations(ctx, *limit)
		if err != nil {
			return err
		}
		return writeJSON(stdout, list)
	default:
		list, err := repo.ListRuns(ctx, *limit)
		if err != nil {
			return err
		}
		return writeJSON(stdout, list)
	}
}

func poolKey(key, split string) (string, error) {
	if key = strings.TrimSpace(key); key != "" {
		return key, nil
	}
	return storage.PoolObjectKey(split)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
