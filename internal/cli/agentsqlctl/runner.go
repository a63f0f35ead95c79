package agentsqlctl

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/agentsql/agentsql/internal/catalog"
	"github.com/agentsql/agentsql/internal/config"
	"github.com/agentsql/agentsql/internal/nl2sql"
	"github.com/agentsql/agentsql/internal/observability"
	"github.com/agentsql/agentsql/internal/storage"
)

type Options struct {
	Config      config.Config
	Logger      *slog.Logger
	Translator  nl2sql.Translator
	ObjectStore storage.ObjectStore
	Catalog     catalog.Repository
	Stdout      io.Writer
	Stderr      io.Writer
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, e *env, args []string, stdout, stderr io.Writer) error
}

var commands = []command{
	{name: "select", summary: "choose demonstrations for a question", run: runSelect},
	{name: "prompt", summary: "print the assembled generation prompt", run: runPrompt},
	{name: "run", summary: "run the full pipeline for a question", run: runPipeline},
	{name: "eval", summary: "measure execution accuracy over a split", run: runEval},
	{name: "gold-sql", summary: "look up the gold SQL of the most similar dataset question", run: runGoldSQL},
	{name: "schema", summary: "print the schema text of a database", run: runSchema},
	{name: "schema-cache", summary: "introspect databases and write the schema cache", run: runSchemaCache},
	{name: "pool-export", summary: "upload a parquet snapshot of a split", run: runPoolExport},
	{name: "pool-query", summary: "run DuckDB SQL over an exported snapshot", run: runPoolQuery},
	{name: "runs", summary: "list recorded pipeline runs and evaluations", run: runRuns},
}

func Run(ctx context.Context, args []string, opts Options) int {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}

	cfg := opts.Config
	fs := flag.NewFlagSet("agentsqlctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Dataset.Name, "dataset", cfg.Dataset.Name, "dataset format: spider|wikisql")
	fs.StringVar(&cfg.Dataset.Dir, "dataset-dir", cfg.Dataset.Dir, "dataset root directory")
	fs.StringVar(&cfg.Dataset.PoolSplit, "pool-split", cfg.Dataset.PoolSplit, "split used as the demonstration pool")
	fs.BoolVar(&cfg.Dataset.PoolSnapshot, "pool-snapshot", cfg.Dataset.PoolSnapshot, "load the pool from its exported parquet snapshot")
	fs.StringVar(&cfg.Schema.CachePath, "schema-cache", cfg.Schema.CachePath, "schema cache file")
	fs.Usage = func() { writeUsage(stderr) }

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}
	cfg.Dataset.Name = strings.ToLower(strings.TrimSpace(cfg.Dataset.Name))

	name := strings.TrimSpace(fs.Arg(0))
	var selected *command
	for i := range commands {
		if commands[i].name == name {
			selected = &commands[i]
			break
		}
	}
	if selected == nil {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		writeUsage(stderr)
		return 2
	}

	opts.Stdout, opts.Stderr = stdout, stderr
	e := &env{cfg: cfg, logger: logger, options: opts}
	defer e.Close()

	if err := selected.run(ctx, e, fs.Args()[1:], stdout, stderr); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			return 2
		}
		_, _ = fmt.Fprintf(stderr, "%s failed: %v\n", name, err)
		return 1
	}
	return 0
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, required map[string]*string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	for flagName, value := range required {
		if strings.TrimSpace(*value) == "" {
			_, _ = fmt.Fprintf(fs.Output(), "-%s is required\n", flagName)
			fs.Usage()
			return errUsage
		}
	}
	return nil
}

func writeJSON(w io.Writer, value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: agentsqlctl [flags] <command> [command flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	for _, cmd := range commands {
		_, _ = fmt.Fprintf(w, "  %-14s %s\n", cmd.name, cmd.summary)
	}
}
