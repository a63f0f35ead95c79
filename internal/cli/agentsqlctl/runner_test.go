package agentsqlctl

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/agentsql/agentsql/internal/config"
	"github.com/agentsql/agentsql/internal/nl2sql"
	"github.com/agentsql/agentsql/internal/pipeline"
	"github.com/agentsql/agentsql/internal/query"
	"github.com/agentsql/agentsql/internal/storage"
)

const (
	trainJSON = `[
  {"db_id": "concert_singer", "question": "How many singers are there?", "question_toks": ["How", "many", "singers", "are", "there", "?"], "query": "SELECT count(*) FROM singer"},
  {"db_id": "concert_singer", "question": "List all singer names", "question_toks": ["List", "all", "singer", "names"], "query": "SELECT name FROM singer"},
  {"db_id": "concert_singer", "question": "How many singers exist?", "question_toks": ["How", "many", "singers", "exist", "?"], "query": "SELECT count(*) FROM singer"}
]`
	devJSON = `[
  {"db_id": "concert_singer", "question": "What is the number of singers?", "question_toks": [], "query": "SELECT count(*) FROM singer"},
  {"db_id": "concert_singer", "question": "What is the name of the youngest singer?", "question_toks": [], "query": "SELECT name FROM singer ORDER BY age LIMIT 1"}
]`
)

type fakeTranslator struct {
	answers map[string]string
}

func (f fakeTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	for question, sql := range f.answers {
		if strings.Contains(req.Prompt, "question: "+question+" */") {
			return nl2sql.Result{Text: sql, SQL: nl2sql.PostprocessSQL(sql), Model: "gpt-4", PromptTokens: 50, CostUSD: 0.0015}, nil
		}
	}
	return nl2sql.Result{}, errors.New("no canned answer")
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func writeSpiderFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range map[string]string{"train_spider.json": trainJSON, "dev.json": devJSON} {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile(%s) error = %v", name, err)
		}
	}

	dbDir := filepath.Join(root, "database", "concert_singer")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dbDir, "concert_singer.sqlite"))
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	for _, statement := range []string{
		`CREATE TABLE singer (singer_id INTEGER PRIMARY KEY, name TEXT, age INTEGER)`,
		`INSERT INTO singer (name, age) VALUES ('Joe Sharp', 52), ('Rose White', 41), ('John Nizinik', 43)`,
	} {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("Exec(%q) error = %v", statement, err)
		}
	}
	return root
}

func testOptions(t *testing.T, root string) (Options, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	env := map[string]string{
		"AGENTSQL_PROFILE":           "test",
		"AGENTSQL_DATASET_DIR":       root,
		"AGENTSQL_SCHEMA_CACHE_PATH": filepath.Join(root, "db_id2schema_text.json"),
	}
	cfg, err := config.Load("agentsqlctl", func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	var stdout, stderr bytes.Buffer
	return Options{
		Config: cfg,
		Translator: fakeTranslator{answers: map[string]string{
			"What is the number of singers?":           "SELECT count(*) FROM singer",
			"What is the name of the youngest singer?": "SELECT name FROM singer ORDER BY age DESC LIMIT 1",
			"How many singers do we have?":             "```sql\nSELECT count(*) FROM singer\n```",
		}},
		ObjectStore: newMemoryStore(),
		Stdout:      &stdout,
		Stderr:      &stderr,
	}, &stdout, &stderr
}

func TestRunSelectIndices(t *testing.T) {
	opts, stdout, stderr := testOptions(t, writeSpiderFixture(t))

	code := Run(context.Background(), []string{"select", "-question", "How many singers are there?", "-k", "2", "-indices"}, opts)
	if code != 0 {
		t.Fatalf("Run() code = %d stderr=%s", code, stderr.String())
	}
	var indices []int
	if err := json.Unmarshal(stdout.Bytes(), &indices); err != nil {
		t.Fatalf("decode output: %v (%s)", err, stdout.String())
	}
	if len(indices) != 2 || indices[0] != 0 || indices[1] != 2 {
		t.Fatalf("indices = %v", indices)
	}
}

func TestRunSelectRejectsOversizedK(t *testing.T) {
	opts, _, stderr := testOptions(t, writeSpiderFixture(t))

	code := Run(context.Background(), []string{"select", "-question", "q", "-k", "10"}, opts)
	if code != 1 {
		t.Fatalf("Run() code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "select failed") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunPromptIncludesSchemaAndDemonstrations(t *testing.T) {
	opts, stdout, stderr := testOptions(t, writeSpiderFixture(t))

	code := Run(context.Background(), []string{"prompt", "-question", "How many singers do we have?", "-db-id", "concert_singer", "-k", "1"}, opts)
	if code != 0 {
		t.Fatalf("Run() code = %d stderr=%s", code, stderr.String())
	}
	prompt := strings.TrimSpace(stdout.String())
	if !strings.Contains(prompt, "CREATE TABLE singer") {
		t.Fatalf("prompt missing schema: %q", prompt)
	}
	if !strings.Contains(prompt, "### Answer the following question: How many singers") {
		t.Fatalf("prompt missing demonstration: %q", prompt)
	}
	if !strings.HasSuffix(prompt, "SELECT") {
		t.Fatalf("prompt suffix = %q", prompt)
	}
}

func TestRunPipelineExecutesSQL(t *testing.T) {
	opts, stdout, stderr := testOptions(t, writeSpiderFixture(t))

	code := Run(context.Background(), []string{"run", "-question", "How many singers do we have?", "-db-id", "concert_singer", "-execute"}, opts)
	if code != 0 {
		t.Fatalf("Run() code = %d stderr=%s", code, stderr.String())
	}
	var result pipeline.Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if result.FinalSQL != "SELECT count(*) FROM singer\n" {
		t.Fatalf("FinalSQL = %q", result.FinalSQL)
	}
	if result.Execution == nil || result.Execution.Status != query.StatusOK {
		t.Fatalf("Execution = %#v", result.Execution)
	}
	if got := result.Execution.Records[0]["count(*)"]; got != float64(3) {
		t.Fatalf("count = %#v", got)
	}
}

func TestRunPipelineRejectsUnknownAgent(t *testing.T) {
	opts, _, stderr := testOptions(t, writeSpiderFixture(t))

	code := Run(context.Background(), []string{"run", "-question", "q", "-db-id", "concert_singer", "-disable", "sql_generation"}, opts)
	if code != 1 {
		t.Fatalf("Run() code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "unknown agent") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunEvalReportsAccuracy(t *testing.T) {
	opts, stdout, stderr := testOptions(t, writeSpiderFixture(t))
	metricsPath := filepath.Join(t.TempDir(), "metrics.prom")

	code := Run(context.Background(), []string{"eval", "-split", "dev", "-workers", "2", "-k", "2", "-metrics-file", metricsPath}, opts)
	if code != 0 {
		t.Fatalf("Run() code = %d stderr=%s", code, stderr.String())
	}
	var report pipeline.Report
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if report.Total != 2 || report.Executed != 2 || report.Correct != 1 || report.Accuracy != 0.5 {
		t.Fatalf("report = %+v", report)
	}
	if report.Items != nil {
		t.Fatalf("Items = %+v, want omitted", report.Items)
	}
	metrics, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(metrics), "agentsql_evaluation_execution_accuracy 0.5") {
		t.Fatalf("metrics file missing accuracy gauge")
	}
}

func TestRunSchemaCacheThenSchema(t *testing.T) {
	root := writeSpiderFixture(t)
	opts, stdout, stderr := testOptions(t, root)

	if code := Run(context.Background(), []string{"schema-cache"}, opts); code != 0 {
		t.Fatalf("schema-cache code = %d stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "wrote 1 database schema(s)") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if _, err := os.Stat(filepath.Join(root, "db_id2schema_text.json")); err != nil {
		t.Fatalf("cache file missing: %v", err)
	}

	stdout.Reset()
	if code := Run(context.Background(), []string{"schema", "-db-id", "concert_singer"}, opts); code != 0 {
		t.Fatalf("schema code = %d stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "CREATE TABLE singer") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunPoolExportThenQuery(t *testing.T) {
	opts, stdout, stderr := testOptions(t, writeSpiderFixture(t))

	if code := Run(context.Background(), []string{"pool-export"}, opts); code != 0 {
		t.Fatalf("pool-export code = %d stderr=%s", code, stderr.String())
	}
	var summary exportSummary
	if err := json.Unmarshal(stdout.Bytes(), &summary); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if summary.Key != "pool/train/examples.parquet" || summary.Examples != 3 || summary.Size == 0 {
		t.Fatalf("summary = %+v", summary)
	}

	stdout.Reset()
	code := Run(context.Background(), []string{"pool-query", "-sql", "SELECT db_id, count(*) AS n FROM examples GROUP BY db_id"}, opts)
	if code != 0 {
		t.Fatalf("pool-query code = %d stderr=%s", code, stderr.String())
	}
	var outcome query.ExecutionOutcome
	if err := json.Unmarshal(stdout.Bytes(), &outcome); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(outcome.Records) != 1 || outcome.Records[0]["db_id"] != "concert_singer" || outcome.Records[0]["n"] != float64(3) {
		t.Fatalf("records = %#v", outcome.Records)
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "no command", args: nil, want: 2},
		{name: "unknown command", args: []string{"explain"}, want: 2},
		{name: "missing question", args: []string{"select"}, want: 2},
		{name: "bad flag", args: []string{"eval", "-workers", "many"}, want: 2},
		{name: "catalog disabled", args: []string{"runs"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, _, _ := testOptions(t, t.TempDir())
			if code := Run(context.Background(), tt.args, opts); code != tt.want {
				t.Fatalf("Run() code = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestRunSelectFromPoolSnapshot(t *testing.T) {
	root := writeSpiderFixture(t)
	opts, stdout, stderr := testOptions(t, root)

	if code := Run(context.Background(), []string{"pool-export"}, opts); code != 0 {
		t.Fatalf("pool-export code = %d stderr=%s", code, stderr.String())
	}
	if err := os.Remove(filepath.Join(root, "train_spider.json")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	stdout.Reset()
	code := Run(context.Background(), []string{"-pool-snapshot", "select", "-question", "How many singers are there?", "-k", "2", "-indices"}, opts)
	if code != 0 {
		t.Fatalf("Run() code = %d stderr=%s", code, stderr.String())
	}
	var indices []int
	if err := json.Unmarshal(stdout.Bytes(), &indices); err != nil {
		t.Fatalf("decode output: %v (%s)", err, stdout.String())
	}
	if len(indices) != 2 || indices[0] != 0 || indices[1] != 2 {
		t.Fatalf("indices = %v", indices)
	}

	if code := Run(context.Background(), []string{"select", "-question", "q", "-k", "1"}, opts); code != 1 {
		t.Fatalf("select without snapshot code = %d, want 1", code)
	}
}

func TestRunGoldSQL(t *testing.T) {
	opts, stdout, stderr := testOptions(t, writeSpiderFixture(t))

	code := Run(context.Background(), []string{"gold-sql", "-question", "What is the number of singers in total?"}, opts)
	if code != 0 {
		t.Fatalf("Run() code = %d stderr=%s", code, stderr.String())
	}
	var out goldSQLOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output: %v (%s)", err, stdout.String())
	}
	if out.MatchedQuestion != "What is the number of singers?" || out.SQL != "SELECT count(*) FROM singer" {
		t.Fatalf("output = %+v", out)
	}

	if code := Run(context.Background(), []string{"gold-sql"}, opts); code != 2 {
		t.Fatalf("missing question code = %d, want 2", code)
	}
}

const (
	wikiTrainTables = `{"id": "1-10015132-11", "header": ["Player", "No.", "Position", "School/Club Team"], "types": ["text", "text", "text", "text"]}
{"id": "1-10083598-1", "header": ["No", "Circuit", "Race Winner"], "types": ["real", "text", "text"]}
`
	wikiTrainRecords = `{"table_id": "1-10015132-11", "question": "What position does the player from Duke play?", "sql": {"sel": 2, "conds": [[3, 0, "Duke"]], "agg": 0}}
{"table_id": "1-10083598-1", "question": "Who won race number 5?", "sql": {"sel": 2, "conds": [[0, 0, "5"]], "agg": 0}}
`
)

func TestRunWikiSQLSelectAndSchema(t *testing.T) {
	root := t.TempDir()
	for name, content := range map[string]string{"train.jsonl": wikiTrainRecords, "train.tables.jsonl": wikiTrainTables} {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile(%s) error = %v", name, err)
		}
	}
	opts, stdout, stderr := testOptions(t, root)

	code := Run(context.Background(), []string{"-dataset", "WikiSQL", "select", "-question", "Who won race number 9?", "-strategy", "jaccard", "-k", "1", "-indices"}, opts)
	if code != 0 {
		t.Fatalf("select code = %d stderr=%s", code, stderr.String())
	}
	var indices []int
	if err := json.Unmarshal(stdout.Bytes(), &indices); err != nil {
		t.Fatalf("decode output: %v (%s)", err, stdout.String())
	}
	if len(indices) != 1 || indices[0] != 1 {
		t.Fatalf("indices = %v", indices)
	}

	stdout.Reset()
	code = Run(context.Background(), []string{"-dataset", "wikisql", "schema", "-db-id", "table_1_10083598_1"}, opts)
	if code != 0 {
		t.Fatalf("schema code = %d stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `CREATE TABLE table_1_10083598_1 ("No" real, "Circuit" text, "Race Winner" text)`) {
		t.Fatalf("stdout = %q", stdout.String())
	}

	stdout.Reset()
	code = Run(context.Background(), []string{"-dataset", "wikisql", "gold-sql", "-question", "Who won race number 7?", "-splits", "train"}, opts)
	if code != 0 {
		t.Fatalf("gold-sql code = %d stderr=%s", code, stderr.String())
	}
	var out goldSQLOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output: %v (%s)", err, stdout.String())
	}
	if out.SQL != `SELECT "Race Winner" AS result FROM table_1_10083598_1 WHERE "No" = 5` {
		t.Fatalf("sql = %q", out.SQL)
	}
}
