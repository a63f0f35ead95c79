package dataset

import (
	"context"
	"errors"
	"testing"
)

const (
	wikiDevTables = `{"id": "1-10015132-11", "header": ["Player", "No.", "Nationality", "Position", "Years in Toronto", "School/Club Team"], "types": ["text", "text", "text", "text", "text", "text"], "rows": [["Antonio Lang", "21", "United States", "Guard-Forward", "1999-2000", "Duke"]]}
{"id": "1-10083598-1", "header": ["No", "Date", "Round", "Circuit", "Pole Position", "Race Winner"], "types": ["real", "text", "text", "text", "text", "text"], "rows": []}
`
	wikiDevRecords = `{"phase": 1, "table_id": "1-10015132-11", "question": "What position does the player who played for Butler CC (KS) play?", "sql": {"sel": 3, "conds": [[5, 0, "Butler CC (KS)"]], "agg": 0}}

{"phase": 1, "table_id": "1-10015132-11", "question": "How many schools did player number 3 play at?", "sql": {"sel": 5, "conds": [[1, 0, "3"]], "agg": 3}}
{"phase": 1, "table_id": "1-10083598-1", "question": "Who won race number 1,200?", "sql": {"sel": 5, "conds": [[0, 0, "1,200"], [3, 0, "Brands Hatch"]], "agg": 0}}
`
)

func newWikiSQLLoader(t *testing.T, files map[string]string) *Loader {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		writeDatasetFile(t, dir, name, content)
	}
	loader, err := NewLoader(DirSource{Root: dir}, Options{Name: NameWikiSQL})
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	return loader
}

func TestLoadWikiSQLSplitConvertsQueries(t *testing.T) {
	loader := newWikiSQLLoader(t, map[string]string{
		"dev.jsonl":        wikiDevRecords,
		"dev.tables.jsonl": wikiDevTables,
	})

	examples, err := loader.LoadSplit(context.Background(), SplitDev)
	if err != nil {
		t.Fatalf("LoadSplit() error = %v", err)
	}
	if len(examples) != 3 {
		t.Fatalf("len(examples) = %d", len(examples))
	}

	want := []struct {
		dbID  string
		query string
	}{
		{"table_1_10015132_11", `SELECT "Position" AS result FROM table_1_10015132_11 WHERE "School/Club Team" = 'butler cc (ks)'`},
		{"table_1_10015132_11", `SELECT COUNT("School/Club Team") AS result FROM table_1_10015132_11 WHERE "No." = '3'`},
		{"table_1_10083598_1", `SELECT "Race Winner" AS result FROM table_1_10083598_1 WHERE "No" = 1200 AND "Circuit" = 'brands hatch'`},
	}
	for i, ex := range examples {
		if ex.Idx != i {
			t.Fatalf("examples[%d].Idx = %d", i, ex.Idx)
		}
		if ex.DBID != want[i].dbID || ex.Query != want[i].query {
			t.Fatalf("examples[%d] = %q / %q, want %q / %q", i, ex.DBID, ex.Query, want[i].dbID, want[i].query)
		}
		if len(ex.QuestionTokens) == 0 {
			t.Fatalf("examples[%d] has no tokens", i)
		}
	}
}

func TestLoadWikiSQLSchemas(t *testing.T) {
	loader := newWikiSQLLoader(t, map[string]string{"dev.tables.jsonl": wikiDevTables})

	schemas, err := loader.LoadWikiSQLSchemas(context.Background(), SplitTrain, SplitDev, SplitTest)
	if err != nil {
		t.Fatalf("LoadWikiSQLSchemas() error = %v", err)
	}
	if len(schemas) != 2 {
		t.Fatalf("len(schemas) = %d", len(schemas))
	}
	got := schemas["table_1_10083598_1"]
	want := `CREATE TABLE table_1_10083598_1 ("No" real, "Date" text, "Round" text, "Circuit" text, "Pole Position" text, "Race Winner" text)`
	if len(got) != 1 || got[0] != want {
		t.Fatalf("schema = %q, want %q", got, want)
	}

	empty := newWikiSQLLoader(t, nil)
	if _, err := empty.LoadWikiSQLSchemas(context.Background(), SplitDev); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("LoadWikiSQLSchemas() error = %v, want ErrFileNotFound", err)
	}
}

func TestLoadWikiSQLRejectsUnknownTable(t *testing.T) {
	loader := newWikiSQLLoader(t, map[string]string{
		"dev.jsonl":        `{"table_id": "9-9-9", "question": "q", "sql": {"sel": 0, "conds": [], "agg": 0}}`,
		"dev.tables.jsonl": wikiDevTables,
	})
	if _, err := loader.LoadSplit(context.Background(), SplitDev); err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestParseWikiQueryReversesSQL(t *testing.T) {
	table := WikiTable{
		ID:     "1-10083598-1",
		Header: []string{"No", "Date", "Round", "Circuit", "Pole Position", "Race Winner"},
		Types:  []string{"real", "text", "text", "text", "text", "text"},
	}
	queries := []WikiQuery{
		{Select: 5, Aggregate: 0, Conditions: []WikiCondition{{Column: 0, Operator: 0, Value: float64(7)}, {Column: 3, Operator: 0, Value: "brands hatch"}}},
		{Select: 0, Aggregate: 1},
		{Select: 2, Aggregate: 3, Conditions: []WikiCondition{{Column: 0, Operator: 1, Value: float64(2.5)}}},
		{Select: 4, Aggregate: 0, Conditions: []WikiCondition{{Column: 1, Operator: 0, Value: "o'neil's day"}}},
	}
	for _, want := range queries {
		sql, err := want.SQL(table)
		if err != nil {
			t.Fatalf("SQL() error = %v", err)
		}
		got, err := ParseWikiQuery(sql, table.Header)
		if err != nil {
			t.Fatalf("ParseWikiQuery(%q) error = %v", sql, err)
		}
		if got.Select != want.Select || got.Aggregate != want.Aggregate || len(got.Conditions) != len(want.Conditions) {
			t.Fatalf("ParseWikiQuery(%q) = %+v, want %+v", sql, got, want)
		}
		for i := range want.Conditions {
			if got.Conditions[i] != want.Conditions[i] {
				t.Fatalf("condition %d = %+v, want %+v", i, got.Conditions[i], want.Conditions[i])
			}
		}
	}
}

func TestParseWikiQueryAcceptsBareColumns(t *testing.T) {
	got, err := ParseWikiQuery("select max(round) from t where circuit = 'monza'", []string{"No", "Round", "Circuit"})
	if err != nil {
		t.Fatalf("ParseWikiQuery() error = %v", err)
	}
	if got.Select != 1 || got.Aggregate != 1 || len(got.Conditions) != 1 || got.Conditions[0].Column != 2 || got.Conditions[0].Value != "monza" {
		t.Fatalf("ParseWikiQuery() = %+v", got)
	}
	if _, err := ParseWikiQuery("SELECT missing FROM t", []string{"No"}); err == nil {
		t.Fatal("expected error for unknown column")
	}
}

func TestWikiTableName(t *testing.T) {
	if got := WikiTableName("1-10015132-11"); got != "table_1_10015132_11" {
		t.Fatalf("WikiTableName() = %q", got)
	}
	if got := WikiTableName("table_1_10015132_11"); got != "table_1_10015132_11" {
		t.Fatalf("WikiTableName() = %q", got)
	}
}

func TestNewLoaderRejectsUnknownDataset(t *testing.T) {
	if _, err := NewLoader(DirSource{Root: t.TempDir()}, Options{Name: "bird"}); err == nil {
		t.Fatal("expected error for unknown dataset")
	}
}
