package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentsql/agentsql/internal/query"
)

func TestExecuteAgainstDatabaseFile(t *testing.T) {
	dir := t.TempDir()
	createSingerDatabase(t, dir, "concert_singer")

	engine := NewEngine(dir, 0)
	result, err := engine.Execute(context.Background(), query.Request{
		SQL:  "SELECT name, age FROM singer ORDER BY age DESC;",
		DBID: "concert_singer",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "name" {
		t.Fatalf("columns = %#v", result.Columns)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if result.Rows[0][0] != "Joe Sharp" || result.Rows[0][1] != int64(52) {
		t.Fatalf("first row = %#v", result.Rows[0])
	}
}

func TestExecuteAppliesRowLimit(t *testing.T) {
	dir := t.TempDir()
	createSingerDatabase(t, dir, "concert_singer")

	result, err := NewEngine(dir, 0).Execute(context.Background(), query.Request{
		SQL:      "SELECT name FROM singer",
		DBID:     "concert_singer",
		RowLimit: 1,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
}

func TestExecuteIsReadOnly(t *testing.T) {
	dir := t.TempDir()
	createSingerDatabase(t, dir, "concert_singer")

	_, err := NewEngine(dir, 0).Execute(context.Background(), query.Request{
		SQL:  "DELETE FROM singer",
		DBID: "concert_singer",
	})
	if err == nil {
		t.Fatal("expected write to fail on read-only database")
	}
}

func TestExecuteUnknownDatabase(t *testing.T) {
	_, err := NewEngine(t.TempDir(), 0).Execute(context.Background(), query.Request{
		SQL:  "SELECT 1",
		DBID: "missing_db",
	})
	if !errors.Is(err, ErrDatabaseNotFound) {
		t.Fatalf("Execute() error = %v, want ErrDatabaseNotFound", err)
	}
}

func TestExecuteBadSQLBecomesErrorOutcome(t *testing.T) {
	dir := t.TempDir()
	createSingerDatabase(t, dir, "concert_singer")

	outcome := query.Outcome(NewEngine(dir, 0).Execute(context.Background(), query.Request{
		SQL:  "SELECT nope FROM singer",
		DBID: "concert_singer",
	}))
	if outcome.OK() || outcome.ErrorMessage == "" {
		t.Fatalf("Outcome() = %#v", outcome)
	}
}

func TestDatabasePathRejectsTraversal(t *testing.T) {
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if _, err := DatabasePath("/data", id); err == nil {
			t.Fatalf("DatabasePath(%q) expected error", id)
		}
	}
	got, err := DatabasePath("/data/database", "pets_1")
	if err != nil {
		t.Fatalf("DatabasePath() error = %v", err)
	}
	if got != filepath.Join("/data/database", "pets_1", "pets_1.sqlite") {
		t.Fatalf("DatabasePath() = %q", got)
	}
}

func createSingerDatabase(t *testing.T, dir, dbID string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, dbID), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, dbID, dbID+".sqlite"))
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	statements := []string{
		`CREATE TABLE singer (singer_id INTEGER PRIMARY KEY, name TEXT, age INTEGER)`,
		`INSERT INTO singer (name, age) VALUES ('Joe Sharp', 52), ('Rose White', 41), ('John Nizinik', 43)`,
	}
	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("Exec(%q) error = %v", statement, err)
		}
	}
}
