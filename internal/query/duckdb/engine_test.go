package duckdb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/agentsql/agentsql/internal/query"
	"github.com/agentsql/agentsql/internal/storage"
)

type exampleRow struct {
	Idx      int64  `parquet:"idx"`
	DBID     string `parquet:"db_id"`
	Question string `parquet:"question"`
	Query    string `parquet:"query"`
}

func testRows() []exampleRow {
	return []exampleRow{
		{Idx: 0, DBID: "concert_singer", Question: "How many singers do we have?", Query: "SELECT count(*) FROM singer"},
		{Idx: 1, DBID: "pets_1", Question: "How many pets are there?", Query: "SELECT count(*) FROM pets"},
		{Idx: 2, DBID: "concert_singer", Question: "List singer names.", Query: "SELECT name FROM singer"},
	}
}

func TestExecuteGroupsPoolByDatabase(t *testing.T) {
	parquetBytes, err := buildParquet(testRows())
	if err != nil {
		t.Fatalf("buildParquet() error = %v", err)
	}
	store := &memoryStore{objects: map[string][]byte{"pool/train/examples.parquet": parquetBytes}}

	result, err := NewEngine(store).Execute(context.Background(), query.Request{
		SQL: "SELECT db_id, COUNT(*) AS c FROM examples GROUP BY db_id ORDER BY db_id",
		Files: []query.TableFile{{
			TableName:  "examples",
			ObjectPath: "pool/train/examples.parquet",
		}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if result.Rows[0][0] != "concert_singer" || result.Rows[0][1] != int64(2) {
		t.Fatalf("first row = %#v", result.Rows[0])
	}
	if result.ScannedFiles != 1 || result.ScannedBytes != int64(len(parquetBytes)) {
		t.Fatalf("scanned files=%d bytes=%d", result.ScannedFiles, result.ScannedBytes)
	}
}

func TestExecuteSupportsTrailingSemicolonWithRowLimit(t *testing.T) {
	parquetBytes, err := buildParquet(testRows())
	if err != nil {
		t.Fatalf("buildParquet() error = %v", err)
	}
	store := &memoryStore{objects: map[string][]byte{"pool/train/examples.parquet": parquetBytes}}

	result, err := NewEngine(store).Execute(context.Background(), query.Request{
		SQL:      "SELECT idx FROM examples ORDER BY idx;",
		RowLimit: 2,
		Files:    []query.TableFile{{TableName: "examples", ObjectPath: "pool/train/examples.parquet"}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
}

func TestExecuteValidatesRequest(t *testing.T) {
	engine := NewEngine(&memoryStore{})
	if _, err := engine.Execute(context.Background(), query.Request{SQL: " ; "}); err == nil {
		t.Fatal("expected error for empty sql")
	}
	if _, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT 1"}); err == nil {
		t.Fatal("expected error without files")
	}
}

func TestExecuteMissingObject(t *testing.T) {
	engine := NewEngine(&memoryStore{objects: map[string][]byte{}})
	_, err := engine.Execute(context.Background(), query.Request{
		SQL:   "SELECT * FROM examples",
		Files: []query.TableFile{{TableName: "examples", ObjectPath: "pool/dev/examples.parquet"}},
	})
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Execute() error = %v, want ErrObjectNotFound", err)
	}
}

func buildParquet(rows []exampleRow) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[exampleRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Put(context.Context, string, io.Reader, int64, storage.PutOptions) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (m *memoryStore) Delete(context.Context, string) error {
	return nil
}
