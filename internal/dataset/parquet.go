package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/agentsql/agentsql/internal/demonstration"
	"github.com/agentsql/agentsql/internal/storage"
)

const PoolTable = "examples"

type poolRow struct {
	Idx            int64    `parquet:"idx"`
	DBID           string   `parquet:"db_id"`
	Question       string   `parquet:"question"`
	QuestionTokens []string `parquet:"question_toks,list"`
	Query          string   `parquet:"query"`
}

func WritePoolParquet(w io.Writer, examples []demonstration.Example) (int64, error) {
	if len(examples) == 0 {
		return 0, fmt.Errorf("examples are required")
	}
	rows := make([]poolRow, 0, len(examples))
	for _, ex := range examples {
		rows = append(rows, poolRow{
			Idx:            int64(ex.Idx),
			DBID:           ex.DBID,
			Question:       ex.Question,
			QuestionTokens: ex.QuestionTokens,
			Query:          ex.Query,
		})
	}

	writer := parquet.NewGenericWriter[poolRow](w)
	if _, err := writer.Write(rows); err != nil {
		return 0, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close parquet writer: %w", err)
	}
	return int64(len(rows)), nil
}

func ReadPoolParquet(data []byte) ([]demonstration.Example, error) {
	reader := parquet.NewGenericReader[poolRow](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	rows := make([]poolRow, reader.NumRows())
	read := 0
	for read < len(rows) {
		n, err := reader.Read(rows[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}

	examples := make([]demonstration.Example, 0, read)
	for _, row := range rows[:read] {
		tokens := row.QuestionTokens
		if tokens == nil {
			tokens = []string{}
		}
		examples = append(examples, demonstration.Example{
			Idx:            int(row.Idx),
			DBID:           row.DBID,
			Question:       row.Question,
			QuestionTokens: tokens,
			Query:          row.Query,
		})
	}
	return examples, nil
}

func ExportPool(ctx context.Context, store storage.ObjectStore, key string, examples []demonstration.Example) (storage.ObjectInfo, error) {
	if store == nil {
		return storage.ObjectInfo{}, fmt.Errorf("object store is required")
	}
	buf := bytes.NewBuffer(nil)
	if _, err := WritePoolParquet(buf, examples); err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := storage.WriteObject(ctx, store, key, buf.Bytes(), "application/vnd.apache.parquet")
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload pool snapshot: %w", err)
	}
	if info.Size == 0 {
		info.Size = int64(buf.Len())
	}
	return info, nil
}

func ImportPool(ctx context.Context, store storage.ObjectStore, key string) ([]demonstration.Example, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	data, err := storage.ReadObject(ctx, store, key)
	if err != nil {
		return nil, fmt.Errorf("download pool snapshot: %w", err)
	}
	return ReadPoolParquet(data)
}
