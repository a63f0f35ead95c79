package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agentsql/agentsql/internal/demonstration"
	"github.com/agentsql/agentsql/internal/query/sqlite"
)

const (
	SplitTrain = "train"
	SplitDev   = "dev"
	SplitTest  = "test"

	NameSpider  = "spider"
	NameWikiSQL = "wikisql"
)

type splitLayout struct {
	files       []string
	databaseDir string
}

var spiderLayout = map[string]splitLayout{
	SplitTrain: {files: []string{"train_spider_and_others.json", "train_spider.json"}, databaseDir: "database"},
	SplitDev:   {files: []string{"dev.json"}, databaseDir: "database"},
	SplitTest:  {files: []string{"test.json"}, databaseDir: "test_database"},
}

type record struct {
	DBID           string   `json:"db_id"`
	Question       string   `json:"question"`
	QuestionTokens []string `json:"question_toks"`
	Query          string   `json:"query"`
}

type Options struct {
	Name       string
	Retokenize bool
	Tokenizer  demonstration.Tokenizer
}

type Loader struct {
	name       string
	source     Source
	tokenizer  demonstration.Tokenizer
	retokenize bool
}

func NewLoader(source Source, opts Options) (*Loader, error) {
	if source == nil {
		return nil, fmt.Errorf("dataset source is required")
	}
	name := strings.ToLower(strings.TrimSpace(opts.Name))
	switch name {
	case "":
		name = NameSpider
	case NameSpider, NameWikiSQL:
	default:
		return nil, fmt.Errorf("unknown dataset %q", opts.Name)
	}
	tokenizer := opts.Tokenizer
	if tokenizer == nil {
		tokenizer = demonstration.NewWordTokenizer()
	}
	return &Loader{name: name, source: source, tokenizer: tokenizer, retokenize: opts.Retokenize}, nil
}

func (l *Loader) Name() string {
	return l.name
}

func (l *Loader) LoadSplit(ctx context.Context, split string) ([]demonstration.Example, error) {
	if !validSplit(split) {
		return nil, fmt.Errorf("unknown split %q", split)
	}
	if l.name == NameWikiSQL {
		return l.loadWikiSQL(ctx, split)
	}
	layout := spiderLayout[split]

	records, err := l.readRecords(ctx, layout.files)
	if err != nil {
		return nil, fmt.Errorf("load %s split: %w", split, err)
	}

	examples := make([]demonstration.Example, 0, len(records))
	for i, rec := range records {
		tokens := rec.QuestionTokens
		if l.retokenize || tokens == nil {
			tokens = l.tokenizer.Tokenize(rec.Question)
		}
		examples = append(examples, demonstration.Example{
			Idx:            i,
			DBID:           rec.DBID,
			Question:       rec.Question,
			QuestionTokens: tokens,
			Query:          rec.Query,
		})
	}
	return examples, nil
}

func (l *Loader) LoadPool(ctx context.Context, split string) (*demonstration.Pool, error) {
	examples, err := l.LoadSplit(ctx, split)
	if err != nil {
		return nil, err
	}
	return demonstration.NewPool(examples)
}

func (l *Loader) readRecords(ctx context.Context, candidates []string) ([]record, error) {
	var lastErr error
	for _, name := range candidates {
		reader, err := l.source.Open(ctx, name)
		if err != nil {
			if errors.Is(err, ErrFileNotFound) {
				lastErr = err
				continue
			}
			return nil, err
		}
		var records []record
		decodeErr := json.NewDecoder(reader).Decode(&records)
		_ = reader.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("decode %s: %w", name, decodeErr)
		}
		return records, nil
	}
	return nil, lastErr
}

func validSplit(split string) bool {
	switch split {
	case SplitTrain, SplitDev, SplitTest:
		return true
	}
	return false
}

func DatabaseDir(root, split string) (string, error) {
	layout, ok := spiderLayout[split]
	if !ok {
		return "", fmt.Errorf("unknown split %q", split)
	}
	return filepath.Join(root, layout.databaseDir), nil
}

func DatabasePath(root, split, dbID string) (string, error) {
	dir, err := DatabaseDir(root, split)
	if err != nil {
		return "", err
	}
	return sqlite.DatabasePath(dir, dbID)
}
