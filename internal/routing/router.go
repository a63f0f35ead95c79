package routing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/agentsql/agentsql/internal/demonstration"
)

const (
	DefaultTopHits = 20
	questionField  = "question"
)

var ErrNoRoute = errors.New("no database matches the question")

type Router interface {
	Route(ctx context.Context, question string) (string, error)
}

type StaticRouter struct {
	DBID string
}

func (r StaticRouter) Route(context.Context, string) (string, error) {
	if strings.TrimSpace(r.DBID) == "" {
		return "", ErrNoRoute
	}
	return r.DBID, nil
}

type questionDocument struct {
	Question string `json:"question"`
}

type BleveRouter struct {
	index   bleve.Index
	dbIDs   map[string]string
	topHits int
}

func NewBleveRouter(pool *demonstration.Pool, topHits int) (*BleveRouter, error) {
	if pool == nil || pool.Len() == 0 {
		return nil, fmt.Errorf("pool is required")
	}
	if topHits <= 0 {
		topHits = DefaultTopHits
	}

	dbIDs := make(map[string]string, pool.Len())
	questions := make(map[string]string, pool.Len())
	for _, ex := range pool.Examples() {
		id := strconv.Itoa(ex.Idx)
		dbIDs[id] = ex.DBID
		questions[id] = ex.Question
	}
	index, err := newQuestionIndex(questions)
	if err != nil {
		return nil, err
	}

	return &BleveRouter{index: index, dbIDs: dbIDs, topHits: topHits}, nil
}

func newQuestionIndex(questions map[string]string) (bleve.Index, error) {
	index, err := bleve.NewMemOnly(newIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create question index: %w", err)
	}
	batch := index.NewBatch()
	for id, question := range questions {
		if err := batch.Index(id, questionDocument{Question: question}); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("index question %s: %w", id, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("index questions: %w", err)
	}
	return index, nil
}

func searchQuestions(ctx context.Context, index bleve.Index, question string, size int) (*bleve.SearchResult, error) {
	matchQuery := bleve.NewMatchQuery(question)
	matchQuery.SetField(questionField)
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = size
	return index.SearchInContext(ctx, req)
}

func newIndexMapping() mapping.IndexMapping {
	questionMapping := bleve.NewTextFieldMapping()
	questionMapping.Store = false
	questionMapping.IncludeTermVectors = false

	document := bleve.NewDocumentMapping()
	document.AddFieldMappingsAt(questionField, questionMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = document
	return indexMapping
}

// Ties go to the lexicographically smallest db_id.
func (r *BleveRouter) Route(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("question is required")
	}

	result, err := searchQuestions(ctx, r.index, question, r.topHits)
	if err != nil {
		return "", fmt.Errorf("search routing index: %w", err)
	}

	votes := map[string]float64{}
	for _, hit := range result.Hits {
		if dbID, ok := r.dbIDs[hit.ID]; ok {
			votes[dbID] += hit.Score
		}
	}

	best := ""
	bestScore := 0.0
	for dbID, score := range votes {
		if best == "" || score > bestScore || (score == bestScore && dbID < best) {
			best, bestScore = dbID, score
		}
	}
	if best == "" {
		return "", ErrNoRoute
	}
	return best, nil
}

func (r *BleveRouter) Close() error {
	return r.index.Close()
}
