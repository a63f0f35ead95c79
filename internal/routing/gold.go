package routing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"

	"github.com/agentsql/agentsql/internal/demonstration"
)

const goldTopHits = 10

var ErrNoGoldSQL = errors.New("no dataset question matches")

type goldPair struct {
	question string
	query    string
}

type GoldSQLRetriever struct {
	index bleve.Index
	pairs []goldPair
}

// A repeated question keeps its first position and takes the last query seen.
func NewGoldSQLRetriever(examples []demonstration.Example) (*GoldSQLRetriever, error) {
	positions := map[string]int{}
	var pairs []goldPair
	for _, ex := range examples {
		if strings.TrimSpace(ex.Question) == "" {
			continue
		}
		if pos, ok := positions[ex.Question]; ok {
			pairs[pos].query = ex.Query
			continue
		}
		positions[ex.Question] = len(pairs)
		pairs = append(pairs, goldPair{question: ex.Question, query: ex.Query})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("examples are required")
	}

	questions := make(map[string]string, len(pairs))
	for pos, pair := range pairs {
		questions[strconv.Itoa(pos)] = pair.question
	}
	index, err := newQuestionIndex(questions)
	if err != nil {
		return nil, err
	}
	return &GoldSQLRetriever{index: index, pairs: pairs}, nil
}

func (r *GoldSQLRetriever) Len() int {
	return len(r.pairs)
}

func (r *GoldSQLRetriever) Retrieve(ctx context.Context, question string) (sql, matchedQuestion string, err error) {
	if strings.TrimSpace(question) == "" {
		return "", "", fmt.Errorf("question is required")
	}
	result, err := searchQuestions(ctx, r.index, question, goldTopHits)
	if err != nil {
		return "", "", fmt.Errorf("search gold questions: %w", err)
	}

	best, bestScore := -1, 0.0
	for _, hit := range result.Hits {
		pos, err := strconv.Atoi(hit.ID)
		if err != nil || pos < 0 || pos >= len(r.pairs) {
			continue
		}
		if best < 0 || hit.Score > bestScore || (hit.Score == bestScore && pos < best) {
			best, bestScore = pos, hit.Score
		}
	}
	if best < 0 {
		return "", "", ErrNoGoldSQL
	}
	return r.pairs[best].query, r.pairs[best].question, nil
}

func (r *GoldSQLRetriever) Close() error {
	return r.index.Close()
}
