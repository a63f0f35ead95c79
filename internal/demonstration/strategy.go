package demonstration

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
)

const (
	StrategyFirstK  = "first_k"
	StrategyRandom  = "random"
	StrategyJaccard = "jaccard"

	DefaultSeed int64 = 1234
)

type Strategy interface {
	Name() string
	Rank(qc QueryContext, k int) ([]int, error)
}

type FirstK struct {
	pool *Pool
}

func NewFirstK(pool *Pool) *FirstK {
	return &FirstK{pool: pool}
}

func (s *FirstK) Name() string { return StrategyFirstK }

func (s *FirstK) Score(_ QueryContext, ex Example) (float64, error) {
	pos, ok := s.pool.byIdx[ex.Idx]
	if !ok {
		return 0, fmt.Errorf("example idx %d is not in the pool", ex.Idx)
	}
	return -float64(pos), nil
}

func (s *FirstK) Rank(_ QueryContext, k int) ([]int, error) {
	if err := validateCount(k, s.pool.Len()); err != nil {
		return nil, err
	}
	positions := make([]int, k)
	for i := range positions {
		positions[i] = i
	}
	return positions, nil
}

type Random struct {
	pool *Pool
	seed int64
	rng  *rand.Rand
}

func NewRandom(pool *Pool, seed int64) *Random {
	r := &Random{pool: pool, seed: seed}
	r.Reset()
	return r
}

func (s *Random) Name() string { return StrategyRandom }

func (s *Random) Seed() int64 { return s.seed }

func (s *Random) Reset() {
	s.rng = rand.New(rand.NewPCG(uint64(s.seed), uint64(s.seed)^0x9e3779b97f4a7c15))
}

func (s *Random) Reseed(seed int64) {
	s.seed = seed
	s.Reset()
}

func (s *Random) Rank(_ QueryContext, k int) ([]int, error) {
	n := s.pool.Len()
	if err := validateCount(k, n); err != nil {
		return nil, err
	}
	positions := make([]int, n)
	for i := range positions {
		positions[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + s.rng.IntN(n-i)
		positions[i], positions[j] = positions[j], positions[i]
	}
	return positions[:k:k], nil
}

type Jaccard struct {
	pool *Pool
	sets []tokenSet
}

func NewJaccard(pool *Pool) *Jaccard {
	var tokenizer Tokenizer
	sets := make([]tokenSet, pool.Len())
	for pos := range sets {
		ex := pool.At(pos)
		tokens := ex.QuestionTokens
		if tokens == nil {
			if tokenizer == nil {
				tokenizer = NewWordTokenizer()
			}
			tokens = tokenizer.Tokenize(ex.Question)
		}
		sets[pos] = newTokenSet(tokens)
	}
	return &Jaccard{pool: pool, sets: sets}
}

func (s *Jaccard) Name() string { return StrategyJaccard }

func (s *Jaccard) Score(qc QueryContext, ex Example) (float64, error) {
	return JaccardScorer{}.Score(qc, ex)
}

func (s *Jaccard) Rank(qc QueryContext, k int) ([]int, error) {
	if err := validateCount(k, s.pool.Len()); err != nil {
		return nil, err
	}
	if qc.QuestionTokens == nil {
		return nil, &InvalidInputError{Field: "question_tokens"}
	}
	query := newTokenSet(qc.QuestionTokens)
	scores := make([]float64, len(s.sets))
	for pos, set := range s.sets {
		scores[pos] = jaccard(query, set)
	}
	return topK(s.pool, scores, k), nil
}

type scoredStrategy struct {
	name   string
	pool   *Pool
	scorer Scorer
}

func NewScoredStrategy(name string, pool *Pool, scorer Scorer) Strategy {
	return &scoredStrategy{name: name, pool: pool, scorer: scorer}
}

func (s *scoredStrategy) Name() string { return s.name }

func (s *scoredStrategy) Rank(qc QueryContext, k int) ([]int, error) {
	if err := validateCount(k, s.pool.Len()); err != nil {
		return nil, err
	}
	scores := make([]float64, s.pool.Len())
	for pos := range scores {
		score, err := s.scorer.Score(qc, s.pool.At(pos))
		if err != nil {
			return nil, fmt.Errorf("score example %d: %w", s.pool.At(pos).Idx, err)
		}
		scores[pos] = score
	}
	return topK(s.pool, scores, k), nil
}

// topK orders by descending score, then ascending example idx.
func topK(pool *Pool, scores []float64, k int) []int {
	positions := make([]int, len(scores))
	for i := range positions {
		positions[i] = i
	}
	slices.SortFunc(positions, func(a, b int) int {
		if c := cmp.Compare(scores[b], scores[a]); c != 0 {
			return c
		}
		return cmp.Compare(pool.At(a).Idx, pool.At(b).Idx)
	})
	return positions[:k:k]
}
