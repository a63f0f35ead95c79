package demonstration

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestSelectorJaccardSingerScenario(t *testing.T) {
	pool := singerPool(t)
	selector := NewSelector(pool, NewJaccard(pool))
	qc := QueryContext{
		Question:       "How many singers are there?",
		QuestionTokens: NewWordTokenizer().Tokenize("How many singers are there?"),
	}

	indices, err := selector.SelectIndices(qc, 2)
	if err != nil {
		t.Fatalf("SelectIndices() error = %v", err)
	}
	if !slices.Equal(indices, []int{0, 2}) {
		t.Fatalf("SelectIndices() = %v, want [0 2]", indices)
	}

	examples, err := selector.Select(qc, 2)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if examples[0].Query != "SELECT COUNT(*) FROM singer" || examples[1].Idx != 2 {
		t.Fatalf("Select() = %+v", examples)
	}
}

func TestSelectorIsDeterministic(t *testing.T) {
	pool := numberedPool(t, 30)
	selector := NewSelector(pool, NewJaccard(pool))
	qc := QueryContext{QuestionTokens: []string{"question", "12"}}

	first, err := selector.SelectIndices(qc, 5)
	if err != nil {
		t.Fatalf("SelectIndices() error = %v", err)
	}
	second, err := selector.SelectIndices(qc, 5)
	if err != nil {
		t.Fatalf("SelectIndices() error = %v", err)
	}
	if !slices.Equal(first, second) {
		t.Fatalf("results differ: %v vs %v", first, second)
	}
	if first[0] != 12 {
		t.Fatalf("first = %d, want 12", first[0])
	}
}

func TestSelectorReturnsExactlyKDistinct(t *testing.T) {
	const n = 12
	pool := numberedPool(t, n)
	strategies := []Strategy{NewFirstK(pool), NewRandom(pool, DefaultSeed), NewJaccard(pool)}
	qc := QueryContext{QuestionTokens: []string{"question", "3"}}

	for _, strategy := range strategies {
		selector := NewSelector(pool, strategy)
		for k := 1; k <= n; k++ {
			indices, err := selector.SelectIndices(qc, k)
			if err != nil {
				t.Fatalf("%s SelectIndices(k=%d) error = %v", strategy.Name(), k, err)
			}
			if len(indices) != k {
				t.Fatalf("%s k=%d returned %d items", strategy.Name(), k, len(indices))
			}
			seen := map[int]struct{}{}
			for _, idx := range indices {
				if _, dup := seen[idx]; dup {
					t.Fatalf("%s k=%d duplicate idx %d in %v", strategy.Name(), k, idx, indices)
				}
				seen[idx] = struct{}{}
			}
		}
	}
}

func TestSelectorRejectsOutOfBoundsK(t *testing.T) {
	pool := singerPool(t)
	selector := NewSelector(pool, NewFirstK(pool))
	for _, k := range []int{0, -1, 4} {
		_, err := selector.Select(QueryContext{QuestionTokens: []string{}}, k)
		var argErr *InvalidArgumentError
		if !errors.As(err, &argErr) {
			t.Fatalf("Select(k=%d) error = %v, want InvalidArgumentError", k, err)
		}
		if argErr.Name != "num_demonstrations" || argErr.Value != k || argErr.Max != 3 {
			t.Fatalf("unexpected error fields: %+v", argErr)
		}
	}
}

func TestFactoryUnknownStrategy(t *testing.T) {
	factory := NewFactory(singerPool(t), DefaultSeed)
	_, err := factory.New("struct")
	var unknown *UnknownStrategyError
	if !errors.As(err, &unknown) {
		t.Fatalf("New() error = %v, want UnknownStrategyError", err)
	}
	if unknown.Name != "struct" {
		t.Fatalf("Name = %q", unknown.Name)
	}
	if !slices.Equal(unknown.Known, []string{StrategyFirstK, StrategyJaccard, StrategyRandom}) {
		t.Fatalf("Known = %v", unknown.Known)
	}
}

func TestFactoryRegisterExtension(t *testing.T) {
	pool := singerPool(t)
	factory := NewFactory(pool, DefaultSeed)
	factory.Register("hardness", func(pool *Pool, _ int64) (Strategy, error) {
		return NewScoredStrategy("hardness", pool, ScorerFunc(func(_ QueryContext, ex Example) (float64, error) {
			return float64(len(ex.Query)), nil
		})), nil
	})

	strategy, err := factory.New("hardness")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	indices, err := NewSelector(pool, strategy).SelectIndices(QueryContext{}, 1)
	if err != nil {
		t.Fatalf("SelectIndices() error = %v", err)
	}
	if !slices.Equal(indices, []int{0}) {
		t.Fatalf("SelectIndices() = %v, want [0]", indices)
	}
}

func TestJaccardTokenizesPoolQuestionsWithoutTokens(t *testing.T) {
	examples := singerPool(t).Examples()
	for i := range examples {
		examples[i].QuestionTokens = nil
	}
	pool, err := NewPool(examples)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	agent := NewAgent(NewFactory(pool, DefaultSeed), nil, nil)

	indices, err := agent.SelectIndices(context.Background(), "How many singers are there?", StrategyJaccard, 2)
	if err != nil {
		t.Fatalf("SelectIndices() error = %v", err)
	}
	if !slices.Equal(indices, []int{0, 2}) {
		t.Fatalf("SelectIndices() = %v, want [0 2]", indices)
	}
}
