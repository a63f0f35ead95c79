package demonstration

import (
	"fmt"
	"slices"
)

type Example struct {
	Idx            int      `json:"idx"`
	DBID           string   `json:"db_id"`
	Question       string   `json:"question"`
	QuestionTokens []string `json:"question_toks"`
	Query          string   `json:"query"`
}

type Pool struct {
	examples []Example
	byIdx    map[int]int
}

func NewPool(examples []Example) (*Pool, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("example pool is empty")
	}
	copied := make([]Example, len(examples))
	byIdx := make(map[int]int, len(examples))
	for pos, ex := range examples {
		if _, dup := byIdx[ex.Idx]; dup {
			return nil, fmt.Errorf("duplicate example idx %d", ex.Idx)
		}
		ex.QuestionTokens = slices.Clone(ex.QuestionTokens)
		copied[pos] = ex
		byIdx[ex.Idx] = pos
	}
	return &Pool{examples: copied, byIdx: byIdx}, nil
}

func (p *Pool) Len() int {
	return len(p.examples)
}

func (p *Pool) At(pos int) Example {
	return p.examples[pos]
}

func (p *Pool) ByIdx(idx int) (Example, bool) {
	pos, ok := p.byIdx[idx]
	if !ok {
		return Example{}, false
	}
	return p.examples[pos], true
}

func (p *Pool) Examples() []Example {
	out := make([]Example, len(p.examples))
	copy(out, p.examples)
	return out
}
