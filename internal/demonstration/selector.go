package demonstration

import "fmt"

type Selector struct {
	pool     *Pool
	strategy Strategy
}

func NewSelector(pool *Pool, strategy Strategy) *Selector {
	return &Selector{pool: pool, strategy: strategy}
}

func (s *Selector) Strategy() Strategy {
	return s.strategy
}

func (s *Selector) Select(qc QueryContext, k int) ([]Example, error) {
	positions, err := s.rank(qc, k)
	if err != nil {
		return nil, err
	}
	out := make([]Example, len(positions))
	for i, pos := range positions {
		out[i] = s.pool.At(pos)
	}
	return out, nil
}

func (s *Selector) SelectIndices(qc QueryContext, k int) ([]int, error) {
	positions, err := s.rank(qc, k)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(positions))
	for i, pos := range positions {
		out[i] = s.pool.At(pos).Idx
	}
	return out, nil
}

func (s *Selector) rank(qc QueryContext, k int) ([]int, error) {
	if err := validateCount(k, s.pool.Len()); err != nil {
		return nil, err
	}
	positions, err := s.strategy.Rank(qc, k)
	if err != nil {
		return nil, err
	}
	if len(positions) != k {
		return nil, fmt.Errorf("strategy %s returned %d demonstrations, want %d", s.strategy.Name(), len(positions), k)
	}
	return positions, nil
}
