package demonstration

import (
	"fmt"
	"sort"
	"strings"
)

type Constructor func(pool *Pool, seed int64) (Strategy, error)

// Register is not safe for concurrent use.
type Factory struct {
	pool         *Pool
	seed         int64
	constructors map[string]Constructor
}

func NewFactory(pool *Pool, seed int64) *Factory {
	f := &Factory{pool: pool, seed: seed, constructors: map[string]Constructor{}}
	f.Register(StrategyFirstK, func(pool *Pool, _ int64) (Strategy, error) {
		return NewFirstK(pool), nil
	})
	f.Register(StrategyRandom, func(pool *Pool, seed int64) (Strategy, error) {
		return NewRandom(pool, seed), nil
	})
	f.Register(StrategyJaccard, func(pool *Pool, _ int64) (Strategy, error) {
		return NewJaccard(pool), nil
	})
	return f
}

func (f *Factory) Register(name string, constructor Constructor) {
	f.constructors[strings.TrimSpace(name)] = constructor
}

func (f *Factory) Pool() *Pool {
	return f.pool
}

func (f *Factory) Names() []string {
	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Factory) New(name string) (Strategy, error) {
	constructor, ok := f.constructors[strings.TrimSpace(name)]
	if !ok {
		return nil, &UnknownStrategyError{Name: name, Known: f.Names()}
	}
	strategy, err := constructor(f.pool, f.seed)
	if err != nil {
		return nil, fmt.Errorf("build strategy %q: %w", name, err)
	}
	return strategy, nil
}
