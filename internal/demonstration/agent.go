package demonstration

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentsql/agentsql/internal/observability"
)

type Agent struct {
	factory   *Factory
	tokenizer Tokenizer
	logger    *slog.Logger

	mu     sync.Mutex
	active Strategy
}

func NewAgent(factory *Factory, tokenizer Tokenizer, logger *slog.Logger) *Agent {
	if tokenizer == nil {
		tokenizer = NewWordTokenizer()
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Agent{
		factory:   factory,
		tokenizer: tokenizer,
		logger:    logger,
	}
}

func (a *Agent) Pool() *Pool {
	return a.factory.Pool()
}

func (a *Agent) Select(ctx context.Context, question, strategyName string, k int) ([]Pair, error) {
	examples, err := a.SelectExamples(ctx, question, strategyName, k)
	if err != nil {
		return nil, err
	}
	return PairsFromExamples(examples), nil
}

func (a *Agent) SelectExamples(ctx context.Context, question, strategyName string, k int) ([]Example, error) {
	var out []Example
	err := a.run(ctx, question, strategyName, k, func(selector *Selector, qc QueryContext) error {
		selected, err := selector.Select(qc, k)
		out = selected
		return err
	})
	return out, err
}

func (a *Agent) SelectIndices(ctx context.Context, question, strategyName string, k int) ([]int, error) {
	var out []int
	err := a.run(ctx, question, strategyName, k, func(selector *Selector, qc QueryContext) error {
		selected, err := selector.SelectIndices(qc, k)
		out = selected
		return err
	})
	return out, err
}

func (a *Agent) ActiveStrategy() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return ""
	}
	return a.active.Name()
}

func (a *Agent) ResetRandom() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	random, ok := a.active.(*Random)
	if !ok {
		return false
	}
	random.Reset()
	return true
}

func (a *Agent) ReseedRandom(seed int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	random, ok := a.active.(*Random)
	if !ok {
		return false
	}
	random.Reseed(seed)
	return true
}

func (a *Agent) run(ctx context.Context, question, strategyName string, k int, selectFn func(*Selector, QueryContext) error) error {
	start := time.Now()
	strategyName = strings.TrimSpace(strategyName)
	qc := QueryContext{Question: question, QuestionTokens: a.tokenizer.Tokenize(question)}

	a.mu.Lock()
	err := a.ensureStrategyLocked(strategyName)
	if err == nil {
		err = selectFn(NewSelector(a.factory.Pool(), a.active), qc)
	}
	a.mu.Unlock()

	elapsed := time.Since(start)
	label := strategyName
	var unknown *UnknownStrategyError
	if errors.As(err, &unknown) {
		label = observability.UnknownStrategyLabel
	}
	observability.ObserveDemonstrationSelection(label, k, elapsed, err)
	if err != nil {
		a.logger.WarnContext(ctx, "demonstration_selection_failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("strategy", strategyName),
			slog.Int("k", k),
			slog.String("error", err.Error()),
		)
		return err
	}
	a.logger.DebugContext(ctx, "demonstrations_selected",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("strategy", strategyName),
		slog.Int("k", k),
		slog.Int("question_tokens", len(qc.QuestionTokens)),
		slog.String("duration", elapsed.String()),
	)
	return nil
}

func (a *Agent) ensureStrategyLocked(name string) error {
	if a.active != nil && a.active.Name() == name {
		return nil
	}
	strategy, err := a.factory.New(name)
	if err != nil {
		return err
	}
	if a.active != nil {
		a.logger.Debug("demonstration_strategy_switched",
			slog.String("from", a.active.Name()),
			slog.String("to", name),
		)
	}
	a.active = strategy
	return nil
}
