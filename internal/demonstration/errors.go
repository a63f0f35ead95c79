package demonstration

import (
	"fmt"
	"strings"
)

type InvalidArgumentError struct {
	Name  string
	Value int
	Min   int
	Max   int
}

func (e *InvalidArgumentError) Error() string {
	if e.Value < e.Min {
		return fmt.Sprintf("invalid %s %d: must be >= %d", e.Name, e.Value, e.Min)
	}
	return fmt.Sprintf("invalid %s %d: must be <= pool size %d", e.Name, e.Value, e.Max)
}

type UnknownStrategyError struct {
	Name  string
	Known []string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown demonstration strategy %q (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

type InvalidInputError struct {
	Field string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid query context: missing %s", e.Field)
}

func validateCount(k, poolSize int) error {
	if k < 1 || k > poolSize {
		return &InvalidArgumentError{Name: "num_demonstrations", Value: k, Min: 1, Max: poolSize}
	}
	return nil
}
