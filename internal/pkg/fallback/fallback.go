// Package fallback runs ordered alternatives and keeps the first success.
package fallback

import (
	"context"
	"errors"
	"fmt"
)

// DefaultSource is reported when no step succeeded and the default value was used.
const DefaultSource = "default"

// Step is one alternative of a chain.
type Step[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Result is the outcome of a chain. Err joins the errors of every step that
// ran and failed, so it can be non-nil even when a later step succeeded.
type Result[T any] struct {
	Value  T
	Source string
	Err    error
}

// Defaulted reports whether every step failed.
func (r Result[T]) Defaulted() bool {
	return r.Source == DefaultSource
}

// Chain runs steps in order and returns the value of the first one that
// succeeds. A cancelled context stops the chain and yields the default.
func Chain[T any](ctx context.Context, def T, steps ...Step[T]) Result[T] {
	var errs []error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		v, err := step.Run(ctx)
		if err == nil {
			return Result[T]{Value: v, Source: step.Name, Err: errors.Join(errs...)}
		}
		errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
	}
	return Result[T]{Value: def, Source: DefaultSource, Err: errors.Join(errs...)}
}

// Func adapts a plain function into a named step.
func Func[T any](name string, fn func(ctx context.Context) (T, error)) Step[T] {
	return Step[T]{Name: name, Run: fn}
}

// Value is a step that always succeeds with v.
func Value[T any](name string, v T) Step[T] {
	return Step[T]{Name: name, Run: func(context.Context) (T, error) { return v, nil }}
}
