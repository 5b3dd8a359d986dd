package packages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Step is one forward action of a Saga with the action that undoes it.
// Compensate may be nil for steps with nothing to undo.
type Step struct {
	Name       string
	Do         func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Saga runs steps in order. When a step fails, the completed steps are
// compensated in reverse order and the original error is returned.
type Saga struct {
	name   string
	steps  []Step
	logger *slog.Logger
}

// NewSaga creates a Saga named for logging.
func NewSaga(name string, logger *slog.Logger, steps ...Step) *Saga {
	if logger == nil {
		logger = slog.Default()
	}
	return &Saga{name: name, steps: steps, logger: logger}
}

// CompensationError reports compensations that failed while unwinding.
type CompensationError struct {
	Step string
	Err  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensate %s: %v", e.Step, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// Run executes the saga. The returned error wraps the failing step's error
// and, joined to it, any CompensationError raised while unwinding.
func (s *Saga) Run(ctx context.Context) error {
	for idx, step := range s.steps {
		err := step.Do(ctx)
		if err == nil {
			continue
		}
		s.logger.Warn("saga step failed, compensating", "saga", s.name, "step", step.Name, "error", err)
		errs := []error{err}
		// Compensations run even when ctx is already cancelled.
		cctx := context.WithoutCancel(ctx)
		for j := idx - 1; j >= 0; j-- {
			done := s.steps[j]
			if done.Compensate == nil {
				continue
			}
			if cerr := done.Compensate(cctx); cerr != nil {
				s.logger.Error("saga compensation failed", "saga", s.name, "step", done.Name, "error", cerr)
				errs = append(errs, &CompensationError{Step: done.Name, Err: cerr})
			}
		}
		if len(errs) == 1 {
			return err
		}
		return errors.Join(errs...)
	}
	return nil
}
