package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Transaction runs a sequence of steps across stores that share no database
// transaction. When a step fails, the compensations of the steps that already
// ran are applied in reverse order.
type Transaction struct {
	steps []txStep
	log   *slog.Logger
}

type txStep struct {
	name       string
	fn         func(context.Context) error
	compensate func(context.Context) error
}

func NewTransaction(log *slog.Logger) *Transaction {
	if log == nil {
		log = slog.Default()
	}
	return &Transaction{log: log}
}

// AddStep appends a step. compensate may be nil for steps with nothing to
// undo.
func (t *Transaction) AddStep(name string, fn, compensate func(context.Context) error) {
	t.steps = append(t.steps, txStep{name: name, fn: fn, compensate: compensate})
}

func (t *Transaction) Len() int {
	return len(t.steps)
}

func (t *Transaction) Execute(ctx context.Context) error {
	for i, step := range t.steps {
		if err := step.fn(ctx); err != nil {
			rbErr := t.rollback(ctx, i)
			if rbErr != nil {
				return fmt.Errorf("step %q failed: %w (rollback incomplete: %v)", step.name, err, rbErr)
			}
			return fmt.Errorf("step %q failed: %w (rolled back %d steps)", step.name, err, i)
		}
	}
	return nil
}

// rollback compensates steps [0, failedAt) and returns every compensation
// error joined. Compensation keeps going past individual failures.
func (t *Transaction) rollback(ctx context.Context, failedAt int) error {
	var errs []error
	for i := failedAt - 1; i >= 0; i-- {
		step := t.steps[i]
		if step.compensate == nil {
			continue
		}
		if err := step.compensate(context.WithoutCancel(ctx)); err != nil {
			t.log.Error("transaction.compensation_failed", "step", step.name, "err", err)
			errs = append(errs, fmt.Errorf("compensate %q: %w", step.name, err))
		}
	}
	return errors.Join(errs...)
}
