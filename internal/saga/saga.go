// Package saga implements the posting coordinator: every compound business
// operation runs as an ordered list of steps with explicit inverse actions,
// approximating all-or-nothing semantics on a store without transactions.
package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/avoronin/potledger/internal/common"
	"github.com/avoronin/potledger/internal/logging"
	"github.com/google/uuid"
)

// Step is one posting action paired with its exact inverse. Undo may be nil
// for steps that need no compensation (pure re-reads, idempotent touches).
type Step struct {
	Name string
	Do   func() error
	Undo func() error
}

// Operation is a compound posting: a read-only precondition check followed
// by an ordered step list.
type Operation struct {
	Name string

	// Validate must use reads only. Any error aborts the run with zero
	// side effects and is surfaced as common.ErrPreconditionFailed.
	Validate func() error

	Steps []Step
}

// Coordinator runs operations through the validate → post → compensate
// protocol. A run that enters the posting phase always finishes it: either
// every step commits, or the undo stack is replayed in reverse before the
// original error is surfaced.
type Coordinator struct {
	log logging.Logger
}

func NewCoordinator(log logging.Logger) *Coordinator {
	if log == nil {
		log = logging.NewNop()
	}
	return &Coordinator{log: log.With("component", "saga")}
}

// Run executes op. On success the operation is committed and the error is
// nil. A validation failure returns common.ErrPreconditionFailed with no
// writes performed. A step failure returns common.ErrPostingFailed
// wrapping the step's error, after compensation has completed; errors
// raised by undo actions themselves are logged and suppressed so they
// cannot mask the original cause.
//
// ctx is used for logging only: once posting starts the run is not
// cancellable, and callers that give up early must still let compensation
// finish.
func (c *Coordinator) Run(ctx context.Context, op Operation) error {
	log := c.log.With("op", op.Name, "run_id", uuid.NewString())

	if op.Validate != nil {
		if err := op.Validate(); err != nil {
			if !errors.Is(err, common.ErrPreconditionFailed) {
				err = fmt.Errorf("%w: %w", common.ErrPreconditionFailed, err)
			}
			log.Info(ctx, "operation aborted", "error", err)
			return err
		}
	}

	undo := make([]Step, 0, len(op.Steps))
	for _, step := range op.Steps {
		if err := step.Do(); err != nil {
			log.Error(ctx, "step failed, compensating",
				"step", step.Name, "completed", len(undo), "error", err)
			c.compensate(ctx, log, undo)
			return fmt.Errorf("step %q: %w: %w", step.Name, common.ErrPostingFailed, err)
		}
		if step.Undo != nil {
			undo = append(undo, step)
		}
	}

	log.Info(ctx, "operation committed", "steps", len(op.Steps))
	return nil
}

// compensate replays the undo stack in strict reverse order. Failures are
// logged and swallowed; the state is being best-effort repaired and the
// caller must receive the original error.
func (c *Coordinator) compensate(ctx context.Context, log logging.Logger, undo []Step) {
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i].Undo(); err != nil {
			log.Error(ctx, "compensation step failed",
				"step", undo[i].Name, "error", err)
		}
	}
}
