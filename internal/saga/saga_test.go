package saga

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/avoronin/potledger/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trace records do/undo calls in order so tests can assert the protocol.
type trace struct {
	events []string
}

func (tr *trace) step(name string, doErr, undoErr error) Step {
	return Step{
		Name: name,
		Do: func() error {
			if doErr != nil {
				return doErr
			}
			tr.events = append(tr.events, "do:"+name)
			return nil
		},
		Undo: func() error {
			tr.events = append(tr.events, "undo:"+name)
			return undoErr
		},
	}
}

func TestRun_CommitsAllSteps(t *testing.T) {
	tr := &trace{}
	c := NewCoordinator(nil)

	err := c.Run(context.Background(), Operation{
		Name:     "record_sale",
		Validate: func() error { return nil },
		Steps: []Step{
			tr.step("insert_sale", nil, nil),
			tr.step("deduct_stock", nil, nil),
			tr.step("post_entries", nil, nil),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"do:insert_sale", "do:deduct_stock", "do:post_entries"}, tr.events)
}

func TestRun_ValidateFailureHasZeroSideEffects(t *testing.T) {
	tr := &trace{}
	c := NewCoordinator(nil)

	err := c.Run(context.Background(), Operation{
		Name:     "record_sale",
		Validate: func() error { return errors.New("insufficient stock") },
		Steps:    []Step{tr.step("insert_sale", nil, nil)},
	})
	assert.ErrorIs(t, err, common.ErrPreconditionFailed)
	assert.Empty(t, tr.events)
}

func TestRun_ValidateErrorAlreadyTyped(t *testing.T) {
	c := NewCoordinator(nil)
	orig := fmt.Errorf("stock 4 < 10: %w", common.ErrPreconditionFailed)

	err := c.Run(context.Background(), Operation{
		Name:     "op",
		Validate: func() error { return orig },
	})
	assert.Equal(t, orig, err, "typed validation errors pass through unwrapped")
}

func TestRun_FailureCompensatesInReverseOrder(t *testing.T) {
	tr := &trace{}
	c := NewCoordinator(nil)
	boom := errors.New("disk full")

	err := c.Run(context.Background(), Operation{
		Name: "record_sale",
		Steps: []Step{
			tr.step("insert_sale", nil, nil),
			tr.step("deduct_stock", nil, nil),
			tr.step("post_entries", boom, nil),
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrPostingFailed)
	assert.ErrorIs(t, err, boom, "original cause stays in the chain")
	assert.Equal(t, []string{
		"do:insert_sale",
		"do:deduct_stock",
		"undo:deduct_stock",
		"undo:insert_sale",
	}, tr.events)
}

func TestRun_FailureAtEveryPosition(t *testing.T) {
	boom := errors.New("boom")
	for k := 0; k < 3; k++ {
		t.Run(fmt.Sprintf("fail_at_%d", k), func(t *testing.T) {
			tr := &trace{}
			c := NewCoordinator(nil)

			steps := make([]Step, 3)
			for i := range steps {
				var doErr error
				if i == k {
					doErr = boom
				}
				steps[i] = tr.step(fmt.Sprintf("s%d", i), doErr, nil)
			}

			err := c.Run(context.Background(), Operation{Name: "op", Steps: steps})
			assert.ErrorIs(t, err, common.ErrPostingFailed)

			// k dos followed by k undos in reverse
			want := make([]string, 0, 2*k)
			for i := 0; i < k; i++ {
				want = append(want, fmt.Sprintf("do:s%d", i))
			}
			for i := k - 1; i >= 0; i-- {
				want = append(want, fmt.Sprintf("undo:s%d", i))
			}
			if len(want) == 0 {
				assert.Empty(t, tr.events)
			} else {
				assert.Equal(t, want, tr.events)
			}
		})
	}
}

func TestRun_UndoErrorsAreSwallowed(t *testing.T) {
	tr := &trace{}
	c := NewCoordinator(nil)
	boom := errors.New("step error")

	err := c.Run(context.Background(), Operation{
		Name: "op",
		Steps: []Step{
			tr.step("a", nil, errors.New("undo of a failed")),
			tr.step("b", nil, nil),
			tr.step("c", boom, nil),
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom, "the original error is surfaced, not the undo error")
	assert.Equal(t, []string{"do:a", "do:b", "undo:b", "undo:a"}, tr.events,
		"a failing undo must not stop earlier undos")
}

func TestRun_NilUndoSkipped(t *testing.T) {
	calls := 0
	c := NewCoordinator(nil)

	err := c.Run(context.Background(), Operation{
		Name: "op",
		Steps: []Step{
			{Name: "read_touch", Do: func() error { calls++; return nil }},
			{Name: "fail", Do: func() error { return errors.New("x") }},
		},
	})
	assert.ErrorIs(t, err, common.ErrPostingFailed)
	assert.Equal(t, 1, calls)
}
