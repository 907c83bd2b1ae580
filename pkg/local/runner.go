package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/nemanja-m/wineml/pkg/core"
)

// ErrNotExecutor is returned by Serve on runners that only drive stages.
var ErrNotExecutor = errors.New("runner does not serve stages")

// Runner executes every stage in-process on a bounded goroutine pool.
type Runner struct {
	numPartitions int
	slots         int
	seq           core.StageSequence
}

func NewRunner(numPartitions, slots int) *Runner {
	if numPartitions <= 0 {
		numPartitions = 1
	}
	if slots <= 0 {
		slots = numPartitions
	}
	return &Runner{numPartitions: numPartitions, slots: slots}
}

func (r *Runner) IsDriver() bool {
	return true
}

func (r *Runner) NumPartitions() int {
	return r.numPartitions
}

func (r *Runner) Stage(name string) core.Stage {
	return &stage{id: r.seq.Next(name), runner: r}
}

type stage struct {
	id     string
	runner *Runner
}

func (s *stage) ID() string {
	return s.id
}

func (s *stage) Run(ctx context.Context, input []byte, fn core.PartitionFunc) ([][]byte, error) {
	return RunPartitions(ctx, s.runner.numPartitions, s.runner.slots, input, fn)
}

func (s *stage) Finish(ctx context.Context, result []byte) error {
	return nil
}

func (s *stage) Abort(ctx context.Context, cause error) error {
	return nil
}

func (s *stage) Serve(ctx context.Context, fn core.PartitionFunc) ([]byte, error) {
	return nil, ErrNotExecutor
}

// RunPartitions evaluates fn for every partition using at most slots
// goroutines. The first error in partition order is returned.
func RunPartitions(
	ctx context.Context,
	numPartitions int,
	slots int,
	input []byte,
	fn core.PartitionFunc,
) ([][]byte, error) {
	outputs := make([][]byte, numPartitions)
	errs := make([]error, numPartitions)

	pool := NewPool(ctx, min(slots, numPartitions))
	pool.Start()
	for partition := range numPartitions {
		accepted := pool.Submit(func(ctx context.Context) {
			outputs[partition], errs[partition] = fn(ctx, partition, numPartitions, input)
		})
		if !accepted {
			errs[partition] = ctx.Err()
		}
	}
	pool.Close()

	for partition, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("partition %d: %w", partition, err)
		}
	}
	return outputs, nil
}
