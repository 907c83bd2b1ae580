package service

import (
	"context"
	"errors"

	"github.com/nemanja-m/wineml/internal/worker/core"
	pkgcore "github.com/nemanja-m/wineml/pkg/core"
)

// ErrNotDriver is returned by driver-only stage operations on executors.
var ErrNotDriver = errors.New("executor cannot drive stages")

// ExecutorRunner serves stages scheduled by a remote driver.
type ExecutorRunner struct {
	worker        core.WorkerService
	numPartitions int
	seq           pkgcore.StageSequence
}

func NewExecutorRunner(worker core.WorkerService, numPartitions int) *ExecutorRunner {
	return &ExecutorRunner{worker: worker, numPartitions: max(1, numPartitions)}
}

func (r *ExecutorRunner) IsDriver() bool {
	return false
}

func (r *ExecutorRunner) NumPartitions() int {
	return r.numPartitions
}

func (r *ExecutorRunner) Stage(name string) pkgcore.Stage {
	return &executorStage{id: r.seq.Next(name), runner: r}
}

type executorStage struct {
	id     string
	runner *ExecutorRunner
}

func (s *executorStage) ID() string {
	return s.id
}

func (s *executorStage) Run(ctx context.Context, input []byte, fn pkgcore.PartitionFunc) ([][]byte, error) {
	return nil, ErrNotDriver
}

func (s *executorStage) Finish(ctx context.Context, result []byte) error {
	return ErrNotDriver
}

func (s *executorStage) Abort(ctx context.Context, cause error) error {
	return ErrNotDriver
}

func (s *executorStage) Serve(ctx context.Context, fn pkgcore.PartitionFunc) ([]byte, error) {
	return s.runner.worker.Serve(ctx, s.id, fn)
}
