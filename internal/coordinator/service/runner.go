package service

import (
	"context"
	"errors"

	"github.com/nemanja-m/wineml/internal/coordinator/core"
	pkgcore "github.com/nemanja-m/wineml/pkg/core"
)

// ErrDriverCannotServe is returned by Serve on driver stages.
var ErrDriverCannotServe = errors.New("driver does not serve stages")

// DriverRunner schedules stages through the stage service so that executors
// and local driver slots share the work.
type DriverRunner struct {
	stages        core.StageService
	numPartitions int
	seq           pkgcore.StageSequence
}

func NewDriverRunner(stages core.StageService, numPartitions int) *DriverRunner {
	if numPartitions <= 0 {
		numPartitions = 1
	}
	return &DriverRunner{stages: stages, numPartitions: numPartitions}
}

func (r *DriverRunner) IsDriver() bool {
	return true
}

func (r *DriverRunner) NumPartitions() int {
	return r.numPartitions
}

func (r *DriverRunner) Stage(name string) pkgcore.Stage {
	return &driverStage{id: r.seq.Next(name), runner: r}
}

type driverStage struct {
	id     string
	runner *DriverRunner
}

func (s *driverStage) ID() string {
	return s.id
}

func (s *driverStage) Run(ctx context.Context, input []byte, fn pkgcore.PartitionFunc) ([][]byte, error) {
	return s.runner.stages.RunRound(ctx, s.id, s.runner.numPartitions, input, fn)
}

func (s *driverStage) Finish(ctx context.Context, result []byte) error {
	return s.runner.stages.FinishStage(s.id, result)
}

func (s *driverStage) Abort(ctx context.Context, cause error) error {
	return s.runner.stages.AbortStage(s.id, cause)
}

func (s *driverStage) Serve(ctx context.Context, fn pkgcore.PartitionFunc) ([]byte, error) {
	return nil, ErrDriverCannotServe
}
