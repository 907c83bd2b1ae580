package service

import (
	"context"
	"fmt"
	"time"

	"github.com/nemanja-m/wineml/internal/shared/logging"
	"github.com/nemanja-m/wineml/internal/shared/rpc"
	"github.com/nemanja-m/wineml/internal/worker/core"
	pkgcore "github.com/nemanja-m/wineml/pkg/core"
)

type partitionExecutor struct {
	logger logging.Logger
}

// NewPartitionExecutor runs the partition function of a stage for one task.
func NewPartitionExecutor(logger logging.Logger) core.TaskExecutor {
	return &partitionExecutor{logger: logger}
}

func (e *partitionExecutor) Execute(
	ctx context.Context,
	task *rpc.TaskAssignment,
	fn pkgcore.PartitionFunc,
) (output []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			output, err = nil, fmt.Errorf("panic in partition %d: %v", task.Partition, r)
		}
	}()

	if task.Partition < 0 || task.Partition >= task.NumPartitions {
		return nil, fmt.Errorf("partition %d out of range [0, %d)", task.Partition, task.NumPartitions)
	}

	start := time.Now()
	output, err = fn(ctx, task.Partition, task.NumPartitions, task.Input)
	e.logger.Debug(
		"Partition evaluated",
		"stage_id", task.StageID,
		"partition", task.Partition,
		"duration", time.Since(start),
	)
	return output, err
}
