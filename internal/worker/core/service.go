package core

import (
	"context"
	"errors"
	"time"

	"github.com/nemanja-m/wineml/internal/shared/rpc"
	pkgcore "github.com/nemanja-m/wineml/pkg/core"
)

// ErrNotRegistered is returned when the coordinator no longer knows this
// executor, e.g. after it was dropped as stale.
var ErrNotRegistered = errors.New("executor is not registered with the coordinator")

// Registration is what the coordinator tells an executor when it joins.
type Registration struct {
	HeartbeatInterval time.Duration
	NumPartitions     int
}

type CoordinatorClient interface {
	RegisterWorker(ctx context.Context, addr string, slots int) (Registration, error)
	SendHeartbeat(ctx context.Context) error
	PullTask(ctx context.Context, stageID string) (*rpc.PullTaskResponse, error)
	CompleteTask(ctx context.Context, taskID string, output []byte) (bool, error)
	FailTask(ctx context.Context, taskID string, errMsg string) error
	Deregister(ctx context.Context) error
	Close() error
}

type WorkerService interface {
	// Run starts the heartbeat loop and returns immediately.
	Run(ctx context.Context) error
	// Serve executes tasks of a stage until the driver finishes or aborts it.
	Serve(ctx context.Context, stageID string, fn pkgcore.PartitionFunc) ([]byte, error)
}

type TaskExecutor interface {
	Execute(ctx context.Context, task *rpc.TaskAssignment, fn pkgcore.PartitionFunc) ([]byte, error)
}
