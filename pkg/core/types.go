package core

import (
	"context"
	"fmt"
	"strings"
)

// Role identifies what the current process is allowed to do in a run.
type Role int

const (
	// RoleUnknown is the zero value; it is treated like RoleWorker.
	RoleUnknown Role = iota
	RoleCoordinator
	RoleWorker
)

// DriverExecutorID is the executor id carried by the coordinating process.
const DriverExecutorID = "driver"

func (r Role) String() string {
	switch r {
	case RoleCoordinator:
		return "coordinator"
	case RoleWorker:
		return "worker"
	default:
		return "unknown"
	}
}

// RoleFromExecutorID maps an executor id to a role. Empty and "not_set" ids
// yield RoleUnknown.
func RoleFromExecutorID(id string) Role {
	id = strings.TrimSpace(id)
	switch {
	case id == "" || strings.EqualFold(id, "not_set"):
		return RoleUnknown
	case strings.EqualFold(id, DriverExecutorID):
		return RoleCoordinator
	default:
		return RoleWorker
	}
}

// PartitionFunc computes a partial result for one partition of the data a
// process holds. The input is the same for all partitions of a round.
type PartitionFunc func(ctx context.Context, partition, numPartitions int, input []byte) ([]byte, error)

// Runner hands out stages to distributed operations.
type Runner interface {
	// IsDriver reports whether this process schedules stages or serves them.
	IsDriver() bool
	// NumPartitions is the number of partitions every round is split into.
	NumPartitions() int
	// Stage returns the next stage with the given name. Every process running
	// the same program obtains the same stage ids in the same order.
	Stage(name string) Stage
}

// Stage is one distributed operation, possibly spanning many rounds.
type Stage interface {
	ID() string
	// Run evaluates fn on every partition and returns outputs in partition
	// order. Driver only.
	Run(ctx context.Context, input []byte, fn PartitionFunc) ([][]byte, error)
	// Finish publishes the stage result to executors. Driver only.
	Finish(ctx context.Context, result []byte) error
	// Abort publishes a stage failure to executors. Driver only.
	Abort(ctx context.Context, cause error) error
	// Serve executes tasks for this stage until the driver finishes or aborts
	// it and returns the published result. Executor only.
	Serve(ctx context.Context, fn PartitionFunc) ([]byte, error)
}

// StageAbortedError is returned by Serve when the driver aborts the stage.
type StageAbortedError struct {
	StageID string
	Reason  string
}

func (e *StageAbortedError) Error() string {
	return fmt.Sprintf("stage %s aborted by driver: %s", e.StageID, e.Reason)
}
