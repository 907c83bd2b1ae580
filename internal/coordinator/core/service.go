package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	pkgcore "github.com/nemanja-m/wineml/pkg/core"
)

var (
	ErrWorkerNotFound = errors.New("worker not found")
	ErrTaskNotFound   = errors.New("task not found")
	ErrStageClosed    = errors.New("stage is no longer running")
)

// WorkerService manages executor registrations.
type WorkerService interface {
	RegisterWorker(worker *Worker) error
	RecordHeartbeat(workerID uuid.UUID) error
	RemoveWorker(workerID uuid.UUID) error
	GetWorkers() ([]*Worker, error)
	GetStaleWorkers(timeout time.Duration) ([]*Worker, error)
	Count() int
}

// PullResult is what an executor receives when it asks for work.
type PullResult struct {
	Stage *Stage
	Task  *Task
}

// StageService schedules partition tasks across the driver and executors.
type StageService interface {
	// RunRound evaluates fn on every partition of the stage. Driver slots
	// execute tasks locally while executors pull the rest.
	RunRound(ctx context.Context, stageID string, numPartitions int, input []byte, fn pkgcore.PartitionFunc) ([][]byte, error)
	FinishStage(stageID string, result []byte) error
	AbortStage(stageID string, cause error) error

	PullTask(workerID uuid.UUID, stageID string) (PullResult, error)
	CompleteTask(workerID uuid.UUID, taskID uuid.UUID, output []byte) (bool, error)
	FailTask(workerID uuid.UUID, taskID uuid.UUID, reason string) error

	RequeueWorkerTasks(workerID uuid.UUID) error
	RequeueExpiredTasks(timeout time.Duration) (int, error)

	// Shutdown makes executors waiting for unknown stages stop.
	Shutdown()
	GetStages() []*Stage
}
