package core

import (
	"time"

	"github.com/google/uuid"
)

type WorkerStatus string

const (
	WorkerStatusActive   WorkerStatus = "ACTIVE"
	WorkerStatusDraining WorkerStatus = "DRAINING"
)

// Worker is an executor process registered with the driver.
type Worker struct {
	ID      uuid.UUID
	Address string
	Slots   int
	Status  WorkerStatus

	RegisteredAt    time.Time
	LastHeartbeatAt time.Time
}

type StageState string

const (
	// StageStatePending is reported for stages the driver has not reached yet.
	StageStatePending  StageState = "PENDING"
	StageStateRunning  StageState = "RUNNING"
	StageStateFinished StageState = "FINISHED"
	StageStateAborted  StageState = "ABORTED"
)

// Stage is a named distributed operation made of one or more rounds of
// partition tasks.
type Stage struct {
	ID            string
	State         StageState
	NumPartitions int
	Rounds        int
	Progress      TaskProgress

	// Result is published to executors when the stage finishes.
	Result []byte
	Error  string

	CreatedAt time.Time
	EndedAt   *time.Time
}

func (s *Stage) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.CreatedAt)
}

// TaskProgress counts the tasks of a stage across all rounds.
type TaskProgress struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
}

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// Task evaluates one partition of one round.
type Task struct {
	ID            uuid.UUID
	StageID       string
	Round         int
	Partition     int
	NumPartitions int
	Input         []byte
	Status        TaskStatus

	// WorkerID is nil while pending and for attempts run by the driver.
	WorkerID *uuid.UUID
	// DriverOnly is set after a remote failure; only the driver retries it.
	DriverOnly bool

	StartedAt *time.Time
	EndedAt   *time.Time

	Attempt int
	Error   *string
}
