package rpc

// RegistrationStatus is the coordinator's answer to a registration attempt.
type RegistrationStatus string

const (
	RegistrationSuccess    RegistrationStatus = "SUCCESS"
	RegistrationBadRequest RegistrationStatus = "BAD_REQUEST"
	RegistrationRejected   RegistrationStatus = "REJECTED"
	RegistrationFailed     RegistrationStatus = "FAILED"
)

// StageState is the lifecycle state of a stage as seen by executors.
type StageState string

const (
	// StagePending means the driver has not reached the stage yet.
	StagePending  StageState = "PENDING"
	StageRunning  StageState = "RUNNING"
	StageFinished StageState = "FINISHED"
	StageAborted  StageState = "ABORTED"
)

type RegisterWorkerRequest struct {
	WorkerID string `json:"worker_id"`
	Address  string `json:"address"`
	Slots    int    `json:"slots"`
}

type RegisterWorkerResponse struct {
	Status                  RegistrationStatus `json:"status"`
	Message                 string             `json:"message"`
	HeartbeatIntervalMillis int64              `json:"heartbeat_interval_ms"`
	NumPartitions           int                `json:"num_partitions"`
}

type HeartbeatRequest struct {
	WorkerID string `json:"worker_id"`
}

type HeartbeatResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

type PullTaskRequest struct {
	WorkerID string `json:"worker_id"`
	StageID  string `json:"stage_id"`
}

// PullTaskResponse carries a task when one is available. Result and Error are
// set once the stage is finished or aborted.
type PullTaskResponse struct {
	State  StageState      `json:"state"`
	Task   *TaskAssignment `json:"task,omitempty"`
	Result []byte          `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type TaskAssignment struct {
	TaskID        string `json:"task_id"`
	StageID       string `json:"stage_id"`
	Round         int    `json:"round"`
	Partition     int    `json:"partition"`
	NumPartitions int    `json:"num_partitions"`
	Attempt       int    `json:"attempt"`
	Input         []byte `json:"input"`
}

type CompleteTaskRequest struct {
	WorkerID string `json:"worker_id"`
	TaskID   string `json:"task_id"`
	Output   []byte `json:"output"`
}

type CompleteTaskResponse struct {
	// Accepted is false when another attempt finished the task first.
	Accepted bool `json:"accepted"`
}

type FailTaskRequest struct {
	WorkerID string `json:"worker_id"`
	TaskID   string `json:"task_id"`
	Error    string `json:"error"`
}

type FailTaskResponse struct{}

type DeregisterWorkerRequest struct {
	WorkerID string `json:"worker_id"`
}

type DeregisterWorkerResponse struct{}
