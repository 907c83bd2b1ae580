package rest

import "time"

type HealthResponse struct {
	Status  string `json:"status"`
	Workers int    `json:"workers"`
	Stages  int    `json:"stages"`
}

type WorkerInfo struct {
	WorkerID        string    `json:"workerId"`
	Address         string    `json:"address"`
	Slots           int       `json:"slots"`
	Status          string    `json:"status"`
	RegisteredAt    time.Time `json:"registeredAt"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
	HeartbeatAgeMs  int64     `json:"heartbeatAgeMs"`
}

type ListWorkersResponse struct {
	Workers []WorkerInfo `json:"workers"`
	Total   int          `json:"total"`
}

type TaskProgress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Running   int `json:"running"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

type StageInfo struct {
	StageID       string       `json:"stageId"`
	State         string       `json:"state"`
	Rounds        int          `json:"rounds"`
	NumPartitions int          `json:"numPartitions"`
	Progress      TaskProgress `json:"progress"`
	Error         string       `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	EndedAt       *time.Time   `json:"endedAt,omitempty"`
	DurationMs    int64        `json:"durationMs"`
}

type ListStagesResponse struct {
	Stages []StageInfo `json:"stages"`
	Total  int         `json:"total"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
