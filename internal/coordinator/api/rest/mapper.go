package rest

import (
	"time"

	"github.com/nemanja-m/wineml/internal/coordinator/core"
)

func ToWorkerInfo(worker *core.Worker, now time.Time) WorkerInfo {
	return WorkerInfo{
		WorkerID:        worker.ID.String(),
		Address:         worker.Address,
		Slots:           worker.Slots,
		Status:          string(worker.Status),
		RegisteredAt:    worker.RegisteredAt.UTC(),
		LastHeartbeatAt: worker.LastHeartbeatAt.UTC(),
		HeartbeatAgeMs:  max(0, now.Sub(worker.LastHeartbeatAt).Milliseconds()),
	}
}

func ToStageInfo(stage *core.Stage) StageInfo {
	info := StageInfo{
		StageID:       stage.ID,
		State:         string(stage.State),
		Rounds:        stage.Rounds,
		NumPartitions: stage.NumPartitions,
		Progress: TaskProgress{
			Total:     stage.Progress.Total,
			Completed: stage.Progress.Completed,
			Running:   stage.Progress.Running,
			Failed:    stage.Progress.Failed,
			Pending:   stage.Progress.Pending,
		},
		Error:      stage.Error,
		CreatedAt:  stage.CreatedAt.UTC(),
		DurationMs: stage.Duration().Milliseconds(),
	}
	if stage.EndedAt != nil {
		ended := stage.EndedAt.UTC()
		info.EndedAt = &ended
	}
	return info
}
