package service

import (
	"context"
	"time"

	"github.com/nemanja-m/wineml/internal/coordinator/core"
	"github.com/nemanja-m/wineml/internal/shared/logging"
)

// WorkerHealthChecker periodically drops workers that stopped sending
// heartbeats and hands their tasks back to the scheduler.
type WorkerHealthChecker struct {
	checkInterval time.Duration
	staleTimeout  time.Duration
	taskTimeout   time.Duration
	workerService core.WorkerService
	stageService  core.StageService
	logger        logging.Logger
}

func NewWorkerHealthChecker(
	checkInterval time.Duration,
	staleTimeout time.Duration,
	taskTimeout time.Duration,
	workerService core.WorkerService,
	stageService core.StageService,
	logger logging.Logger,
) *WorkerHealthChecker {
	return &WorkerHealthChecker{
		checkInterval: checkInterval,
		staleTimeout:  staleTimeout,
		taskTimeout:   taskTimeout,
		workerService: workerService,
		stageService:  stageService,
		logger:        logger,
	}
}

func (h *WorkerHealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.removeStaleWorkers()
			h.requeueExpiredTasks()
		}
	}
}

func (h *WorkerHealthChecker) removeStaleWorkers() {
	staleWorkers, err := h.workerService.GetStaleWorkers(h.staleTimeout)
	if err != nil {
		h.logger.Error("Failed to get stale workers", "error", err)
		return
	}
	for _, worker := range staleWorkers {
		h.logger.Info("Removing stale worker", "worker_id", worker.ID)

		if err := h.stageService.RequeueWorkerTasks(worker.ID); err != nil {
			h.logger.Error("Failed to requeue worker tasks", "worker_id", worker.ID, "error", err)
		}

		if err := h.workerService.RemoveWorker(worker.ID); err != nil {
			h.logger.Error("Failed to remove stale worker", "worker_id", worker.ID, "error", err)
		}
	}
}

func (h *WorkerHealthChecker) requeueExpiredTasks() {
	if h.taskTimeout <= 0 {
		return
	}
	n, err := h.stageService.RequeueExpiredTasks(h.taskTimeout)
	if err != nil {
		h.logger.Error("Failed to requeue expired tasks", "error", err)
		return
	}
	if n > 0 {
		h.logger.Info("Requeued expired tasks", "count", n)
	}
}
