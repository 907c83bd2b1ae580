package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/wineml/internal/coordinator/core"
	"github.com/nemanja-m/wineml/internal/shared/logging"
)

type workerService struct {
	workerStore core.WorkerStore
	logger      logging.Logger
}

func NewWorkerService(workerStore core.WorkerStore, logger logging.Logger) core.WorkerService {
	return &workerService{
		workerStore: workerStore,
		logger:      logger,
	}
}

// RegisterWorker adds an executor, or refreshes it when the same id joins
// again. A re-registered executor keeps its original registration time.
func (s *workerService) RegisterWorker(worker *core.Worker) error {
	now := time.Now()
	worker.Slots = max(1, worker.Slots)
	worker.Status = core.WorkerStatusActive
	worker.RegisteredAt = now
	worker.LastHeartbeatAt = now

	if existing, err := s.workerStore.GetWorkerByID(worker.ID); err == nil {
		worker.RegisteredAt = existing.RegisteredAt
		s.logger.Info("Executor re-registered", "worker_id", worker.ID, "address", worker.Address)
	} else {
		s.logger.Info("Executor registered", "worker_id", worker.ID, "address", worker.Address, "slots", worker.Slots)
	}
	return s.workerStore.AddWorker(worker)
}

func (s *workerService) RecordHeartbeat(workerID uuid.UUID) error {
	return s.workerStore.UpdateWorkerHeartbeat(workerID, time.Now())
}

func (s *workerService) RemoveWorker(workerID uuid.UUID) error {
	return s.workerStore.RemoveWorker(workerID)
}

func (s *workerService) GetWorkers() ([]*core.Worker, error) {
	return s.workerStore.GetAllWorkers()
}

func (s *workerService) GetStaleWorkers(timeout time.Duration) ([]*core.Worker, error) {
	threshold := time.Now().Add(-timeout)
	return s.workerStore.GetStaleWorkers(threshold)
}

func (s *workerService) Count() int {
	return s.workerStore.Count()
}
