package grpc

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nemanja-m/wineml/internal/coordinator/core"
	"github.com/nemanja-m/wineml/internal/shared/logging"
	"github.com/nemanja-m/wineml/internal/shared/rpc"
)

const DefaultHeartbeatInterval = 5 * time.Second

type CoordinatorService struct {
	heartbeatInterval time.Duration
	numPartitions     int
	draining          atomic.Bool

	workerService core.WorkerService
	stageService  core.StageService

	logger logging.Logger
}

func NewCoordinatorService(
	heartbeatInterval time.Duration,
	numPartitions int,
	workerService core.WorkerService,
	stageService core.StageService,
	logger logging.Logger,
) *CoordinatorService {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &CoordinatorService{
		heartbeatInterval: heartbeatInterval,
		numPartitions:     numPartitions,
		workerService:     workerService,
		stageService:      stageService,
		logger:            logger,
	}
}

// Drain rejects new registrations and tells executors waiting for stages the
// driver never reached to stop.
func (s *CoordinatorService) Drain() {
	s.draining.Store(true)
	s.stageService.Shutdown()
}

func (s *CoordinatorService) RegisterWorker(
	ctx context.Context,
	req *rpc.RegisterWorkerRequest,
) (*rpc.RegisterWorkerResponse, error) {
	workerID, err := uuid.Parse(req.WorkerID)
	if err != nil {
		s.logger.Error("Invalid worker ID format", "worker_id", req.WorkerID, "error", err)
		return &rpc.RegisterWorkerResponse{
			Status:  rpc.RegistrationBadRequest,
			Message: "Invalid worker ID format. Expected UUID.",
		}, nil
	}
	if s.draining.Load() {
		return &rpc.RegisterWorkerResponse{
			Status:  rpc.RegistrationRejected,
			Message: "coordinator is shutting down",
		}, nil
	}

	worker := &core.Worker{
		ID:      workerID,
		Address: req.Address,
		Slots:   max(1, req.Slots),
	}

	s.logger.Debug("Received worker registration", "worker_id", worker.ID.String(), "address", worker.Address)

	if err := s.workerService.RegisterWorker(worker); err != nil {
		s.logger.Error("Failed to register worker", "worker_id", worker.ID.String(), "error", err)
		return &rpc.RegisterWorkerResponse{
			Status:  rpc.RegistrationFailed,
			Message: err.Error(),
		}, nil
	}

	s.logger.Info("Worker registered successfully", "worker_id", worker.ID.String(), "address", worker.Address)

	return &rpc.RegisterWorkerResponse{
		Status:                  rpc.RegistrationSuccess,
		Message:                 "OK",
		HeartbeatIntervalMillis: s.heartbeatInterval.Milliseconds(),
		NumPartitions:           s.numPartitions,
	}, nil
}

func (s *CoordinatorService) Heartbeat(
	ctx context.Context,
	req *rpc.HeartbeatRequest,
) (*rpc.HeartbeatResponse, error) {
	workerID, err := uuid.Parse(req.WorkerID)
	if err != nil {
		s.logger.Error("Invalid worker ID in heartbeat", "worker_id", req.WorkerID, "error", err)
		return &rpc.HeartbeatResponse{Acknowledged: false}, nil
	}

	if err := s.workerService.RecordHeartbeat(workerID); err != nil {
		s.logger.Warn("Failed to record heartbeat", "worker_id", workerID, "error", err)
		return &rpc.HeartbeatResponse{Acknowledged: false}, nil
	}

	s.logger.Debug("Heartbeat received", "worker_id", workerID)
	return &rpc.HeartbeatResponse{Acknowledged: true}, nil
}

func (s *CoordinatorService) PullTask(
	ctx context.Context,
	req *rpc.PullTaskRequest,
) (*rpc.PullTaskResponse, error) {
	workerID, err := s.activeWorker(req.WorkerID)
	if err != nil {
		return nil, err
	}
	if req.StageID == "" {
		return nil, status.Error(codes.InvalidArgument, "stage id is required")
	}

	res, err := s.stageService.PullTask(workerID, req.StageID)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	resp := &rpc.PullTaskResponse{
		State:  rpc.StageState(res.Stage.State),
		Result: res.Stage.Result,
		Error:  res.Stage.Error,
	}
	if res.Task != nil {
		s.logger.Debug(
			"Task assigned",
			"worker_id", workerID,
			"stage_id", res.Task.StageID,
			"round", res.Task.Round,
			"partition", res.Task.Partition,
		)
		resp.Task = &rpc.TaskAssignment{
			TaskID:        res.Task.ID.String(),
			StageID:       res.Task.StageID,
			Round:         res.Task.Round,
			Partition:     res.Task.Partition,
			NumPartitions: res.Task.NumPartitions,
			Attempt:       res.Task.Attempt,
			Input:         res.Task.Input,
		}
	}
	return resp, nil
}

func (s *CoordinatorService) CompleteTask(
	ctx context.Context,
	req *rpc.CompleteTaskRequest,
) (*rpc.CompleteTaskResponse, error) {
	workerID, taskID, err := parseTaskIDs(req.WorkerID, req.TaskID)
	if err != nil {
		return nil, err
	}
	accepted, err := s.stageService.CompleteTask(workerID, taskID, req.Output)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &rpc.CompleteTaskResponse{Accepted: accepted}, nil
}

func (s *CoordinatorService) FailTask(
	ctx context.Context,
	req *rpc.FailTaskRequest,
) (*rpc.FailTaskResponse, error) {
	workerID, taskID, err := parseTaskIDs(req.WorkerID, req.TaskID)
	if err != nil {
		return nil, err
	}
	if err := s.stageService.FailTask(workerID, taskID, req.Error); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &rpc.FailTaskResponse{}, nil
}

func (s *CoordinatorService) DeregisterWorker(
	ctx context.Context,
	req *rpc.DeregisterWorkerRequest,
) (*rpc.DeregisterWorkerResponse, error) {
	workerID, err := uuid.Parse(req.WorkerID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid worker id")
	}

	if err := s.stageService.RequeueWorkerTasks(workerID); err != nil {
		s.logger.Error("Failed to requeue worker tasks", "worker_id", workerID, "error", err)
	}
	if err := s.workerService.RemoveWorker(workerID); err != nil && !errors.Is(err, core.ErrWorkerNotFound) {
		return nil, status.Error(codes.Internal, err.Error())
	}

	s.logger.Info("Worker deregistered", "worker_id", workerID)
	return &rpc.DeregisterWorkerResponse{}, nil
}

// activeWorker parses the worker id and counts the call as a heartbeat.
func (s *CoordinatorService) activeWorker(raw string) (uuid.UUID, error) {
	workerID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, status.Error(codes.InvalidArgument, "invalid worker id")
	}
	if err := s.workerService.RecordHeartbeat(workerID); err != nil {
		if errors.Is(err, core.ErrWorkerNotFound) {
			return uuid.Nil, status.Error(codes.NotFound, "worker is not registered")
		}
		return uuid.Nil, status.Error(codes.Internal, err.Error())
	}
	return workerID, nil
}

func parseTaskIDs(rawWorker, rawTask string) (uuid.UUID, uuid.UUID, error) {
	workerID, err := uuid.Parse(rawWorker)
	if err != nil {
		return uuid.Nil, uuid.Nil, status.Error(codes.InvalidArgument, "invalid worker id")
	}
	taskID, err := uuid.Parse(rawTask)
	if err != nil {
		return uuid.Nil, uuid.Nil, status.Error(codes.InvalidArgument, "invalid task id")
	}
	return workerID, taskID, nil
}
