package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/wineml/internal/coordinator/core"
	"github.com/nemanja-m/wineml/internal/shared/logging"
	pkgcore "github.com/nemanja-m/wineml/pkg/core"
)

// ErrShuttingDown is reported to executors asking for stages the driver will
// never create.
var ErrShuttingDown = errors.New("coordinator is shutting down")

const driverPollInterval = 20 * time.Millisecond

type StageServiceConfig struct {
	// DriverSlots is the number of partitions the driver evaluates at once.
	DriverSlots int
	// MaxTaskAttempts bounds how often a single task may be started.
	MaxTaskAttempts int
}

type stageService struct {
	mu           sync.Mutex
	stages       map[string]*stageEntry
	tasks        map[uuid.UUID]*core.Task
	shuttingDown bool

	driverSlots     int
	maxTaskAttempts int
	logger          logging.Logger
}

type stageEntry struct {
	stage *core.Stage
	round *round
}

type round struct {
	number  int
	input   []byte
	fn      pkgcore.PartitionFunc
	tasks   []*core.Task
	outputs [][]byte

	// shared holds tasks any process may run; driverOnly holds retries of
	// tasks an executor failed.
	shared     core.TaskPriorityQueue
	driverOnly core.TaskPriorityQueue

	remaining int
	err       error
	done      chan struct{}
	wake      chan struct{}
}

func NewStageService(cfg StageServiceConfig, logger logging.Logger) core.StageService {
	if cfg.DriverSlots <= 0 {
		cfg.DriverSlots = 1
	}
	if cfg.MaxTaskAttempts <= 0 {
		cfg.MaxTaskAttempts = 1
	}
	return &stageService{
		stages:          make(map[string]*stageEntry),
		tasks:           make(map[uuid.UUID]*core.Task),
		driverSlots:     cfg.DriverSlots,
		maxTaskAttempts: cfg.MaxTaskAttempts,
		logger:          logger,
	}
}

func (s *stageService) RunRound(
	ctx context.Context,
	stageID string,
	numPartitions int,
	input []byte,
	fn pkgcore.PartitionFunc,
) ([][]byte, error) {
	if numPartitions <= 0 {
		return nil, fmt.Errorf("stage %s: invalid number of partitions %d", stageID, numPartitions)
	}

	r, err := s.startRound(stageID, numPartitions, input, fn)
	if err != nil {
		return nil, err
	}

	roundCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for range min(s.driverSlots, numPartitions) {
		wg.Go(func() {
			s.runDriverSlot(roundCtx, r)
		})
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		s.mu.Lock()
		s.failRound(stageID, r, ctx.Err())
		s.mu.Unlock()
	}
	cancel()
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.endRound(stageID, r)
	if r.err != nil {
		return nil, r.err
	}
	return r.outputs, nil
}

func (s *stageService) startRound(
	stageID string,
	numPartitions int,
	input []byte,
	fn pkgcore.PartitionFunc,
) (*round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entry(stageID)
	if entry.stage.State != core.StageStateRunning {
		return nil, fmt.Errorf("stage %s: %w", stageID, core.ErrStageClosed)
	}
	if entry.round != nil {
		return nil, fmt.Errorf("stage %s: round %d is still running", stageID, entry.round.number)
	}
	entry.stage.NumPartitions = numPartitions

	r := &round{
		number:     entry.stage.Rounds,
		input:      input,
		fn:         fn,
		tasks:      make([]*core.Task, numPartitions),
		outputs:    make([][]byte, numPartitions),
		shared:     core.NewTaskPriorityQueue(),
		driverOnly: core.NewTaskPriorityQueue(),
		remaining:  numPartitions,
		done:       make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}
	for partition := range numPartitions {
		task := &core.Task{
			ID:            uuid.New(),
			StageID:       stageID,
			Round:         r.number,
			Partition:     partition,
			NumPartitions: numPartitions,
			Input:         input,
			Status:        core.TaskStatusPending,
		}
		r.tasks[partition] = task
		s.tasks[task.ID] = task
		_ = r.shared.Push(task, core.TaskPriorityFresh)
	}
	entry.round = r
	entry.stage.Rounds++
	entry.stage.Progress.Total += numPartitions
	entry.stage.Progress.Pending += numPartitions

	s.logger.Debug("Stage round started", "stage_id", stageID, "round", r.number, "partitions", numPartitions)
	return r, nil
}

// entry returns the stage, creating it on first use. Callers hold s.mu.
func (s *stageService) entry(stageID string) *stageEntry {
	entry, exists := s.stages[stageID]
	if !exists {
		entry = &stageEntry{
			stage: &core.Stage{
				ID:        stageID,
				State:     core.StageStateRunning,
				CreatedAt: time.Now(),
			},
		}
		s.stages[stageID] = entry
	}
	return entry
}

func (s *stageService) runDriverSlot(ctx context.Context, r *round) {
	for {
		task := s.nextDriverTask(r)
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-r.wake:
			case <-time.After(driverPollInterval):
			}
			continue
		}

		output, err := r.fn(ctx, task.Partition, task.NumPartitions, r.input)

		s.mu.Lock()
		if err != nil {
			if ctx.Err() == nil {
				s.failRound(task.StageID, r, fmt.Errorf("partition %d: %w", task.Partition, err))
			}
		} else {
			s.completeTask(task.StageID, r, task, output)
		}
		s.mu.Unlock()
	}
}

func (s *stageService) nextDriverTask(r *round) *core.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.remaining == 0 || r.err != nil {
		return nil
	}
	task, err := r.driverOnly.Pop()
	if err != nil {
		task, err = r.shared.Pop()
	}
	if err != nil {
		return nil
	}
	s.startTask(task, nil)
	return task
}

// startTask marks a pending task running. Callers hold s.mu.
func (s *stageService) startTask(task *core.Task, workerID *uuid.UUID) {
	now := time.Now()
	task.Status = core.TaskStatusRunning
	task.WorkerID = workerID
	task.StartedAt = &now
	task.Attempt++
	progress := &s.stages[task.StageID].stage.Progress
	progress.Pending--
	progress.Running++
}

// completeTask records the first output for a task. Callers hold s.mu.
func (s *stageService) completeTask(stageID string, r *round, task *core.Task, output []byte) bool {
	if r.err != nil || task.Status == core.TaskStatusCompleted || task.Status == core.TaskStatusFailed {
		return false
	}
	progress := &s.stages[stageID].stage.Progress
	switch task.Status {
	case core.TaskStatusPending:
		progress.Pending--
	case core.TaskStatusRunning:
		progress.Running--
	}
	progress.Completed++

	now := time.Now()
	task.Status = core.TaskStatusCompleted
	task.EndedAt = &now
	r.outputs[task.Partition] = output
	r.remaining--
	if r.remaining == 0 {
		close(r.done)
	}
	return true
}

// failRound stops a round with err unless it already ended. Callers hold s.mu.
func (s *stageService) failRound(stageID string, r *round, err error) {
	if r.err != nil || r.remaining == 0 {
		return
	}
	r.err = err
	progress := &s.stages[stageID].stage.Progress
	now := time.Now()
	for _, task := range r.tasks {
		switch task.Status {
		case core.TaskStatusPending:
			progress.Pending--
		case core.TaskStatusRunning:
			progress.Running--
		default:
			continue
		}
		progress.Failed++
		task.Status = core.TaskStatusFailed
		task.EndedAt = &now
	}
	close(r.done)
	s.logger.Warn("Stage round failed", "stage_id", stageID, "round", r.number, "error", err)
}

// endRound forgets the tasks of a finished round. Late reports for them are
// ignored. Callers hold s.mu.
func (s *stageService) endRound(stageID string, r *round) {
	for _, task := range r.tasks {
		delete(s.tasks, task.ID)
	}
	r.shared.Clear()
	r.driverOnly.Clear()
	if entry, exists := s.stages[stageID]; exists && entry.round == r {
		entry.round = nil
	}
}

func (s *stageService) FinishStage(stageID string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entry(stageID)
	if entry.stage.State != core.StageStateRunning {
		return fmt.Errorf("stage %s: %w", stageID, core.ErrStageClosed)
	}
	if entry.round != nil {
		return fmt.Errorf("stage %s: round %d is still running", stageID, entry.round.number)
	}
	now := time.Now()
	entry.stage.State = core.StageStateFinished
	entry.stage.Result = result
	entry.stage.EndedAt = &now
	s.logger.Info("Stage finished", "stage_id", stageID, "rounds", entry.stage.Rounds)
	return nil
}

func (s *stageService) AbortStage(stageID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entry(stageID)
	if entry.stage.State != core.StageStateRunning {
		return fmt.Errorf("stage %s: %w", stageID, core.ErrStageClosed)
	}
	if cause == nil {
		cause = errors.New("stage aborted")
	}
	if entry.round != nil {
		s.failRound(stageID, entry.round, cause)
	}
	now := time.Now()
	entry.stage.State = core.StageStateAborted
	entry.stage.Error = cause.Error()
	entry.stage.EndedAt = &now
	s.logger.Warn("Stage aborted", "stage_id", stageID, "error", cause)
	return nil
}

func (s *stageService) PullTask(workerID uuid.UUID, stageID string) (core.PullResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.stages[stageID]
	if !exists {
		if s.shuttingDown {
			return core.PullResult{Stage: &core.Stage{
				ID:    stageID,
				State: core.StageStateAborted,
				Error: ErrShuttingDown.Error(),
			}}, nil
		}
		return core.PullResult{Stage: &core.Stage{ID: stageID, State: core.StageStatePending}}, nil
	}

	result := core.PullResult{Stage: snapshotStage(entry.stage)}
	r := entry.round
	if r == nil || r.err != nil || r.remaining == 0 {
		return result, nil
	}
	task, err := r.shared.Pop()
	if err != nil {
		return result, nil
	}
	id := workerID
	s.startTask(task, &id)

	assigned := *task
	result.Task = &assigned
	return result, nil
}

func (s *stageService) CompleteTask(workerID uuid.UUID, taskID uuid.UUID, output []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, entry, err := s.lookupTask(taskID)
	if err != nil {
		s.logger.Debug("Ignoring completion of unknown task", "task_id", taskID, "worker_id", workerID)
		return false, nil
	}
	accepted := s.completeTask(task.StageID, entry.round, task, output)
	if !accepted {
		s.logger.Debug("Ignoring late task completion", "task_id", taskID, "worker_id", workerID)
	}
	return accepted, nil
}

func (s *stageService) FailTask(workerID uuid.UUID, taskID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, entry, err := s.lookupTask(taskID)
	if err != nil {
		return nil
	}
	if task.Status != core.TaskStatusRunning || task.WorkerID == nil || *task.WorkerID != workerID {
		return nil
	}

	s.logger.Warn(
		"Task failed on worker",
		"stage_id", task.StageID,
		"partition", task.Partition,
		"worker_id", workerID,
		"attempt", task.Attempt,
		"error", reason,
	)
	task.Error = &reason
	if task.Attempt >= s.maxTaskAttempts {
		s.failRound(task.StageID, entry.round, fmt.Errorf(
			"partition %d failed after %d attempts: %s", task.Partition, task.Attempt, reason,
		))
		return nil
	}
	s.requeue(entry, task, true)
	return nil
}

// lookupTask finds a task of a running round. Callers hold s.mu.
func (s *stageService) lookupTask(taskID uuid.UUID) (*core.Task, *stageEntry, error) {
	task, exists := s.tasks[taskID]
	if !exists {
		return nil, nil, core.ErrTaskNotFound
	}
	entry, exists := s.stages[task.StageID]
	if !exists || entry.round == nil {
		return nil, nil, core.ErrTaskNotFound
	}
	return task, entry, nil
}

// requeue puts a running task back in line. Callers hold s.mu.
func (s *stageService) requeue(entry *stageEntry, task *core.Task, driverOnly bool) {
	r := entry.round
	task.Status = core.TaskStatusPending
	task.WorkerID = nil
	task.StartedAt = nil
	entry.stage.Progress.Running--
	entry.stage.Progress.Pending++

	queue := r.shared
	if driverOnly || task.DriverOnly {
		task.DriverOnly = true
		queue = r.driverOnly
	}
	_ = queue.Push(task, core.TaskPriorityRetry)

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (s *stageService) RequeueWorkerTasks(workerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		if task.Status != core.TaskStatusRunning || task.WorkerID == nil || *task.WorkerID != workerID {
			continue
		}
		entry := s.stages[task.StageID]
		s.logger.Info("Requeueing task of lost worker", "stage_id", task.StageID, "partition", task.Partition, "worker_id", workerID)
		s.requeue(entry, task, false)
	}
	return nil
}

func (s *stageService) RequeueExpiredTasks(timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-timeout)
	requeued := 0
	for _, task := range s.tasks {
		if task.Status != core.TaskStatusRunning || task.WorkerID == nil || task.StartedAt == nil {
			continue
		}
		if !task.StartedAt.Before(threshold) {
			continue
		}
		entry := s.stages[task.StageID]
		s.logger.Warn("Task timed out on worker", "stage_id", task.StageID, "partition", task.Partition, "worker_id", *task.WorkerID)
		s.requeue(entry, task, true)
		requeued++
	}
	return requeued, nil
}

func (s *stageService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shuttingDown = true
}

// GetStages returns snapshots ordered by creation time.
func (s *stageService) GetStages() []*core.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()

	stages := make([]*core.Stage, 0, len(s.stages))
	for _, entry := range s.stages {
		stages = append(stages, snapshotStage(entry.stage))
	}
	slices.SortFunc(stages, func(a, b *core.Stage) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return stages
}

func snapshotStage(stage *core.Stage) *core.Stage {
	copied := *stage
	return &copied
}
