package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nemanja-m/wineml/internal/shared/logging"
	"github.com/nemanja-m/wineml/internal/shared/rpc"
	"github.com/nemanja-m/wineml/internal/worker/core"
	pkgcore "github.com/nemanja-m/wineml/pkg/core"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

type workerService struct {
	client            core.CoordinatorClient
	executor          core.TaskExecutor
	heartbeatInterval time.Duration
	slots             int
	logger            logging.Logger
}

func NewWorkerService(
	client core.CoordinatorClient,
	executor core.TaskExecutor,
	heartbeatInterval time.Duration,
	slots int,
	logger logging.Logger,
) core.WorkerService {
	return &workerService{
		client:            client,
		executor:          executor,
		heartbeatInterval: heartbeatInterval,
		slots:             max(1, slots),
		logger:            logger,
	}
}

func (w *workerService) Run(ctx context.Context) error {
	go w.runHeartbeatLoop(ctx)
	return nil
}

func (w *workerService) runHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.client.SendHeartbeat(ctx); err != nil {
				w.logger.Error("Failed to send heartbeat", "error", err)
			} else {
				w.logger.Debug("Heartbeat sent successfully")
			}
		}
	}
}

func (w *workerService) Serve(ctx context.Context, stageID string, fn pkgcore.PartitionFunc) ([]byte, error) {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once     sync.Once
		finished bool
		result   []byte
		serveErr error
	)
	finish := func(res []byte, err error) {
		once.Do(func() {
			finished, result, serveErr = true, res, err
			cancel()
		})
	}

	w.logger.Debug("Serving stage", "stage_id", stageID, "slots", w.slots)

	var wg sync.WaitGroup
	for range w.slots {
		wg.Go(func() {
			w.runTaskLoop(serveCtx, stageID, fn, finish)
		})
	}
	wg.Wait()

	if !finished {
		return nil, ctx.Err()
	}
	return result, serveErr
}

func (w *workerService) runTaskLoop(
	ctx context.Context,
	stageID string,
	fn pkgcore.PartitionFunc,
	finish func([]byte, error),
) {
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		resp, err := w.client.PullTask(ctx, stageID)
		if err != nil {
			if errors.Is(err, core.ErrNotRegistered) {
				finish(nil, err)
				return
			}
			if ctx.Err() == nil {
				w.logger.Error("Failed to pull task", "stage_id", stageID, "error", err)
			}
			backoff = w.sleep(ctx, backoff)
			continue
		}

		switch resp.State {
		case rpc.StageFinished:
			finish(resp.Result, nil)
			return
		case rpc.StageAborted:
			finish(nil, &pkgcore.StageAbortedError{StageID: stageID, Reason: resp.Error})
			return
		}

		task := resp.Task
		if task == nil {
			backoff = w.sleep(ctx, backoff)
			continue
		}

		backoff = minBackoff

		w.logger.Debug("Received task",
			"task_id", task.TaskID,
			"stage_id", task.StageID,
			"round", task.Round,
			"partition", task.Partition,
			"attempt", task.Attempt,
		)

		output, err := w.executor.Execute(ctx, task, fn)

		if err == nil {
			accepted, reportErr := w.client.CompleteTask(ctx, task.TaskID, output)
			switch {
			case reportErr != nil:
				w.logger.Error("Failed to report task completion", "task_id", task.TaskID, "error", reportErr)
			case !accepted:
				w.logger.Debug("Task result superseded", "task_id", task.TaskID)
			}
		} else {
			w.logger.Warn("Task execution failed", "task_id", task.TaskID, "error", err)
			if reportErr := w.client.FailTask(ctx, task.TaskID, err.Error()); reportErr != nil {
				w.logger.Error("Failed to report task failure", "task_id", task.TaskID, "error", reportErr)
			}
		}
	}
}

// sleep waits for backoff or until ctx is done and returns the next backoff.
func (w *workerService) sleep(ctx context.Context, backoff time.Duration) time.Duration {
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return min(backoff*2, maxBackoff)
}
