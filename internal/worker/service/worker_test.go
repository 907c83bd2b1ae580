package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nemanja-m/wineml/internal/shared/logging"
	"github.com/nemanja-m/wineml/internal/shared/rpc"
	"github.com/nemanja-m/wineml/internal/worker/core"
	pkgcore "github.com/nemanja-m/wineml/pkg/core"
)

type mockCoordinatorClient struct {
	mu sync.Mutex

	heartbeatCount int
	heartbeatErr   error

	// responses are returned in order; the last one repeats.
	responses   []*rpc.PullTaskResponse
	pullIndex   int
	pullTaskErr error
	pulledStage string

	completedTasks []string
	outputs        [][]byte
	completeErr    error

	failedTasks []string
	failErr     error
}

func (m *mockCoordinatorClient) RegisterWorker(ctx context.Context, addr string, slots int) (core.Registration, error) {
	return core.Registration{HeartbeatInterval: time.Second, NumPartitions: 2}, nil
}

func (m *mockCoordinatorClient) SendHeartbeat(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeatCount++
	return m.heartbeatErr
}

func (m *mockCoordinatorClient) PullTask(ctx context.Context, stageID string) (*rpc.PullTaskResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulledStage = stageID
	if m.pullTaskErr != nil {
		return nil, m.pullTaskErr
	}
	if len(m.responses) == 0 {
		return &rpc.PullTaskResponse{State: rpc.StagePending}, nil
	}
	resp := m.responses[min(m.pullIndex, len(m.responses)-1)]
	m.pullIndex++
	return resp, nil
}

func (m *mockCoordinatorClient) CompleteTask(ctx context.Context, taskID string, output []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completedTasks = append(m.completedTasks, taskID)
	m.outputs = append(m.outputs, output)
	return m.completeErr == nil, m.completeErr
}

func (m *mockCoordinatorClient) FailTask(ctx context.Context, taskID string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedTasks = append(m.failedTasks, taskID)
	return m.failErr
}

func (m *mockCoordinatorClient) Deregister(ctx context.Context) error {
	return nil
}

func (m *mockCoordinatorClient) Close() error {
	return nil
}

type mockExecutor struct {
	mu            sync.Mutex
	executedTasks []string
	execErr       error
}

func (m *mockExecutor) Execute(ctx context.Context, task *rpc.TaskAssignment, fn pkgcore.PartitionFunc) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executedTasks = append(m.executedTasks, task.TaskID)
	if m.execErr != nil {
		return nil, m.execErr
	}
	return []byte(task.TaskID), nil
}

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)   {}
func (m *mockLogger) Info(msg string, args ...any)    {}
func (m *mockLogger) Warn(msg string, args ...any)    {}
func (m *mockLogger) Error(msg string, args ...any)   {}
func (m *mockLogger) Fatal(msg string, args ...any)   {}
func (m *mockLogger) With(args ...any) logging.Logger { return m }

func taskResponse(taskID string, partition int) *rpc.PullTaskResponse {
	return &rpc.PullTaskResponse{
		State: rpc.StageRunning,
		Task: &rpc.TaskAssignment{
			TaskID:        taskID,
			StageID:       "logistic-regression-0",
			Partition:     partition,
			NumPartitions: 2,
			Attempt:       1,
		},
	}
}

func noopPartition(ctx context.Context, partition, numPartitions int, input []byte) ([]byte, error) {
	return nil, nil
}

func serveWithTimeout(t *testing.T, svc core.WorkerService) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return svc.Serve(ctx, "logistic-regression-0", noopPartition)
}

func TestWorkerService_Run_SendsHeartbeats(t *testing.T) {
	client := &mockCoordinatorClient{}
	svc := NewWorkerService(client, &mockExecutor{}, 20*time.Millisecond, 1, &mockLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(70 * time.Millisecond)
	cancel()

	client.mu.Lock()
	defer client.mu.Unlock()

	// With 20ms interval and 70ms wait, expect at least 2-3 heartbeats
	if client.heartbeatCount < 2 {
		t.Errorf("Expected at least 2 heartbeats, got %d", client.heartbeatCount)
	}
}

func TestWorkerService_HeartbeatLoop_HandlesErrors(t *testing.T) {
	client := &mockCoordinatorClient{heartbeatErr: errors.New("connection refused")}
	svc := NewWorkerService(client, &mockExecutor{}, 20*time.Millisecond, 1, &mockLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	_ = svc.Run(ctx)

	time.Sleep(70 * time.Millisecond)
	cancel()

	client.mu.Lock()
	defer client.mu.Unlock()

	// Should continue sending heartbeats despite errors
	if client.heartbeatCount < 2 {
		t.Errorf("Expected heartbeat loop to continue despite errors, got %d attempts", client.heartbeatCount)
	}
}

func TestWorkerService_Serve_ExecutesTasksUntilFinished(t *testing.T) {
	client := &mockCoordinatorClient{
		responses: []*rpc.PullTaskResponse{
			taskResponse("task-1", 0),
			taskResponse("task-2", 1),
			{State: rpc.StageFinished, Result: []byte("model")},
		},
	}
	executor := &mockExecutor{}
	svc := NewWorkerService(client, executor, time.Second, 1, &mockLogger{})

	result, err := serveWithTimeout(t, svc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != "model" {
		t.Errorf("Expected published result 'model', got %q", result)
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	if client.pulledStage != "logistic-regression-0" {
		t.Errorf("Expected pulls for stage logistic-regression-0, got %s", client.pulledStage)
	}
	if len(client.completedTasks) != 2 {
		t.Fatalf("Expected 2 completed tasks, got %d", len(client.completedTasks))
	}
	if string(client.outputs[0]) != "task-1" || string(client.outputs[1]) != "task-2" {
		t.Errorf("Unexpected task outputs: %q", client.outputs)
	}
}

func TestWorkerService_Serve_ReportsFailure(t *testing.T) {
	client := &mockCoordinatorClient{
		responses: []*rpc.PullTaskResponse{
			taskResponse("task-fail", 0),
			{State: rpc.StageFinished},
		},
	}
	executor := &mockExecutor{execErr: errors.New("fingerprint mismatch")}
	svc := NewWorkerService(client, executor, time.Second, 1, &mockLogger{})

	if _, err := serveWithTimeout(t, svc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	if len(client.failedTasks) != 1 || client.failedTasks[0] != "task-fail" {
		t.Errorf("Expected failure report for task-fail, got %v", client.failedTasks)
	}
	if len(client.completedTasks) != 0 {
		t.Errorf("Expected no completed tasks, got %d", len(client.completedTasks))
	}
}

func TestWorkerService_Serve_StageAborted(t *testing.T) {
	client := &mockCoordinatorClient{
		responses: []*rpc.PullTaskResponse{
			{State: rpc.StageAborted, Error: "dataset is empty"},
		},
	}
	svc := NewWorkerService(client, &mockExecutor{}, time.Second, 2, &mockLogger{})

	_, err := serveWithTimeout(t, svc)
	var aborted *pkgcore.StageAbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("Expected StageAbortedError, got %v", err)
	}
	if aborted.Reason != "dataset is empty" {
		t.Errorf("Expected abort reason 'dataset is empty', got %q", aborted.Reason)
	}
}

func TestWorkerService_Serve_NotRegistered(t *testing.T) {
	client := &mockCoordinatorClient{pullTaskErr: core.ErrNotRegistered}
	svc := NewWorkerService(client, &mockExecutor{}, time.Second, 1, &mockLogger{})

	_, err := serveWithTimeout(t, svc)
	if !errors.Is(err, core.ErrNotRegistered) {
		t.Errorf("Expected ErrNotRegistered, got %v", err)
	}
}

func TestWorkerService_Serve_StopsOnContextCancel(t *testing.T) {
	client := &mockCoordinatorClient{pullTaskErr: errors.New("unavailable")}
	svc := NewWorkerService(client, &mockExecutor{}, time.Second, 1, &mockLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Serve(ctx, "logistic-regression-0", noopPartition)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Serve did not stop after context cancellation")
	}
}

func TestPartitionExecutor(t *testing.T) {
	executor := NewPartitionExecutor(&mockLogger{})
	task := &rpc.TaskAssignment{TaskID: "t", Partition: 1, NumPartitions: 3, Input: []byte("in")}

	output, err := executor.Execute(context.Background(), task,
		func(ctx context.Context, partition, numPartitions int, input []byte) ([]byte, error) {
			return []byte{byte(partition), byte(numPartitions), input[0]}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(output) != string([]byte{1, 3, 'i'}) {
		t.Errorf("Unexpected output %v", output)
	}

	_, err = executor.Execute(context.Background(), task,
		func(ctx context.Context, partition, numPartitions int, input []byte) ([]byte, error) {
			panic("bad partition")
		})
	if err == nil {
		t.Error("Expected panic to be reported as error")
	}

	_, err = executor.Execute(context.Background(), &rpc.TaskAssignment{Partition: 3, NumPartitions: 3}, noopPartition)
	if err == nil {
		t.Error("Expected out of range partition to fail")
	}
}

func TestExecutorRunner(t *testing.T) {
	client := &mockCoordinatorClient{
		responses: []*rpc.PullTaskResponse{{State: rpc.StageFinished, Result: []byte("published")}},
	}
	runner := NewExecutorRunner(NewWorkerService(client, &mockExecutor{}, time.Second, 1, &mockLogger{}), 4)

	if runner.IsDriver() {
		t.Error("Expected executor runner not to drive stages")
	}
	if runner.NumPartitions() != 4 {
		t.Errorf("Expected 4 partitions, got %d", runner.NumPartitions())
	}

	stage := runner.Stage("logistic-regression")
	if stage.ID() != "logistic-regression-0" {
		t.Errorf("Expected stage id logistic-regression-0, got %s", stage.ID())
	}
	if _, err := stage.Run(context.Background(), nil, noopPartition); !errors.Is(err, ErrNotDriver) {
		t.Errorf("Expected ErrNotDriver from Run, got %v", err)
	}
	result, err := stage.Serve(context.Background(), noopPartition)
	if err != nil || string(result) != "published" {
		t.Errorf("Expected published result, got %q, %v", result, err)
	}
}
