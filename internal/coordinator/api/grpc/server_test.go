package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nemanja-m/wineml/internal/coordinator/core"
	"github.com/nemanja-m/wineml/internal/coordinator/service"
	"github.com/nemanja-m/wineml/internal/coordinator/storage"
	"github.com/nemanja-m/wineml/internal/shared/logging"
	"github.com/nemanja-m/wineml/internal/shared/rpc"
	workergrpc "github.com/nemanja-m/wineml/internal/worker/api/grpc"
	workercore "github.com/nemanja-m/wineml/internal/worker/core"
	workerservice "github.com/nemanja-m/wineml/internal/worker/service"
	pkgcore "github.com/nemanja-m/wineml/pkg/core"
)

type testCluster struct {
	server  *Server
	workers core.WorkerService
	stages  core.StageService
	dialer  func(context.Context, string) (net.Conn, error)
}

func startTestCluster(t *testing.T) *testCluster {
	t.Helper()
	logger := logging.NewNopLogger()
	lis := bufconn.Listen(1 << 20)

	workers := service.NewWorkerService(storage.NewInMemoryWorkerStore(), logger)
	stages := service.NewStageService(service.StageServiceConfig{DriverSlots: 1, MaxTaskAttempts: 3}, logger)
	server := NewServer(ServerConfig{
		KeepaliveMinTime:  time.Second,
		HeartbeatInterval: 250 * time.Millisecond,
		NumPartitions:     2,
	}, workers, stages, logger)

	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(server.Stop)

	return &testCluster{
		server:  server,
		workers: workers,
		stages:  stages,
		dialer: func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		},
	}
}

func (c *testCluster) newClient(t *testing.T) *workergrpc.CoordinatorClient {
	t.Helper()
	client, err := workergrpc.NewCoordinatorClient("passthrough:///bufnet", uuid.New(), grpc.WithContextDialer(c.dialer))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCoordinator_RegisterAndHeartbeat(t *testing.T) {
	cluster := startTestCluster(t)
	client := cluster.newClient(t)
	ctx := context.Background()

	require.ErrorIs(t, client.SendHeartbeat(ctx), workercore.ErrNotRegistered)

	reg, err := client.RegisterWorker(ctx, "10.0.0.5:7078", 3)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, reg.HeartbeatInterval)
	require.Equal(t, 2, reg.NumPartitions)
	require.NoError(t, client.SendHeartbeat(ctx))

	workers, err := cluster.workers.GetWorkers()
	require.NoError(t, err)
	require.Len(t, workers, 1)
	require.Equal(t, client.WorkerID(), workers[0].ID)
	require.Equal(t, 3, workers[0].Slots)

	require.NoError(t, client.Deregister(ctx))
	require.Equal(t, 0, cluster.workers.Count())
}

func TestCoordinator_PullRequiresRegistration(t *testing.T) {
	cluster := startTestCluster(t)
	client := cluster.newClient(t)

	_, err := client.PullTask(context.Background(), "logistic-regression-0")
	require.ErrorIs(t, err, workercore.ErrNotRegistered)
}

func TestCoordinator_DrainRejectsRegistration(t *testing.T) {
	cluster := startTestCluster(t)
	registered := cluster.newClient(t)
	ctx := context.Background()
	_, err := registered.RegisterWorker(ctx, "a:1", 1)
	require.NoError(t, err)

	cluster.server.Drain()

	_, err = cluster.newClient(t).RegisterWorker(ctx, "b:1", 1)
	require.ErrorContains(t, err, "coordinator is shutting down")

	resp, err := registered.PullTask(ctx, "never-created-0")
	require.NoError(t, err)
	require.Equal(t, rpc.StageAborted, resp.State)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(cluster.dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: rpc.ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, health.Status)
}

func TestCoordinator_StageRoundTrip(t *testing.T) {
	cluster := startTestCluster(t)
	client := cluster.newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.RegisterWorker(ctx, "10.0.0.5:7078", 1)
	require.NoError(t, err)

	executorRuns := make(chan int, 2)
	remote := func(ctx context.Context, partition, numPartitions int, input []byte) ([]byte, error) {
		executorRuns <- partition
		return append([]byte("remote:"), input...), nil
	}
	worker := workerservice.NewWorkerService(
		client, workerservice.NewPartitionExecutor(logging.NewNopLogger()), time.Second, 1, logging.NewNopLogger(),
	)
	served := make(chan []byte, 1)
	serveErr := make(chan error, 1)
	go func() {
		result, err := worker.Serve(ctx, "logistic-regression-0", remote)
		served <- result
		serveErr <- err
	}()

	// The driver slot holds one partition until the executor has run the other.
	driverRunner := service.NewDriverRunner(cluster.stages, 2)
	stage := driverRunner.Stage("logistic-regression")
	local := func(ctx context.Context, partition, numPartitions int, input []byte) ([]byte, error) {
		select {
		case <-executorRuns:
			return append([]byte("local:"), input...), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	outputs, err := stage.Run(ctx, []byte("w"), local)
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	require.ElementsMatch(t, []string{"local:w", "remote:w"}, []string{string(outputs[0]), string(outputs[1])})

	require.NoError(t, stage.Finish(ctx, []byte("model-bytes")))
	require.Equal(t, []byte("model-bytes"), <-served)
	require.NoError(t, <-serveErr)
}

func TestCoordinator_StageAbortReachesExecutor(t *testing.T) {
	cluster := startTestCluster(t)
	client := cluster.newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.RegisterWorker(ctx, "10.0.0.5:7078", 1)
	require.NoError(t, err)
	require.NoError(t, cluster.stages.AbortStage("logistic-regression-0", errors.New("dataset is empty")))

	worker := workerservice.NewWorkerService(
		client, workerservice.NewPartitionExecutor(logging.NewNopLogger()), time.Second, 1, logging.NewNopLogger(),
	)
	_, err = worker.Serve(ctx, "logistic-regression-0", nil)
	var aborted *pkgcore.StageAbortedError
	require.ErrorAs(t, err, &aborted)
	require.Equal(t, "dataset is empty", aborted.Reason)
}
