package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/nemanja-m/wineml/internal/shared/rpc"
	"github.com/nemanja-m/wineml/internal/worker/core"
)

type CoordinatorClient struct {
	conn   *grpc.ClientConn
	client *rpc.CoordinatorClient

	workerID        uuid.UUID
	coordinatorAddr string
}

// NewCoordinatorClient creates a lazy connection to the coordinator. Extra
// dial options are appended to the defaults.
func NewCoordinatorClient(coordinatorAddr string, workerID uuid.UUID, opts ...grpc.DialOption) (*CoordinatorClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Time:                10 * time.Second,
				Timeout:             5 * time.Second,
				PermitWithoutStream: true,
			},
		),
	}, opts...)

	conn, err := grpc.NewClient(coordinatorAddr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coordinator: %w", err)
	}

	return &CoordinatorClient{
		conn:            conn,
		client:          rpc.NewCoordinatorClient(conn),
		workerID:        workerID,
		coordinatorAddr: coordinatorAddr,
	}, nil
}

func (c *CoordinatorClient) WorkerID() uuid.UUID {
	return c.workerID
}

func (c *CoordinatorClient) RegisterWorker(ctx context.Context, addr string, slots int) (core.Registration, error) {
	req := &rpc.RegisterWorkerRequest{
		WorkerID: c.workerID.String(),
		Address:  addr,
		Slots:    slots,
	}
	resp, err := c.client.RegisterWorker(ctx, req)
	if err != nil {
		return core.Registration{}, fmt.Errorf("failed to register worker: %w", err)
	}

	switch resp.Status {
	case rpc.RegistrationSuccess:
	case rpc.RegistrationBadRequest:
		return core.Registration{}, fmt.Errorf("bad request: %s", resp.Message)
	case rpc.RegistrationRejected:
		return core.Registration{}, fmt.Errorf("coordinator rejected worker: %s", resp.Message)
	default:
		return core.Registration{}, fmt.Errorf("coordinator failed to register worker: %s", resp.Message)
	}

	return core.Registration{
		HeartbeatInterval: time.Duration(resp.HeartbeatIntervalMillis) * time.Millisecond,
		NumPartitions:     resp.NumPartitions,
	}, nil
}

func (c *CoordinatorClient) SendHeartbeat(ctx context.Context) error {
	resp, err := c.client.Heartbeat(ctx, &rpc.HeartbeatRequest{WorkerID: c.workerID.String()})
	if err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	if !resp.Acknowledged {
		return core.ErrNotRegistered
	}
	return nil
}

func (c *CoordinatorClient) PullTask(ctx context.Context, stageID string) (*rpc.PullTaskResponse, error) {
	resp, err := c.client.PullTask(ctx, &rpc.PullTaskRequest{
		WorkerID: c.workerID.String(),
		StageID:  stageID,
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, core.ErrNotRegistered
		}
		return nil, fmt.Errorf("failed to pull task: %w", err)
	}
	return resp, nil
}

func (c *CoordinatorClient) CompleteTask(ctx context.Context, taskID string, output []byte) (bool, error) {
	resp, err := c.client.CompleteTask(ctx, &rpc.CompleteTaskRequest{
		WorkerID: c.workerID.String(),
		TaskID:   taskID,
		Output:   output,
	})
	if err != nil {
		return false, fmt.Errorf("failed to complete task: %w", err)
	}
	return resp.Accepted, nil
}

func (c *CoordinatorClient) FailTask(ctx context.Context, taskID string, errMsg string) error {
	_, err := c.client.FailTask(ctx, &rpc.FailTaskRequest{
		WorkerID: c.workerID.String(),
		TaskID:   taskID,
		Error:    errMsg,
	})
	if err != nil {
		return fmt.Errorf("failed to report task failure: %w", err)
	}
	return nil
}

func (c *CoordinatorClient) Deregister(ctx context.Context) error {
	_, err := c.client.DeregisterWorker(ctx, &rpc.DeregisterWorkerRequest{WorkerID: c.workerID.String()})
	if err != nil {
		return fmt.Errorf("failed to deregister worker: %w", err)
	}
	return nil
}

func (c *CoordinatorClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
