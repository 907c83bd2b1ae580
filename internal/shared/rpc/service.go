package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName = "wineml.Coordinator"

	RegisterWorkerMethod   = "/" + ServiceName + "/RegisterWorker"
	HeartbeatMethod        = "/" + ServiceName + "/Heartbeat"
	PullTaskMethod         = "/" + ServiceName + "/PullTask"
	CompleteTaskMethod     = "/" + ServiceName + "/CompleteTask"
	FailTaskMethod         = "/" + ServiceName + "/FailTask"
	DeregisterWorkerMethod = "/" + ServiceName + "/DeregisterWorker"
)

// CoordinatorServer is implemented by the driver process.
type CoordinatorServer interface {
	RegisterWorker(context.Context, *RegisterWorkerRequest) (*RegisterWorkerResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	PullTask(context.Context, *PullTaskRequest) (*PullTaskResponse, error)
	CompleteTask(context.Context, *CompleteTaskRequest) (*CompleteTaskResponse, error)
	FailTask(context.Context, *FailTaskRequest) (*FailTaskResponse, error)
	DeregisterWorker(context.Context, *DeregisterWorkerRequest) (*DeregisterWorkerResponse, error)
}

func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&coordinatorServiceDesc, srv)
}

var coordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterWorker", Handler: unaryHandler(RegisterWorkerMethod, CoordinatorServer.RegisterWorker)},
		{MethodName: "Heartbeat", Handler: unaryHandler(HeartbeatMethod, CoordinatorServer.Heartbeat)},
		{MethodName: "PullTask", Handler: unaryHandler(PullTaskMethod, CoordinatorServer.PullTask)},
		{MethodName: "CompleteTask", Handler: unaryHandler(CompleteTaskMethod, CoordinatorServer.CompleteTask)},
		{MethodName: "FailTask", Handler: unaryHandler(FailTaskMethod, CoordinatorServer.FailTask)},
		{MethodName: "DeregisterWorker", Handler: unaryHandler(DeregisterWorkerMethod, CoordinatorServer.DeregisterWorker)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wineml/coordinator",
}

// unaryHandler adapts a typed server method to grpc.MethodHandler.
func unaryHandler[Req, Resp any](
	fullMethod string,
	call func(CoordinatorServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CoordinatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CoordinatorServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// CoordinatorClient is the executor-side stub of CoordinatorServer.
type CoordinatorClient struct {
	cc grpc.ClientConnInterface
}

func NewCoordinatorClient(cc grpc.ClientConnInterface) *CoordinatorClient {
	return &CoordinatorClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CoordinatorClient) RegisterWorker(ctx context.Context, in *RegisterWorkerRequest, opts ...grpc.CallOption) (*RegisterWorkerResponse, error) {
	return invoke[RegisterWorkerResponse](ctx, c.cc, RegisterWorkerMethod, in, opts)
}

func (c *CoordinatorClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	return invoke[HeartbeatResponse](ctx, c.cc, HeartbeatMethod, in, opts)
}

func (c *CoordinatorClient) PullTask(ctx context.Context, in *PullTaskRequest, opts ...grpc.CallOption) (*PullTaskResponse, error) {
	return invoke[PullTaskResponse](ctx, c.cc, PullTaskMethod, in, opts)
}

func (c *CoordinatorClient) CompleteTask(ctx context.Context, in *CompleteTaskRequest, opts ...grpc.CallOption) (*CompleteTaskResponse, error) {
	return invoke[CompleteTaskResponse](ctx, c.cc, CompleteTaskMethod, in, opts)
}

func (c *CoordinatorClient) FailTask(ctx context.Context, in *FailTaskRequest, opts ...grpc.CallOption) (*FailTaskResponse, error) {
	return invoke[FailTaskResponse](ctx, c.cc, FailTaskMethod, in, opts)
}

func (c *CoordinatorClient) DeregisterWorker(ctx context.Context, in *DeregisterWorkerRequest, opts ...grpc.CallOption) (*DeregisterWorkerResponse, error) {
	return invoke[DeregisterWorkerResponse](ctx, c.cc, DeregisterWorkerMethod, in, opts)
}
