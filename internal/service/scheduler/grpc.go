package scheduler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	svcErr "github.com/oggyb/tubematch/internal/errors"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tubematch.scheduler.v1.Scheduler"

// SchedulerServer is the gRPC surface of the scheduler. Requests carry no
// fields; responses are JSON-shaped structs identical to the HTTP bodies.
type SchedulerServer interface {
	CalculatePrematches(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	CalculateAnalytics(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	QueueStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// SchedulerServiceDesc describes the service for grpc.Server.RegisterService.
var SchedulerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CalculatePrematches", Handler: unaryHandler("CalculatePrematches", SchedulerServer.CalculatePrematches)},
		{MethodName: "CalculateAnalytics", Handler: unaryHandler("CalculateAnalytics", SchedulerServer.CalculateAnalytics)},
		{MethodName: "QueueStatus", Handler: unaryHandler("QueueStatus", SchedulerServer.QueueStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tubematch/scheduler/v1/scheduler.proto",
}

func unaryHandler(
	method string,
	call func(SchedulerServer, context.Context, *emptypb.Empty) (*structpb.Struct, error),
) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SchedulerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SchedulerServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// grpcServer adapts Service to SchedulerServer.
type grpcServer struct {
	svc *Service
}

// CalculatePrematches enqueues a prematch calculation.
//
// Example:
//
//	grpcurl -plaintext localhost:50051 tubematch.scheduler.v1.Scheduler/CalculatePrematches
func (g *grpcServer) CalculatePrematches(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if _, err := g.svc.EnqueuePrematch(ctx); err != nil {
		g.svc.log.Error("Failed to queue prematch calculation", "err", err)
		return nil, svcErr.Map(err)
	}
	return toStruct(messageResponse{Message: PrematchQueuedMessage})
}

func (g *grpcServer) CalculateAnalytics(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if _, err := g.svc.EnqueueAnalytics(ctx); err != nil {
		g.svc.log.Error("Failed to queue analytics calculation", "err", err)
		return nil, svcErr.Map(err)
	}
	return toStruct(messageResponse{Message: AnalyticsQueuedMessage})
}

func (g *grpcServer) QueueStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := g.svc.Status(ctx)
	if err != nil {
		g.svc.log.Error("Failed to fetch queue status", "err", err)
		return nil, svcErr.Map(err)
	}
	return toStruct(st)
}

// toStruct converts any JSON-encodable value into a structpb.Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, svcErr.Map(err)
	}
	return out, nil
}

// Client calls the scheduler over an existing connection.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) CalculatePrematches(ctx context.Context) (string, error) {
	return c.message(ctx, "CalculatePrematches")
}

func (c *Client) CalculateAnalytics(ctx context.Context) (string, error) {
	return c.message(ctx, "CalculateAnalytics")
}

// QueueStatus fetches the status and decodes it back into Status.
func (c *Client) QueueStatus(ctx context.Context) (*Status, error) {
	out, err := c.invoke(ctx, "QueueStatus")
	if err != nil {
		return nil, err
	}
	b, err := protojson.Marshal(out)
	if err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) message(ctx context.Context, method string) (string, error) {
	out, err := c.invoke(ctx, method)
	if err != nil {
		return "", err
	}
	return out.GetFields()["message"].GetStringValue(), nil
}

func (c *Client) invoke(ctx context.Context, method string) (*structpb.Struct, error) {
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}
