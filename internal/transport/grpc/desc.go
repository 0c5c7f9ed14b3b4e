package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is served with google.protobuf.Struct payloads, so clients need
// no generated stubs.
const ServiceName = "meeting.v1.MeetingService"

const (
	MethodCreateMeeting          = "CreateMeeting"
	MethodGetMeeting             = "GetMeeting"
	MethodListMeetingsForHost    = "ListMeetingsForHost"
	MethodCanJoin                = "CanJoin"
	MethodJoinMeeting            = "JoinMeeting"
	MethodLeaveMeeting           = "LeaveMeeting"
	MethodReportParticipantCount = "ReportParticipantCount"
	MethodCloseMeeting           = "CloseMeeting"
)

type MeetingServiceServer interface {
	CreateMeeting(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetMeeting(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListMeetingsForHost(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CanJoin(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	JoinMeeting(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	LeaveMeeting(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ReportParticipantCount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CloseMeeting(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(MeetingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name

	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MeetingServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(MeetingServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MeetingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodCreateMeeting, MeetingServiceServer.CreateMeeting),
		unaryHandler(MethodGetMeeting, MeetingServiceServer.GetMeeting),
		unaryHandler(MethodListMeetingsForHost, MeetingServiceServer.ListMeetingsForHost),
		unaryHandler(MethodCanJoin, MeetingServiceServer.CanJoin),
		unaryHandler(MethodJoinMeeting, MeetingServiceServer.JoinMeeting),
		unaryHandler(MethodLeaveMeeting, MeetingServiceServer.LeaveMeeting),
		unaryHandler(MethodReportParticipantCount, MeetingServiceServer.ReportParticipantCount),
		unaryHandler(MethodCloseMeeting, MeetingServiceServer.CloseMeeting),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meeting/v1/meeting.proto",
}

func Register(s grpc.ServiceRegistrar, srv MeetingServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls MeetingService methods over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
