package social

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bliss.social.v1.SocialGraphService"

// Method names.
const (
	MethodRegister       = "Register"
	MethodFollow         = "Follow"
	MethodUnfollow       = "Unfollow"
	MethodGetProfile     = "GetProfile"
	MethodGetProfiles    = "GetProfiles"
	MethodUpdateProfile  = "UpdateProfile"
	MethodSetPresence    = "SetPresence"
	MethodListFollows    = "ListFollows"
	MethodWatchFollowing = "WatchFollowing"
	MethodWatchDiscovery = "WatchDiscovery"
)

// FullMethod returns the wire name of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// SocialGraphServer is the server API of the social graph service. Payloads
// are Struct messages so the service needs no generated code.
type SocialGraphServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Follow(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Unfollow(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	GetProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetProfiles(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetPresence(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ListFollows(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchFollowing(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	WatchDiscovery(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterSocialGraphServer registers srv on s.
func RegisterSocialGraphServer(s grpc.ServiceRegistrar, srv SocialGraphServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes SocialGraphService for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SocialGraphServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodRegister, Handler: unary(MethodRegister, SocialGraphServer.Register)},
		{MethodName: MethodFollow, Handler: unary(MethodFollow, SocialGraphServer.Follow)},
		{MethodName: MethodUnfollow, Handler: unary(MethodUnfollow, SocialGraphServer.Unfollow)},
		{MethodName: MethodGetProfile, Handler: unary(MethodGetProfile, SocialGraphServer.GetProfile)},
		{MethodName: MethodGetProfiles, Handler: unary(MethodGetProfiles, SocialGraphServer.GetProfiles)},
		{MethodName: MethodUpdateProfile, Handler: unary(MethodUpdateProfile, SocialGraphServer.UpdateProfile)},
		{MethodName: MethodSetPresence, Handler: unary(MethodSetPresence, SocialGraphServer.SetPresence)},
		{MethodName: MethodListFollows, Handler: unary(MethodListFollows, SocialGraphServer.ListFollows)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: MethodWatchFollowing, Handler: serverStream(SocialGraphServer.WatchFollowing), ServerStreams: true},
		{StreamName: MethodWatchDiscovery, Handler: serverStream(SocialGraphServer.WatchDiscovery), ServerStreams: true},
	},
	Metadata: "bliss/social/v1/social.proto",
}

func unary[Resp any](method string, call func(SocialGraphServer, context.Context, *structpb.Struct) (Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(SocialGraphServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*structpb.Struct))
		})
	}
}

func serverStream(call func(SocialGraphServer, *structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return call(srv.(SocialGraphServer), in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
	}
}
