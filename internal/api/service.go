// Package api exposes the archive over gRPC on a Unix socket.
//
// There are no generated stubs: the service descriptor is written by hand and
// messages travel as JSON through a registered codec.
package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wptrack.v1.Archive"

const watchMethod = "Watch"

// ArchiveServer is implemented by the daemon.
type ArchiveServer interface {
	Contacts(context.Context, *ContactsRequest) (*ContactsResponse, error)
	History(context.Context, *HistoryRequest) (*HistoryResponse, error)
	MediaInfo(context.Context, *MediaInfoRequest) (*MediaInfoResponse, error)
	Export(context.Context, *ExportRequest) (*ExportResponse, error)
	Send(context.Context, *SendRequest) (*SendResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	Watch(*WatchRequest, WatchStream) error
}

// WatchStream is the server side of a Watch call.
type WatchStream interface {
	Send(*WatchEvent) error
	Context() context.Context
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ArchiveServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Contacts", ArchiveServer.Contacts),
		unary("History", ArchiveServer.History),
		unary("MediaInfo", ArchiveServer.MediaInfo),
		unary("Export", ArchiveServer.Export),
		unary("Send", ArchiveServer.Send),
		unary("Logout", ArchiveServer.Logout),
		unary("Status", ArchiveServer.Status),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    watchMethod,
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "wptrack/v1/archive",
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv ArchiveServer) {
	s.RegisterService(&serviceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(ArchiveServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ArchiveServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

type watchServerStream struct {
	grpc.ServerStream
}

func (w watchServerStream) Send(evt *WatchEvent) error {
	return w.SendMsg(evt)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ArchiveServer).Watch(in, watchServerStream{stream})
}
