package grpcpeer

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/devicehub/pkg/meta"
	"github.com/cuemby/devicehub/pkg/name"
	"github.com/cuemby/devicehub/pkg/ports"
)

// Backend is the local side a Server exposes to remote peers: the same
// four operations ports.PeerConnection offers a caller, so a peer link
// is symmetric — either side can be the Server for the other's Client.
type Backend interface {
	ReadProperty(ctx context.Context, addr name.Address, prop name.Name) (meta.Meta, error)
	WriteProperty(ctx context.Context, addr name.Address, prop name.Name, value meta.Meta) error
	Invoke(ctx context.Context, addr name.Address, action name.Name, args meta.Meta) (meta.Meta, error)
	Subscribe(ctx context.Context, addr name.Address) (ports.Subscription, error)
}

// Server adapts a Backend to the hand-built devicehub.peer.v1.Peer gRPC
// service (serviceDesc below), sparing this adapter a protoc build
// step: structpb.Struct already implements proto.Message, so it
// serves as both request and response type for every method.
type Server struct {
	backend Backend
}

// NewServer wraps backend for registration via Register.
func NewServer(backend Backend) *Server {
	return &Server{backend: backend}
}

// Register adds the Peer service to grpcServer.
func Register(grpcServer *grpc.Server, backend Backend) {
	grpcServer.RegisterService(&serviceDesc, NewServer(backend))
}

func (s *Server) readProperty(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	addr := addressFromFields(req)
	prop := name.Parse(req.Fields[fieldProperty].GetStringValue())

	value, err := s.backend.ReadProperty(ctx, addr, prop)
	if err != nil {
		return nil, err
	}
	resp := newStruct()
	if err := metaToFields(value, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Server) writeProperty(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	addr := addressFromFields(req)
	prop := name.Parse(req.Fields[fieldProperty].GetStringValue())
	value, err := metaFromFields(req)
	if err != nil {
		return nil, err
	}
	if err := s.backend.WriteProperty(ctx, addr, prop, value); err != nil {
		return nil, err
	}
	return newStruct(), nil
}

func (s *Server) invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	addr := addressFromFields(req)
	action := name.Parse(req.Fields[fieldAction].GetStringValue())
	args, err := metaFromFields(req)
	if err != nil {
		return nil, err
	}

	result, err := s.backend.Invoke(ctx, addr, action, args)
	if err != nil {
		return nil, err
	}
	resp := newStruct()
	if err := metaToFields(result, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Server) subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	addr := addressFromFields(req)

	sub, err := s.backend.Subscribe(ctx, addr)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			out := newStruct()
			out.Fields[fieldEventType] = structpb.NewStringValue(ev.Type)
			if m, ok := ev.Payload.(meta.Meta); ok {
				if err := metaToFields(m, out); err != nil {
					return err
				}
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		}
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "devicehub.peer.v1.Peer",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ReadProperty",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := newStruct()
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).readProperty(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/devicehub.peer.v1.Peer/ReadProperty"}
				return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
					return srv.(*Server).readProperty(ctx, req.(*structpb.Struct))
				})
			},
		},
		{
			MethodName: "WriteProperty",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := newStruct()
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).writeProperty(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/devicehub.peer.v1.Peer/WriteProperty"}
				return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
					return srv.(*Server).writeProperty(ctx, req.(*structpb.Struct))
				})
			},
		},
		{
			MethodName: "Invoke",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := newStruct()
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*Server).invoke(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/devicehub.peer.v1.Peer/Invoke"}
				return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
					return srv.(*Server).invoke(ctx, req.(*structpb.Struct))
				})
			},
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				req := newStruct()
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(*Server).subscribe(req, stream)
			},
		},
	},
	Metadata: "devicehub/peer.proto",
}
