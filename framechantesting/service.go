package framechantesting

import (
	"context"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TestServiceServer is the hand-written equivalent of a protoc-generated
// server interface for a small service exercising all four call shapes.
type TestServiceServer interface {
	Unary(ctx context.Context, req *Message) (*Message, error)
	ClientStream(stream TestService_ClientStreamServer) error
	ServerStream(req *Message, stream TestService_ServerStreamServer) error
	BidiStream(stream TestService_BidiStreamServer) error
}

// TestService_ClientStreamServer is implemented by the server-role stream
// passed to TestServiceServer.ClientStream.
type TestService_ClientStreamServer interface {
	grpc.ServerStream
	SendAndClose(*Message) error
	Recv() (*Message, error)
}

// TestService_ServerStreamServer is implemented by the server-role stream
// passed to TestServiceServer.ServerStream.
type TestService_ServerStreamServer interface {
	grpc.ServerStream
	Send(*Message) error
}

// TestService_BidiStreamServer is implemented by the server-role stream
// passed to TestServiceServer.BidiStream.
type TestService_BidiStreamServer interface {
	grpc.ServerStream
	Send(*Message) error
	Recv() (*Message, error)
}

type testServiceServerStream struct {
	grpc.ServerStream
}

func (s *testServiceServerStream) SendAndClose(m *Message) error {
	return s.SendMsg(m)
}

func (s *testServiceServerStream) Send(m *Message) error {
	return s.SendMsg(m)
}

func (s *testServiceServerStream) Recv() (*Message, error) {
	m := new(Message)
	if err := s.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _TestService_Unary_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Message)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TestServiceServer).Unary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/framechantesting.TestService/Unary"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TestServiceServer).Unary(ctx, req.(*Message))
	}
	return interceptor(ctx, in, info, handler)
}

func _TestService_ClientStream_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(TestServiceServer).ClientStream(&testServiceServerStream{stream})
}

func _TestService_ServerStream_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(Message)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(TestServiceServer).ServerStream(m, &testServiceServerStream{stream})
}

func _TestService_BidiStream_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(TestServiceServer).BidiStream(&testServiceServerStream{stream})
}

// TestServiceDesc is the grpc.ServiceDesc for TestService, the hand-written
// equivalent of what protoc-gen-go-grpc would otherwise emit.
var TestServiceDesc = grpc.ServiceDesc{
	ServiceName: "framechantesting.TestService",
	HandlerType: (*TestServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Unary", Handler: _TestService_Unary_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ClientStream", Handler: _TestService_ClientStream_Handler, ClientStreams: true},
		{StreamName: "ServerStream", Handler: _TestService_ServerStream_Handler, ServerStreams: true},
		{StreamName: "BidiStream", Handler: _TestService_BidiStream_Handler, ClientStreams: true, ServerStreams: true},
	},
}

// TestServer has default responses to the various kinds of methods,
// mirroring grpchantesting.TestServer's behavior: it echoes the payload
// and any requested headers/trailers, optionally after a delay, and fails
// with a requested status code when Code is non-zero.
type TestServer struct{}

func (s *TestServer) Unary(ctx context.Context, req *Message) (*Message, error) {
	if req.DelayMillis > 0 {
		if err := sleep(ctx, req.DelayMillis); err != nil {
			return nil, err
		}
	}
	grpc.SetHeader(ctx, metadata.New(req.Headers))
	grpc.SetTrailer(ctx, metadata.New(req.Trailers))
	if req.Code != 0 {
		return nil, statusFromRequest(req)
	}
	return &Message{Payload: req.Payload}, nil
}

func (s *TestServer) ClientStream(stream TestService_ClientStreamServer) error {
	var req *Message
	count := int32(0)
	for {
		r, err := stream.Recv()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		req = r
		count++
		if req.Code != 0 {
			break
		}
	}
	if req == nil {
		req = &Message{}
	}
	if req.DelayMillis > 0 {
		if err := sleep(stream.Context(), req.DelayMillis); err != nil {
			return err
		}
	}
	if err := stream.SetHeader(metadata.New(req.Headers)); err != nil {
		return err
	}
	stream.SetTrailer(metadata.New(req.Trailers))
	if req.Code != 0 {
		return statusFromRequest(req)
	}
	return stream.SendAndClose(&Message{Payload: req.Payload, Count: count})
}

func (s *TestServer) ServerStream(req *Message, stream TestService_ServerStreamServer) error {
	if req.DelayMillis > 0 {
		if err := sleep(stream.Context(), req.DelayMillis); err != nil {
			return err
		}
	}
	if err := stream.SetHeader(metadata.New(req.Headers)); err != nil {
		return err
	}
	for i := int32(0); i < req.Count; i++ {
		if err := stream.Send(&Message{Payload: req.Payload}); err != nil {
			return err
		}
	}
	stream.SetTrailer(metadata.New(req.Trailers))
	if req.Code != 0 {
		return statusFromRequest(req)
	}
	return nil
}

func (s *TestServer) BidiStream(stream TestService_BidiStreamServer) error {
	var req *Message
	count := int32(0)
	var buffered []*Message
	halfDuplex := false
	for {
		r, err := stream.Recv()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		req = r
		if req.DelayMillis > 0 {
			if err := sleep(stream.Context(), req.DelayMillis); err != nil {
				return err
			}
		}
		if count == 0 {
			if err := stream.SetHeader(metadata.New(req.Headers)); err != nil {
				return err
			}
			halfDuplex = req.Count < 0
		}
		count++
		if req.Code != 0 {
			break
		}
		reply := &Message{Payload: req.Payload, Count: count}
		if halfDuplex {
			buffered = append(buffered, reply)
		} else if err := stream.Send(reply); err != nil {
			return err
		}
	}
	if halfDuplex {
		for _, reply := range buffered {
			if err := stream.Send(reply); err != nil {
				return err
			}
		}
	}
	if req != nil {
		stream.SetTrailer(metadata.New(req.Trailers))
		if req.Code != 0 {
			return statusFromRequest(req)
		}
	}
	return nil
}

func statusFromRequest(req *Message) error {
	msg := "error"
	for _, d := range req.ErrorDetails {
		msg += ": " + d
	}
	return status.New(codes.Code(req.Code), msg).Err()
}

func sleep(ctx context.Context, millis int32) error {
	select {
	case <-time.After(time.Duration(millis) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return status.FromContextError(ctx.Err()).Err()
	}
}
