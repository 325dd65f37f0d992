package framechantesting

import (
	"context"

	"google.golang.org/grpc"

	"github.com/framechan/framechan"
)

// TestServiceClient is the hand-written equivalent of a protoc-generated
// client stub for TestService.
type TestServiceClient interface {
	Unary(ctx context.Context, req *Message, opts ...grpc.CallOption) (*Message, error)
	ClientStream(ctx context.Context, opts ...grpc.CallOption) (TestService_ClientStreamClient, error)
	ServerStream(ctx context.Context, req *Message, opts ...grpc.CallOption) (TestService_ServerStreamClient, error)
	BidiStream(ctx context.Context, opts ...grpc.CallOption) (TestService_BidiStreamClient, error)
}

type TestService_ClientStreamClient interface {
	grpc.ClientStream
	Send(*Message) error
	CloseAndRecv() (*Message, error)
}

type TestService_ServerStreamClient interface {
	grpc.ClientStream
	Recv() (*Message, error)
}

type TestService_BidiStreamClient interface {
	grpc.ClientStream
	Send(*Message) error
	Recv() (*Message, error)
}

type testServiceClient struct {
	ch framechan.Channel
}

// NewTestServiceClient adapts ch into a TestServiceClient, the same role
// protoc-gen-go-grpc's generated constructor plays for a real
// grpc.ClientConnInterface.
func NewTestServiceClient(ch framechan.Channel) TestServiceClient {
	return &testServiceClient{ch: ch}
}

func (c *testServiceClient) Unary(ctx context.Context, req *Message, opts ...grpc.CallOption) (*Message, error) {
	resp := new(Message)
	if err := c.ch.Invoke(ctx, "/framechantesting.TestService/Unary", req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *testServiceClient) ClientStream(ctx context.Context, opts ...grpc.CallOption) (TestService_ClientStreamClient, error) {
	desc := &grpc.StreamDesc{ClientStreams: true}
	cs, err := c.ch.NewStream(ctx, desc, "/framechantesting.TestService/ClientStream", opts...)
	if err != nil {
		return nil, err
	}
	return &testServiceClientStreamClient{cs}, nil
}

func (c *testServiceClient) ServerStream(ctx context.Context, req *Message, opts ...grpc.CallOption) (TestService_ServerStreamClient, error) {
	desc := &grpc.StreamDesc{ServerStreams: true}
	cs, err := c.ch.NewStream(ctx, desc, "/framechantesting.TestService/ServerStream", opts...)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &testServiceStreamClient{cs}, nil
}

func (c *testServiceClient) BidiStream(ctx context.Context, opts ...grpc.CallOption) (TestService_BidiStreamClient, error) {
	desc := &grpc.StreamDesc{ClientStreams: true, ServerStreams: true}
	cs, err := c.ch.NewStream(ctx, desc, "/framechantesting.TestService/BidiStream", opts...)
	if err != nil {
		return nil, err
	}
	return &testServiceStreamClient{cs}, nil
}

type testServiceClientStreamClient struct {
	grpc.ClientStream
}

func (c *testServiceClientStreamClient) Send(m *Message) error {
	return c.SendMsg(m)
}

func (c *testServiceClientStreamClient) CloseAndRecv() (*Message, error) {
	if err := c.CloseSend(); err != nil {
		return nil, err
	}
	m := new(Message)
	if err := c.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type testServiceStreamClient struct {
	grpc.ClientStream
}

func (c *testServiceStreamClient) Send(m *Message) error {
	return c.SendMsg(m)
}

func (c *testServiceStreamClient) Recv() (*Message, error) {
	m := new(Message)
	if err := c.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
