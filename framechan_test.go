package framechan_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"google.golang.org/grpc"

	"github.com/framechan/framechan"
	"github.com/framechan/framechan/framechantesting"
	"github.com/framechan/framechan/transport"
)

func TestMuxChannelOverLoopback(t *testing.T) {
	client, server := transport.Loopback()

	registry := framechan.HandlerMap{}
	registry.RegisterService(&framechantesting.TestServiceDesc, &framechantesting.TestServer{})
	binder := framechan.NewBinder(registry)
	framechantesting.BindCodecs(binder)
	srvConn := framechan.Serve(server, binder)
	defer srvConn.Close()

	ch := framechan.Dial(client)
	framechantesting.BindCodecs(ch)

	framechantesting.RunChannelTestCases(t, ch)
}

// TestServerAndClientInterceptors exercises intercept.go end to end: a
// server interceptor is applied by wrapping the HandlerMap with
// WithUnaryInterceptors before registration (so the ServiceDesc stored for
// Binder.Resolve to find is already the InterceptServer-wrapped one), and a
// client interceptor is applied by wrapping the dialed MuxChannel with
// InterceptClientConnUnary. Both must observe the single Unary call.
func TestServerAndClientInterceptors(t *testing.T) {
	client, server := transport.Loopback()

	var serverCalls, clientCalls int32

	registry := framechan.HandlerMap{}
	wrapped := framechan.WithUnaryInterceptors(registry, func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		atomic.AddInt32(&serverCalls, 1)
		return handler(ctx, req)
	})
	wrapped.RegisterService(&framechantesting.TestServiceDesc, &framechantesting.TestServer{})

	binder := framechan.NewBinder(registry)
	framechantesting.BindCodecs(binder)
	srvConn := framechan.Serve(server, binder)
	defer srvConn.Close()

	ch := framechan.Dial(client)
	framechantesting.BindCodecs(ch)
	intercepted := framechan.InterceptClientConnUnary(ch, func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		atomic.AddInt32(&clientCalls, 1)
		return invoker(ctx, method, req, reply, cc, opts...)
	})

	cli := framechantesting.NewTestServiceClient(intercepted)
	resp, err := cli.Unary(context.Background(), &framechantesting.Message{Payload: []byte("hi")})
	if err != nil {
		t.Fatalf("Unary: %v", err)
	}
	if string(resp.Payload) != "hi" {
		t.Fatalf("unexpected echo: %q", resp.Payload)
	}
	if atomic.LoadInt32(&serverCalls) != 1 {
		t.Fatalf("server interceptor invoked %d times, want 1", serverCalls)
	}
	if atomic.LoadInt32(&clientCalls) != 1 {
		t.Fatalf("client interceptor invoked %d times, want 1", clientCalls)
	}
}

func TestMuxChannelOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	registry := framechan.HandlerMap{}
	registry.RegisterService(&framechantesting.TestServiceDesc, &framechantesting.TestServer{})
	binder := framechan.NewBinder(registry)
	framechantesting.BindCodecs(binder)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	server := <-accepted

	srvConn := framechan.Serve(server, binder)
	defer srvConn.Close()

	ch := framechan.Dial(client)
	framechantesting.BindCodecs(ch)

	framechantesting.RunChannelTestCases(t, ch)
}
