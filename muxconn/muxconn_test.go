package muxconn

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/framechan/framechan/transport"
)

// bytesCodec is the identity (serialize, deserialize) pair used by these
// tests: messages are already []byte, so there is nothing to marshal.
func bytesCodec() (func(any) ([]byte, error), func([]byte) (any, error)) {
	serialize := func(m any) ([]byte, error) { return m.([]byte), nil }
	deserialize := func(b []byte) (any, error) {
		return append([]byte(nil), b...), nil
	}
	return serialize, deserialize
}

// echoBinding resolves every method name whose value it recognizes to a
// handler of the matching CallType; anything else resolves false so the
// dispatch loop's StreamMethodNotFound path can be exercised.
type echoBinding struct {
	handlers map[string]ServerHandler

	// slowCancelled is closed by /echo/Slow's handler if its context is
	// canceled before the 2-second timer fires, letting a test observe
	// that a client-side Cancel actually propagated to the server.
	slowCancelled chan struct{}
}

func (b *echoBinding) Resolve(methodName string) (ServerHandler, bool) {
	h, ok := b.handlers[methodName]
	return h, ok
}

func newEchoBinding() *echoBinding {
	serialize, deserialize := bytesCodec()
	b := &echoBinding{handlers: make(map[string]ServerHandler), slowCancelled: make(chan struct{})}
	b.handlers["/echo/Unary"] = ServerHandler{
		CallType: Unary, Serialize: serialize, Deserialize: deserialize,
		Invoke: func(ss ServerStreamer) {
			var in []byte
			if err := ss.RecvMsg(&in); err != nil {
				_ = ss.WriteStatus(status.New(codes.Internal, err.Error()))
				return
			}
			_ = ss.SendMsg(in)
			_ = ss.WriteStatus(status.New(codes.OK, ""))
		},
	}
	b.handlers["/echo/ServerStream"] = ServerHandler{
		CallType: ServerStreaming, Serialize: serialize, Deserialize: deserialize,
		Invoke: func(ss ServerStreamer) {
			var in []byte
			if err := ss.RecvMsg(&in); err != nil {
				_ = ss.WriteStatus(status.New(codes.Internal, err.Error()))
				return
			}
			for i := 0; i < 3; i++ {
				_ = ss.SendMsg(in)
			}
			_ = ss.WriteStatus(status.New(codes.OK, ""))
		},
	}
	b.handlers["/echo/ClientStream"] = ServerHandler{
		CallType: ClientStreaming, Serialize: serialize, Deserialize: deserialize,
		Invoke: func(ss ServerStreamer) {
			var count int
			for {
				var in []byte
				err := ss.RecvMsg(&in)
				if err == io.EOF {
					break
				}
				if err != nil {
					_ = ss.WriteStatus(status.New(codes.Internal, err.Error()))
					return
				}
				count++
			}
			_ = ss.SendMsg([]byte{byte(count)})
			_ = ss.WriteStatus(status.New(codes.OK, ""))
		},
	}
	b.handlers["/echo/Duplex"] = ServerHandler{
		CallType: Duplex, Serialize: serialize, Deserialize: deserialize,
		Invoke: func(ss ServerStreamer) {
			for {
				var in []byte
				err := ss.RecvMsg(&in)
				if err == io.EOF {
					break
				}
				if err != nil {
					_ = ss.WriteStatus(status.New(codes.Internal, err.Error()))
					return
				}
				_ = ss.SendMsg(in)
			}
			_ = ss.WriteStatus(status.New(codes.OK, ""))
		},
	}
	b.handlers["/echo/Slow"] = ServerHandler{
		CallType: Unary, Serialize: serialize, Deserialize: deserialize,
		Invoke: func(ss ServerStreamer) {
			select {
			case <-time.After(2 * time.Second):
			case <-ss.Context().Done():
				close(b.slowCancelled)
			}
			_ = ss.WriteStatus(status.New(codes.OK, ""))
		},
	}
	return b
}

func newTestConns(t *testing.T) (client *Conn, server *Conn, binding *echoBinding) {
	t.Helper()
	c, s := transport.Loopback()
	binding = newEchoBinding()
	server = NewServerConn(transport.New(s), binding)
	client = NewClientConn(transport.New(c))
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server, binding
}

func TestUnaryEcho(t *testing.T) {
	client, _, _ := newTestConns(t)
	serialize, deserialize := bytesCodec()
	cs, err := client.NewCall(context.Background(), "/echo/Unary", Unary, serialize, deserialize)
	require.NoError(t, err)

	payload := []byte("hello, world!")
	require.NoError(t, cs.SendMsg(payload))

	var out []byte
	require.NoError(t, cs.RecvMsg(&out))
	assert.True(t, bytes.Equal(payload, out))

	err = cs.RecvMsg(&out)
	if err != io.EOF {
		assert.Equal(t, codes.OK, status.Convert(err).Code())
		assert.NoError(t, err)
	}
}

func TestClientStreaming(t *testing.T) {
	client, _, _ := newTestConns(t)
	serialize, deserialize := bytesCodec()
	cs, err := client.NewCall(context.Background(), "/echo/ClientStream", ClientStreaming, serialize, deserialize)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, cs.SendMsg([]byte("x")))
	}
	require.NoError(t, cs.CloseSend())

	var out []byte
	require.NoError(t, cs.RecvMsg(&out))
	require.Len(t, out, 1)
	assert.EqualValues(t, 4, out[0])
}

func TestServerStreaming(t *testing.T) {
	client, _, _ := newTestConns(t)
	serialize, deserialize := bytesCodec()
	cs, err := client.NewCall(context.Background(), "/echo/ServerStream", ServerStreaming, serialize, deserialize)
	require.NoError(t, err)

	require.NoError(t, cs.SendMsg([]byte("ping")))

	for i := 0; i < 3; i++ {
		var out []byte
		require.NoError(t, cs.RecvMsg(&out))
		assert.Equal(t, "ping", string(out))
	}
	var out []byte
	err = cs.RecvMsg(&out)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDuplex(t *testing.T) {
	client, _, _ := newTestConns(t)
	serialize, deserialize := bytesCodec()
	cs, err := client.NewCall(context.Background(), "/echo/Duplex", Duplex, serialize, deserialize)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, cs.SendMsg([]byte("m")))
		var out []byte
		require.NoError(t, cs.RecvMsg(&out))
		assert.Equal(t, "m", string(out))
	}
	require.NoError(t, cs.CloseSend())
	var out []byte
	err = cs.RecvMsg(&out)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMethodNotFound(t *testing.T) {
	client, _, _ := newTestConns(t)
	serialize, deserialize := bytesCodec()
	cs, err := client.NewCall(context.Background(), "/echo/DoesNotExist", Unary, serialize, deserialize)
	require.NoError(t, err)

	var out []byte
	err = cs.RecvMsg(&out)
	assert.Equal(t, codes.Unimplemented, status.Convert(err).Code())
}

func TestCancellation(t *testing.T) {
	client, _, binding := newTestConns(t)
	serialize, deserialize := bytesCodec()
	ctx, cancel := context.WithCancel(context.Background())
	cs, err := client.NewCall(ctx, "/echo/Slow", Unary, serialize, deserialize)
	require.NoError(t, err)
	require.NoError(t, cs.SendMsg([]byte("x")))

	time.AfterFunc(20*time.Millisecond, cancel)

	var out []byte
	err = cs.RecvMsg(&out)
	assert.Equal(t, codes.Canceled, status.Convert(err).Code())

	select {
	case <-binding.slowCancelled:
	case <-time.After(time.Second):
		t.Fatal("server-side handler never observed the cancellation: no StreamCancel frame reached it")
	}
}

func TestAllocIDWraparound(t *testing.T) {
	c := &Conn{
		isClient: true,
		opts:     resolveOptions(nil),
		streams:  make(map[uint16]*Stream),
		nextID:   0xFFFF,
	}
	id, err := c.allocID()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), id)

	id, err = c.allocID()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id, "must wrap back onto the odd parity base, skipping reserved id 0")
}
