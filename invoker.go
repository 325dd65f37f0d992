package framechan

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"

	"github.com/framechan/framechan/muxconn"
)

// MuxChannel is a Channel implementation that issues calls over a
// muxconn.Conn: the client-side half of C6, the counterpart to Binder on
// the server side. It plays the same role the teacher's httpgrpc.Channel
// and shmgrpc.Channel play for their respective transports, but dispatches
// through the frame multiplexer instead of HTTP 1.1 or a shared-memory
// queue.
type MuxChannel struct {
	conn *muxconn.Conn

	mu     sync.RWMutex
	codecs map[string]MethodCodec
}

var _ Channel = (*MuxChannel)(nil)

// NewMuxChannel wraps conn, a client-role muxconn.Conn, as a Channel. Use
// BindCodec to attach the (serialize, deserialize) pair for each method
// that will be invoked through it.
func NewMuxChannel(conn *muxconn.Conn) *MuxChannel {
	return &MuxChannel{conn: conn, codecs: make(map[string]MethodCodec)}
}

// BindCodec attaches codec to the method identified by fullMethodName, the
// same registration a Binder on the server side of this same method would
// receive.
func (ch *MuxChannel) BindCodec(fullMethodName string, codec MethodCodec) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.codecs[fullMethodName] = codec
}

func (ch *MuxChannel) codecFor(fullMethodName string) (MethodCodec, error) {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	codec, ok := ch.codecs[fullMethodName]
	if !ok {
		return MethodCodec{}, fmt.Errorf("framechan: no codec bound for method %q", fullMethodName)
	}
	return codec, nil
}

// Invoke executes a unary RPC. grpc.CallOption values are accepted for
// interface compatibility but, like the teacher's in-process channel, are
// not otherwise consulted: this transport has no notion of per-call
// compression or a CallContentSubtype to select between.
func (ch *MuxChannel) Invoke(ctx context.Context, methodName string, req, resp interface{}, opts ...grpc.CallOption) error {
	codec, err := ch.codecFor(methodName)
	if err != nil {
		return err
	}
	cs, err := ch.conn.NewCall(ctx, methodName, muxconn.Unary, codec.Serialize, codec.Deserialize)
	if err != nil {
		return err
	}
	if err := cs.SendMsg(req); err != nil {
		return err
	}
	return cs.RecvMsg(resp)
}

// NewStream executes a streaming RPC, returning a grpc.ClientStream the
// caller drives with SendMsg/RecvMsg/CloseSend exactly as it would a real
// grpc.ClientConn's stream.
func (ch *MuxChannel) NewStream(ctx context.Context, desc *grpc.StreamDesc, methodName string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	codec, err := ch.codecFor(methodName)
	if err != nil {
		return nil, err
	}
	return ch.conn.NewCall(ctx, methodName, callTypeOf(*desc), codec.Serialize, codec.Deserialize)
}
