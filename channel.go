package framechan

import (
	"context"

	"google.golang.org/grpc"
)

// Channel is an abstraction of a GRPC transport. With corresponding generated
// code, it can provide an alternate transport to the standard HTTP/2-based one.
// This package's own transport multiplexes calls over a single duplex byte
// stream using a compact frame codec instead of HTTP/2; see the muxconn and
// wire packages. A Channel implementation could instead provide an in-process
// transport, as inprocchan does.
type Channel interface {
	// Invoke executes a unary RPC, sending the given req message and populating
	// the given resp with the server's reply.
	Invoke(ctx context.Context, methodName string, req, resp interface{}, opts ...grpc.CallOption) error

	// NewStream executes a streaming RPC.
	NewStream(ctx context.Context, desc *grpc.StreamDesc, methodName string, opts ...grpc.CallOption) (grpc.ClientStream, error)
}

// Channel interface matches the relevant methods on ClientConn
var _ Channel = (*grpc.ClientConn)(nil)
