package framechan

import (
	"context"
	"io"
	"net"

	"google.golang.org/grpc/peer"

	"github.com/framechan/framechan/muxconn"
	"github.com/framechan/framechan/transport"
)

// Dial wraps conn as a client-role connection over this package's frame
// multiplexer and returns a MuxChannel ready for BindCodec calls. conn is
// typically one end of a TCP connection or of transport.Loopback, matching
// spec.md scenario 1's "two ends of a duplex byte stream."
func Dial(conn io.ReadWriteCloser, opts ...muxconn.OptionFunc) *MuxChannel {
	tr := transport.New(conn)
	mc := muxconn.NewClientConn(tr, opts...)
	return NewMuxChannel(mc)
}

// Serve wraps conn as a server-role connection bound to binder and returns
// the underlying muxconn.Conn, whose dispatch loop is already running in
// its own goroutine. Call Close on the returned Conn to tear the
// connection down. If conn is a net.Conn, its RemoteAddr is attached to
// every server-role Stream's context via peer.NewContext, the same
// wiring the teacher's httpgrpc server performs in peerFromRequest, so
// handlers can retrieve it with peer.FromContext.
func Serve(conn io.ReadWriteCloser, binder *Binder, opts ...muxconn.OptionFunc) *muxconn.Conn {
	tr := transport.New(conn)
	if nc, ok := conn.(net.Conn); ok {
		base := peer.NewContext(context.Background(), &peer.Peer{Addr: nc.RemoteAddr()})
		opts = append([]muxconn.OptionFunc{muxconn.WithBaseContext(base)}, opts...)
	}
	return muxconn.NewServerConn(tr, binder, opts...)
}
