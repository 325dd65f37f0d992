package muxconn

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/framechan/framechan/transport"
	"github.com/framechan/framechan/wire"
)

// ServerHandler is what a ServerBinding resolves a method full-name to: the
// call shape, the method's (serialize, deserialize) pair, and the function
// that runs the bound handler against a server-role Stream.
type ServerHandler struct {
	CallType    CallType
	Serialize   func(any) ([]byte, error)
	Deserialize func([]byte) (any, error)
	// Invoke runs the user's handler against ss, a freshly admitted
	// server-role Stream already inserted into the connection's table. It
	// is run on its own goroutine by the Conn and must arrange for the
	// stream's terminal StreamTrailer to be written (WriteStatus) before
	// returning.
	Invoke func(ss ServerStreamer)
}

// ServerBinding resolves an inbound NewStream's method full-name to a
// handler. The root package's Binder implements this over a HandlerMap /
// grpc.ServiceDesc, matching spec.md §4.6's "name -> factory map" without
// runtime reflection beyond what grpc.ServiceDesc already carries.
type ServerBinding interface {
	Resolve(methodName string) (ServerHandler, bool)
}

// Conn is the multiplexer (C5): single reader goroutine, id -> stream
// table, and (on a server-role connection) NewStream admission.
type Conn struct {
	transport *transport.Transport
	isClient  bool
	opts      Options
	binding   ServerBinding

	mu       sync.Mutex
	streams  map[uint16]*Stream
	nextID   uint16
	closed   bool
	closeErr error

	pool *streamPool

	baseCtx context.Context
	cancel  context.CancelFunc

	dispatchDone chan struct{}
}

// NewClientConn wraps tr as a client-role connection: it may originate
// streams (NewCall) but will refuse inbound NewStream frames.
func NewClientConn(tr *transport.Transport, opts ...OptionFunc) *Conn {
	return newConn(tr, true, nil, opts)
}

// NewServerConn wraps tr as a server-role connection bound to binding: it
// accepts inbound NewStream frames and dispatches them to binding.
func NewServerConn(tr *transport.Transport, binding ServerBinding, opts ...OptionFunc) *Conn {
	return newConn(tr, false, binding, opts)
}

func newConn(tr *transport.Transport, isClient bool, binding ServerBinding, opts []OptionFunc) *Conn {
	resolved := resolveOptions(opts)
	ctx, cancel := context.WithCancel(resolved.BaseContext)
	c := &Conn{
		transport:    tr,
		isClient:     isClient,
		opts:         resolved,
		binding:      binding,
		streams:      make(map[uint16]*Stream),
		nextID:       1,
		pool:         newStreamPool(),
		baseCtx:      ctx,
		cancel:       cancel,
		dispatchDone: make(chan struct{}),
	}
	go c.dispatchLoop()
	return c
}

// localOriginBit is the FlagIsClientStream value this connection stamps on
// frames it originates.
func (c *Conn) localOriginBit() wire.Flag {
	if c.isClient {
		return wire.FlagIsClientStream
	}
	return 0
}

// remoteOriginated reports whether a frame's originator bit indicates it
// came from the connection's peer rather than a reflection of this side's
// own traffic (spec.md §4.5's originator discrimination).
func (c *Conn) remoteOriginated(f wire.Flag) bool {
	frameIsClient := f.Has(wire.FlagIsClientStream)
	return frameIsClient != c.isClient
}

// allocID finds a free odd/even-disciplined id for an outbound stream:
// clients use odd ids, servers use even ids, matching the low-bit
// discrimination in spec.md §3. It searches up to MaxConcurrentStreams ids
// before giving up.
func (c *Conn) allocID() (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.nextID
	for i := 0; i < c.opts.MaxConcurrentStreams; i++ {
		id := c.nextID
		c.nextID += 2
		if c.nextID == 0 {
			// 0 is reserved for connection control; skip back onto the
			// correct parity by bumping once more.
			c.nextID = idParityBase(c.isClient)
		}
		if id == 0 {
			continue
		}
		if (id%2 == 1) != c.isClient {
			continue // wrong parity after wraparound correction
		}
		if _, taken := c.streams[id]; !taken {
			return id, nil
		}
		if c.nextID == start {
			break
		}
	}
	return 0, fmt.Errorf("muxconn: no free stream ids after %d attempts", c.opts.MaxConcurrentStreams)
}

func idParityBase(isClient bool) uint16 {
	if isClient {
		return 1
	}
	return 2
}

func (c *Conn) insertStream(s *Stream) {
	c.mu.Lock()
	c.streams[s.id] = s
	c.mu.Unlock()
}

func (c *Conn) lookupStream(id uint16) (*Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[id]
	return s, ok
}

func (c *Conn) removeStream(id uint16) {
	c.mu.Lock()
	delete(c.streams, id)
	c.mu.Unlock()
}

// Done returns a channel closed once the connection's dispatch loop has
// exited, whether from an explicit Close or because the underlying
// transport failed (e.g. the peer disconnected). A server using
// Serve/NewServerConn per accepted net.Conn can block on this to know when
// to stop tracking the connection.
func (c *Conn) Done() <-chan struct{} {
	return c.dispatchDone
}

// Close shuts the connection down: every live stream resolves with
// Unavailable, the dispatch loop exits, and the underlying transport is
// closed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.closeErr
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	err := c.transport.Close()
	<-c.dispatchDone
	return err
}

// failAllStreams resolves every currently tracked stream with st. Used on
// transport failure and on Close.
func (c *Conn) failAllStreams(st *status.Status) {
	c.mu.Lock()
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()
	for _, s := range streams {
		s.resolveTerminalStatus(st)
	}
}

var errConnectionClosed = status.New(codes.Unavailable, "connection closed")
