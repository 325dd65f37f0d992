package muxconn

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/framechan/framechan/transport"
	"github.com/framechan/framechan/wire"
)

// dispatchLoop is the single asynchronous loop per connection (C5),
// matching spec.md §4.5's pseudocode kind-by-kind.
func (c *Conn) dispatchLoop() {
	defer close(c.dispatchDone)
	for {
		select {
		case frame, ok := <-c.transport.Frames():
			if !ok {
				c.onTransportClosed()
				return
			}
			adopted := c.dispatchFrame(frame)
			if !adopted {
				frame.Release()
			}
		case <-c.baseCtx.Done():
			c.failAllStreams(errConnectionClosed)
			return
		}
	}
}

func (c *Conn) onTransportClosed() {
	err := c.transport.ReadErr()
	st := errConnectionClosed
	if err != nil {
		st = status.New(codes.Unavailable, err.Error())
	}
	c.failAllStreams(st)
}

// dispatchFrame returns true if the frame's ownership transferred to a
// Stream (the caller must not Release it).
func (c *Conn) dispatchFrame(f *wire.Frame) bool {
	switch f.Header.Kind {
	case wire.KindConnectionClose:
		c.handleConnectionClose(f)
		return false
	case wire.KindConnectionPing:
		c.handleConnectionPing(f)
		return false
	case wire.KindNewStream:
		c.handleNewStream(f)
		return false
	case wire.KindPayload, wire.KindStreamTrailer:
		return c.handlePayloadOrTrailer(f)
	case wire.KindStreamCancel:
		c.handleCancel(f)
		return false
	case wire.KindStreamMethodNotFound:
		c.handleMethodNotFound(f)
		return false
	default:
		c.opts.Logger.Warnf("muxconn: unknown frame kind %d on stream %d, dropping", f.Header.Kind, f.Header.StreamID)
		return false
	}
}

func (c *Conn) handleConnectionClose(f *wire.Frame) {
	if !c.remoteOriginated(f.Header.Flags) {
		return
	}
	header := wire.Header{Kind: wire.KindConnectionClose, Flags: c.localOriginBit() | wire.FlagIsResponse}
	builder := c.transport.Builder()
	lease, _ := builder.BeginFrame(header, 0)
	if ack, err := builder.Advance(header, lease, 0); err == nil {
		_ = c.transport.Send(ack, transport.FlushAfter)
	}
	c.failAllStreams(errConnectionClosed)
	go c.Close()
}

func (c *Conn) handleConnectionPing(f *wire.Frame) {
	if f.Header.Flags.Has(wire.FlagIsResponse) {
		return // this is the echo of our own ping; nothing to do
	}
	if !c.remoteOriginated(f.Header.Flags) {
		return
	}
	header := wire.Header{Kind: wire.KindConnectionPing, Flags: c.localOriginBit() | wire.FlagIsResponse}
	builder := c.transport.Builder()
	lease, _ := builder.BeginFrame(header, 0)
	if echo, err := builder.Advance(header, lease, 0); err == nil {
		_ = c.transport.Send(echo, transport.FlushAfter)
	}
}

func (c *Conn) handleNewStream(f *wire.Frame) {
	if c.isClient {
		// Clients must not receive NewStream (spec.md §4.5): a non-fatal
		// protocol error, logged and dropped, the same treatment as an
		// unknown stream id on a non-initiating frame.
		c.opts.Logger.Warnf("muxconn: client connection received NewStream for id %d, dropping", f.Header.StreamID)
		return
	}
	id := f.Header.StreamID
	if _, exists := c.lookupStream(id); exists {
		c.sendCancelFor(id)
		return
	}
	methodName := string(f.Payload())
	handler, ok := c.binding.Resolve(methodName)
	if !ok {
		c.sendMethodNotFound(id)
		return
	}
	s := c.pool.get(handler.CallType)
	s.init(id, c, methodName, handler.CallType, RoleServer, c.baseCtx)
	s.serialize = handler.Serialize
	s.deserialize = handler.Deserialize
	s.onClose = c.pool.put
	c.insertStream(s)
	go handler.Invoke(&serverStream{s})
}

func (c *Conn) sendCancelFor(id uint16) {
	header := wire.Header{Kind: wire.KindStreamCancel, Flags: c.localOriginBit(), StreamID: id}
	builder := c.transport.Builder()
	lease, _ := builder.BeginFrame(header, 0)
	if frame, err := builder.Advance(header, lease, 0); err == nil {
		_ = c.transport.Send(frame, transport.FlushAfter)
	}
}

func (c *Conn) sendMethodNotFound(id uint16) {
	header := wire.Header{Kind: wire.KindStreamMethodNotFound, Flags: c.localOriginBit(), StreamID: id}
	builder := c.transport.Builder()
	lease, _ := builder.BeginFrame(header, 0)
	if frame, err := builder.Advance(header, lease, 0); err == nil {
		_ = c.transport.Send(frame, transport.FlushAfter)
	}
}

func (c *Conn) handlePayloadOrTrailer(f *wire.Frame) bool {
	s, ok := c.lookupStream(f.Header.StreamID)
	if !ok {
		c.opts.Logger.Debugf("muxconn: frame for unknown stream %d, dropping", f.Header.StreamID)
		return false
	}
	return s.TryAcceptFrame(f)
}

func (c *Conn) handleCancel(f *wire.Frame) {
	s, ok := c.lookupStream(f.Header.StreamID)
	if !ok {
		return
	}
	s.Cancel()
}

func (c *Conn) handleMethodNotFound(f *wire.Frame) {
	s, ok := c.lookupStream(f.Header.StreamID)
	if !ok {
		return
	}
	s.resolveTerminalStatus(status.New(codes.Unimplemented, "method not found: "+s.methodName))
}
