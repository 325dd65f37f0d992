package muxconn

import (
	"context"

	"github.com/framechan/framechan/transport"
	"github.com/framechan/framechan/wire"
)

// NewCall allocates a stream id, inserts a client-role Stream into the
// table, and emits the NewStream frame that begins the logical call. It
// is the client-side half of C6 (the invoker); Conn.dispatchLoop is the
// server-side half (handleNewStream).
func (c *Conn) NewCall(ctx context.Context, methodName string, ct CallType,
	serialize func(any) ([]byte, error), deserialize func([]byte) (any, error)) (*clientStream, error) {

	id, err := c.allocID()
	if err != nil {
		return nil, err
	}
	s := c.pool.get(ct)
	s.init(id, c, methodName, ct, RoleClient, ctx)
	s.serialize = serialize
	s.deserialize = deserialize
	s.onClose = c.pool.put
	c.insertStream(s)

	header := wire.Header{Kind: wire.KindNewStream, Flags: c.localOriginBit(), StreamID: id}
	builder := c.transport.Builder()
	payload := []byte(methodName)
	lease, buf := builder.BeginFrame(header, len(payload))
	n := copy(buf, payload)
	frame, err := builder.Advance(header, lease, n)
	if err != nil {
		s.finish()
		return nil, err
	}
	if err := c.transport.Send(frame, transport.FlushAfter); err != nil {
		s.finish()
		return nil, err
	}
	return &clientStream{s}, nil
}
