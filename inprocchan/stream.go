package inprocchan

import (
	"context"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/framechan/framechan/internal"
)

// halfPipe is one direction of an in-process stream: an unbounded queue of
// cloned messages plus a terminal error (io.EOF for a clean end).
type halfPipe struct {
	queue *msgQueue
}

func newHalfPipe() *halfPipe {
	return &halfPipe{queue: newMsgQueue()}
}

func (p *halfPipe) send(msg interface{}) {
	p.queue.push(envelope{msg: msg})
}

func (p *halfPipe) finish(err error) {
	if err == nil {
		err = io.EOF
	}
	p.queue.push(envelope{err: err})
	p.queue.closeQueue()
}

func (p *halfPipe) recv(ctx context.Context) (interface{}, error) {
	type result struct {
		e  envelope
		ok bool
	}
	ch := make(chan result, 1)
	go func() {
		e, ok := p.queue.pop()
		ch <- result{e, ok}
	}()
	var r result
	select {
	case <-ctx.Done():
		p.queue.mu.Lock()
		finished := p.queue.closed
		p.queue.mu.Unlock()
		if !finished {
			return nil, internalStatus(ctx.Err())
		}
		// The sender already finished this direction, so the pending pop
		// returns promptly with what was queued before that.
		r = <-ch
	case r = <-ch:
	}
	if !r.ok {
		return nil, io.EOF
	}
	if r.e.err != nil {
		return nil, r.e.err
	}
	return r.e.msg, nil
}

// headerBox delivers response headers exactly once, blocking readers until
// they arrive (mirroring grpc.ClientStream.Header's documented behavior).
type headerBox struct {
	mu        sync.Mutex
	ready     chan struct{}
	readyOnce sync.Once
	md        metadata.MD
}

func newHeaderBox() *headerBox {
	return &headerBox{ready: make(chan struct{})}
}

func (h *headerBox) set(md metadata.MD) {
	h.mu.Lock()
	h.md = md
	h.mu.Unlock()
	h.readyOnce.Do(func() { close(h.ready) })
}

func (h *headerBox) get(ctx context.Context) (metadata.MD, error) {
	select {
	case <-h.ready:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.md, nil
	case <-ctx.Done():
		return nil, internalStatus(ctx.Err())
	}
}

// pipePair connects a client-role stream to a server-role stream entirely
// in memory: no wire codec, no frame multiplexer, just two goroutines
// passing cloned messages back and forth.
type pipePair struct {
	toServer *halfPipe
	toClient *halfPipe
	headers  *headerBox
}

func newPipePair() *pipePair {
	return &pipePair{
		toServer: newHalfPipe(),
		toClient: newHalfPipe(),
		headers:  newHeaderBox(),
	}
}

func internalStatus(err error) error {
	if err == nil {
		return nil
	}
	return status.FromContextError(err).Err()
}

// clientStream adapts a pipePair to grpc.ClientStream for the caller's
// side of an in-process call.
type clientStream struct {
	ctx    context.Context
	pair   *pipePair
	cloner Cloner

	closeSendOnce sync.Once

	mu      sync.Mutex
	trailer metadata.MD
}

var _ grpc.ClientStream = (*clientStream)(nil)

func (cs *clientStream) Header() (metadata.MD, error) {
	return cs.pair.headers.get(cs.ctx)
}

func (cs *clientStream) Trailer() metadata.MD {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.trailer
}

func (cs *clientStream) CloseSend() error {
	cs.closeSendOnce.Do(func() {
		cs.pair.toServer.finish(nil)
	})
	return nil
}

func (cs *clientStream) Context() context.Context {
	return cs.ctx
}

func (cs *clientStream) SendMsg(m interface{}) error {
	select {
	case <-cs.ctx.Done():
		return internalStatus(cs.ctx.Err())
	default:
	}
	cs.pair.toServer.send(cs.cloner.Clone(m))
	return nil
}

func (cs *clientStream) RecvMsg(m interface{}) error {
	msg, err := cs.pair.toClient.recv(cs.ctx)
	if err != nil {
		return err
	}
	return internal.CopyMessage(msg, m)
}

func (cs *clientStream) setTrailer(md metadata.MD) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.trailer = metadata.Join(cs.trailer, md)
}

// serverStream adapts a pipePair to grpc.ServerStream for the handler's
// side of an in-process call.
type serverStream struct {
	ctx    context.Context
	pair   *pipePair
	cloner Cloner
	cs     *clientStream

	mu         sync.Mutex
	headerSent bool
	pendingHdr metadata.MD
	trailer    metadata.MD
}

var _ grpc.ServerStream = (*serverStream)(nil)

func (ss *serverStream) SetHeader(md metadata.MD) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.headerSent {
		return status.Error(codes.Internal, "inprocchan: headers already sent")
	}
	ss.pendingHdr = metadata.Join(ss.pendingHdr, md)
	return nil
}

func (ss *serverStream) SendHeader(md metadata.MD) error {
	if err := ss.SetHeader(md); err != nil {
		return err
	}
	ss.flushHeader()
	return nil
}

func (ss *serverStream) flushHeader() {
	ss.mu.Lock()
	if ss.headerSent {
		ss.mu.Unlock()
		return
	}
	ss.headerSent = true
	md := ss.pendingHdr
	ss.mu.Unlock()
	ss.pair.headers.set(md)
}

func (ss *serverStream) SetTrailer(md metadata.MD) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.trailer = metadata.Join(ss.trailer, md)
}

func (ss *serverStream) Context() context.Context {
	return ss.ctx
}

func (ss *serverStream) SendMsg(m interface{}) error {
	ss.flushHeader()
	ss.pair.toClient.send(ss.cloner.Clone(m))
	return nil
}

func (ss *serverStream) RecvMsg(m interface{}) error {
	msg, err := ss.pair.toServer.recv(ss.ctx)
	if err != nil {
		return err
	}
	return internal.CopyMessage(msg, m)
}

// finish flushes headers (in case the handler never sent any response and
// never called SetHeader) and delivers the handler's terminal status and
// trailer to the client side.
func (ss *serverStream) finish(err error) {
	ss.flushHeader()
	ss.mu.Lock()
	trailer := ss.trailer
	ss.mu.Unlock()
	if len(trailer) > 0 {
		ss.cs.setTrailer(trailer)
	}
	ss.pair.toClient.finish(err)
}
