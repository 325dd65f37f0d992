package muxconn

import (
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/framechan/framechan/internal"
)

// isLastSend reports whether this call shape sends exactly one message
// per direction from the given role, i.e. whether SendMsg should mark its
// (necessarily single) message as EndAllItems immediately.
func (s *Stream) isLastSend() bool {
	switch s.callType {
	case Unary:
		return true
	case ServerStreaming:
		return s.role == RoleClient
	case ClientStreaming:
		return s.role == RoleServer
	default: // Duplex
		return false
	}
}

// SendMsg implements the shared half of grpc.ClientStream/grpc.ServerStream.
// For call shapes where this role sends exactly one message (Unary on
// both sides, the client's single request in ServerStreaming, the
// server's single response in ClientStreaming) the message is marked
// EndAllItems automatically; for ClientStreaming/Duplex senders, call
// CloseSend when done instead.
func (s *Stream) SendMsg(m any) error {
	select {
	case <-s.ctx.Done():
		return internalStatus(s.ctx.Err()).Err()
	default:
	}
	return s.sendMsg(m, s.isLastSend())
}

// RecvMsg implements the shared half of grpc.ClientStream/grpc.ServerStream.
// It blocks until the next inbound message is available, the peer closes
// its half (io.EOF), the stream resolves with a non-OK status, or the
// stream's context is done.
func (s *Stream) RecvMsg(m any) error {
	type result struct {
		env recvEnvelope
		ok  bool
	}
	ch := make(chan result, 1)
	go func() {
		env, ok := s.recvQ.pop()
		ch <- result{env, ok}
	}()
	var r result
	select {
	case <-s.ctx.Done():
		if s.getState() != Closed {
			return internalStatus(s.ctx.Err()).Err()
		}
		// A Closed stream has already queued everything it received and its
		// terminal result, so the pending pop returns promptly; deliver
		// that rather than the cancellation finish applies to ctx.
		r = <-ch
	case r = <-ch:
	}
	if !r.ok {
		return status.New(codes.Unavailable, "stream closed").Err()
	}
	if r.env.err != nil {
		return r.env.err
	}
	return internal.CopyMessage(r.env.msg, m)
}

// CloseSend marks the local half of the stream done without sending a
// final message. Used by client-streaming and duplex callers once all
// requests have been sent.
func (s *Stream) CloseSend() error {
	return s.closeSend()
}

// Header returns the header metadata recorded so far, without blocking.
// On a client-role stream this is the metadata carried by the server's
// StreamTrailer frame, set once that frame arrives (nil before then);
// metadata a server handler sets with SetHeader/SendHeader is not sent on
// the wire.
func (s *Stream) Header() (metadata.MD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header, nil
}

// Trailer returns the trailer metadata sent with the stream's
// StreamTrailer frame, if any. Only valid after the stream has completed.
func (s *Stream) Trailer() metadata.MD {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trailer
}

// Status returns the stream's terminal disposition, if resolved.
func (s *Stream) Status() *status.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return status.New(codes.OK, "")
	}
	return s.status
}

// SetHeader, SendHeader, SetTrailer implement the server-side half of
// grpc.ServerStream, delegated to by serverStream.
func (s *Stream) SetHeader(md metadata.MD) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headerSent {
		return errors.New("muxconn: headers already sent")
	}
	s.header = metadata.Join(s.header, md)
	return nil
}

func (s *Stream) SendHeader(md metadata.MD) error {
	if err := s.SetHeader(md); err != nil {
		return err
	}
	s.mu.Lock()
	s.headerSent = true
	s.mu.Unlock()
	return nil
}

func (s *Stream) SetTrailer(md metadata.MD) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trailer = metadata.Join(s.trailer, md)
}

// ServerStreamer is the surface a bound handler's invoker (the root
// package's Binder) needs to drive a server-role Stream and publish its
// result: the full grpc.ServerStream contract plus WriteStatus to send the
// terminal StreamTrailer. *serverStream satisfies this without any extra
// glue since it embeds *Stream directly.
type ServerStreamer interface {
	grpc.ServerStream
	WriteStatus(*status.Status) error
}

// clientStream adapts *Stream to grpc.ClientStream for use as the return
// value of a Channel's NewStream.
type clientStream struct {
	*Stream
}

var _ grpc.ClientStream = (*clientStream)(nil)

// serverStream adapts *Stream to grpc.ServerStream for use as the argument
// to a bound StreamDesc.Handler.
type serverStream struct {
	*Stream
}

var _ grpc.ServerStream = (*serverStream)(nil)

// drainUntilEOF maps a RecvMsg result of io.EOF to nil and returns any
// other error unchanged; it does not call RecvMsg itself.
func drainUntilEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
