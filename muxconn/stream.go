package muxconn

import (
	"context"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/framechan/framechan/internal"
	"github.com/framechan/framechan/transport"
	"github.com/framechan/framechan/wire"
)

// CallType is one of the four gRPC call shapes a Stream can implement.
type CallType int

const (
	Unary CallType = iota
	ClientStreaming
	ServerStreaming
	Duplex
	numCallTypes
)

func (c CallType) String() string {
	switch c {
	case Unary:
		return "Unary"
	case ClientStreaming:
		return "ClientStreaming"
	case ServerStreaming:
		return "ServerStreaming"
	case Duplex:
		return "Duplex"
	default:
		return "Unknown"
	}
}

// Role identifies which side of the connection originated a stream.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// State is a Stream's position in the FSM described by spec.md §3:
// Idle -> Open -> HalfClosedLocal|HalfClosedRemote -> Closed.
type State int

const (
	Idle State = iota
	Open
	HalfClosedLocal
	HalfClosedRemote
	Closed
)

// Stream is the per-call state machine (C4): one instance per live logical
// call, holding the accumulator for inbound messages, the cancellation
// signal, and the call-shape contract (Unary/ClientStreaming/
// ServerStreaming/Duplex). A Stream is driven from two sides: the
// connection's single dispatch goroutine (via TryAcceptFrame) delivers
// inbound frames, and whichever goroutine owns the call (user handler on
// the server, user call site on the client) drives outbound messages via
// SendMsg/CloseSend.
type Stream struct {
	id         uint16
	conn       *Conn
	methodName string
	callType   CallType
	role       Role

	serialize   func(any) ([]byte, error)
	deserialize func([]byte) (any, error)

	mu              sync.Mutex
	state           State
	peerSeqExpected uint16
	mySeqNext       uint16
	recvAcc         []byte
	sendEnded       bool // we have sent EndAllItems
	trailerSent     bool // we have sent our StreamTrailer (server role only)
	recvEnded       bool // peer has sent EndAllItems or a Trailer
	header          metadata.MD
	headerSent      bool
	trailer         metadata.MD
	status          *status.Status

	recvQ *msgQueue

	ctx       context.Context
	cancelFn  context.CancelFunc
	closeOnce sync.Once
	onClose   func(*Stream)
}

func (s *Stream) reset() {
	*s = Stream{recvQ: newMsgQueue()}
}

// init (re)initializes a recycled or fresh Stream for a new logical call.
// parentCtx supplies the cancellation composed from user token, deadline,
// and connection shutdown (spec.md §5): for a client call this is the
// caller's context; for a server call it is derived from the connection's
// base context.
func (s *Stream) init(id uint16, conn *Conn, methodName string, ct CallType, role Role, parentCtx context.Context) {
	if s.recvQ == nil {
		s.recvQ = newMsgQueue()
	}
	s.recvQ.reset()
	s.id = id
	s.conn = conn
	s.methodName = methodName
	s.callType = ct
	s.role = role
	s.state = Idle
	s.peerSeqExpected = 0
	s.mySeqNext = 0
	s.recvAcc = nil
	s.sendEnded = false
	s.trailerSent = false
	s.recvEnded = false
	s.header = nil
	s.headerSent = false
	s.trailer = nil
	s.status = nil
	s.ctx, s.cancelFn = context.WithCancel(parentCtx)
	s.closeOnce = sync.Once{}
	go s.watchCancellation()
}

// watchCancellation composes the user token/deadline (carried by
// parentCtx, already folded into s.ctx by WithCancel) with the stream's
// own lifecycle: if s.ctx ends for any reason other than the stream having
// already finished normally, that's an external cancellation (or
// connection shutdown) and the stream must unwind via Cancel.
func (s *Stream) watchCancellation() {
	<-s.ctx.Done()
	s.Cancel()
}

// Context returns the stream's composed cancellation context.
func (s *Stream) Context() context.Context { return s.ctx }

func (s *Stream) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Stream) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// localFlagBit returns the FlagIsClientStream setting this endpoint must
// stamp on frames it originates, so the peer's originator discrimination
// (spec.md §4.5) works regardless of which side is "client" for this call.
func (s *Stream) localFlagBit() wire.Flag {
	isClient := s.conn.isClient
	if isClient {
		return wire.FlagIsClientStream
	}
	return 0
}

// ---- Outbound ----

// sendMsg serializes m and writes it as one or more Payload frames,
// chunked at the 65535-byte boundary (spec.md §4.4). last indicates this is
// the final message this endpoint will send on this stream (EndAllItems).
func (s *Stream) sendMsg(m any, last bool) error {
	s.mu.Lock()
	if s.sendEnded {
		s.mu.Unlock()
		return fmt.Errorf("muxconn: SendMsg called after CloseSend/EndAllItems")
	}
	s.mu.Unlock()

	data, err := s.serialize(m)
	if err != nil {
		return err
	}
	return s.writeChunked(data, last)
}

func (s *Stream) writeChunked(data []byte, last bool) error {
	builder := s.conn.transport.Builder()
	if len(data) == 0 {
		return s.sendFrame(builder, wire.KindPayload, nil, true, last)
	}
	for off := 0; off < len(data); {
		end := off + wire.MaxPayloadLen
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		endItem := end == len(data)
		if err := s.sendFrame(builder, wire.KindPayload, chunk, endItem, endItem && last); err != nil {
			return err
		}
		off = end
	}
	return nil
}

func (s *Stream) sendFrame(builder *wire.Builder, kind wire.Kind, payload []byte, endItem, endAll bool) error {
	s.mu.Lock()
	seq := s.mySeqNext
	s.mySeqNext++
	if endAll {
		s.sendEnded = true
	}
	s.mu.Unlock()

	var flags wire.Flag
	if endItem {
		flags |= wire.FlagEndItem
	}
	if endAll {
		flags |= wire.FlagEndAllItems
	}
	flags |= s.localFlagBit()
	header := wire.Header{Kind: kind, Flags: flags, StreamID: s.id, SequenceID: seq}
	lease, buf := builder.BeginFrame(header, len(payload))
	n := copy(buf, payload)
	frame, err := builder.Advance(header, lease, n)
	if err != nil {
		return err
	}
	// HeaderReserved always applies: BeginFrame/Advance lay the header out
	// contiguously with the payload in the same Lease.
	writeFlags := transport.BufferHint | transport.HeaderReserved
	if endAll || kind == wire.KindStreamTrailer || kind == wire.KindStreamCancel {
		writeFlags = transport.FlushAfter | transport.HeaderReserved
	}
	if err := s.conn.transport.Send(frame, writeFlags); err != nil {
		return err
	}
	if endAll && s.localSendIsFinal(kind) {
		s.advanceLocalHalfClosed()
	}
	return nil
}

// localSendIsFinal reports whether kind is the frame that ends this
// Stream's local half for close/recycling purposes. A client never sends
// a StreamTrailer, so its last Payload (CloseSend or an auto-EndAllItems
// message) is final. A server always follows its last response Payload
// with a StreamTrailer (WriteStatus); recycling on the Payload itself
// would tear the Stream down before WriteStatus can use it.
func (s *Stream) localSendIsFinal(kind wire.Kind) bool {
	if s.role == RoleClient {
		return kind == wire.KindPayload
	}
	return kind == wire.KindStreamTrailer
}

// closeSend marks the local half of the stream done without emitting a
// message (e.g. client-streaming's CloseSend after the last request).
func (s *Stream) closeSend() error {
	s.mu.Lock()
	if s.sendEnded {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	builder := s.conn.transport.Builder()
	return s.sendFrame(builder, wire.KindPayload, nil, false, true)
}

// WriteStatus sends a StreamTrailer frame carrying the server's final
// disposition, along with any trailer metadata previously set via
// SetTrailer. Only meaningful for RoleServer streams. It always sends,
// even if the response's last message already carried EndAllItems: the
// trailer is the authoritative end-of-call signal a client-role stream
// waits for (spec.md §6), distinct from the payload stream's own end.
func (s *Stream) WriteStatus(st *status.Status) error {
	s.mu.Lock()
	if s.trailerSent {
		s.mu.Unlock()
		return nil
	}
	s.trailerSent = true
	trailer := s.trailer
	s.mu.Unlock()

	payload := encodeTrailer(st, trailer)
	builder := s.conn.transport.Builder()
	if err := s.sendFrame(builder, wire.KindStreamTrailer, payload, true, true); err != nil {
		return err
	}
	return nil
}

func (s *Stream) advanceLocalHalfClosed() {
	s.mu.Lock()
	switch s.state {
	case Idle, Open:
		if s.recvEnded {
			s.state = Closed
		} else {
			s.state = HalfClosedLocal
		}
	case HalfClosedRemote:
		s.state = Closed
	}
	closed := s.state == Closed
	s.mu.Unlock()
	if closed {
		s.finish()
	}
}

// ---- Inbound ----

// TryAcceptFrame admits an inbound frame into the stream's state machine.
// It returns true if ownership of frame transfers to the stream (the
// dispatch loop must not Release it); false means the caller still owns
// the frame and must Release it itself.
func (s *Stream) TryAcceptFrame(frame *wire.Frame) bool {
	var adopted bool
	switch frame.Header.Kind {
	case wire.KindPayload:
		adopted = s.acceptPayload(frame)
	case wire.KindStreamTrailer:
		adopted = s.acceptTrailer(frame)
	default:
		return false
	}
	if adopted {
		// acceptPayload and acceptTrailer copy what they keep out of the
		// frame, so the stream is done with it here.
		frame.Release()
	}
	return adopted
}

func (s *Stream) acceptPayload(frame *wire.Frame) bool {
	s.mu.Lock()
	if frame.Header.SequenceID != s.peerSeqExpected {
		s.mu.Unlock()
		s.failProtocol(fmt.Errorf("muxconn: out-of-order sequence id on stream %d: got %d want %d",
			s.id, frame.Header.SequenceID, s.peerSeqExpected))
		return false
	}
	s.peerSeqExpected++
	s.recvAcc = append(s.recvAcc, frame.Payload()...)
	endItem := frame.Header.Flags.Has(wire.FlagEndItem)
	endAll := frame.Header.Flags.Has(wire.FlagEndAllItems)
	var complete []byte
	if endItem {
		complete = s.recvAcc
		s.recvAcc = nil
	}
	if endAll {
		s.recvEnded = true
	}
	s.mu.Unlock()

	if endItem {
		msg, err := s.deserialize(complete)
		s.recvQ.push(recvEnvelope{msg: msg, err: err})
	}
	if endAll && s.role == RoleServer {
		// This Stream is the server's view of the call: its peer is the
		// client, which never sends a StreamTrailer (only the server
		// publishes call status). EndAllItems on a request Payload is
		// therefore the authoritative end of the request direction.
		s.recvQ.push(recvEnvelope{err: io.EOF})
	}
	// When this Stream is the client's view (s.role == RoleClient), its
	// peer is the server, and a StreamTrailer frame always follows to
	// carry the authoritative status (spec.md §6); defer to acceptTrailer.
	return true
}

func (s *Stream) acceptTrailer(frame *wire.Frame) bool {
	st, trailer := decodeTrailer(frame.Payload())
	s.mu.Lock()
	s.recvEnded = true
	s.status = st
	s.trailer = trailer
	if s.header == nil {
		// This wire format has no separate header frame; the trailer's
		// metadata is the only metadata a client-role stream ever
		// receives, so it doubles as both (matches Header's doc comment).
		s.header = trailer
	}
	s.mu.Unlock()

	var err error
	if st.Code() != codes.OK {
		err = st.Err()
	} else {
		err = io.EOF
	}
	s.recvQ.push(recvEnvelope{err: err})
	s.advanceRemoteHalfClosed()
	return true
}

func (s *Stream) advanceRemoteHalfClosed() {
	s.mu.Lock()
	switch s.state {
	case Idle, Open:
		if s.sendEnded {
			s.state = Closed
		} else {
			s.state = HalfClosedRemote
		}
	case HalfClosedLocal:
		s.state = Closed
	}
	closed := s.state == Closed
	s.mu.Unlock()
	if closed {
		s.finish()
	}
}

// failProtocol resolves the stream with an Internal status, as a malformed
// sequence within an otherwise well-formed connection (spec.md §4.5: a
// per-stream user/protocol failure never tears down the connection).
func (s *Stream) failProtocol(err error) {
	s.mu.Lock()
	s.status = status.New(codes.Internal, err.Error())
	s.mu.Unlock()
	s.recvQ.push(recvEnvelope{err: s.status.Err()})
	s.Cancel()
}

// Cancel aborts the stream: it transitions to Closed, wakes any blocked
// RecvMsg with a cancellation status, and best-effort emits a StreamCancel
// frame. The frame is sent whenever the stream wasn't already Closed: "the
// outbound side is still open" (spec.md §5) refers to the connection's
// transport, not to whether this stream already sent its own last message
// (sendEnded) — a unary or server-streaming call's single request is marked
// EndAllItems as soon as it's sent, well before the call resolves, so
// gating on sendEnded would suppress the Cancel frame for most call shapes.
func (s *Stream) Cancel() {
	s.mu.Lock()
	alreadyClosed := s.state == Closed
	s.state = Closed
	s.mu.Unlock()
	if alreadyClosed {
		return
	}
	s.sendCancelFrame()
	s.cancelFn()
	s.recvQ.push(recvEnvelope{err: status.New(codes.Canceled, "stream canceled").Err()})
	s.finish()
}

func (s *Stream) sendCancelFrame() {
	builder := s.conn.transport.Builder()
	header := wire.Header{Kind: wire.KindStreamCancel, Flags: s.localFlagBit(), StreamID: s.id}
	lease, _ := builder.BeginFrame(header, 0)
	frame, err := builder.Advance(header, lease, 0)
	if err == nil {
		_ = s.conn.transport.Send(frame, transport.FlushAfter|transport.HeaderReserved)
	}
}

// resolveTerminalStatus is used by the connection on transport failure or
// shutdown to fail every live stream uniformly.
func (s *Stream) resolveTerminalStatus(st *status.Status) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	s.status = st
	s.mu.Unlock()
	s.cancelFn()
	s.recvQ.push(recvEnvelope{err: st.Err()})
	s.finish()
}

// finish removes the stream from its connection's table and, once, invokes
// the recycle callback.
func (s *Stream) finish() {
	s.closeOnce.Do(func() {
		s.cancelFn()
		s.recvQ.closeQueue()
		s.conn.removeStream(s.id)
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

func internalStatus(err error) *status.Status {
	return status.Convert(internal.TranslateContextError(err))
}
