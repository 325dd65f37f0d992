package framechan

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/framechan/framechan/internal"
	"github.com/framechan/framechan/muxconn"
)

// MethodCodec is the per-method (serialize, deserialize) pair the core
// consumes (spec.md §1: "the core consumes (serialize, deserialize)
// function pairs per method"). Serialize turns an application message into
// bytes for a Payload frame; Deserialize turns accumulated Payload bytes
// back into a concrete application message value. Both are ordinarily
// generated alongside a ServiceDesc's handlers rather than written by
// hand, mirroring how a real protoc-gen-go-grpc Handler closure already
// knows the concrete request/response types for its method.
type MethodCodec struct {
	Serialize   func(any) ([]byte, error)
	Deserialize func([]byte) (any, error)
}

// Binder adapts a HandlerMap (grpc.ServiceDesc-based registration) plus a
// MethodCodec per method full-name into a muxconn.ServerBinding: the
// server-side half of C6. This is the "explicit builder calls" redesign
// spec.md §9 calls for in place of runtime reflection: the only reflection
// involved is what grpc.ServiceDesc/HandlerMap already perform to validate
// a registered handler's type.
type Binder struct {
	registry HandlerMap
	codecs   map[string]MethodCodec
}

// NewBinder creates a Binder over registry. Use BindCodec to attach the
// (serialize, deserialize) pair for each method the registry exposes.
func NewBinder(registry HandlerMap) *Binder {
	return &Binder{registry: registry, codecs: make(map[string]MethodCodec)}
}

// BindCodec attaches codec to the method identified by fullMethodName
// ("/{package.Service}/{Method}", per spec.md §4.6).
func (b *Binder) BindCodec(fullMethodName string, codec MethodCodec) {
	b.codecs[fullMethodName] = codec
}

func splitFullMethod(fullMethodName string) (service, method string, ok bool) {
	name := strings.TrimPrefix(fullMethodName, "/")
	idx := strings.LastIndex(name, "/")
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

// Resolve implements muxconn.ServerBinding.
func (b *Binder) Resolve(fullMethodName string) (muxconn.ServerHandler, bool) {
	serviceName, methodName, ok := splitFullMethod(fullMethodName)
	if !ok {
		return muxconn.ServerHandler{}, false
	}
	desc, impl := b.registry.QueryService(serviceName)
	if desc == nil {
		return muxconn.ServerHandler{}, false
	}
	codec, ok := b.codecs[fullMethodName]
	if !ok {
		return muxconn.ServerHandler{}, false
	}

	if md := internal.FindUnaryMethod(methodName, desc.Methods); md != nil {
		return muxconn.ServerHandler{
			CallType:    muxconn.Unary,
			Serialize:   codec.Serialize,
			Deserialize: codec.Deserialize,
			Invoke:      b.invokeUnary(impl, fullMethodName, *md),
		}, true
	}
	if sd := internal.FindStreamingMethod(methodName, desc.Streams); sd != nil {
		ct := callTypeOf(*sd)
		return muxconn.ServerHandler{
			CallType:    ct,
			Serialize:   codec.Serialize,
			Deserialize: codec.Deserialize,
			Invoke:      b.invokeStream(impl, fullMethodName, *sd),
		}, true
	}
	return muxconn.ServerHandler{}, false
}

func callTypeOf(sd grpc.StreamDesc) muxconn.CallType {
	switch {
	case sd.ClientStreams && sd.ServerStreams:
		return muxconn.Duplex
	case sd.ClientStreams:
		return muxconn.ClientStreaming
	case sd.ServerStreams:
		return muxconn.ServerStreaming
	default:
		return muxconn.Unary
	}
}

// invokeUnary wraps the server-role stream's context with a
// UnaryServerTransportStream (adapted from internal/transport_stream.go) so
// that a handler's grpc.SetHeader/grpc.SendHeader/grpc.SetTrailer calls land
// somewhere, then flushes whatever it collected onto ss before the final
// WriteStatus, exactly as grpc.Server's own unary path does.
func (b *Binder) invokeUnary(impl any, fullMethod string, md grpc.MethodDesc) func(ss muxconn.ServerStreamer) {
	return func(ss muxconn.ServerStreamer) {
		sts := &internal.UnaryServerTransportStream{Name: fullMethod}
		ctx := grpc.NewContextWithServerTransportStream(ss.Context(), sts)
		dec := func(in any) error {
			return ss.RecvMsg(in)
		}
		resp, err := md.Handler(impl, ctx, dec, nil)
		finishUnary(ss, sts, resp, err)
	}
}

// invokeStream wraps ss's context with a ServerTransportStream that
// delegates straight back to ss, so header/trailer calls routed through
// grpc.SetHeader/grpc.SetTrailer behave the same as calling ss.SetHeader/
// ss.SetTrailer directly.
func (b *Binder) invokeStream(impl any, fullMethod string, sd grpc.StreamDesc) func(ss muxconn.ServerStreamer) {
	return func(ss muxconn.ServerStreamer) {
		sts := &internal.ServerTransportStream{Name: fullMethod, Stream: ss}
		wrapped := &transportStreamServer{ServerStreamer: ss, ctx: grpc.NewContextWithServerTransportStream(ss.Context(), sts)}
		err := sd.Handler(impl, wrapped)
		finishStream(ss, err)
	}
}

// transportStreamServer overrides Context on an otherwise-ordinary
// ServerStreamer so handlers that reach for grpc.SetHeader/grpc.SetTrailer
// (instead of calling the stream's own methods) still work.
type transportStreamServer struct {
	muxconn.ServerStreamer
	ctx context.Context
}

func (t *transportStreamServer) Context() context.Context {
	return t.ctx
}

func finishUnary(ss muxconn.ServerStreamer, sts *internal.UnaryServerTransportStream, resp any, err error) {
	if hdrs := sts.GetHeaders(); len(hdrs) > 0 {
		_ = ss.SendHeader(hdrs)
	}
	st := statusFromHandlerError(err)
	if st.Code() == codes.OK {
		if sendErr := ss.SendMsg(resp); sendErr != nil {
			st = statusFromHandlerError(sendErr)
		}
	}
	if tlrs := sts.GetTrailers(); len(tlrs) > 0 {
		ss.SetTrailer(tlrs)
	}
	_ = ss.WriteStatus(st)
}

func finishStream(ss muxconn.ServerStreamer, err error) {
	_ = ss.WriteStatus(statusFromHandlerError(err))
}

func statusFromHandlerError(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	if st, ok := status.FromError(err); ok {
		if st.Code() == codes.OK {
			// A handler returning codes.OK alongside a non-nil error is
			// coerced to Unknown (spec.md §7).
			return status.New(codes.Unknown, st.Message())
		}
		return st
	}
	return status.New(codes.Unknown, err.Error())
}
