package inprocchan

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/framechan/framechan/internal"
)

// Channel dispatches calls directly to handlers registered in the same
// process: no serialization, no goroutine hop through a transport, just a
// pair of in-memory pipes per call and a Cloner standing in for what would
// otherwise be marshal/unmarshal across a real transport. The zero value
// is ready to use, mirroring the teacher's inprocgrpc.Channel.
type Channel struct {
	// Cloner is used to copy messages passed between client and server
	// goroutines. If nil, DefaultCloner is used.
	Cloner Cloner

	mu       sync.RWMutex
	services map[string]service
}

type service struct {
	desc *grpc.ServiceDesc
	impl interface{}
}

var _ grpc.ClientConnInterface = (*Channel)(nil)

// RegisterService implements framechan.ServiceRegistry, the same contract
// grpc.Server and HandlerMap satisfy.
func (c *Channel) RegisterService(desc *grpc.ServiceDesc, srv interface{}) {
	ht := reflect.TypeOf(desc.HandlerType).Elem()
	st := reflect.TypeOf(srv)
	if !st.Implements(ht) {
		panic(fmt.Sprintf("service %s: handler of type %v does not satisfy %v", desc.ServiceName, st, ht))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.services == nil {
		c.services = make(map[string]service)
	}
	if _, ok := c.services[desc.ServiceName]; ok {
		panic(fmt.Sprintf("service %s: handler already registered", desc.ServiceName))
	}
	c.services[desc.ServiceName] = service{desc: desc, impl: srv}
}

func (c *Channel) cloner() Cloner {
	if c.Cloner != nil {
		return c.Cloner
	}
	return DefaultCloner{}
}

func (c *Channel) lookup(serviceName string) (service, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	svc, ok := c.services[serviceName]
	return svc, ok
}

func splitFullMethod(fullMethodName string) (service, method string, ok bool) {
	name := strings.TrimPrefix(fullMethodName, "/")
	idx := strings.LastIndex(name, "/")
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

// Invoke implements framechan.Channel (and grpc.ClientConnInterface).
func (c *Channel) Invoke(ctx context.Context, fullMethod string, req, resp interface{}, opts ...grpc.CallOption) error {
	serviceName, methodName, ok := splitFullMethod(fullMethod)
	if !ok {
		return status.Errorf(codes.InvalidArgument, "inprocchan: malformed method name %q", fullMethod)
	}
	svc, ok := c.lookup(serviceName)
	if !ok {
		return status.Errorf(codes.Unimplemented, "inprocchan: unknown service %q", serviceName)
	}
	md := internal.FindUnaryMethod(methodName, svc.desc.Methods)
	if md == nil {
		return status.Errorf(codes.Unimplemented, "inprocchan: unknown method %q", fullMethod)
	}

	cloner := c.cloner()
	reqClone := cloner.Clone(req)
	sctx := incomingFromOutgoing(ctx)
	sts := &internal.UnaryServerTransportStream{Name: fullMethod}
	sctx = grpc.NewContextWithServerTransportStream(sctx, sts)

	dec := func(in interface{}) error {
		return cloner.Copy(reqClone, in)
	}
	out, err := md.Handler(svc.impl, sctx, dec, nil)
	if err != nil {
		return err
	}
	return cloner.Copy(out, resp)
}

// NewStream implements framechan.Channel (and grpc.ClientConnInterface). The
// handler runs on its own goroutine, fed by and feeding a pair of
// in-memory pipes; it is always fully duplex regardless of desc's
// ClientStreams/ServerStreams flags, same as the teacher's in-process
// channel.
func (c *Channel) NewStream(ctx context.Context, desc *grpc.StreamDesc, fullMethod string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	serviceName, methodName, ok := splitFullMethod(fullMethod)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "inprocchan: malformed method name %q", fullMethod)
	}
	svc, ok := c.lookup(serviceName)
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "inprocchan: unknown service %q", serviceName)
	}
	sd := internal.FindStreamingMethod(methodName, svc.desc.Streams)
	if sd == nil {
		return nil, status.Errorf(codes.Unimplemented, "inprocchan: unknown method %q", fullMethod)
	}

	cctx, cancel := context.WithCancel(ctx)
	pair := newPipePair()
	cloner := c.cloner()

	cs := &clientStream{ctx: cctx, pair: pair, cloner: cloner}

	sctx := incomingFromOutgoing(ctx)
	ss := &serverStream{ctx: sctx, pair: pair, cloner: cloner, cs: cs}
	sts := &internal.ServerTransportStream{Name: fullMethod, Stream: ss}
	ss.ctx = grpc.NewContextWithServerTransportStream(sctx, sts)

	go func() {
		defer cancel()
		err := sd.Handler(svc.impl, ss)
		ss.finish(err)
	}()

	return cs, nil
}

// incomingFromOutgoing turns the caller's outgoing metadata into the
// handler's incoming metadata, the same translation a real transport
// performs when it serializes a request's headers and the peer parses
// them back.
func incomingFromOutgoing(ctx context.Context) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return ctx
	}
	return metadata.NewIncomingContext(ctx, md.Copy())
}
