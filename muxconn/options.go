// Package muxconn implements the stream multiplexer: the per-connection
// dispatch loop that demultiplexes inbound frames onto a table of active
// logical streams (Stream), and the per-stream state machine and
// call-shape contracts those streams expose to callers.
package muxconn

import (
	"context"

	"github.com/framechan/framechan/transport"
)

// defaultMaxConcurrentStreams bounds the client-side id search on wrap, per
// spec.md §4.6 ("search up to a bounded number of ids for a free slot").
const defaultMaxConcurrentStreams = 1024

// Options configures a Conn.
type Options struct {
	// MaxConcurrentStreams bounds how many ids the client-side allocator
	// will probe before giving up with "no free stream ids".
	MaxConcurrentStreams int
	// Logger receives structured log callbacks for non-fatal protocol
	// events: a frame for an unknown stream id, a NewStream arriving on a
	// client connection, and an unknown frame kind.
	Logger transport.Logger
	// BaseContext is the parent of every server-role Stream's context
	// (client-role streams use the caller's own ctx argument instead). A
	// caller that knows per-connection peer info (e.g. a TCP RemoteAddr)
	// can attach it here via peer.NewContext so handlers can retrieve it
	// with peer.FromContext, matching the teacher's httpgrpc server's
	// peerFromRequest wiring.
	BaseContext context.Context
}

// OptionFunc mutates an Options in place.
type OptionFunc func(*Options)

// WithMaxConcurrentStreams overrides the default id-search bound.
func WithMaxConcurrentStreams(n int) OptionFunc {
	return func(o *Options) { o.MaxConcurrentStreams = n }
}

// WithLogger installs a structured log sink.
func WithLogger(l transport.Logger) OptionFunc {
	return func(o *Options) { o.Logger = l }
}

// WithBaseContext overrides the parent context server-role Streams derive
// their cancellation from.
func WithBaseContext(ctx context.Context) OptionFunc {
	return func(o *Options) { o.BaseContext = ctx }
}

func resolveOptions(opts []OptionFunc) Options {
	var o Options
	for _, apply := range opts {
		apply(&o)
	}
	if o.MaxConcurrentStreams <= 0 {
		o.MaxConcurrentStreams = defaultMaxConcurrentStreams
	}
	if o.Logger == nil {
		o.Logger = transport.NewSlogLogger()
	}
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	return o
}
