package transport

import (
	"errors"
	"io"
	"sync"

	"github.com/framechan/framechan/wire"
)

// WriteFlags accompanies every outbound (Frame, WriteFlags) pair handed to
// a Transport's Send.
type WriteFlags uint8

const (
	// BufferHint marks a frame as suitable for coalescing. The writer
	// coordinator does not consult it: whether queued frames are merged
	// into one Write depends only on Options (MergeWrites and
	// OutputBufferSize), and a FlushAfter frame ends a merged batch.
	BufferHint WriteFlags = 0x01
	// FlushAfter forces an immediate flush of any coalesced output after
	// this frame, even if BufferHint was also set.
	FlushAfter WriteFlags = 0x02
	// HeaderReserved indicates the frame's payload buffer was already
	// built with the 8 header bytes prepended, so the writer can emit the
	// lease's memory in one contiguous Write instead of two.
	HeaderReserved WriteFlags = 0x04
)

// ErrClosed is returned by Transport operations performed after Close.
var ErrClosed = errors.New("transport: closed")

// Transport adapts a duplex io.ReadWriteCloser into an asynchronous source
// of inbound Frames (via Frames()) and a sink of outbound Frames (via
// Send()). It owns one reader goroutine (feeding a wire.Builder) and
// delegates outbound draining to a writer (see writer.go).
type Transport struct {
	conn    io.ReadWriteCloser
	pool    *wire.Pool
	builder *wire.Builder
	opts    Options

	inbound chan *wire.Frame
	readErr chan error

	writer *writer

	closeOnce sync.Once
	closeErr  error
}

// New wraps conn. The returned Transport's reader goroutine starts
// immediately; call Frames() to consume inbound frames and Send() to queue
// outbound ones. Close stops both goroutines and closes conn.
func New(conn io.ReadWriteCloser, opts ...OptionFunc) *Transport {
	o := resolveOptions(opts)
	pool := wire.NewPool()
	t := &Transport{
		conn:    conn,
		pool:    pool,
		builder: wire.NewBuilder(pool, o.DefaultBufferSize),
		opts:    o,
		inbound: make(chan *wire.Frame, 64),
		readErr: make(chan error, 1),
	}
	t.writer = newWriter(conn, o)
	go t.readLoop()
	return t
}

// Frames returns the channel of inbound frames. It is closed when the
// connection's read side terminates; ReadErr() then reports why.
func (t *Transport) Frames() <-chan *wire.Frame {
	return t.inbound
}

// ReadErr returns the error (if any) that caused Frames() to close. Safe
// to call only after Frames() has been observed closed.
func (t *Transport) ReadErr() error {
	select {
	case err := <-t.readErr:
		t.readErr <- err
		return err
	default:
		return nil
	}
}

func (t *Transport) readLoop() {
	defer close(t.inbound)
	for {
		buf := t.builder.GetBuffer()
		n, err := t.conn.Read(buf)
		if n > 0 {
			frame, ferr := t.builder.TryRead(n)
			if ferr != nil {
				t.readErr <- ferr
				return
			}
			if frame != nil {
				t.inbound <- frame
			}
		}
		if err != nil {
			if err != io.EOF {
				t.readErr <- err
			} else {
				t.readErr <- io.EOF
			}
			return
		}
	}
}

// Send queues a frame for the writer coordinator. It takes ownership of
// the frame's reference: the writer releases it once written (or on
// failure).
func (t *Transport) Send(frame *wire.Frame, flags WriteFlags) error {
	return t.writer.enqueue(outboundFrame{frame: frame, flags: flags})
}

// Builder exposes the Transport's wire.Builder so callers (muxconn.Conn)
// can build outbound frames with BeginFrame/Advance using the same pool.
func (t *Transport) Builder() *wire.Builder {
	return t.builder
}

// Pool exposes the Transport's buffer pool.
func (t *Transport) Pool() *wire.Pool {
	return t.pool
}

// Close tears down the writer and reader goroutines and closes the
// underlying connection. Safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.writer.close(ErrClosed)
		t.closeErr = t.conn.Close()
		t.builder.Close()
	})
	return t.closeErr
}
