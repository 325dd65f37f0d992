package transport

import (
	"io"
	"sync"

	"github.com/framechan/framechan/wire"
)

// outboundFrame pairs a frame with the flags describing how it may be
// written.
type outboundFrame struct {
	frame *wire.Frame
	flags WriteFlags
}

// writer is the connection's writer coordinator (C7): a multi-producer,
// single-consumer queue drained by exactly one goroutine, which writes
// through the underlying connection. On transport failure the queue is
// closed with the error, which callers observe via Err().
type writer struct {
	conn io.Writer
	opts Options

	mu     sync.Mutex
	queue  []outboundFrame
	notify chan struct{}
	closed bool
	err    error
	done   chan struct{}
}

func newWriter(conn io.Writer, opts Options) *writer {
	w := &writer{
		conn:   conn,
		opts:   opts,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// enqueue adds a frame to the outbound queue. Safe for concurrent callers
// (the demultiplexer loop and any number of stream-owning goroutines).
func (w *writer) enqueue(of outboundFrame) error {
	w.mu.Lock()
	if w.closed {
		err := w.err
		w.mu.Unlock()
		of.frame.Release()
		if err == nil {
			err = ErrClosed
		}
		return err
	}
	w.queue = append(w.queue, of)
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
	return nil
}

// close stops the writer from accepting frames, records err as the reason
// (visible to future enqueue calls), and blocks until the drain goroutine
// has written every frame already queued and exited. It is idempotent.
func (w *writer) close(err error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
	<-w.done
}

// Err returns the error that caused the writer to stop, if any.
func (w *writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *writer) run() {
	defer close(w.done)
	for {
		<-w.notify
		for {
			batch, closed := w.drain()
			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			if err := w.writeBatch(batch); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

// drain removes queued frames up to the coalescing limit (or all of them,
// if coalescing is disabled) and returns whether the writer has since been
// closed. A batch never extends past a frame tagged FlushAfter: that frame
// is included, but nothing queued behind it is coalesced into the same
// underlying Write, so a StreamTrailer/StreamCancel (or any other
// FlushAfter-tagged frame) is never held back behind frames queued after it.
func (w *writer) drain() ([]outboundFrame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil, w.closed
	}
	limit := len(w.queue)
	if !w.opts.MergeWrites {
		limit = 1
	} else {
		for i, of := range w.queue {
			if of.flags&FlushAfter != 0 {
				limit = i + 1
				break
			}
		}
	}
	if limit > len(w.queue) {
		limit = len(w.queue)
	}
	batch := w.queue[:limit]
	w.queue = w.queue[limit:]
	return batch, w.closed
}

func (w *writer) writeBatch(batch []outboundFrame) error {
	defer func() {
		for _, of := range batch {
			of.frame.Release()
		}
	}()
	if len(batch) == 1 || !w.opts.MergeWrites || w.opts.OutputBufferSize == 0 {
		for _, of := range batch {
			if err := writeFrame(w.conn, of); err != nil {
				return err
			}
		}
		return nil
	}
	// Coalesce: concatenate up to OutputBufferSize bytes of encoded frames
	// into one underlying Write.
	var buf []byte
	limit := w.opts.OutputBufferSize
	for _, of := range batch {
		encoded := encodedFrame(of)
		if limit > 0 && len(buf)+len(encoded) > limit && len(buf) > 0 {
			if _, err := w.conn.Write(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
		buf = append(buf, encoded...)
	}
	if len(buf) > 0 {
		if _, err := w.conn.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// encodedFrame returns of's header+payload as one contiguous slice. When
// HeaderReserved is set, the frame's own Lease already has them laid out
// that way (wire.Frame.Bytes), so no extra buffer or copy is needed;
// otherwise the header is encoded into a fresh buffer and the payload
// appended.
func encodedFrame(of outboundFrame) []byte {
	if of.flags&HeaderReserved != 0 {
		return of.frame.Bytes()
	}
	hdr := make([]byte, wire.HeaderSize)
	of.frame.Header.Encode(hdr)
	return append(hdr, of.frame.Payload()...)
}

func writeFrame(w io.Writer, of outboundFrame) error {
	if of.flags&HeaderReserved != 0 {
		_, err := w.Write(of.frame.Bytes())
		return err
	}
	hdr := make([]byte, wire.HeaderSize)
	of.frame.Header.Encode(hdr)
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if len(of.frame.Payload()) == 0 {
		return nil
	}
	_, err := w.Write(of.frame.Payload())
	return err
}

// fail marks the writer closed with err and drains (releasing) anything
// still queued. The frame(s) that failed to write were already released
// by writeBatch's own deferred cleanup.
func (w *writer) fail(err error) {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.err = err
	}
	pending := w.queue
	w.queue = nil
	w.mu.Unlock()
	for _, of := range pending {
		of.frame.Release()
	}
}
