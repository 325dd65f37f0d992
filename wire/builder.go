package wire

import "fmt"

// Builder incrementally turns a byte stream into a sequence of Frames, and
// separately assembles outbound Frames from a header template plus payload
// bytes written by the caller. One Builder is meant to be used by a single
// reader and driven from one goroutine at a time (the transport's read
// loop); it performs no internal locking.
type Builder struct {
	pool *Pool

	// Inbound assembly state.
	lease    *Lease
	have     int // bytes written into lease so far
	header   Header
	gotHdr   bool
	sizeHint int
}

// NewBuilder creates a Builder that leases buffers from pool. sizeHint
// optionally sets the initial lease size requested per inbound frame
// (transport.Options.DefaultBufferSize, threaded through by transport.New);
// omitted or non-positive, it defaults to the pool's smallest bucket. A
// frame whose header.PayloadLength exceeds the hint still grows the lease
// via growLocked; the hint only controls how much of that growth is
// avoided up front.
func NewBuilder(pool *Pool, sizeHint ...int) *Builder {
	hint := 1 << minBucketShift
	if len(sizeHint) > 0 && sizeHint[0] > 0 {
		hint = sizeHint[0]
	}
	b := &Builder{pool: pool, sizeHint: hint}
	b.resetForHeader()
	return b
}

func (b *Builder) resetForHeader() {
	b.lease = b.pool.Get(HeaderSize + b.sizeHint)
	b.have = 0
	b.gotHdr = false
}

// RequestBytes returns the number of bytes the caller should read (into the
// slice returned by GetBuffer) to make progress: either the remainder of
// the 8-byte header, or the remainder of the current frame's payload.
func (b *Builder) RequestBytes() int {
	if !b.gotHdr {
		return HeaderSize - b.have
	}
	return HeaderSize + int(b.header.PayloadLength) - b.have
}

// GetBuffer returns a writable region at least RequestBytes() long. The
// caller performs exactly one read into this region (or a prefix of it),
// then calls TryRead with the number of bytes actually written.
func (b *Builder) GetBuffer() []byte {
	need := b.have + b.RequestBytes()
	if need > len(b.lease.buf) {
		b.growLocked(need)
	} else if need > b.lease.size {
		b.lease.size = need
	}
	return b.lease.Memory()[b.have:need]
}

func (b *Builder) growLocked(need int) {
	fresh := b.pool.Get(need)
	copy(fresh.Memory(), b.lease.Memory()[:b.have])
	b.lease.Dispose()
	b.lease = fresh
}

// TryRead advances internal offsets by n (the number of bytes the caller
// actually wrote into the region returned by GetBuffer). If a complete
// frame is now assembled, it is returned and the Builder rotates to a fresh
// lease for the next frame; otherwise the second return is nil and the
// caller should read more.
func (b *Builder) TryRead(n int) (*Frame, error) {
	b.have += n
	if !b.gotHdr {
		if b.have < HeaderSize {
			return nil, nil
		}
		hdr := DecodeHeader(b.lease.Memory())
		if int(hdr.PayloadLength) > MaxPayloadLen {
			// Unreachable given a 16-bit field, but asserted per the
			// codec's contract: the builder never emits partial frames
			// built from an over-length header.
			return nil, fmt.Errorf("wire: payload_length %d exceeds max %d", hdr.PayloadLength, MaxPayloadLen)
		}
		b.header = hdr
		b.gotHdr = true
		if hdr.PayloadLength == 0 {
			return b.finish()
		}
		return nil, nil
	}
	if b.have < HeaderSize+int(b.header.PayloadLength) {
		return nil, nil
	}
	return b.finish()
}

func (b *Builder) finish() (*Frame, error) {
	lease := b.lease
	header := b.header
	payload := lease.Memory()[HeaderSize : HeaderSize+int(header.PayloadLength)]
	b.resetForHeader()
	return newFrame(header, lease, payload), nil
}

// BeginFrame starts an outbound frame: it writes the header eagerly into a
// fresh lease sized header+sizeHint and returns the writable payload region
// the caller should fill. sizeHint is a hint, not a hard cap; Advance still
// enforces MaxPayloadLen.
func (b *Builder) BeginFrame(header Header, sizeHint int) (lease *Lease, payloadBuf []byte) {
	if sizeHint > MaxPayloadLen {
		sizeHint = MaxPayloadLen
	}
	lease = b.pool.Get(HeaderSize + sizeHint)
	header.Encode(lease.Memory())
	return lease, lease.Memory()[HeaderSize : HeaderSize+sizeHint]
}

// Advance finalizes an outbound frame begun with BeginFrame: it records the
// actual payload length (n bytes, the prefix of payloadBuf the caller
// filled) into the header and returns the completed Frame. It takes
// ownership of lease's reference.
func (b *Builder) Advance(header Header, lease *Lease, n int) (*Frame, error) {
	if n > MaxPayloadLen {
		lease.Dispose()
		return nil, fmt.Errorf("wire: payload length %d exceeds max %d", n, MaxPayloadLen)
	}
	header.PayloadLength = uint16(n)
	header.Encode(lease.Memory())
	payload := lease.Memory()[HeaderSize : HeaderSize+n]
	return newFrame(header, lease, payload), nil
}

// Close releases the Builder's pending inbound lease. Call once when the
// Builder will no longer be used (e.g. on connection teardown).
func (b *Builder) Close() {
	if b.lease != nil {
		b.lease.Dispose()
		b.lease = nil
	}
}
