package wire

// Frame is a single decoded unit on the wire: a Header plus the payload
// bytes it describes. The payload is backed by a Lease; Frame does not own
// a private copy, which is what makes zero-copy forwarding across the
// multiplexer possible.
type Frame struct {
	Header  Header
	lease   *Lease
	payload []byte // Memory() as of construction time; may be a sub-slice.
}

// newFrame wraps header and the payload region of lease into a Frame. The
// Frame takes ownership of one reference to lease; the caller must not also
// Dispose that reference. Frames are otherwise only constructed by a
// Builder, inbound (TryRead) or outbound (BeginFrame/Advance).
func newFrame(header Header, lease *Lease, payload []byte) *Frame {
	return &Frame{Header: header, lease: lease, payload: payload}
}

// Payload returns the frame's payload bytes. The slice is only valid until
// the frame (and any Forward of it) is Released.
func (f *Frame) Payload() []byte {
	return f.payload
}

// Bytes returns the frame's encoded header immediately followed by its
// payload, as one contiguous slice. Every Frame the Builder constructs
// (inbound via TryRead/finish, outbound via BeginFrame/Advance) lays its
// header and payload out contiguously in the same Lease, so this is always
// available; it exists to let a writer emit a frame in a single Write call
// instead of one for the header and one for the payload. The slice is only
// valid until the frame (and any Forward of it) is Released.
func (f *Frame) Bytes() []byte {
	return f.lease.Memory()[:HeaderSize+len(f.payload)]
}

// Forward increments the backing lease's ref-count and returns a new Frame
// sharing the same header and payload bytes. The original Frame's Release
// and the forwarded Frame's Release are independent; each must be called
// exactly once.
func (f *Frame) Forward() *Frame {
	f.lease.Preserve()
	return &Frame{Header: f.Header, lease: f.lease, payload: f.payload}
}

// Release decrements the backing lease's ref-count by one. It must be
// called exactly once per Frame (including every Frame returned by
// Forward); calling it more than once is a double-dispose bug.
func (f *Frame) Release() {
	f.lease.Dispose()
}
