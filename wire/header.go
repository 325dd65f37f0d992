// Package wire implements the frame codec: the fixed 8-byte header layout,
// the ref-counted buffer pool backing every frame's payload, and the
// incremental builder that turns a byte stream into a sequence of Frames
// (and the reverse, for outbound frames).
package wire

import "encoding/binary"

// HeaderSize is the fixed size, in bytes, of every frame header.
const HeaderSize = 8

// MaxPayloadLen is the largest payload a single frame may carry. Messages
// larger than this are split across multiple Payload frames by the caller.
const MaxPayloadLen = 65535

// MaxFrameSize is the largest number of bytes a single encoded frame can
// occupy on the wire.
const MaxFrameSize = HeaderSize + MaxPayloadLen

// Kind identifies the purpose of a frame. The numeric values below are this
// repository's canonical numbering; spec.md left the exact byte values
// unspecified beyond "stable within a deployment", so these are fixed once
// here and used nowhere else.
type Kind uint8

const (
	// KindNewStream begins a logical call. Payload is the UTF-8 method
	// full-name, optionally "{host}\x00{method}".
	KindNewStream Kind = 1
	// KindStreamTrailer carries status + trailers and implies EndAllItems.
	KindStreamTrailer Kind = 2
	// KindStreamCancel aborts a stream. No payload required.
	KindStreamCancel Kind = 3
	// KindStreamMethodNotFound is the server's rejection of an unbound
	// method name.
	KindStreamMethodNotFound Kind = 4
	// KindPayload carries message bytes.
	KindPayload Kind = 5
	// KindConnectionPing is a keep-alive; FlagIsResponse distinguishes the
	// echo from the probe.
	KindConnectionPing Kind = 6
	// KindConnectionClose terminates the connection.
	KindConnectionClose Kind = 7
)

func (k Kind) String() string {
	switch k {
	case KindNewStream:
		return "NewStream"
	case KindStreamTrailer:
		return "StreamTrailer"
	case KindStreamCancel:
		return "StreamCancel"
	case KindStreamMethodNotFound:
		return "StreamMethodNotFound"
	case KindPayload:
		return "Payload"
	case KindConnectionPing:
		return "ConnectionPing"
	case KindConnectionClose:
		return "ConnectionClose"
	default:
		return "Unknown"
	}
}

// Flag is a bit within a frame's kind_flags byte. Meaning is kind-specific.
type Flag uint8

const (
	// FlagEndItem marks the last frame of one logical message.
	FlagEndItem Flag = 0x01
	// FlagEndAllItems marks the last message in one direction of a stream.
	FlagEndAllItems Flag = 0x02
	// FlagIsResponse distinguishes a ping echo from a ping probe.
	FlagIsResponse Flag = 0x04
	// FlagIsClientStream is the originator bit: set when the frame was
	// emitted by the connection's client-role side.
	FlagIsClientStream Flag = 0x08
)

// Has reports whether all bits of want are set in f.
func (f Flag) Has(want Flag) bool {
	return f&want == want
}

// Header is the decoded form of a frame's fixed 8-byte preamble.
type Header struct {
	Kind          Kind
	Flags         Flag
	StreamID      uint16
	SequenceID    uint16
	PayloadLength uint16
}

// Encode writes the header's wire representation into dst, which must be at
// least HeaderSize bytes long.
func (h Header) Encode(dst []byte) {
	dst[0] = byte(h.Kind)
	dst[1] = byte(h.Flags)
	binary.LittleEndian.PutUint16(dst[2:4], h.StreamID)
	binary.LittleEndian.PutUint16(dst[4:6], h.SequenceID)
	binary.LittleEndian.PutUint16(dst[6:8], h.PayloadLength)
}

// DecodeHeader parses the fixed 8-byte preamble from src, which must be at
// least HeaderSize bytes long.
func DecodeHeader(src []byte) Header {
	return Header{
		Kind:          Kind(src[0]),
		Flags:         Flag(src[1]),
		StreamID:      binary.LittleEndian.Uint16(src[2:4]),
		SequenceID:    binary.LittleEndian.Uint16(src[4:6]),
		PayloadLength: binary.LittleEndian.Uint16(src[6:8]),
	}
}
