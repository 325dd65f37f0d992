package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// encodeFrames writes a sequence of (header, payload) pairs into one byte
// buffer, the way a transport would see them back-to-back on the wire.
func encodeFrames(t *testing.T, frames []struct {
	h       Header
	payload []byte
}) []byte {
	t.Helper()
	var buf bytes.Buffer
	hdr := make([]byte, HeaderSize)
	for _, f := range frames {
		f.h.PayloadLength = uint16(len(f.payload))
		f.h.Encode(hdr)
		buf.Write(hdr)
		buf.Write(f.payload)
	}
	return buf.Bytes()
}

func feedBuilder(t *testing.T, b *Builder, stream []byte, chunkSize int) []*Frame {
	t.Helper()
	var out []*Frame
	for len(stream) > 0 {
		n := chunkSize
		if n > len(stream) || n <= 0 {
			n = len(stream)
		}
		buf := b.GetBuffer()
		if n > len(buf) {
			n = len(buf)
		}
		copy(buf, stream[:n])
		frame, err := b.TryRead(n)
		require.NoError(t, err)
		if frame != nil {
			out = append(out, frame)
		}
		stream = stream[n:]
	}
	return out
}

func TestBuilderRoundTripArbitraryChunking(t *testing.T) {
	want := []struct {
		h       Header
		payload []byte
	}{
		{Header{Kind: KindNewStream, StreamID: 1}, []byte("/svc/echo")},
		{Header{Kind: KindPayload, Flags: FlagEndItem | FlagEndAllItems, StreamID: 1}, []byte("hello, world!")},
	}
	stream := encodeFrames(t, want)

	for _, chunk := range []int{1, 2, 3, 7, 64, len(stream)} {
		pool := NewPool()
		b := NewBuilder(pool)
		frames := feedBuilder(t, b, append([]byte(nil), stream...), chunk)
		require.Len(t, frames, len(want))
		for i, f := range frames {
			require.Equal(t, want[i].h.Kind, f.Header.Kind)
			require.Equal(t, want[i].payload, f.Payload())
			f.Release()
		}
		b.Close()
	}
}

func TestBuilderEmptyMessage(t *testing.T) {
	pool := NewPool()
	b := NewBuilder(pool)
	h := Header{Kind: KindPayload, Flags: FlagEndItem | FlagEndAllItems, StreamID: 2}
	stream := encodeFrames(t, []struct {
		h       Header
		payload []byte
	}{{h, nil}})
	require.Len(t, stream, HeaderSize)

	frames := feedBuilder(t, b, stream, 3)
	require.Len(t, frames, 1)
	require.Empty(t, frames[0].Payload())
	require.Equal(t, uint16(0), frames[0].Header.PayloadLength)
	require.True(t, frames[0].Header.Flags.Has(FlagEndItem|FlagEndAllItems))
	frames[0].Release()
}

func TestBuilderExactly65535Bytes(t *testing.T) {
	pool := NewPool()
	b := NewBuilder(pool)
	payload := bytes.Repeat([]byte{0xAB}, MaxPayloadLen)
	h := Header{Kind: KindPayload, Flags: FlagEndItem, StreamID: 3}
	stream := encodeFrames(t, []struct {
		h       Header
		payload []byte
	}{{h, payload}})

	frames := feedBuilder(t, b, stream, 4096)
	require.Len(t, frames, 1)
	require.Equal(t, uint16(MaxPayloadLen), frames[0].Header.PayloadLength)
	require.True(t, frames[0].Header.Flags.Has(FlagEndItem))
	require.Equal(t, payload, frames[0].Payload())
	frames[0].Release()
}

func TestBuilder65536BytesSplitsIntoTwoFrames(t *testing.T) {
	// The wire codec itself only ever assembles/emits single frames; a
	// 65536-byte message is represented on the wire as two Payload frames
	// by whoever is chunking it (muxconn.Stream). This test exercises the
	// builder's ability to parse exactly that two-frame encoding.
	pool := NewPool()
	b := NewBuilder(pool)
	first := bytes.Repeat([]byte{0x01}, MaxPayloadLen)
	second := []byte{0x02}
	stream := encodeFrames(t, []struct {
		h       Header
		payload []byte
	}{
		{Header{Kind: KindPayload, StreamID: 4, SequenceID: 0}, first},
		{Header{Kind: KindPayload, Flags: FlagEndItem, StreamID: 4, SequenceID: 1}, second},
	})

	frames := feedBuilder(t, b, stream, 4096)
	require.Len(t, frames, 2)
	require.Equal(t, uint16(MaxPayloadLen), frames[0].Header.PayloadLength)
	require.False(t, frames[0].Header.Flags.Has(FlagEndItem))
	require.Equal(t, uint16(1), frames[1].Header.PayloadLength)
	require.True(t, frames[1].Header.Flags.Has(FlagEndItem))
	frames[0].Release()
	frames[1].Release()
}

func TestBuilderOutboundBeginFrameAdvance(t *testing.T) {
	pool := NewPool()
	b := NewBuilder(pool)
	header := Header{Kind: KindPayload, Flags: FlagEndItem | FlagEndAllItems, StreamID: 9, SequenceID: 0}
	lease, buf := b.BeginFrame(header, 32)
	n := copy(buf, []byte("payload"))
	frame, err := b.Advance(header, lease, n)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), frame.Payload())
	require.Equal(t, uint16(n), frame.Header.PayloadLength)
	frame.Release()
}

func TestNewBuilderSizeHintSizesInitialLease(t *testing.T) {
	pool := NewPool()
	b := NewBuilder(pool)
	defer b.Close()
	require.Equal(t, 1<<minBucketShift, b.sizeHint)

	hinted := NewBuilder(pool, 64*1024)
	defer hinted.Close()
	require.Equal(t, 64*1024, hinted.sizeHint)
	require.GreaterOrEqual(t, len(hinted.lease.buf), HeaderSize+64*1024,
		"a caller-supplied sizeHint (transport.Options.DefaultBufferSize) must size the initial inbound lease, not just be recorded")
}

func TestFrameBytesMatchesHeaderPlusPayload(t *testing.T) {
	pool := NewPool()
	b := NewBuilder(pool)
	header := Header{Kind: KindStreamTrailer, Flags: FlagEndAllItems, StreamID: 7, SequenceID: 2}
	lease, buf := b.BeginFrame(header, 8)
	n := copy(buf, []byte("status"))
	frame, err := b.Advance(header, lease, n)
	require.NoError(t, err)
	defer frame.Release()

	want := make([]byte, HeaderSize)
	header.PayloadLength = uint16(n)
	header.Encode(want)
	want = append(want, []byte("status")...)

	require.Equal(t, want, frame.Bytes())
}

func TestFrameForwardIndependentRelease(t *testing.T) {
	pool := NewPool()
	b := NewBuilder(pool)
	header := Header{Kind: KindPayload, StreamID: 1}
	lease, buf := b.BeginFrame(header, 8)
	n := copy(buf, []byte("abc"))
	frame, err := b.Advance(header, lease, n)
	require.NoError(t, err)

	forwarded := frame.Forward()
	require.Equal(t, frame.Payload(), forwarded.Payload())
	frame.Release()
	// forwarded still valid after the original is released
	require.Equal(t, []byte("abc"), forwarded.Payload())
	forwarded.Release()
}
