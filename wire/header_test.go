package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{Kind: KindNewStream, Flags: 0, StreamID: 1, SequenceID: 0, PayloadLength: 9},
		{Kind: KindPayload, Flags: FlagEndItem | FlagEndAllItems, StreamID: 1, SequenceID: 0, PayloadLength: 13},
		{Kind: KindStreamTrailer, Flags: FlagEndAllItems, StreamID: 0xFFFF, SequenceID: 0xFFFF, PayloadLength: 0},
	}
	for _, h := range cases {
		buf := make([]byte, HeaderSize)
		h.Encode(buf)
		got := DecodeHeader(buf)
		require.Equal(t, h, got)
	}
}

func TestScenario1UnaryEchoBytes(t *testing.T) {
	// Seed scenario 1 from spec: NewStream("/svc/echo") followed by a
	// Payload("hello, world!", EndItem|EndAllItems) for stream id 1.
	const streamID = 1

	newStream := Header{Kind: KindNewStream, Flags: 0, StreamID: streamID, SequenceID: 0, PayloadLength: 9}
	hdrBuf := make([]byte, HeaderSize)
	newStream.Encode(hdrBuf)
	assert.Equal(t, []byte{0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x09, 0x00}, hdrBuf)

	payload := Header{Kind: KindPayload, Flags: FlagEndItem | FlagEndAllItems, StreamID: streamID, SequenceID: 0, PayloadLength: 13}
	payload.Encode(hdrBuf)
	assert.Equal(t, []byte{0x05, 0x03, 0x01, 0x00, 0x00, 0x00, 0x0D, 0x00}, hdrBuf)
}

func TestFlagHas(t *testing.T) {
	f := FlagEndItem | FlagIsClientStream
	assert.True(t, f.Has(FlagEndItem))
	assert.True(t, f.Has(FlagIsClientStream))
	assert.False(t, f.Has(FlagEndAllItems))
	assert.True(t, f.Has(FlagEndItem|FlagIsClientStream))
}
