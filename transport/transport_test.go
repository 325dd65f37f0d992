package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/framechan/framechan/wire"
)

func TestLoopbackRoundTrip(t *testing.T) {
	client, server := Loopback()
	defer client.Close()
	defer server.Close()

	ct := New(client)
	st := New(server)
	defer ct.Close()
	defer st.Close()

	header := wire.Header{Kind: wire.KindNewStream, StreamID: 1}
	lease, buf := ct.Builder().BeginFrame(header, 16)
	n := copy(buf, []byte("/svc/echo"))
	frame, err := ct.Builder().Advance(header, lease, n)
	require.NoError(t, err)
	require.NoError(t, ct.Send(frame, FlushAfter))

	select {
	case got := <-st.Frames():
		require.Equal(t, "/svc/echo", string(got.Payload()))
		got.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestTransportCloseStopsReader(t *testing.T) {
	client, server := Loopback()
	defer server.Close()

	ct := New(client)
	require.NoError(t, ct.Close())

	select {
	case _, ok := <-ct.Frames():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Frames to close")
	}
}

func TestMergeWritesCoalescesMultipleFrames(t *testing.T) {
	client, server := Loopback()
	defer client.Close()
	defer server.Close()

	ct := New(client, WithMergeWrites(true), WithOutputBufferSize(1<<16))
	st := New(server)
	defer ct.Close()
	defer st.Close()

	for i := 0; i < 5; i++ {
		header := wire.Header{Kind: wire.KindPayload, StreamID: 1, SequenceID: uint16(i)}
		lease, buf := ct.Builder().BeginFrame(header, 4)
		n := copy(buf, []byte{byte(i)})
		frame, err := ct.Builder().Advance(header, lease, n)
		require.NoError(t, err)
		require.NoError(t, ct.Send(frame, BufferHint))
	}

	for i := 0; i < 5; i++ {
		select {
		case got := <-st.Frames():
			require.Equal(t, []byte{byte(i)}, got.Payload())
			got.Release()
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

// recordingWriter records the byte slices passed to each Write call, so a
// test can count how many underlying writes a batch of enqueued frames
// produced.
type recordingWriter struct {
	mu    sync.Mutex
	calls [][]byte
}

func (r *recordingWriter) Write(p []byte) (int, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]byte(nil), p...))
	r.mu.Unlock()
	return len(p), nil
}

func (r *recordingWriter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func mkOutboundFrame(t *testing.T, b *wire.Builder, kind wire.Kind, seq uint16) *wire.Frame {
	t.Helper()
	header := wire.Header{Kind: kind, StreamID: 1, SequenceID: seq}
	lease, buf := b.BeginFrame(header, 1)
	n := copy(buf, []byte{byte(seq)})
	frame, err := b.Advance(header, lease, n)
	require.NoError(t, err)
	return frame
}

// TestFlushAfterEndsBatch confirms a FlushAfter-tagged frame terminates its
// coalescing batch: it is written together with whatever preceded it, but
// nothing enqueued afterward is merged into that same underlying Write.
// writer.close blocks until every queued frame has been written, so no
// polling is needed to observe the final call count.
func TestFlushAfterEndsBatch(t *testing.T) {
	rec := &recordingWriter{}
	w := newWriter(rec, Options{MergeWrites: true, OutputBufferSize: 1 << 16})

	pool := wire.NewPool()
	b := wire.NewBuilder(pool)
	defer b.Close()

	require.NoError(t, w.enqueue(outboundFrame{frame: mkOutboundFrame(t, b, wire.KindPayload, 0), flags: BufferHint}))
	require.NoError(t, w.enqueue(outboundFrame{frame: mkOutboundFrame(t, b, wire.KindStreamTrailer, 1), flags: FlushAfter}))
	require.NoError(t, w.enqueue(outboundFrame{frame: mkOutboundFrame(t, b, wire.KindPayload, 2), flags: BufferHint}))
	w.close(nil)

	require.Equal(t, 2, rec.count(), "the trailer's FlushAfter must end its batch, not merge with the frame queued after it")
}

// TestHeaderReservedSkipsHeaderCopy confirms a HeaderReserved-tagged frame
// is written via its own Lease bytes (wire.Frame.Bytes) in a single Write
// call, rather than one Write for a freshly encoded header and another for
// the payload; the bytes reaching the wire are identical either way.
func TestHeaderReservedSkipsHeaderCopy(t *testing.T) {
	pool := wire.NewPool()
	b := wire.NewBuilder(pool)
	defer b.Close()

	frame := mkOutboundFrame(t, b, wire.KindPayload, 5)
	want := append([]byte(nil), frame.Bytes()...)

	recA := &recordingWriter{}
	wA := newWriter(recA, Options{})
	require.NoError(t, wA.enqueue(outboundFrame{frame: frame, flags: HeaderReserved}))
	wA.close(nil)
	require.Len(t, recA.calls, 1, "HeaderReserved should write the frame in a single Write call")
	require.Equal(t, want, recA.calls[0])

	frame2 := mkOutboundFrame(t, b, wire.KindPayload, 5)
	recB := &recordingWriter{}
	wB := newWriter(recB, Options{})
	require.NoError(t, wB.enqueue(outboundFrame{frame: frame2, flags: 0}))
	wB.close(nil)
	var gotB []byte
	for _, c := range recB.calls {
		gotB = append(gotB, c...)
	}
	require.Equal(t, want, gotB)
}
