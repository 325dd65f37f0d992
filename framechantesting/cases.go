package framechantesting

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/framechan/framechan"
)

var testPayload = []byte{100, 90, 80, 70, 60, 50, 40, 30, 20, 10, 0}

// RunChannelTestCases runs a shared suite of test cases against ch,
// mirroring grpchantesting.RunChannelTestCases's shape: the server side of
// ch must have a *TestServer registered against TestServiceDesc with a
// MethodCodec bound to Serialize/Deserialize for each of TestService's
// four methods.
func RunChannelTestCases(t *testing.T, ch framechan.Channel) {
	cli := NewTestServiceClient(ch)
	t.Run("unary", func(t *testing.T) { testUnary(t, cli) })
	t.Run("client-stream", func(t *testing.T) { testClientStream(t, cli) })
	t.Run("server-stream", func(t *testing.T) { testServerStream(t, cli) })
	t.Run("bidi-stream", func(t *testing.T) { testBidiStream(t, cli) })
}

func testUnary(t *testing.T, cli TestServiceClient) {
	t.Run("success", func(t *testing.T) {
		rsp, err := cli.Unary(context.Background(), &Message{Payload: testPayload})
		if err != nil {
			t.Fatalf("RPC failed: %v", err)
		}
		if !bytes.Equal(testPayload, rsp.Payload) {
			t.Fatalf("wrong payload returned: expecting %v; got %v", testPayload, rsp.Payload)
		}
	})

	t.Run("failure", func(t *testing.T) {
		req := &Message{Payload: testPayload, Code: int32(codes.AlreadyExists)}
		_, err := cli.Unary(context.Background(), req)
		checkError(t, err, codes.AlreadyExists)
	})

	t.Run("canceled", func(t *testing.T) {
		req := &Message{Payload: testPayload, DelayMillis: 500}
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Millisecond, cancel)
		_, err := cli.Unary(ctx, req)
		checkError(t, err, codes.Canceled)
	})
}

func testClientStream(t *testing.T, cli TestServiceClient) {
	t.Run("success", func(t *testing.T) {
		cs, err := cli.ClientStream(context.Background())
		if err != nil {
			t.Fatalf("RPC failed: %v", err)
		}
		for i := 0; i < 3; i++ {
			if err := cs.Send(&Message{Payload: testPayload}); err != nil {
				t.Fatalf("sending message #%d failed: %v", i+1, err)
			}
		}
		m, err := cs.CloseAndRecv()
		if err != nil {
			t.Fatalf("receiving message failed: %v", err)
		}
		if m.Count != 3 {
			t.Fatalf("wrong count returned: expecting 3; got %d", m.Count)
		}
	})

	t.Run("failure", func(t *testing.T) {
		cs, err := cli.ClientStream(context.Background())
		if err != nil {
			t.Fatalf("RPC failed: %v", err)
		}
		req := &Message{Payload: testPayload, Code: int32(codes.ResourceExhausted)}
		if err := cs.Send(req); err != nil {
			t.Fatalf("sending message failed: %v", err)
		}
		_, err = cs.CloseAndRecv()
		checkError(t, err, codes.ResourceExhausted)
	})
}

func testServerStream(t *testing.T, cli TestServiceClient) {
	t.Run("success", func(t *testing.T) {
		req := &Message{Payload: testPayload, Count: 5}
		ss, err := cli.ServerStream(context.Background(), req)
		if err != nil {
			t.Fatalf("RPC failed: %v", err)
		}
		for i := 0; i < 5; i++ {
			m, err := ss.Recv()
			if err != nil {
				t.Fatalf("receiving message #%d failed: %v", i+1, err)
			}
			if !bytes.Equal(testPayload, m.Payload) {
				t.Fatalf("wrong payload returned: expecting %v; got %v", testPayload, m.Payload)
			}
		}
		if _, err := ss.Recv(); err != io.EOF {
			t.Fatalf("expected EOF; got %v", err)
		}
	})

	t.Run("failure", func(t *testing.T) {
		req := &Message{Payload: testPayload, Count: 2, Code: int32(codes.FailedPrecondition)}
		ss, err := cli.ServerStream(context.Background(), req)
		if err != nil {
			t.Fatalf("RPC failed: %v", err)
		}
		for i := 0; i < 2; i++ {
			if _, err := ss.Recv(); err != nil {
				t.Fatalf("receiving message #%d failed: %v", i+1, err)
			}
		}
		_, err = ss.Recv()
		checkError(t, err, codes.FailedPrecondition)
	})
}

func testBidiStream(t *testing.T, cli TestServiceClient) {
	t.Run("full-duplex success", func(t *testing.T) {
		bidi, err := cli.BidiStream(context.Background())
		if err != nil {
			t.Fatalf("RPC failed: %v", err)
		}
		for i := 0; i < 3; i++ {
			if err := bidi.Send(&Message{Payload: testPayload}); err != nil {
				t.Fatalf("sending message #%d failed: %v", i+1, err)
			}
			m, err := bidi.Recv()
			if err != nil {
				t.Fatalf("receiving message #%d failed: %v", i+1, err)
			}
			if !bytes.Equal(testPayload, m.Payload) {
				t.Fatalf("wrong payload in message #%d: expecting %v; got %v", i+1, testPayload, m.Payload)
			}
		}
		if err := bidi.CloseSend(); err != nil {
			t.Fatalf("closing send-side of RPC failed: %v", err)
		}
		if _, err := bidi.Recv(); err != io.EOF {
			t.Fatalf("expected EOF; got %v", err)
		}
	})

	t.Run("half-duplex success", func(t *testing.T) {
		bidi, err := cli.BidiStream(context.Background())
		if err != nil {
			t.Fatalf("RPC failed: %v", err)
		}
		req := &Message{Payload: testPayload, Count: -1}
		for i := 0; i < 3; i++ {
			if err := bidi.Send(req); err != nil {
				t.Fatalf("sending message #%d failed: %v", i+1, err)
			}
		}
		if err := bidi.CloseSend(); err != nil {
			t.Fatalf("closing send-side of RPC failed: %v", err)
		}
		for i := 0; i < 3; i++ {
			m, err := bidi.Recv()
			if err != nil {
				t.Fatalf("receiving message #%d failed: %v", i+1, err)
			}
			if !bytes.Equal(testPayload, m.Payload) {
				t.Fatalf("wrong payload in message #%d: expecting %v; got %v", i+1, testPayload, m.Payload)
			}
		}
		if _, err := bidi.Recv(); err != io.EOF {
			t.Fatalf("expected EOF; got %v", err)
		}
	})
}

func checkError(t *testing.T, err error, expectedCode codes.Code) {
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("wrong type of error: %v", err)
	}
	if st.Code() != expectedCode {
		t.Fatalf("wrong response code: %v != %v", st.Code(), expectedCode)
	}
}
