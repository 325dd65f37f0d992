package inprocchan_test

import (
	"testing"

	"github.com/framechan/framechan/framechantesting"
	"github.com/framechan/framechan/inprocchan"
)

func TestInProcessChannel(t *testing.T) {
	svr := &framechantesting.TestServer{}

	var ch inprocchan.Channel
	ch.RegisterService(&framechantesting.TestServiceDesc, svr)

	framechantesting.RunChannelTestCases(t, &ch)
}

// TestInProcessChannelWithCodecCloner swaps the default reflection-based
// Cloner for one that round-trips every message through the registered
// gRPC JSON codec, exercising CodecCloner/CodecCloner's funcCloner path
// end to end instead of DefaultCloner's internal.CopyMessage fallback.
func TestInProcessChannelWithCodecCloner(t *testing.T) {
	svr := &framechantesting.TestServer{}

	ch := inprocchan.Channel{Cloner: inprocchan.CodecCloner(framechantesting.JSONCodec)}
	ch.RegisterService(&framechantesting.TestServiceDesc, svr)

	framechantesting.RunChannelTestCases(t, &ch)
}
