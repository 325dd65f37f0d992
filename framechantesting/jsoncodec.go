package framechantesting

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"

	"github.com/framechan/framechan/internal"
)

// jsonGRPCCodec registers Message's JSON encoding under the gRPC codec
// registry's name, so it can be retrieved through internal.GetCodec
// (internal/codecs.go, adapted from the teacher) exactly as a codec
// looked up by CallContentSubtype would be on a real grpc.ClientConn. This
// exercises the gRPC-encoding-registry convention as an alternative to
// passing a bare (serialize, deserialize) closure pair directly.
type jsonGRPCCodec struct{}

func (jsonGRPCCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonGRPCCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonGRPCCodec) Name() string { return "framechantesting-json" }

// JSONCodec is Message's encoding.Codec, resolved by name through the same
// lookup path a gRPC transport uses to find a registered codec. The codec is
// registered as part of this variable's initialization, so the lookup finds
// it.
var JSONCodec = func() encoding.Codec {
	encoding.RegisterCodec(jsonGRPCCodec{})
	return internal.GetCodec("framechantesting-json")
}()
