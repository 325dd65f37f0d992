package framechantesting

import "github.com/framechan/framechan"

// CodecBinder is the subset of framechan.Binder and framechan.MuxChannel
// used to attach a MethodCodec to a full method name. A real protoc-gen-go
// binding would call this once per method as part of generated
// registration code; framechantesting does it by hand since there is no
// generated TestService stub.
type CodecBinder interface {
	BindCodec(fullMethodName string, codec framechan.MethodCodec)
}

// BindCodecs attaches the JSON Message codec to all four TestService
// methods on b, so a framechan.Binder (server side) and a
// framechan.MuxChannel (client side) speaking to each other agree on how
// to turn a *Message into Payload bytes and back.
func BindCodecs(b CodecBinder) {
	codec := framechan.MethodCodec{Serialize: Serialize, Deserialize: Deserialize}
	for _, method := range []string{"Unary", "ClientStream", "ServerStream", "BidiStream"} {
		b.BindCodec("/framechantesting.TestService/"+method, codec)
	}
}
