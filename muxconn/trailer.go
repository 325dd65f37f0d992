package muxconn

import (
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// wireTrailer is the on-the-wire shape of a StreamTrailer frame's payload:
// the call's final status plus any trailer metadata the handler set. The
// wire format for application messages is an opaque (serialize,
// deserialize) pair supplied per method (spec.md §1); trailers are core
// protocol state, not an application message, so the core is free to pick
// its own encoding here. JSON keeps this human-inspectable on the wire,
// which is handy when debugging a capture.
type wireTrailer struct {
	Code    uint32              `json:"code"`
	Message string              `json:"message,omitempty"`
	Meta    map[string][]string `json:"meta,omitempty"`
}

func encodeTrailer(st *status.Status, trailer metadata.MD) []byte {
	wt := wireTrailer{Code: uint32(st.Code()), Message: st.Message()}
	if len(trailer) > 0 {
		wt.Meta = map[string][]string(trailer)
	}
	b, err := json.Marshal(wt)
	if err != nil {
		// Encoding a status/metadata pair cannot fail for any value this
		// package constructs; fall back to a bare Unknown rather than
		// propagating a json error through the wire codec.
		b, _ = json.Marshal(wireTrailer{Code: uint32(codes.Unknown), Message: err.Error()})
	}
	return b
}

func decodeTrailer(payload []byte) (*status.Status, metadata.MD) {
	var wt wireTrailer
	if len(payload) == 0 {
		return status.New(codes.OK, ""), nil
	}
	if err := json.Unmarshal(payload, &wt); err != nil {
		return status.New(codes.Unknown, "malformed trailer frame: "+err.Error()), nil
	}
	st := status.New(codes.Code(wt.Code), wt.Message)
	var md metadata.MD
	if len(wt.Meta) > 0 {
		md = metadata.MD(wt.Meta)
	}
	return st, md
}
