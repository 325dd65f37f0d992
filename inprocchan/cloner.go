// Package inprocchan provides a Channel implementation that dispatches
// calls directly to in-process handlers, without going through the wire
// codec or frame multiplexer at all: the same role the teacher's
// inprocgrpc.Channel plays, adapted to this module's (serialize,
// deserialize)-free, Cloner-based message passing for the in-process case.
package inprocchan

import (
	"fmt"
	"reflect"

	"google.golang.org/grpc/encoding"

	"github.com/framechan/framechan/internal"
)

// Cloner knows how to make copies of messages, so that client and server
// goroutines never share mutable state through a message value. Adapted
// from the teacher's inprocgrpc.Cloner.
type Cloner interface {
	Copy(in, out interface{}) error
	Clone(interface{}) interface{}
}

// DefaultCloner is the Cloner used when a Channel's Cloner field is left
// nil. It handles protobuf messages correctly via internal.CopyMessage/
// CloneMessage, and falls back to a shallow reflection-based copy for
// anything else (e.g. this module's own framechantesting.Message).
type DefaultCloner struct{}

var _ Cloner = DefaultCloner{}

func (DefaultCloner) Copy(in, out interface{}) error {
	return internal.CopyMessage(in, out)
}

func (DefaultCloner) Clone(in interface{}) interface{} {
	return internal.CloneMessage(in)
}

// CloneFunc adapts a single clone function to the Cloner interface. Copy is
// implemented by invoking fn and then shallow-copying the result into out
// via reflection.
func CloneFunc(fn func(interface{}) interface{}) Cloner {
	copyFn := func(in, out interface{}) error {
		cloned := fn(in)
		src := reflect.Indirect(reflect.ValueOf(cloned))
		dest := reflect.Indirect(reflect.ValueOf(out))
		if src.Type() != dest.Type() {
			return fmt.Errorf("incompatible types: %v != %v", src.Type(), dest.Type())
		}
		if !dest.CanSet() {
			return fmt.Errorf("unable to set destination: %v", reflect.ValueOf(out).Type())
		}
		dest.Set(src)
		return nil
	}
	return &funcCloner{clone: fn, copy: copyFn}
}

// CopyFunc adapts a single copy function to the Cloner interface. Clone is
// implemented by allocating a new value of the same type and using fn to
// copy into it.
func CopyFunc(fn func(in, out interface{}) error) Cloner {
	cloneFn := func(in interface{}) interface{} {
		clone := reflect.New(reflect.TypeOf(in).Elem()).Interface()
		if err := fn(in, clone); err != nil {
			panic(err)
		}
		return clone
	}
	return &funcCloner{clone: cloneFn, copy: fn}
}

// CodecCloner implements Cloner by marshaling through codec and back,
// trading CPU for the certainty that client and server share nothing.
func CodecCloner(codec encoding.Codec) Cloner {
	return CopyFunc(func(in, out interface{}) error {
		b, err := codec.Marshal(in)
		if err != nil {
			return err
		}
		return codec.Unmarshal(b, out)
	})
}

type funcCloner struct {
	clone func(interface{}) interface{}
	copy  func(in, out interface{}) error
}

var _ Cloner = (*funcCloner)(nil)

func (c *funcCloner) Copy(in, out interface{}) error {
	return c.copy(in, out)
}

func (c *funcCloner) Clone(in interface{}) interface{} {
	return c.clone(in)
}
