package parcel

import (
	"reflect"

	"github.com/rawbytedev/parcel/pkg/wire"
)

// Codec owns the read/write behaviour for one or more fingerprints.
//
// Write may ask reg for the codecs of nested values. Read returns a fresh
// value; codecs bound to a template never mutate the template.
type Codec interface {
	// Fingerprints lists every fingerprint the codec answers to.
	Fingerprints() []Fingerprint
	// Type is the Go type Read produces for fp.
	Type(fp Fingerprint) reflect.Type
	Read(src wire.Source, reg *Registry) (any, error)
	Write(dst wire.Sink, v any, reg *Registry) error
}

// StatefulCodec marks a codec holding mutable state. The registry hands
// every caller a private clone instead of the registered instance.
type StatefulCodec interface {
	Codec
	CloneCodec() Codec
}

// TypedReader is implemented by codecs that can shape their output after the
// declared type of the destination, such as a Packet field or struct field.
type TypedReader interface {
	ReadType(src wire.Source, reg *Registry, t reflect.Type) (any, error)
}

// readTyped prefers the declared type when the codec can use it.
func readTyped(c Codec, src wire.Source, reg *Registry, t reflect.Type) (any, error) {
	if tr, ok := c.(TypedReader); ok && t != nil {
		return tr.ReadType(src, reg, t)
	}
	return c.Read(src, reg)
}
