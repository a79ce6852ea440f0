package parcel

import (
	"reflect"

	"github.com/rawbytedev/parcel/pkg/wire"
)

// ObjectCodec is the generic escape hatch for values no dedicated codec
// covers. It delegates to the transport's object primitive.
type ObjectCodec struct{}

func (ObjectCodec) Fingerprints() []Fingerprint { return []Fingerprint{ObjectFingerprint} }

func (ObjectCodec) Type(fp Fingerprint) reflect.Type {
	if fp != ObjectFingerprint {
		return nil
	}
	return anyType
}

func (ObjectCodec) Write(dst wire.Sink, v any, _ *Registry) error {
	return dst.WriteObject(v)
}

func (ObjectCodec) Read(src wire.Source, _ *Registry) (any, error) {
	var out any
	if err := src.ReadObject(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadType decodes into a fresh value of t instead of the generic
// map/slice shapes.
func (c ObjectCodec) ReadType(src wire.Source, reg *Registry, t reflect.Type) (any, error) {
	if t == nil || t.Kind() == reflect.Interface {
		return c.Read(src, reg)
	}
	p := reflect.New(t)
	if err := src.ReadObject(p.Interface()); err != nil {
		return nil, err
	}
	return p.Elem().Interface(), nil
}
