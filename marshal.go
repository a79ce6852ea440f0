package parcel

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/rawbytedev/parcel/pkg/wire"
)

// Encode writes v as a self-describing value: its fingerprint as an i32
// followed by the value in its codec's form. Values with no codec of their
// own travel under the object codec.
func Encode(dst wire.Sink, reg *Registry, v any) error {
	fp, codec, err := reg.resolve(v)
	if err != nil {
		return err
	}
	if err := dst.WriteInt(int32(fp)); err != nil {
		return err
	}
	return codec.Write(dst, v, reg)
}

// Decode reads a value written by Encode.
func Decode(src wire.Source, reg *Registry) (any, error) {
	return decode(src, reg, nil)
}

func decode(src wire.Source, reg *Registry, t reflect.Type) (any, error) {
	raw, err := src.ReadInt()
	if err != nil {
		return nil, err
	}
	codec, err := reg.Lookup(Fingerprint(raw))
	if err != nil {
		return nil, err
	}
	return readTyped(codec, src, reg, t)
}

// Marshal encodes v into a new buffer.
func Marshal(reg *Registry, v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(wire.NewBinarySink(&buf), reg, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a buffer produced by Marshal. Trailing bytes are an
// error.
//
// Arrays come back in a shape chosen from the stream alone. A rank-2 or
// deeper array with no sub-arrays, or whose sub-arrays decode to different
// types, comes back as []any, and Go arrays come back as slices. Use
// UnmarshalTo with the declared type to get the original shape back.
func Unmarshal(reg *Registry, data []byte) (any, error) {
	return unmarshal(reg, data, nil)
}

// UnmarshalTo decodes data into a T, using T as the shape hint for arrays
// and generic objects.
func UnmarshalTo[T any](reg *Registry, data []byte) (T, error) {
	var zero T
	v, err := unmarshal(reg, data, concrete(reflect.TypeFor[T]()))
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T is not %s", ErrTypeMismatch, v, TypeName(reflect.TypeFor[T]()))
	}
	return out, nil
}

func unmarshal(reg *Registry, data []byte, t reflect.Type) (any, error) {
	r := bytes.NewReader(data)
	v, err := decode(wire.NewBinarySource(r), reg, t)
	if err != nil {
		return nil, err
	}
	if r.Len() > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptStream, r.Len())
	}
	return v, nil
}
