package parcel

import (
	"fmt"
	"reflect"

	"github.com/rawbytedev/parcel/pkg/wire"
)

// Char is a single Unicode code point carried by the transport's char
// primitive. Plain runes are int32 and travel as ints.
type Char rune

// scalarCodec binds one Go primitive type to a pair of transport calls.
type scalarCodec[T any] struct {
	read  func(wire.Source) (T, error)
	write func(wire.Sink, T) error
}

func (scalarCodec[T]) goType() reflect.Type { return reflect.TypeFor[T]() }

func (c scalarCodec[T]) Fingerprints() []Fingerprint {
	return []Fingerprint{FingerprintOfType(c.goType())}
}

func (c scalarCodec[T]) Type(fp Fingerprint) reflect.Type {
	if fp != FingerprintOfType(c.goType()) {
		return nil
	}
	return c.goType()
}

func (c scalarCodec[T]) Read(src wire.Source, _ *Registry) (any, error) {
	v, err := c.read(src)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (c scalarCodec[T]) Write(dst wire.Sink, v any, _ *Registry) error {
	x, ok := v.(T)
	if !ok {
		return fmt.Errorf("%w: %T is not %s", ErrTypeMismatch, v, TypeName(c.goType()))
	}
	return c.write(dst, x)
}

func builtinCodecs() []Codec {
	return []Codec{
		scalarCodec[bool]{
			read:  func(s wire.Source) (bool, error) { return s.ReadBool() },
			write: func(s wire.Sink, v bool) error { return s.WriteBool(v) },
		},
		scalarCodec[int8]{
			read: func(s wire.Source) (int8, error) {
				b, err := s.ReadByte()
				return int8(b), err
			},
			write: func(s wire.Sink, v int8) error { return s.WriteByte(byte(v)) },
		},
		scalarCodec[uint8]{
			read:  func(s wire.Source) (uint8, error) { return s.ReadByte() },
			write: func(s wire.Sink, v uint8) error { return s.WriteByte(v) },
		},
		scalarCodec[int16]{
			read:  func(s wire.Source) (int16, error) { return s.ReadShort() },
			write: func(s wire.Sink, v int16) error { return s.WriteShort(v) },
		},
		scalarCodec[uint16]{
			read: func(s wire.Source) (uint16, error) {
				v, err := s.ReadShort()
				return uint16(v), err
			},
			write: func(s wire.Sink, v uint16) error { return s.WriteShort(int16(v)) },
		},
		scalarCodec[int32]{
			read:  func(s wire.Source) (int32, error) { return s.ReadInt() },
			write: func(s wire.Sink, v int32) error { return s.WriteInt(v) },
		},
		scalarCodec[uint32]{
			read: func(s wire.Source) (uint32, error) {
				v, err := s.ReadInt()
				return uint32(v), err
			},
			write: func(s wire.Sink, v uint32) error { return s.WriteInt(int32(v)) },
		},
		scalarCodec[int64]{
			read:  func(s wire.Source) (int64, error) { return s.ReadLong() },
			write: func(s wire.Sink, v int64) error { return s.WriteLong(v) },
		},
		scalarCodec[uint64]{
			read: func(s wire.Source) (uint64, error) {
				v, err := s.ReadLong()
				return uint64(v), err
			},
			write: func(s wire.Sink, v uint64) error { return s.WriteLong(int64(v)) },
		},
		// int and uint always travel as 8 bytes
		scalarCodec[int]{
			read: func(s wire.Source) (int, error) {
				v, err := s.ReadLong()
				return int(v), err
			},
			write: func(s wire.Sink, v int) error { return s.WriteLong(int64(v)) },
		},
		scalarCodec[uint]{
			read: func(s wire.Source) (uint, error) {
				v, err := s.ReadLong()
				return uint(v), err
			},
			write: func(s wire.Sink, v uint) error { return s.WriteLong(int64(v)) },
		},
		scalarCodec[float32]{
			read:  func(s wire.Source) (float32, error) { return s.ReadFloat() },
			write: func(s wire.Sink, v float32) error { return s.WriteFloat(v) },
		},
		scalarCodec[float64]{
			read:  func(s wire.Source) (float64, error) { return s.ReadDouble() },
			write: func(s wire.Sink, v float64) error { return s.WriteDouble(v) },
		},
		scalarCodec[string]{
			read:  func(s wire.Source) (string, error) { return s.ReadString() },
			write: func(s wire.Sink, v string) error { return s.WriteString(v) },
		},
		scalarCodec[Char]{
			read: func(s wire.Source) (Char, error) {
				r, err := s.ReadChar()
				return Char(r), err
			},
			write: func(s wire.Sink, v Char) error { return s.WriteChar(rune(v)) },
		},
	}
}
