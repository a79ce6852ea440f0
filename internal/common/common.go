package common

import (
	"errors"
	"io"
	"reflect"
)

// ErrVarintOverflow is returned when a varint runs past 10 bytes.
var ErrVarintOverflow = errors.New("varint overflows 64 bits")

// MaxVarintLen is the longest encoding of a 64-bit varint.
const MaxVarintLen = 10

// IsNillableKind reports whether a value of kind k can hold nil.
func IsNillableKind(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return true
	default:
		return false
	}
}

// WriteVarUint appends a varint to buf (allocating if needed).
func WriteVarUint(buf []byte, x uint64) []byte {
	for x >= 0x80 {
		buf = append(buf, byte(x)|0x80)
		x >>= 7
	}
	return append(buf, byte(x))
}

// ReadVarUintFrom decodes a varint one byte at a time from r.
// io.EOF is only returned when r is empty before the first byte.
func ReadVarUintFrom(r io.ByteReader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < MaxVarintLen; i++ {
		c, err := r.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		x |= uint64(c&0x7F) << s
		if c&0x80 == 0 {
			return x, nil
		}
		s += 7
	}
	return 0, ErrVarintOverflow
}
