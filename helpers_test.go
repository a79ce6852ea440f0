package parcel

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/parcel/pkg/wire"
)

func encodeWith(t testing.TB, reg *Registry, c Codec, v any) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Write(wire.NewBinarySink(&buf), v, reg))
	return buf.Bytes()
}

func decodeWith(reg *Registry, c Codec, data []byte, hint reflect.Type) (any, error) {
	return readTyped(c, wire.NewBinarySource(bytes.NewReader(data)), reg, hint)
}

func roundTrip(t testing.TB, reg *Registry, c Codec, v any, hint reflect.Type) any {
	t.Helper()
	data := encodeWith(t, reg, c, v)
	out, err := decodeWith(reg, c, data, hint)
	require.NoError(t, err)
	return out
}

// be builds big-endian test vectors.
type be []byte

func (b be) u8(v byte) be {
	return append(b, v)
}

func (b be) i32(v int32) be {
	return binary.BigEndian.AppendUint32(b, uint32(v))
}

func (b be) fp(f Fingerprint) be {
	return b.i32(int32(f))
}

// str writes a one-byte varint length, enough for short names.
func (b be) str(s string) be {
	return append(append(b, byte(len(s))), s...)
}
