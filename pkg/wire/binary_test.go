package wire

import (
	"bytes"
	"math"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/require"
)

func TestBinaryBigEndianLayout(t *testing.T) {
	var buf bytes.Buffer
	s := NewBinarySink(&buf)
	require.NoError(t, s.WriteBool(true))
	require.NoError(t, s.WriteShort(0x0102))
	require.NoError(t, s.WriteInt(0x01020304))
	require.NoError(t, s.WriteChar('A'))
	require.NoError(t, s.WriteString("hi"))
	require.Equal(t, []byte{1, 1, 2, 1, 2, 3, 4, 0, 0, 0, 'A', 2, 'h', 'i'}, buf.Bytes())
}

func TestBinaryPrimitivesRoundTrip(t *testing.T) {
	f := func(b bool, y byte, c rune, sh int16, i int32, l int64, fl float32, d float64, str string, raw []byte) bool {
		var buf bytes.Buffer
		s := NewBinarySink(&buf)
		for _, err := range []error{
			s.WriteBool(b), s.WriteByte(y), s.WriteChar(c), s.WriteShort(sh), s.WriteInt(i),
			s.WriteLong(l), s.WriteFloat(fl), s.WriteDouble(d), s.WriteString(str), s.WriteBytes(raw),
		} {
			if err != nil {
				return false
			}
		}
		src := NewBinarySource(&buf)
		gb, _ := src.ReadBool()
		gy, _ := src.ReadByte()
		gc, _ := src.ReadChar()
		gsh, _ := src.ReadShort()
		gi, _ := src.ReadInt()
		gl, _ := src.ReadLong()
		gfl, _ := src.ReadFloat()
		gd, _ := src.ReadDouble()
		gstr, _ := src.ReadString()
		graw, err := src.ReadBytes()
		return err == nil && buf.Len() == 0 &&
			gb == b && gy == y && gc == c && gsh == sh && gi == i && gl == l &&
			math.Float32bits(gfl) == math.Float32bits(fl) &&
			math.Float64bits(gd) == math.Float64bits(d) &&
			gstr == str && bytes.Equal(graw, raw)
	}
	require.NoError(t, quick.Check(f, nil))
}

func TestBinaryObject(t *testing.T) {
	var buf bytes.Buffer
	s := NewBinarySink(&buf)
	in := map[string]any{"k": "v", "n": uint64(3)}
	require.NoError(t, s.WriteObject(in))

	var out any
	require.NoError(t, NewBinarySource(&buf).ReadObject(&out))
	require.Equal(t, in, out)

	err := s.WriteObject(make(chan int))
	require.ErrorIs(t, err, ErrObject)
}

func TestBinaryObjectCanonical(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, NewBinarySink(&a).WriteObject(map[string]int{"b": 2, "a": 1, "c": 3}))
	require.NoError(t, NewBinarySink(&b).WriteObject(map[string]int{"c": 3, "a": 1, "b": 2}))
	require.Equal(t, a.Bytes(), b.Bytes())
}

func TestBinarySourceErrors(t *testing.T) {
	_, err := NewBinarySource(bytes.NewReader([]byte{2})).ReadBool()
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = NewBinarySource(bytes.NewReader([]byte{0, 0})).ReadInt()
	require.ErrorIs(t, err, ErrIO)

	// length says 5, only 2 bytes follow
	_, err = NewBinarySource(bytes.NewReader([]byte{5, 'a', 'b'})).ReadString()
	require.ErrorIs(t, err, ErrIO)

	_, err = NewBinarySource(bytes.NewReader(bytes.Repeat([]byte{0xff}, 11))).ReadBytes()
	require.ErrorIs(t, err, ErrCorrupt)

	src := NewBinarySourceLimits(bytes.NewReader([]byte{4, 'a', 'b', 'c', 'd'}), Limits{MaxStringLen: 3})
	_, err = src.ReadString()
	require.ErrorIs(t, err, ErrCorrupt)

	var out any
	err = NewBinarySource(bytes.NewReader([]byte{1, 0xff})).ReadObject(&out)
	require.ErrorIs(t, err, ErrObject)
}

func TestBinarySourceStopsAtValueEnd(t *testing.T) {
	r := bytes.NewReader([]byte{2, 'o', 'k', 9, 9})
	got, err := NewBinarySource(r).ReadString()
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 2, r.Len())
}
