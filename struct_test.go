package parcel

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

type leaf struct {
	A int32
	B string
}

type record struct {
	ID      int64
	Name    string
	Tags    []string
	Grid    [][]int32
	Attrs   map[string]int
	Child   *leaf
	Ref     *int32
	Any     any
	Packet  *Packet
	Nested  leaf
	private int
}

func recordRegistry(t *testing.T) (*Registry, *StructCodec) {
	t.Helper()
	reg := NewRegistry()
	sc, err := NewStructCodec(&record{})
	require.NoError(t, err)
	require.NoError(t, reg.Register(sc))
	return reg, sc
}

func TestStructRoundTrip(t *testing.T) {
	reg, sc := recordRegistry(t)
	pkt, err := NewPacketFrom(Field{Name: "n", Value: int32(4)})
	require.NoError(t, err)
	require.NoError(t, reg.Register(pkt))

	ref := int32(11)
	in := record{
		ID:     7,
		Name:   "r",
		Tags:   []string{"a", "b"},
		Grid:   [][]int32{{1}, {}},
		Attrs:  map[string]int{"x": 1},
		Child:  &leaf{A: 1, B: "c"},
		Ref:    &ref,
		Any:    []any{"mixed", 2.5},
		Packet: pkt,
		Nested: leaf{A: 2},
	}
	out := roundTrip(t, reg, sc, in, nil).(record)
	got := out.Packet
	out.Packet = nil
	in.Packet = nil
	require.Equal(t, in, out)
	require.Equal(t, pkt.Fields(), got.Fields())

	// a pointer to the struct is accepted too
	require.Equal(t, in, roundTrip(t, reg, sc, &in, nil))
}

func TestStructNilFields(t *testing.T) {
	reg, sc := recordRegistry(t)
	in := record{ID: 1}
	data := encodeWith(t, reg, sc, in)
	out, err := decodeWith(reg, sc, data, nil)
	require.NoError(t, err)
	require.Equal(t, in, out)

	// ID, Name, then one presence byte per nillable field
	require.Equal(t, []byte{1, 1, 1, 1, 1, 1, 1}, data[9:16])
}

func TestStructUnexportedSkipped(t *testing.T) {
	reg, sc := recordRegistry(t)
	out := roundTrip(t, reg, sc, record{private: 9}, nil).(record)
	require.Zero(t, out.private)
}

func TestStructNested(t *testing.T) {
	reg, sc := recordRegistry(t)
	ic, err := NewStructCodec(leaf{})
	require.NoError(t, err)
	require.NoError(t, reg.Register(ic))

	in := record{Child: &leaf{A: 5, B: "five"}, Nested: leaf{B: "n"}}
	require.Equal(t, in, roundTrip(t, reg, sc, in, nil))

	// arrays of a registered struct use a type-id header
	v := []leaf{{A: 1}, {B: "x"}}
	require.Equal(t, v, roundTrip(t, reg, ArrayCodec{}, v, nil))
}

func TestStructThroughMarshal(t *testing.T) {
	reg, _ := recordRegistry(t)
	in := record{Name: "m", Tags: []string{}}
	data, err := Marshal(reg, in)
	require.NoError(t, err)
	got, err := UnmarshalTo[record](reg, data)
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestStructErrors(t *testing.T) {
	_, err := NewStructCodec(1)
	require.ErrorIs(t, err, ErrMalformedCodec)
	_, err = NewStructCodec(nil)
	require.ErrorIs(t, err, ErrMalformedCodec)

	reg, sc := recordRegistry(t)
	require.ErrorIs(t, sc.Write(nil, leaf{}, reg), ErrTypeMismatch)
	require.ErrorIs(t, sc.Write(nil, (*record)(nil), reg), ErrTypeMismatch)
	require.Equal(t, reflect.TypeFor[record](), sc.Type(FingerprintOfType(reflect.TypeFor[record]())))

	// Tags presence byte out of range
	data := be{}.i32(0).i32(0).u8(0).u8(9)
	_, err = decodeWith(reg, sc, data, nil)
	require.ErrorIs(t, err, ErrCorruptStream)
}

func TestStructPlanCached(t *testing.T) {
	a, err := NewStructCodec(record{})
	require.NoError(t, err)
	b, err := NewStructCodec(&record{})
	require.NoError(t, err)
	require.Same(t, a.plan, b.plan)
}
