package parcel

import (
	"bytes"
	"math/rand"
	"reflect"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/parcel/pkg/wire"
)

func newTemplate(t *testing.T) *Packet {
	t.Helper()
	p, err := NewPacketFrom(
		Field{Name: "a", Value: int32(0)},
		Field{Name: "b", Type: reflect.TypeFor[string]()},
	)
	require.NoError(t, err)
	return p
}

func TestPacketWriteBytes(t *testing.T) {
	reg := NewRegistry()
	tmpl := newTemplate(t)
	require.NoError(t, reg.Register(tmpl))

	p := tmpl.Clone()
	require.NoError(t, p.PutByName("a", int32(5)))

	data := encodeWith(t, reg, tmpl, p)
	require.Equal(t, []byte{PresencePresent, 0, 0, 0, 5, PresenceNull}, data)

	out, err := decodeWith(reg, tmpl, data, nil)
	require.NoError(t, err)
	got := out.(*Packet)
	a, err := got.GetByName("a")
	require.NoError(t, err)
	require.Equal(t, int32(5), a)
	b, err := got.GetByName("b")
	require.NoError(t, err)
	require.Nil(t, b)

	// the template is never filled
	a, _ = tmpl.GetByName("a")
	require.Equal(t, int32(0), a)
}

func TestPacketRoundTripThroughRegistry(t *testing.T) {
	reg := NewRegistry()
	inner, err := NewPacketFrom(Field{Name: "x", Value: 0.0})
	require.NoError(t, err)
	require.NoError(t, reg.Register(inner))

	tmpl, err := NewPacketFrom(
		Field{Name: "id", Value: int64(0)},
		Field{Name: "tags", Value: []string{}},
		Field{Name: "grid", Value: [][]int32{}},
		Field{Name: "any", Type: reflect.TypeFor[any]()},
		Field{Name: "inner", Value: inner},
		Field{Name: "c", Value: Char(0)},
	)
	require.NoError(t, err)
	require.NoError(t, reg.Register(tmpl))

	p := tmpl.DeepCopy().(*Packet)
	in := inner.Clone()
	require.NoError(t, in.PutByName("x", 2.5))
	require.NoError(t, p.PutByName("id", int64(-9)))
	require.NoError(t, p.PutByName("tags", []string{"a", "b"}))
	require.NoError(t, p.PutByName("grid", [][]int32{{1}, {}, {2, 3}}))
	require.NoError(t, p.PutByName("any", []any{"mixed", int32(1)}))
	require.NoError(t, p.PutByName("inner", in))
	require.NoError(t, p.PutByName("c", Char('λ')))

	data, err := Marshal(reg, p)
	require.NoError(t, err)
	out, err := Unmarshal(reg, data)
	require.NoError(t, err)
	got := out.(*Packet)

	require.Equal(t, p.Names(), got.Names())
	for _, name := range []string{"id", "tags", "grid", "any", "c"} {
		want, _ := p.GetByName(name)
		have, _ := got.GetByName(name)
		require.Equal(t, want, have, name)
	}
	gotInner, err := got.GetByName("inner")
	require.NoError(t, err)
	require.Equal(t, in.Fields(), gotInner.(*Packet).Fields())
}

func TestPacketTemplateMutatedAfterRegister(t *testing.T) {
	reg := NewRegistry()
	tmpl, err := NewPacketFrom(Field{Name: "a", Value: int32(0)})
	require.NoError(t, err)
	require.NoError(t, reg.Register(tmpl))
	registered := tmpl.DynamicFingerprint()

	p := tmpl.Clone()
	require.NoError(t, p.PutByName("a", int32(7)))
	require.NoError(t, tmpl.AddNamed("b", "oops"))
	require.NotEqual(t, registered, tmpl.DynamicFingerprint())
	require.False(t, reg.Contains(tmpl.DynamicFingerprint()))

	data, err := Marshal(reg, p)
	require.NoError(t, err)
	out, err := Unmarshal(reg, data)
	require.NoError(t, err)
	got := out.(*Packet)
	require.Equal(t, []string{"a"}, got.Names())
	v, err := got.GetByName("a")
	require.NoError(t, err)
	require.Equal(t, int32(7), v)
}

func TestPacketCorruptPresence(t *testing.T) {
	reg := NewRegistry()
	tmpl := newTemplate(t)
	_, err := decodeWith(reg, tmpl, []byte{0}, nil)
	require.ErrorIs(t, err, ErrCorruptStream)
	_, err = decodeWith(reg, tmpl, []byte{PresenceNull, 3}, nil)
	require.ErrorIs(t, err, ErrCorruptStream)
	_, err = decodeWith(reg, tmpl, []byte{PresencePresent, 0}, nil)
	require.ErrorIs(t, err, ErrCodecIO)
}

func TestPacketWriteWrongType(t *testing.T) {
	reg := NewRegistry()
	tmpl := newTemplate(t)
	var buf bytes.Buffer
	err := tmpl.Write(wire.NewBinarySink(&buf), "not a packet", reg)
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestPacketFingerprint(t *testing.T) {
	tmpl := newTemplate(t)
	p := tmpl.Clone()
	require.NoError(t, p.PutByName("b", "filled"))
	require.Equal(t, tmpl.DynamicFingerprint(), p.DynamicFingerprint())
	require.Equal(t, tmpl.DynamicFingerprint(), FingerprintOfValue(p))

	want := FingerprintOfName("github.com/rawbytedev/parcel.Packet" +
		"$a$" + FingerprintOfType(reflect.TypeFor[int32]()).String() +
		"$b$" + FingerprintOfType(reflect.TypeFor[string]()).String())
	require.Equal(t, want, tmpl.DynamicFingerprint())

	renamed, err := NewPacketFrom(Field{Name: "a", Value: int32(0)}, Field{Name: "c", Type: reflect.TypeFor[string]()})
	require.NoError(t, err)
	require.NotEqual(t, tmpl.DynamicFingerprint(), renamed.DynamicFingerprint())

	retyped, err := NewPacketFrom(Field{Name: "a", Value: int64(0)}, Field{Name: "b", Type: reflect.TypeFor[string]()})
	require.NoError(t, err)
	require.NotEqual(t, tmpl.DynamicFingerprint(), retyped.DynamicFingerprint())

	require.NotEqual(t, NewPacket().DynamicFingerprint(), tmpl.DynamicFingerprint())
	require.Equal(t, []Fingerprint{tmpl.DynamicFingerprint()}, tmpl.Fingerprints())
	require.Equal(t, packetPtrType, tmpl.Type(tmpl.DynamicFingerprint()))
	require.Nil(t, tmpl.Type(0))
}

func TestPacketNestedSchemas(t *testing.T) {
	reg := NewRegistry()
	inner := newTemplate(t)
	other, err := NewPacketFrom(Field{Name: "z", Value: true})
	require.NoError(t, err)
	require.NoError(t, reg.Register(inner))
	require.NoError(t, reg.Register(other))

	// the nested slot is declared, not filled, in the template
	outer, err := NewPacketFrom(Field{Name: "p", Type: packetPtrType})
	require.NoError(t, err)
	require.NoError(t, reg.Register(outer))

	for _, nested := range []*Packet{inner, other} {
		p := outer.Clone()
		require.NoError(t, p.PutByName("p", nested))
		require.Equal(t, outer.DynamicFingerprint(), p.DynamicFingerprint())

		data := encodeWith(t, reg, outer, p)
		require.Equal(t, PresencePresent, data[0])
		out, err := decodeWith(reg, outer, data, nil)
		require.NoError(t, err)
		got, err := out.(*Packet).GetByName("p")
		require.NoError(t, err)
		require.Equal(t, nested.Fields(), got.(*Packet).Fields())
	}
}

func TestPacketAutoNames(t *testing.T) {
	p := NewPacket()
	name, err := p.Add(int32(1))
	require.NoError(t, err)
	require.Equal(t, "0", name)
	require.NoError(t, p.AddNamed("2", "taken"))
	name, err = p.Add(int32(3))
	require.NoError(t, err)
	require.Equal(t, "3", name)

	require.NoError(t, p.Remove(0))
	// Len is 2 and "2" is taken, "3" too
	name, err = p.Add(Field{Type: reflect.TypeFor[string]()})
	require.NoError(t, err)
	require.Equal(t, "4", name)
	f, err := p.Field("4")
	require.NoError(t, err)
	require.Nil(t, f.Value)
	require.Equal(t, reflect.TypeFor[string](), f.Type)
}

func TestPacketErrors(t *testing.T) {
	p := newTemplate(t)

	_, err := p.Add(nil)
	require.ErrorIs(t, err, ErrNilValue)
	require.ErrorIs(t, p.AddNamed("x", nil), ErrNilValue)
	require.ErrorIs(t, p.AddNamed("a", 1), ErrDuplicateKey)
	require.ErrorIs(t, p.Insert("x", 1, 5), ErrIndexOutOfRange)
	require.ErrorIs(t, p.Insert("x", 1, -1), ErrIndexOutOfRange)
	require.ErrorIs(t, p.AddField(Field{Name: "x", Type: reflect.TypeFor[int](), Value: "s"}), ErrTypeMismatch)

	_, err = p.Get(2)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = p.GetByName("nope")
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.Equal(t, KindLookup, KindOf(err))
	_, err = p.Field("nope")
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.ErrorIs(t, p.PutByName("a", "wrong"), ErrTypeMismatch)
	require.ErrorIs(t, p.Put(7, int32(1)), ErrIndexOutOfRange)
	require.ErrorIs(t, p.PutByName("nope", 1), ErrKeyNotFound)
	require.NoError(t, p.Put(0, nil))

	require.ErrorIs(t, p.Remove(2), ErrIndexOutOfRange)
	require.ErrorIs(t, p.RemoveByName("nope"), ErrKeyNotFound)
	require.Equal(t, 2, p.Len())
}

func TestPacketInsertRemove(t *testing.T) {
	p := NewPacket()
	require.NoError(t, p.AddNamed("a", 1))
	require.NoError(t, p.AddNamed("c", 3))
	require.NoError(t, p.Insert("b", 2, 1))
	require.NoError(t, p.Insert("z", 0, 0))
	require.NoError(t, p.Insert("end", 9, p.Len()))
	require.Equal(t, []string{"z", "a", "b", "c", "end"}, p.Names())

	v, err := p.Get(2)
	require.NoError(t, err)
	require.Equal(t, 2, v)

	require.NoError(t, p.RemoveByName("a"))
	require.Equal(t, []string{"z", "b", "c", "end"}, p.Names())
	v, err = p.GetByName("c")
	require.NoError(t, err)
	require.Equal(t, 3, v)
	v, err = p.Get(1)
	require.NoError(t, err)
	require.Equal(t, 2, v)

	var seen []string
	p.Range(func(i int, f Field) bool {
		seen = append(seen, f.Name)
		return i < 1
	})
	require.Equal(t, []string{"z", "b"}, seen)

	p.RemoveAll()
	require.Zero(t, p.Len())
	_, err = p.GetByName("b")
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.NoError(t, p.AddNamed("b", 1))
}

// TestPacketRandomOps checks index and name lookups against a plain slice
// model under random insertions and removals.
func TestPacketRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := NewPacket()
	var model []string
	for step := range 2000 {
		switch op := rng.Intn(4); {
		case op == 0 && len(model) > 0:
			i := rng.Intn(len(model))
			require.NoError(t, p.Remove(i))
			model = append(model[:i], model[i+1:]...)
		case op == 1:
			name := "n" + strconv.Itoa(step)
			i := rng.Intn(len(model) + 1)
			require.NoError(t, p.Insert(name, step, i))
			model = append(model[:i], append([]string{name}, model[i:]...)...)
		default:
			name, err := p.Add(step)
			require.NoError(t, err)
			model = append(model, name)
		}

		require.Equal(t, len(model), p.Len())
		if len(model) > 0 {
			i := rng.Intn(len(model))
			f, err := p.Field(model[i])
			require.NoError(t, err)
			byIdx, err := p.Get(i)
			require.NoError(t, err)
			require.Equal(t, f.Value, byIdx)
		}
	}
	require.Equal(t, model, p.Names())
}

func TestPacketConcurrent(t *testing.T) {
	reg := NewRegistry()
	p := NewPacket()
	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range 200 {
				require.NoError(t, p.AddNamed(strconv.Itoa(g)+"."+strconv.Itoa(i), int32(i)))
			}
		}()
		go func() {
			defer wg.Done()
			for range 200 {
				_ = p.DynamicFingerprint()
				_ = p.DeepCopy()
				var buf bytes.Buffer
				require.NoError(t, p.Write(wire.NewBinarySink(&buf), p, reg))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 800, p.Len())
}

func TestPacketDeepCopyIndependent(t *testing.T) {
	p, err := NewPacketFrom(Field{Name: "s", Value: []int32{1, 2}})
	require.NoError(t, err)
	cp := p.DeepCopy().(*Packet)
	sh := p.Clone()

	v, _ := p.GetByName("s")
	v.([]int32)[0] = 99

	got, _ := cp.GetByName("s")
	require.Equal(t, []int32{1, 2}, got)
	got, _ = sh.GetByName("s")
	require.Equal(t, []int32{99, 2}, got)

	require.NoError(t, cp.AddNamed("extra", 1))
	require.Equal(t, 1, p.Len())
}

func BenchmarkPacketRoundTrip(b *testing.B) {
	reg := NewRegistry()
	tmpl, _ := NewPacketFrom(
		Field{Name: "id", Value: int64(1)},
		Field{Name: "name", Value: "azerty"},
		Field{Name: "vals", Value: []float64{1.5, 2.5}},
	)
	reg.Register(tmpl)
	b.ReportAllocs()
	for b.Loop() {
		data, err := Marshal(reg, tmpl)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := Unmarshal(reg, data); err != nil {
			b.Fatal(err)
		}
	}
}
