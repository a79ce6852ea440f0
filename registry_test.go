package parcel

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rawbytedev/parcel/pkg/wire"
)

// namedCodec answers to one fingerprint per name and reads nothing.
type namedCodec struct {
	names []string
	typ   reflect.Type
}

func (c namedCodec) Fingerprints() []Fingerprint {
	out := make([]Fingerprint, len(c.names))
	for i, n := range c.names {
		out[i] = FingerprintOfName(n)
	}
	return out
}

func (c namedCodec) Type(Fingerprint) reflect.Type { return c.typ }

func (c namedCodec) Read(wire.Source, *Registry) (any, error) { return nil, nil }

func (c namedCodec) Write(wire.Sink, any, *Registry) error { return nil }

// countingCodec is stateful: every fetch must hand out a fresh clone.
type countingCodec struct {
	namedCodec
	clones *atomic.Int32
}

func (c *countingCodec) CloneCodec() Codec {
	c.clones.Add(1)
	cp := *c
	return &cp
}

func TestRegistryBuiltins(t *testing.T) {
	reg := NewRegistry()
	for _, v := range []any{
		true, int8(1), uint8(1), int16(1), uint16(1), int32(1), uint32(1),
		int64(1), uint64(1), 1, uint(1), float32(1), 1.0, "s", Char('c'),
	} {
		c, err := reg.LookupValue(v)
		require.NoError(t, err, "%T", v)
		require.Equal(t, reflect.TypeOf(v), c.Type(FingerprintOfValue(v)))
	}
	require.True(t, reg.Contains(ObjectFingerprint))
	require.True(t, reg.Contains(ArrayFingerprint))
	require.Equal(t, 17, reg.Len())
}

func TestRegistryArrayRedirect(t *testing.T) {
	reg := NewRegistry()
	for _, v := range []any{[]int32{1}, [][]string{}, [3]bool{}, []any{}} {
		c, err := reg.LookupValue(v)
		require.NoError(t, err)
		require.IsType(t, ArrayCodec{}, c)
		c, err = reg.LookupType(reflect.TypeOf(v))
		require.NoError(t, err)
		require.IsType(t, ArrayCodec{}, c)
	}
}

func TestRegistryDuplicateIsAtomic(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reg := NewRegistry(WithLogger(zap.New(core)))
	before := reg.Fingerprints()

	// the second name collides with the built-in int32 codec
	c := namedCodec{names: []string{"fresh.Type", "int32"}, typ: reflect.TypeFor[int32]()}
	err := reg.Register(c)
	require.ErrorIs(t, err, ErrDuplicateFingerprint)
	require.Equal(t, KindConfiguration, KindOf(err))
	require.False(t, reg.Contains(FingerprintOfName("fresh.Type")))
	require.Equal(t, before, reg.Fingerprints())
	require.Equal(t, 1, logs.FilterMessage("duplicate fingerprint rejected").Len())
}

func TestRegistryMalformed(t *testing.T) {
	reg := NewRegistry()
	cases := []Codec{
		nil,
		namedCodec{typ: reflect.TypeFor[int]()},
		namedCodec{names: []string{"no.Type"}},
		namedCodec{names: []string{"twice", "twice"}, typ: reflect.TypeFor[int]()},
	}
	for i, c := range cases {
		err := reg.Register(c)
		require.ErrorIs(t, err, ErrMalformedCodec, "case %d", i)
		require.Equal(t, KindConfiguration, KindOf(err))
	}
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()
	n := reg.Len()
	reg.Unregister(FingerprintOfName("absent"))
	reg.UnregisterType(reflect.TypeFor[point]())
	require.Equal(t, n, reg.Len())

	reg.UnregisterType(reflect.TypeFor[int16]())
	require.Equal(t, n-1, reg.Len())
	_, err := reg.LookupType(reflect.TypeFor[int16]())
	require.ErrorIs(t, err, ErrUnknownFingerprint)
	require.Equal(t, KindLookup, KindOf(err))
	_, ok := reg.TypeByName("int16")
	require.False(t, ok)

	reg.Unregister(FingerprintOfType(reflect.TypeFor[string]()))
	require.False(t, reg.Contains(FingerprintOfType(reflect.TypeFor[string]())))
}

func TestRegistryLookupErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Lookup(FingerprintOfName("missing"))
	require.ErrorIs(t, err, ErrUnknownFingerprint)
	_, err = reg.LookupValue(nil)
	require.ErrorIs(t, err, ErrNilValue)
	_, err = reg.LookupType(nil)
	require.ErrorIs(t, err, ErrNilValue)
	_, err = reg.LookupType(packetPtrType)
	require.ErrorIs(t, err, ErrUnknownFingerprint)
}

func TestRegistryFingerprintsSorted(t *testing.T) {
	reg := NewRegistry()
	fps := reg.Fingerprints()
	require.Len(t, fps, reg.Len())
	require.True(t, slices.IsSorted(fps))
}

func TestRegistryStatefulClone(t *testing.T) {
	reg := NewRegistry()
	clones := new(atomic.Int32)
	c := &countingCodec{namedCodec: namedCodec{names: []string{"counting"}, typ: reflect.TypeFor[int]()}, clones: clones}
	require.NoError(t, reg.Register(c))

	a, err := reg.Lookup(FingerprintOfName("counting"))
	require.NoError(t, err)
	b, err := reg.Lookup(FingerprintOfName("counting"))
	require.NoError(t, err)
	require.NotSame(t, a, b)
	require.NotSame(t, c, a)
	// one snapshot on Register, one per fetch
	require.EqualValues(t, 3, clones.Load())
}

func TestRegistryTypeNames(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.TypeByName(TypeName(reflect.TypeFor[point]()))
	require.False(t, ok)
	reg.RegisterType(point{}, nil)
	got, ok := reg.TypeByName(TypeName(reflect.TypeFor[point]()))
	require.True(t, ok)
	require.Equal(t, reflect.TypeFor[point](), got)

	got, ok = reg.TypeByName("int32")
	require.True(t, ok)
	require.Equal(t, reflect.TypeFor[int32](), got)
}

func TestRegistryConcurrent(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				name := fmt.Sprintf("codec.%d.%d", g, i)
				require.NoError(t, reg.Register(namedCodec{names: []string{name}, typ: reflect.TypeFor[int]()}))
				_, err := reg.LookupValue(int32(i))
				require.NoError(t, err)
				require.True(t, reg.Contains(FingerprintOfName(name)))
				if i%2 == 0 {
					reg.Unregister(FingerprintOfName(name))
				}
				_ = reg.Fingerprints()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 17+8*50, reg.Len())
}
