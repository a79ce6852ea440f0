package parcel

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/rawbytedev/parcel/internal/common"
	"github.com/rawbytedev/parcel/pkg/wire"
)

// StructCodec encodes one Go struct type field by field. Exported fields
// are written in declaration order through the registry; nillable fields
// carry a presence byte, and fields whose codec cannot be known from the
// static type carry their value's fingerprint.
type StructCodec struct {
	t    reflect.Type
	fp   Fingerprint
	plan *structPlan
}

type structPlan struct {
	fields []structField
}

type structField struct {
	idx      int
	name     string
	typ      reflect.Type
	nillable bool
	tagged   bool // interface or dynamic-identity type
	pointer  bool // non-dynamic pointer type
}

// valueType is the type actually encoded: pointers without a codec of
// their own are written as their pointee.
func (f structField) valueType(reg *Registry) (reflect.Type, bool) {
	if f.pointer && !reg.Contains(FingerprintOfType(f.typ)) {
		return f.typ.Elem(), true
	}
	return f.typ, false
}

var (
	planMu sync.RWMutex
	plans  = make(map[reflect.Type]*structPlan)
)

func getPlan(t reflect.Type) *structPlan {
	planMu.RLock()
	if plan, ok := plans[t]; ok {
		planMu.RUnlock()
		return plan
	}
	planMu.RUnlock()

	planMu.Lock()
	defer planMu.Unlock()

	// Double-check
	if plan, ok := plans[t]; ok {
		return plan
	}

	plan := &structPlan{}
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		plan.fields = append(plan.fields, structField{
			idx:      i,
			name:     sf.Name,
			typ:      sf.Type,
			nillable: common.IsNillableKind(sf.Type.Kind()),
			tagged:   needsTag(sf.Type),
			pointer:  sf.Type.Kind() == reflect.Pointer && !IsDynamicType(sf.Type),
		})
	}
	plans[t] = plan
	return plan
}

// staticCodec resolves the codec for an untagged field. Types without a
// codec of their own go through the generic object codec.
func staticCodec(t reflect.Type, reg *Registry) (Codec, error) {
	codec, err := reg.LookupType(t)
	if errors.Is(err, ErrUnknownFingerprint) {
		return reg.Lookup(ObjectFingerprint)
	}
	return codec, err
}

// NewStructCodec builds a codec for the struct type of sample, which may
// also be a pointer to that struct.
func NewStructCodec(sample any) (*StructCodec, error) {
	t := reflect.TypeOf(sample)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T is not a struct", ErrMalformedCodec, sample)
	}
	return &StructCodec{t: t, fp: FingerprintOfType(t), plan: getPlan(t)}, nil
}

func (c *StructCodec) Fingerprints() []Fingerprint { return []Fingerprint{c.fp} }

func (c *StructCodec) Type(fp Fingerprint) reflect.Type {
	if fp != c.fp {
		return nil
	}
	return c.t
}

func (c *StructCodec) Write(dst wire.Sink, v any, reg *Registry) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Type() != c.t {
		return fmt.Errorf("%w: %T is not %s", ErrTypeMismatch, v, TypeName(c.t))
	}
	for _, f := range c.plan.fields {
		fv := rv.Field(f.idx)
		if f.nillable {
			if fv.IsNil() {
				if err := dst.WriteByte(PresenceNull); err != nil {
					return err
				}
				continue
			}
			if err := dst.WriteByte(PresencePresent); err != nil {
				return err
			}
		}
		if err := c.writeField(dst, f, fv, reg); err != nil {
			return fmt.Errorf("%s.%s: %w", TypeName(c.t), f.name, err)
		}
	}
	return nil
}

func (c *StructCodec) writeField(dst wire.Sink, f structField, fv reflect.Value, reg *Registry) error {
	if !f.tagged {
		t, deref := f.valueType(reg)
		if deref {
			fv = fv.Elem()
		}
		codec, err := staticCodec(t, reg)
		if err != nil {
			return err
		}
		return codec.Write(dst, fv.Interface(), reg)
	}
	v := fv.Interface()
	fp, codec, err := reg.resolve(v)
	if err != nil {
		return err
	}
	if err := dst.WriteInt(int32(fp)); err != nil {
		return err
	}
	return codec.Write(dst, v, reg)
}

func (c *StructCodec) Read(src wire.Source, reg *Registry) (any, error) {
	out := reflect.New(c.t).Elem()
	for _, f := range c.plan.fields {
		if f.nillable {
			tag, err := src.ReadByte()
			if err != nil {
				return nil, err
			}
			switch tag {
			case PresenceNull:
				continue
			case PresencePresent:
			default:
				return nil, fmt.Errorf("%w: presence byte %#x", ErrCorruptStream, tag)
			}
		}
		v, err := c.readField(src, f, reg)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", TypeName(c.t), f.name, err)
		}
		if v == nil {
			continue
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(f.typ) {
			return nil, fmt.Errorf("%w: %s into %s.%s", ErrTypeMismatch, TypeName(rv.Type()), TypeName(c.t), f.name)
		}
		out.Field(f.idx).Set(rv)
	}
	return out.Interface(), nil
}

func (c *StructCodec) readField(src wire.Source, f structField, reg *Registry) (any, error) {
	if !f.tagged {
		t, deref := f.valueType(reg)
		codec, err := staticCodec(t, reg)
		if err != nil {
			return nil, err
		}
		v, err := readTyped(codec, src, reg, t)
		if err != nil || !deref || v == nil {
			return v, err
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(f.typ.Elem()) {
			return nil, fmt.Errorf("%w: %s into %s", ErrTypeMismatch, TypeName(rv.Type()), TypeName(f.typ))
		}
		ptr := reflect.New(f.typ.Elem())
		ptr.Elem().Set(rv)
		return ptr.Interface(), nil
	}
	raw, err := src.ReadInt()
	if err != nil {
		return nil, err
	}
	codec, err := reg.Lookup(Fingerprint(raw))
	if err != nil {
		return nil, err
	}
	return readTyped(codec, src, reg, concrete(f.typ))
}
