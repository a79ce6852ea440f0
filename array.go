package parcel

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/rawbytedev/parcel/pkg/wire"
)

// Array header tags.
const (
	// TagTypeID: fingerprint:i32, length:i32, then bare element values.
	TagTypeID byte = 1
	// TagClassName: name:utf8, length:i32, then per-element tag + value.
	TagClassName byte = 2
	// TagSubArray: length:i32, then nested array values.
	TagSubArray byte = 3
)

// ArrayCodec encodes slices and Go arrays of any rank, jagged or not.
// Both directions walk an explicit frame stack, so nesting depth is bounded
// by memory rather than the goroutine stack.
type ArrayCodec struct{}

func (ArrayCodec) Fingerprints() []Fingerprint { return []Fingerprint{ArrayFingerprint} }

func (ArrayCodec) Type(fp Fingerprint) reflect.Type {
	if fp != ArrayFingerprint {
		return nil
	}
	return anySliceType
}

// ElementFingerprint returns the single fingerprint an array of t shares in
// a TagTypeID header. Dynamic-identity types have none.
func ElementFingerprint(t reflect.Type) (Fingerprint, error) {
	if IsDynamicType(t) {
		return 0, fmt.Errorf("%w: %s", ErrArrayElementDynamicIdentity, TypeName(t))
	}
	return FingerprintOfType(t), nil
}

type writeFrame struct {
	v     reflect.Value
	next  int
	mode  byte
	codec Codec
}

func (c ArrayCodec) Write(dst wire.Sink, v any, reg *Registry) error {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || !isArrayKind(rv.Type()) {
		return fmt.Errorf("%w: %T", ErrNotAnArray, v)
	}
	w := arrayWriter{dst: dst, reg: reg}

	root, err := w.header(rv)
	if err != nil {
		return err
	}
	stack := []writeFrame{root}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= top.v.Len() {
			stack = stack[:len(stack)-1]
			continue
		}
		e := top.v.Index(top.next)
		top.next++

		var nested reflect.Value
		switch top.mode {
		case TagSubArray:
			nested = e
		case TagTypeID:
			if err := top.codec.Write(dst, e.Interface(), reg); err != nil {
				return err
			}
		case TagClassName:
			if nested, err = w.element(e); err != nil {
				return err
			}
		}
		if nested.IsValid() {
			f, err := w.header(nested)
			if err != nil {
				return err
			}
			stack = append(stack, f)
		}
	}
	return nil
}

type arrayWriter struct {
	dst wire.Sink
	reg *Registry
}

// header picks the encoding for v from its static element type and writes
// the array header.
func (w arrayWriter) header(v reflect.Value) (writeFrame, error) {
	n := int32(v.Len())
	et := v.Type().Elem()

	if isArrayKind(et) {
		if err := w.dst.WriteByte(TagSubArray); err != nil {
			return writeFrame{}, err
		}
		return writeFrame{v: v, mode: TagSubArray}, w.dst.WriteInt(n)
	}

	if et.Kind() != reflect.Interface && !IsDynamicType(et) {
		codec, err := w.reg.LookupType(et)
		switch {
		case err == nil:
			fp, err := ElementFingerprint(et)
			if err != nil {
				return writeFrame{}, err
			}
			if err := w.dst.WriteByte(TagTypeID); err != nil {
				return writeFrame{}, err
			}
			if err := w.dst.WriteInt(int32(fp)); err != nil {
				return writeFrame{}, err
			}
			return writeFrame{v: v, mode: TagTypeID, codec: codec}, w.dst.WriteInt(n)
		case !errors.Is(err, ErrUnknownFingerprint):
			return writeFrame{}, err
		}
	}

	if err := w.dst.WriteByte(TagClassName); err != nil {
		return writeFrame{}, err
	}
	if err := w.dst.WriteString(TypeName(et)); err != nil {
		return writeFrame{}, err
	}
	return writeFrame{v: v, mode: TagClassName}, w.dst.WriteInt(n)
}

// element writes one tagged element of a class-name array. A nested array
// is returned to the caller instead of being written.
func (w arrayWriter) element(e reflect.Value) (reflect.Value, error) {
	if e.Kind() == reflect.Interface {
		e = e.Elem()
	}
	if !e.IsValid() || (e.Kind() == reflect.Pointer && e.IsNil()) {
		return reflect.Value{}, w.tagged(TagClassName, TypeName(anyType), ObjectFingerprint, nil)
	}
	if isArrayKind(e.Type()) {
		if err := w.dst.WriteByte(TagTypeID); err != nil {
			return reflect.Value{}, err
		}
		return e, w.dst.WriteInt(int32(ArrayFingerprint))
	}

	v := e.Interface()
	fp := FingerprintOfValue(v)
	if w.reg.Contains(fp) {
		return reflect.Value{}, w.tagged(TagTypeID, "", fp, v)
	}
	if IsDynamicType(e.Type()) {
		return reflect.Value{}, fmt.Errorf("%w: %s schema %s", ErrUnknownFingerprint, TypeName(e.Type()), fp)
	}
	return reflect.Value{}, w.tagged(TagClassName, TypeName(e.Type()), ObjectFingerprint, v)
}

func (w arrayWriter) tagged(tag byte, name string, fp Fingerprint, v any) error {
	codec, err := w.reg.Lookup(fp)
	if err != nil {
		return err
	}
	if err := w.dst.WriteByte(tag); err != nil {
		return err
	}
	if tag == TagTypeID {
		err = w.dst.WriteInt(int32(fp))
	} else {
		err = w.dst.WriteString(name)
	}
	if err != nil {
		return err
	}
	return codec.Write(w.dst, v, w.reg)
}

type readFrame struct {
	hint  reflect.Type // declared slice or array type, nil when unknown
	mode  byte
	n     int
	codec Codec
	elem  reflect.Type
	vals  []any
}

func (c ArrayCodec) Read(src wire.Source, reg *Registry) (any, error) {
	return c.ReadType(src, reg, nil)
}

// ReadType decodes an array using t, a slice or array type, as the shape
// to allocate. A nil or interface t lets the stream decide.
func (c ArrayCodec) ReadType(src wire.Source, reg *Registry, t reflect.Type) (any, error) {
	if t != nil && t.Kind() == reflect.Interface {
		t = nil
	}
	if t != nil && !isArrayKind(t) {
		return nil, fmt.Errorf("%w: %s", ErrNotAnArray, TypeName(t))
	}
	r := arrayReader{src: src, reg: reg}

	root, err := r.header(t)
	if err != nil {
		return nil, err
	}
	stack := []*readFrame{root}
	for {
		top := stack[len(stack)-1]
		if len(top.vals) == top.n {
			out, err := top.build()
			if err != nil {
				return nil, err
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return out.Interface(), nil
			}
			parent := stack[len(stack)-1]
			parent.vals = append(parent.vals, out.Interface())
			continue
		}

		var (
			nested bool
			v      any
		)
		switch top.mode {
		case TagSubArray:
			nested = true
		case TagTypeID:
			v, err = readTyped(top.codec, src, reg, concrete(top.elem))
		case TagClassName:
			nested, v, err = r.element(top)
		}
		if err != nil {
			return nil, err
		}
		if !nested {
			top.vals = append(top.vals, v)
			continue
		}
		var childHint reflect.Type
		if top.hint != nil && isArrayKind(top.hint.Elem()) {
			childHint = top.hint.Elem()
		}
		f, err := r.header(childHint)
		if err != nil {
			return nil, err
		}
		stack = append(stack, f)
	}
}

type arrayReader struct {
	src wire.Source
	reg *Registry
}

func (r arrayReader) header(hint reflect.Type) (*readFrame, error) {
	tag, err := r.src.ReadByte()
	if err != nil {
		return nil, err
	}
	f := &readFrame{hint: hint, mode: tag, elem: anyType}
	switch tag {
	case TagTypeID:
		raw, err := r.src.ReadInt()
		if err != nil {
			return nil, err
		}
		fp := Fingerprint(raw)
		if fp == ArrayFingerprint {
			return nil, fmt.Errorf("%w: nested arrays need a sub-array header", ErrCorruptStream)
		}
		codec, err := r.reg.Lookup(fp)
		if err != nil {
			return nil, err
		}
		et := codec.Type(fp)
		if IsDynamicType(et) {
			return nil, fmt.Errorf("%w: %s", ErrArrayElementDynamicIdentity, TypeName(et))
		}
		f.codec, f.elem = codec, et
	case TagClassName:
		name, err := r.src.ReadString()
		if err != nil {
			return nil, err
		}
		if t, ok := r.reg.TypeByName(name); ok {
			f.elem = t
		}
	case TagSubArray:
	default:
		return nil, fmt.Errorf("%w: array tag %d", ErrCorruptStream, tag)
	}

	if hint != nil {
		he := hint.Elem()
		if he.Kind() != reflect.Interface && (tag == TagSubArray) != isArrayKind(he) {
			return nil, fmt.Errorf("%w: %s against %s header", ErrRankMismatch, TypeName(hint), tagName(tag))
		}
		if tag != TagTypeID {
			f.elem = he
		}
	}

	n, err := r.src.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative array length %d", ErrCorruptStream, n)
	}
	if limit := r.reg.MaxArrayLength(); limit > 0 && int(n) > limit {
		return nil, fmt.Errorf("%w: array length %d exceeds %d", ErrCorruptStream, n, limit)
	}
	if hint != nil && hint.Kind() == reflect.Array && hint.Len() != int(n) {
		return nil, fmt.Errorf("%w: %s holds %d elements, stream has %d", ErrCorruptStream, TypeName(hint), hint.Len(), n)
	}
	f.n = int(n)
	f.vals = make([]any, 0, min(f.n, 1024))
	return f, nil
}

// element reads one tagged element of a class-name array. nested reports a
// nested array whose header follows.
func (r arrayReader) element(f *readFrame) (nested bool, v any, err error) {
	tag, err := r.src.ReadByte()
	if err != nil {
		return false, nil, err
	}
	var codec Codec
	t := concrete(f.elem)
	switch tag {
	case TagTypeID:
		raw, err := r.src.ReadInt()
		if err != nil {
			return false, nil, err
		}
		fp := Fingerprint(raw)
		if fp == ArrayFingerprint {
			return true, nil, nil
		}
		if codec, err = r.reg.Lookup(fp); err != nil {
			return false, nil, err
		}
	case TagClassName:
		name, err := r.src.ReadString()
		if err != nil {
			return false, nil, err
		}
		if named, ok := r.reg.TypeByName(name); ok {
			t = concrete(named)
		}
		if codec, err = r.reg.Lookup(ObjectFingerprint); err != nil {
			return false, nil, err
		}
	default:
		return false, nil, fmt.Errorf("%w: element tag %d", ErrCorruptStream, tag)
	}
	v, err = readTyped(codec, r.src, r.reg, t)
	return false, v, err
}

// build allocates the container once every element is known.
func (f *readFrame) build() (reflect.Value, error) {
	t := f.hint
	if t == nil {
		if f.mode == TagSubArray {
			t = commonSliceOf(f.vals)
		} else {
			t = reflect.SliceOf(f.elem)
		}
	}
	var out reflect.Value
	if t.Kind() == reflect.Array {
		out = reflect.New(t).Elem()
	} else {
		out = reflect.MakeSlice(t, len(f.vals), len(f.vals))
	}
	et := t.Elem()
	for i, v := range f.vals {
		if v == nil {
			continue
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(et) {
			return reflect.Value{}, fmt.Errorf("%w: %s into %s", ErrTypeMismatch, TypeName(rv.Type()), TypeName(t))
		}
		out.Index(i).Set(rv)
	}
	return out, nil
}

// commonSliceOf picks []T when every child array has type T.
func commonSliceOf(vals []any) reflect.Type {
	if len(vals) == 0 {
		return anySliceType
	}
	first := reflect.TypeOf(vals[0])
	for _, v := range vals[1:] {
		if reflect.TypeOf(v) != first {
			return anySliceType
		}
	}
	return reflect.SliceOf(first)
}

func concrete(t reflect.Type) reflect.Type {
	if t == nil || t.Kind() == reflect.Interface {
		return nil
	}
	return t
}

func tagName(tag byte) string {
	switch tag {
	case TagTypeID:
		return "type-id"
	case TagClassName:
		return "class-name"
	case TagSubArray:
		return "sub-array"
	}
	return fmt.Sprintf("tag(%d)", tag)
}
