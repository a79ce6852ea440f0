package parcel

import (
	"reflect"

	"google.golang.org/protobuf/proto"
)

// Copier lets a type supply its own deep copy. The result must have the
// same dynamic type as the receiver.
type Copier interface {
	DeepCopy() any
}

var reflectTypeType = reflect.TypeFor[reflect.Type]()

// DeepCopy returns a copy of v sharing no mutable memory with it. Values
// must be tree shaped; cycles are not detected. Unexported struct fields are
// copied shallowly.
func DeepCopy(v any) any {
	if v == nil {
		return nil
	}
	return deepCopy(reflect.ValueOf(v)).Interface()
}

func deepCopy(v reflect.Value) reflect.Value {
	t := v.Type()
	if t.Implements(reflectTypeType) {
		return v
	}
	if nilable(v) && v.IsNil() {
		return v
	}
	if v.CanInterface() {
		switch x := v.Interface().(type) {
		case Copier:
			return reflect.ValueOf(x.DeepCopy())
		case proto.Message:
			return reflect.ValueOf(proto.Clone(x))
		}
	}

	switch v.Kind() {
	case reflect.Pointer:
		out := reflect.New(t.Elem())
		out.Elem().Set(deepCopy(v.Elem()))
		return out
	case reflect.Interface:
		out := reflect.New(t).Elem()
		out.Set(deepCopy(v.Elem()))
		return out
	case reflect.Slice:
		out := reflect.MakeSlice(t, v.Len(), v.Len())
		for i := range v.Len() {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(t).Elem()
		for i := range v.Len() {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Map:
		out := reflect.MakeMapWithSize(t, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(deepCopy(iter.Key()), deepCopy(iter.Value()))
		}
		return out
	case reflect.Struct:
		out := reflect.New(t).Elem()
		out.Set(v)
		for i := range t.NumField() {
			if f := out.Field(i); f.CanSet() {
				f.Set(deepCopy(v.Field(i)))
			}
		}
		return out
	default:
		return v
	}
}

func nilable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return true
	}
	return false
}
