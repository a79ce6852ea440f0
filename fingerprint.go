package parcel

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/twmb/murmur3"
)

// Fingerprint identifies a codec on the wire. Two distinct names hashing to
// the same fingerprint is a configuration error surfaced by Register.
type Fingerprint int32

func (f Fingerprint) String() string {
	return fmt.Sprintf("%#08x", uint32(f))
}

// DynamicIdentity is implemented by types whose fingerprint depends on the
// content of the instance (its schema) instead of its Go type.
type DynamicIdentity interface {
	DynamicFingerprint() Fingerprint
}

var (
	dynamicIdentityType = reflect.TypeOf((*DynamicIdentity)(nil)).Elem()
	anyType             = reflect.TypeOf((*any)(nil)).Elem()
	anySliceType        = reflect.TypeOf([]any(nil))
)

// TypeName returns the fully-qualified name of t. Named types use their
// import path, so two packages declaring the same identifier never collide.
func TypeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	var sb strings.Builder
	writeTypeName(&sb, t)
	return sb.String()
}

// writeTypeName unwraps composite prefixes iteratively; only map keys
// recurse.
func writeTypeName(sb *strings.Builder, t reflect.Type) {
	for {
		if t.Name() != "" {
			if pkg := t.PkgPath(); pkg != "" {
				sb.WriteString(pkg)
				sb.WriteByte('.')
			}
			sb.WriteString(t.Name())
			return
		}
		switch t.Kind() {
		case reflect.Pointer:
			sb.WriteByte('*')
		case reflect.Slice:
			sb.WriteString("[]")
		case reflect.Array:
			sb.WriteByte('[')
			sb.WriteString(strconv.Itoa(t.Len()))
			sb.WriteByte(']')
		case reflect.Map:
			sb.WriteString("map[")
			writeTypeName(sb, t.Key())
			sb.WriteByte(']')
		default:
			sb.WriteString(t.String())
			return
		}
		t = t.Elem()
	}
}

// FingerprintOfName hashes a type name.
func FingerprintOfName(name string) Fingerprint {
	return Fingerprint(murmur3.Sum32([]byte(name)))
}

// FingerprintOfType returns the static fingerprint of t.
func FingerprintOfType(t reflect.Type) Fingerprint {
	return FingerprintOfName(TypeName(t))
}

// FingerprintOfValue returns the dynamic fingerprint of v when it has one,
// and the static fingerprint of its type otherwise.
func FingerprintOfValue(v any) Fingerprint {
	if d, ok := v.(DynamicIdentity); ok {
		return d.DynamicFingerprint()
	}
	return FingerprintOfType(reflect.TypeOf(v))
}

// IsDynamicType reports whether values of t carry a content-derived
// fingerprint.
func IsDynamicType(t reflect.Type) bool {
	return t != nil && t.Kind() != reflect.Interface && t.Implements(dynamicIdentityType)
}

// wireFingerprint is the fingerprint a self-describing value is written
// under. Slices and arrays share the ArrayCodec's.
func wireFingerprint(v any) Fingerprint {
	if isArrayKind(reflect.TypeOf(v)) {
		return ArrayFingerprint
	}
	return FingerprintOfValue(v)
}

// needsTag reports whether a slot declared as t cannot name its codec
// statically, so each value is prefixed with its wire fingerprint.
func needsTag(t reflect.Type) bool {
	return t == nil || t.Kind() == reflect.Interface || IsDynamicType(t)
}

func isArrayKind(t reflect.Type) bool {
	return t != nil && (t.Kind() == reflect.Slice || t.Kind() == reflect.Array)
}
