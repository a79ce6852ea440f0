package parcel

import (
	"errors"

	"github.com/rawbytedev/parcel/pkg/wire"
)

// Kind is a stable error category. Branch on KindOf rather than on
// Error() strings.
type Kind string

const (
	// KindConfiguration errors come from Register and are never retried.
	KindConfiguration Kind = "Configuration"
	// KindLookup errors are recoverable: register the missing type and retry.
	KindLookup Kind = "Lookup"
	// KindShape errors are raised before any bytes of the offending value
	// are written or read.
	KindShape Kind = "Shape"
	// KindStream errors abort the whole read or write in progress.
	KindStream Kind = "Stream"
	// KindUnknown is returned for errors outside the taxonomy.
	KindUnknown Kind = "Unknown"
)

// Configuration errors.
var (
	ErrDuplicateFingerprint = errors.New("parcel: duplicate fingerprint")
	ErrMalformedCodec       = errors.New("parcel: malformed codec signature")
)

// Lookup errors.
var (
	ErrUnknownFingerprint = errors.New("parcel: unknown fingerprint")
	ErrKeyNotFound        = errors.New("parcel: key not found")
	ErrDuplicateKey       = errors.New("parcel: duplicate key")
	ErrIndexOutOfRange    = errors.New("parcel: index out of range")
)

// Shape errors.
var (
	ErrNotAnArray                  = errors.New("parcel: value is not an array")
	ErrRankMismatch                = errors.New("parcel: multi-rank declaration mismatch")
	ErrArrayElementDynamicIdentity = errors.New("parcel: dynamic-identity type cannot share one array fingerprint")
	ErrTypeMismatch                = errors.New("parcel: value type does not match codec")
	ErrNilValue                    = errors.New("parcel: untyped nil value")
)

// Stream errors. ErrCodecIO and ErrCorruptStream are the transport's own
// sentinels so errors.Is works across the package boundary.
var (
	ErrCodecIO       = wire.ErrIO
	ErrCorruptStream = wire.ErrCorrupt
	ErrObjectCodec   = wire.ErrObject
)

// KindOf classifies err into the engine's taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateFingerprint), errors.Is(err, ErrMalformedCodec):
		return KindConfiguration
	case errors.Is(err, ErrUnknownFingerprint), errors.Is(err, ErrKeyNotFound),
		errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrIndexOutOfRange):
		return KindLookup
	case errors.Is(err, ErrNotAnArray), errors.Is(err, ErrRankMismatch),
		errors.Is(err, ErrArrayElementDynamicIdentity), errors.Is(err, ErrTypeMismatch),
		errors.Is(err, ErrNilValue):
		return KindShape
	case errors.Is(err, ErrCodecIO), errors.Is(err, ErrCorruptStream), errors.Is(err, ErrObjectCodec):
		return KindStream
	default:
		return KindUnknown
	}
}
