// Package wire is the transport port of the codec engine: the primitive
// readers and writers every codec talks through.
//
// A Sink/Source pair must be symmetric: whatever a Sink writes for a
// primitive, the matching Source reads back unchanged. The codec engine never
// opens files or sockets itself, it only calls through these interfaces.
package wire

import "errors"

var (
	// ErrIO wraps any failure of the underlying reader or writer.
	ErrIO = errors.New("wire: transport i/o failure")
	// ErrCorrupt marks bytes that cannot be a valid encoding (bad lengths,
	// invalid booleans, oversized spans).
	ErrCorrupt = errors.New("wire: corrupt stream")
	// ErrObject is returned when the generic object escape hatch cannot
	// encode or decode a value.
	ErrObject = errors.New("wire: generic object codec failure")
)

// Sink writes primitives. Implementations must tolerate concurrent callers:
// each call is a single atomic write.
type Sink interface {
	WriteBool(v bool) error
	WriteByte(v byte) error
	WriteChar(v rune) error
	WriteShort(v int16) error
	WriteInt(v int32) error
	WriteLong(v int64) error
	WriteFloat(v float32) error
	WriteDouble(v float64) error
	WriteString(v string) error
	WriteBytes(v []byte) error
	// WriteObject encodes a value that has no registered codec.
	WriteObject(v any) error
}

// Source reads primitives written by the matching Sink.
type Source interface {
	ReadBool() (bool, error)
	ReadByte() (byte, error)
	ReadChar() (rune, error)
	ReadShort() (int16, error)
	ReadInt() (int32, error)
	ReadLong() (int64, error)
	ReadFloat() (float32, error)
	ReadDouble() (float64, error)
	ReadString() (string, error)
	ReadBytes() ([]byte, error)
	// ReadObject decodes a generic object into dst, which must be a pointer.
	ReadObject(dst any) error
}

// Limits bound the variable-length spans a Source accepts.
// Zero means no limit.
type Limits struct {
	MaxStringLen int
	MaxBytesLen  int
	MaxObjectLen int
}

// DefaultLimits caps every span at 16 MiB.
func DefaultLimits() Limits {
	return Limits{
		MaxStringLen: 16 << 20,
		MaxBytesLen:  16 << 20,
		MaxObjectLen: 16 << 20,
	}
}
