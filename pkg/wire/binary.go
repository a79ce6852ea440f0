package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/rawbytedev/parcel/internal/common"
)

// Binary layout:
//   bool, byte         1 byte
//   short/int/long     big-endian 2/4/8 bytes
//   float/double       IEEE-754 bits, big-endian
//   char               rune as big-endian int32
//   string, bytes      varint length + raw bytes
//   object             varint length + canonical CBOR

var (
	mapStringAny = reflect.TypeOf(map[string]any(nil))

	objectEnc cbor.EncMode
	objectDec cbor.DecMode
)

func init() {
	var err error
	objectEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	objectDec, err = cbor.DecOptions{
		DefaultMapType: mapStringAny,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// BinarySink writes the binary layout to an io.Writer.
type BinarySink struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// NewBinarySink wraps w.
func NewBinarySink(w io.Writer) *BinarySink {
	return &BinarySink{w: w, buf: make([]byte, 0, 16)}
}

// emit hands a fully built record to the writer in one call.
func (s *BinarySink) emit(b []byte) error {
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

func (s *BinarySink) fixed(n int, put func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cap(s.buf) < n {
		s.buf = make([]byte, n, 16)
	}
	s.buf = s.buf[:n]
	put(s.buf)
	return s.emit(s.buf)
}

func (s *BinarySink) WriteBool(v bool) error {
	var b byte
	if v {
		b = 1
	}
	return s.WriteByte(b)
}

func (s *BinarySink) WriteByte(v byte) error {
	return s.fixed(1, func(b []byte) { b[0] = v })
}

func (s *BinarySink) WriteChar(v rune) error {
	return s.WriteInt(int32(v))
}

func (s *BinarySink) WriteShort(v int16) error {
	return s.fixed(2, func(b []byte) { binary.BigEndian.PutUint16(b, uint16(v)) })
}

func (s *BinarySink) WriteInt(v int32) error {
	return s.fixed(4, func(b []byte) { binary.BigEndian.PutUint32(b, uint32(v)) })
}

func (s *BinarySink) WriteLong(v int64) error {
	return s.fixed(8, func(b []byte) { binary.BigEndian.PutUint64(b, uint64(v)) })
}

func (s *BinarySink) WriteFloat(v float32) error {
	return s.fixed(4, func(b []byte) { binary.BigEndian.PutUint32(b, math.Float32bits(v)) })
}

func (s *BinarySink) WriteDouble(v float64) error {
	return s.fixed(8, func(b []byte) { binary.BigEndian.PutUint64(b, math.Float64bits(v)) })
}

func (s *BinarySink) WriteString(v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = common.WriteVarUint(s.buf[:0], uint64(len(v)))
	s.buf = append(s.buf, v...)
	return s.emit(s.buf)
}

func (s *BinarySink) WriteBytes(v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = common.WriteVarUint(s.buf[:0], uint64(len(v)))
	s.buf = append(s.buf, v...)
	return s.emit(s.buf)
}

func (s *BinarySink) WriteObject(v any) error {
	data, err := objectEnc.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %T: %w", ErrObject, v, err)
	}
	return s.WriteBytes(data)
}

// BinarySource reads the binary layout from an io.Reader. It never reads
// past the end of the value being decoded.
type BinarySource struct {
	mu     sync.Mutex
	r      io.Reader
	limits Limits
	one    [1]byte
	buf    [8]byte
}

// NewBinarySource wraps r with DefaultLimits.
func NewBinarySource(r io.Reader) *BinarySource {
	return NewBinarySourceLimits(r, DefaultLimits())
}

// NewBinarySourceLimits wraps r with explicit span limits.
func NewBinarySourceLimits(r io.Reader, limits Limits) *BinarySource {
	return &BinarySource{r: r, limits: limits}
}

func (s *BinarySource) full(p []byte) error {
	if _, err := io.ReadFull(s.r, p); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

func (s *BinarySource) fixed(n int) ([]byte, error) {
	if err := s.full(s.buf[:n]); err != nil {
		return nil, err
	}
	return s.buf[:n], nil
}

// byteReader adapts the source to io.ByteReader for varint decoding;
// callers hold mu.
type byteReader struct{ s *BinarySource }

func (b byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.s.r, b.s.one[:]); err != nil {
		return 0, err
	}
	return b.s.one[0], nil
}

func (s *BinarySource) span(limit int, what string) ([]byte, error) {
	n, err := common.ReadVarUintFrom(byteReader{s})
	if err != nil {
		if err == common.ErrVarintOverflow {
			return nil, fmt.Errorf("%w: %s length: %w", ErrCorrupt, what, err)
		}
		return nil, fmt.Errorf("%w: %s length: %w", ErrIO, what, err)
	}
	if n > math.MaxInt32 || (limit > 0 && n > uint64(limit)) {
		return nil, fmt.Errorf("%w: %s length %d exceeds limit", ErrCorrupt, what, n)
	}
	out := make([]byte, int(n))
	if err := s.full(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BinarySource) ReadBool() (bool, error) {
	b, err := s.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: invalid bool byte %#x", ErrCorrupt, b)
	}
}

func (s *BinarySource) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.fixed(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *BinarySource) ReadChar() (rune, error) {
	v, err := s.ReadInt()
	if err != nil {
		return 0, err
	}
	return rune(v), nil
}

func (s *BinarySource) ReadShort() (int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.fixed(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (s *BinarySource) ReadInt() (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.fixed(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (s *BinarySource) ReadLong() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.fixed(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (s *BinarySource) ReadFloat() (float32, error) {
	v, err := s.ReadInt()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

func (s *BinarySource) ReadDouble() (float64, error) {
	v, err := s.ReadLong()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}

func (s *BinarySource) ReadString() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.span(s.limits.MaxStringLen, "string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *BinarySource) ReadBytes() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.span(s.limits.MaxBytesLen, "bytes")
}

func (s *BinarySource) ReadObject(dst any) error {
	s.mu.Lock()
	data, err := s.span(s.limits.MaxObjectLen, "object")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := objectDec.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %T: %w", ErrObject, dst, err)
	}
	return nil
}
