// Package compactwire frames serialized payloads for stream transports.
//
// Data frame layout (little-endian):
//
//	magic[2] type[1] length:u32 flags[1] [count:u16 offsets:u32...] payload crc32:u32
//
// length covers the whole frame including the CRC, which is computed over
// everything after the magic.
package compactwire

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var Magic = [2]byte{0x50, 0x43} // "PC"

const (
	TypeData byte = 0x01
)

const (
	FlagHasOffsetTable byte = 1 << 0
	FlagCompressed     byte = 1 << 1
)

const (
	headerSize  = 8 // magic + type + length + flags
	trailerSize = 4
	// MaxFrameSize caps the length field accepted by ReadFrame.
	MaxFrameSize = 64 << 20
)

var (
	ErrNotDataFrame   = errors.New("compactwire: not a data frame")
	ErrLengthMismatch = errors.New("compactwire: length mismatch")
	ErrChecksum       = errors.New("compactwire: crc mismatch")
	ErrFrameTooLarge  = errors.New("compactwire: frame too large")
)

// DataFrame encodes and decodes data frames. The zero value is ready to
// use; a DataFrame is not safe for concurrent use.
type DataFrame struct {
	buf *bytes.Buffer
	rdr *bytes.Reader
}

func writePreamble(w *bytes.Buffer, t byte) {
	w.Write(Magic[:])
	w.WriteByte(t)
}

func readPreamble(r io.Reader) (byte, error) {
	var p [3]byte
	if _, err := io.ReadFull(r, p[:]); err != nil {
		return 0, err
	}
	if p[0] != Magic[0] || p[1] != Magic[1] {
		return 0, ErrNotDataFrame
	}
	return p[2], nil
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

// codecs returns the shared zstd encoder and decoder; EncodeAll and
// DecodeAll are safe for concurrent use.
func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameSize))
	})
	return zstdEnc, zstdDec, zstdErr
}
