package compactwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// DecodeDataFrame parses a data frame and returns the (decompressed)
// payload, the offset table and the flags.
func (d *DataFrame) DecodeDataFrame(data []byte) ([]byte, []uint32, byte, error) {
	if len(data) < headerSize+trailerSize {
		return nil, nil, 0, fmt.Errorf("%w: %d bytes", ErrLengthMismatch, len(data))
	}
	d.rdr = bytes.NewReader(data)
	t, err := readPreamble(d.rdr)
	if err != nil || t != TypeData {
		return nil, nil, 0, ErrNotDataFrame
	}

	var length uint32
	binary.Read(d.rdr, binary.LittleEndian, &length)
	flags, _ := d.rdr.ReadByte()
	if int(length) != len(data) {
		return nil, nil, 0, fmt.Errorf("%w: header %d, frame %d", ErrLengthMismatch, length, len(data))
	}

	payloadEnd := len(data) - trailerSize
	want := binary.LittleEndian.Uint32(data[payloadEnd:])
	if crc32.ChecksumIEEE(data[2:payloadEnd]) != want {
		return nil, nil, 0, ErrChecksum
	}

	var offsets []uint32
	if flags&FlagHasOffsetTable != 0 {
		var cnt uint16
		if err := binary.Read(d.rdr, binary.LittleEndian, &cnt); err != nil {
			return nil, nil, 0, fmt.Errorf("%w: offset table", ErrLengthMismatch)
		}
		if d.rdr.Len()-trailerSize < int(cnt)*4 {
			return nil, nil, 0, fmt.Errorf("%w: offset table", ErrLengthMismatch)
		}
		offsets = make([]uint32, cnt)
		for i := range offsets {
			binary.Read(d.rdr, binary.LittleEndian, &offsets[i])
		}
	}

	payloadStart := len(data) - d.rdr.Len()
	payload := data[payloadStart:payloadEnd]
	if flags&FlagCompressed != 0 {
		_, dec, err := codecs()
		if err != nil {
			return nil, nil, 0, err
		}
		if payload, err = dec.DecodeAll(payload, nil); err != nil {
			return nil, nil, 0, fmt.Errorf("compactwire: decompress: %w", err)
		}
	}
	for _, off := range offsets {
		if int(off) > len(payload) {
			return nil, nil, 0, fmt.Errorf("%w: offset %d past payload of %d", ErrLengthMismatch, off, len(payload))
		}
	}
	return payload, offsets, flags, nil
}

// ReadFrame reads exactly one frame from r using its length field.
func ReadFrame(r io.Reader) ([]byte, error) {
	var head [headerSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	if head[0] != Magic[0] || head[1] != Magic[1] {
		return nil, ErrNotDataFrame
	}
	length := binary.LittleEndian.Uint32(head[3:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length < headerSize+trailerSize {
		return nil, fmt.Errorf("%w: header %d", ErrLengthMismatch, length)
	}
	frame := make([]byte, length)
	copy(frame, head[:])
	if _, err := io.ReadFull(r, frame[headerSize:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// Split cuts payload at the start offsets of an offset table.
func Split(payload []byte, offsets []uint32) [][]byte {
	if len(offsets) == 0 {
		return [][]byte{payload}
	}
	out := make([][]byte, len(offsets))
	for i, off := range offsets {
		end := uint32(len(payload))
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		if end < off {
			end = off
		}
		out[i] = payload[off:end]
	}
	return out
}
