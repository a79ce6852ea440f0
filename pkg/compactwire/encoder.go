package compactwire

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

// EncodeDataFrame serializes a payload with an optional offset table.
// With FlagCompressed the payload is stored zstd-compressed; offsets always
// index the uncompressed payload.
func (d *DataFrame) EncodeDataFrame(payload []byte, flags byte, offsets []uint32) ([]byte, error) {
	if len(offsets) > 0xFFFF {
		return nil, ErrFrameTooLarge
	}
	if flags&FlagCompressed != 0 {
		enc, _, err := codecs()
		if err != nil {
			return nil, err
		}
		payload = enc.EncodeAll(payload, nil)
	}

	d.buf = bytes.NewBuffer(make([]byte, 0, headerSize+len(payload)+trailerSize))
	writePreamble(d.buf, TypeData)

	// length placeholder
	binary.Write(d.buf, binary.LittleEndian, uint32(0))
	d.buf.WriteByte(flags)

	if flags&FlagHasOffsetTable != 0 {
		binary.Write(d.buf, binary.LittleEndian, uint16(len(offsets)))
		for _, off := range offsets {
			binary.Write(d.buf, binary.LittleEndian, off)
		}
	}
	d.buf.Write(payload)

	out := d.buf.Bytes()
	total := len(out) + trailerSize
	if total > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	binary.LittleEndian.PutUint32(out[3:], uint32(total))

	crc := crc32.ChecksumIEEE(out[2:])
	out = binary.LittleEndian.AppendUint32(out, crc)
	return out, nil
}
