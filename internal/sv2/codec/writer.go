package codec

import (
	"encoding/binary"
	"unicode/utf8"
)

// MaxB0_255 is the largest byte count a 1-byte length prefix can carry.
const MaxB0_255 = 255

// MaxSeq0_255 is the largest element count a 1-byte count prefix can carry.
const MaxSeq0_255 = 255

// Writer accumulates the concatenated field encoding of a derivable struct.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer, optionally pre-sized.
func NewWriter(sizeHint int) *Writer {
	return &Writer{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// PutBool writes a 1-byte boolean.
func (w *Writer) PutBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// PutU8 writes a single byte.
func (w *Writer) PutU8(v uint8) { w.buf = append(w.buf, v) }

// PutU16 writes a little-endian u16.
func (w *Writer) PutU16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// PutU24 writes a little-endian 3-byte unsigned integer (frame length field).
func (w *Writer) PutU24(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16))
}

// PutU32 writes a little-endian u32.
func (w *Writer) PutU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// PutU64 writes a little-endian u64.
func (w *Writer) PutU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

// PutU256 writes a fixed 32-byte little-endian unsigned integer.
func (w *Writer) PutU256(v [32]byte) {
	w.buf = append(w.buf, v[:]...)
}

// PutFixed writes a fixed-width byte array as-is (e.g. CompressedPubKey).
func (w *Writer) PutFixed(v []byte) {
	w.buf = append(w.buf, v...)
}

// PutB0_255 writes a 1-byte length prefix followed by up to 255 raw bytes.
func (w *Writer) PutB0_255(v []byte) error {
	if len(v) > MaxB0_255 {
		return newErr(KindLengthOutOfRange, "B0_255")
	}
	w.buf = append(w.buf, byte(len(v)))
	w.buf = append(w.buf, v...)
	return nil
}

// PutB0_32 writes a 1-byte length prefix followed by up to 32 raw bytes.
func (w *Writer) PutB0_32(v []byte) error {
	if len(v) > 32 {
		return newErr(KindLengthOutOfRange, "B0_32")
	}
	w.buf = append(w.buf, byte(len(v)))
	w.buf = append(w.buf, v...)
	return nil
}

// PutB0_64k writes a 2-byte little-endian length prefix followed by raw bytes.
func (w *Writer) PutB0_64k(v []byte) error {
	if len(v) > 0xFFFF {
		return newErr(KindLengthOutOfRange, "B0_64k")
	}
	w.PutU16(uint16(len(v)))
	w.buf = append(w.buf, v...)
	return nil
}

// PutStr0255 writes a UTF-8 validated Str0255.
func (w *Writer) PutStr0255(s string) error {
	if len(s) > MaxB0_255 {
		return newErr(KindLengthOutOfRange, "Str0255")
	}
	if !utf8.ValidString(s) {
		return newErr(KindInvalidUTF8, "Str0255")
	}
	return w.PutB0_255([]byte(s))
}

// PutOptionPresent writes the Option discriminator byte for a present value.
// Callers write the encoded T immediately after.
func (w *Writer) PutOptionPresent(present bool) {
	if present {
		w.buf = append(w.buf, 0x01)
	} else {
		w.buf = append(w.buf, 0x00)
	}
}

// PutSeqCount writes the 1-byte Seq0_255 element count. Callers then encode
// each element in order.
func (w *Writer) PutSeqCount(n int) error {
	if n > MaxSeq0_255 {
		return newErr(KindLengthOutOfRange, "Seq0_255")
	}
	w.buf = append(w.buf, byte(n))
	return nil
}
