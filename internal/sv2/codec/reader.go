package codec

import (
	"encoding/binary"
	"unicode/utf8"
)

// Reader consumes a byte slice field by field, enforcing the decode
// invariants the wire format requires: exact remaining-bytes consumption is
// checked by the caller via Done, length prefixes are range-checked here.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps b for sequential field decoding. b is not copied; callers
// must not mutate it while decoding is in progress.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Done reports whether every byte has been consumed. Decoders must call this
// after reading all fields to enforce exact remaining-bytes consumption.
func (r *Reader) Done() bool { return r.off == len(r.buf) }

func (r *Reader) need(field string, n int) error {
	if r.Remaining() < n {
		return newErr(KindUnexpectedEOF, field)
	}
	return nil
}

// Bool reads a 1-byte boolean.
func (r *Reader) Bool(field string) (bool, error) {
	if err := r.need(field, 1); err != nil {
		return false, err
	}
	v := r.buf[r.off] != 0
	r.off++
	return v, nil
}

// U8 reads a single byte.
func (r *Reader) U8(field string) (uint8, error) {
	if err := r.need(field, 1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

// U16 reads a little-endian u16.
func (r *Reader) U16(field string) (uint16, error) {
	if err := r.need(field, 2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

// U24 reads a little-endian 3-byte unsigned integer.
func (r *Reader) U24(field string) (uint32, error) {
	if err := r.need(field, 3); err != nil {
		return 0, err
	}
	v := uint32(r.buf[r.off]) | uint32(r.buf[r.off+1])<<8 | uint32(r.buf[r.off+2])<<16
	r.off += 3
	return v, nil
}

// U32 reads a little-endian u32.
func (r *Reader) U32(field string) (uint32, error) {
	if err := r.need(field, 4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

// U64 reads a little-endian u64.
func (r *Reader) U64(field string) (uint64, error) {
	if err := r.need(field, 8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

// U256 reads a fixed 32-byte little-endian unsigned integer.
func (r *Reader) U256(field string) ([32]byte, error) {
	var out [32]byte
	if err := r.need(field, 32); err != nil {
		return out, err
	}
	copy(out[:], r.buf[r.off:r.off+32])
	r.off += 32
	return out, nil
}

// Fixed reads n raw bytes (e.g. CompressedPubKey with n=33).
func (r *Reader) Fixed(field string, n int) ([]byte, error) {
	if err := r.need(field, n); err != nil {
		return nil, err
	}
	out := append([]byte(nil), r.buf[r.off:r.off+n]...)
	r.off += n
	return out, nil
}

// B0_255 reads a 1-byte length prefix followed by that many raw bytes.
func (r *Reader) B0_255(field string) ([]byte, error) {
	n, err := r.U8(field)
	if err != nil {
		return nil, err
	}
	return r.Fixed(field, int(n))
}

// B0_32 reads a 1-byte length prefix (bounded to 32) followed by raw bytes.
func (r *Reader) B0_32(field string) ([]byte, error) {
	n, err := r.U8(field)
	if err != nil {
		return nil, err
	}
	if n > 32 {
		return nil, newErr(KindLengthOutOfRange, field)
	}
	return r.Fixed(field, int(n))
}

// B0_64k reads a 2-byte little-endian length prefix followed by raw bytes.
func (r *Reader) B0_64k(field string) ([]byte, error) {
	n, err := r.U16(field)
	if err != nil {
		return nil, err
	}
	return r.Fixed(field, int(n))
}

// Str0255 reads a UTF-8 validated Str0255.
func (r *Reader) Str0255(field string) (string, error) {
	b, err := r.B0_255(field)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", newErr(KindInvalidUTF8, field)
	}
	return string(b), nil
}

// OptionPresent reads the Option discriminator byte. Callers then decode T
// only when present is true.
func (r *Reader) OptionPresent(field string) (bool, error) {
	tag, err := r.U8(field)
	if err != nil {
		return false, err
	}
	switch tag {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	default:
		return false, newErr(KindInvalidOptionTag, field)
	}
}

// SeqCount reads the 1-byte Seq0_255 element count.
func (r *Reader) SeqCount(field string) (int, error) {
	n, err := r.U8(field)
	return int(n), err
}

// DecodeSeq reads a Seq0_255<T> using elem to decode each element in order.
func DecodeSeq[T any](r *Reader, field string, elem func(*Reader) (T, error)) ([]T, error) {
	n, err := r.SeqCount(field)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, err := elem(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
