package codec

import (
	"errors"
	"io"
	"math/bits"
)

// MaxVarintLen is the maximum number of bytes of an encoded uint64.
const MaxVarintLen = 9

var (
	// ErrShortBuffer is returned when a value extends past the end of the input.
	ErrShortBuffer = errors.New("codec: short buffer")
	// ErrOverflow is returned when a decoded value does not fit the requested width.
	ErrOverflow = errors.New("codec: value overflows target type")
	// ErrNonCanonical is returned for a value encoded in more bytes than needed.
	ErrNonCanonical = errors.New("codec: non-canonical varint")
)

// UvarintLen returns the number of bytes needed to encode v.
func UvarintLen(v uint64) int {
	switch {
	case v < 1<<7:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<21:
		return 3
	case v < 1<<28:
		return 4
	case v < 1<<35:
		return 5
	case v < 1<<42:
		return 6
	case v < 1<<49:
		return 7
	case v < 1<<56:
		return 8
	default:
		return 9
	}
}

// PutUvarint encodes v into buf and returns the number of bytes written.
// It panics if buf is too small.
func PutUvarint(buf []byte, v uint64) int {
	n := UvarintLen(v)
	_ = buf[n-1]
	if n == 9 {
		buf[0] = 0xff
		for i := 8; i >= 1; i-- {
			buf[i] = byte(v)
			v >>= 8
		}
		return n
	}
	for i := n - 1; i >= 1; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	buf[0] = byte(0xff<<(9-n)) | byte(v)
	return n
}

// AppendUvarint appends the encoding of v to dst.
func AppendUvarint(dst []byte, v uint64) []byte {
	var tmp [MaxVarintLen]byte
	n := PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}

// lengthOf returns the encoded length announced by a lead byte.
func lengthOf(lead byte) int {
	return bits.LeadingZeros8(^lead) + 1
}

// Uvarint decodes a value from buf and returns it with the number of bytes
// consumed. n == 0 means buf was too short or the value was not encoded in
// its shortest form.
func Uvarint(buf []byte) (uint64, int) {
	if len(buf) == 0 {
		return 0, 0
	}
	n := lengthOf(buf[0])
	if n > MaxVarintLen {
		n = MaxVarintLen
	}
	if len(buf) < n {
		return 0, 0
	}
	var v uint64
	if n < MaxVarintLen {
		v = uint64(buf[0] & (0xff >> n))
	}
	for i := 1; i < n; i++ {
		v = v<<8 | uint64(buf[i])
	}
	if UvarintLen(v) != n {
		return 0, 0
	}
	return v, n
}

// uvarintErr explains why Uvarint rejected buf.
func uvarintErr(buf []byte) error {
	if len(buf) == 0 || len(buf) < min(lengthOf(buf[0]), MaxVarintLen) {
		return ErrShortBuffer
	}
	return ErrNonCanonical
}

// ReadUvarint reads one value from r.
func ReadUvarint(r io.ByteReader) (uint64, error) {
	lead, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	n := lengthOf(lead)
	if n > MaxVarintLen {
		n = MaxVarintLen
	}
	var v uint64
	if n < MaxVarintLen {
		v = uint64(lead & (0xff >> n))
	}
	for i := 1; i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		v = v<<8 | uint64(b)
	}
	if UvarintLen(v) != n {
		return 0, ErrNonCanonical
	}
	return v, nil
}

// WriteUvarint writes v to w.
func WriteUvarint(w io.Writer, v uint64) (int, error) {
	var tmp [MaxVarintLen]byte
	n := PutUvarint(tmp[:], v)
	return w.Write(tmp[:n])
}

// AppendBytes appends a length-prefixed copy of b to dst.
func AppendBytes(dst, b []byte) []byte {
	dst = AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// Bytes decodes a length-prefixed byte string. The result aliases buf.
func Bytes(buf []byte) ([]byte, int) {
	l, n := Uvarint(buf)
	if n == 0 {
		return nil, 0
	}
	if uint64(len(buf)-n) < l {
		return nil, 0
	}
	end := n + int(l)
	return buf[n:end:end], end
}
