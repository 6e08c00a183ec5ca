package codec

import (
	"fmt"
	"math"
)

// Decoder reads a sequence of primitives from a byte slice. The first
// failure is sticky: every later call returns zero values and Err reports
// what went wrong and where.
type Decoder struct {
	buf []byte
	pos int
	err error
}

// NewDecoder creates a Decoder over buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Reset points the decoder at a new buffer.
func (d *Decoder) Reset(buf []byte) {
	d.buf = buf
	d.pos = 0
	d.err = nil
}

// Err returns the first decoding error, if any.
func (d *Decoder) Err() error { return d.err }

// Pos returns the current read offset.
func (d *Decoder) Pos() int { return d.pos }

// Len returns the number of unread bytes.
func (d *Decoder) Len() int { return len(d.buf) - d.pos }

// Seek moves the read offset to pos.
func (d *Decoder) Seek(pos int) {
	if d.err != nil {
		return
	}
	if pos < 0 || pos > len(d.buf) {
		d.err = fmt.Errorf("%w: seek to %d beyond %d bytes", ErrShortBuffer, pos, len(d.buf))
		return
	}
	d.pos = pos
}

// Uvarint reads one varint.
func (d *Decoder) Uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := Uvarint(d.buf[d.pos:])
	if n == 0 {
		d.err = fmt.Errorf("%w: varint at offset %d", uvarintErr(d.buf[d.pos:]), d.pos)
		return 0
	}
	d.pos += n
	return v
}

// Uint32 reads one varint that must fit into 32 bits.
func (d *Decoder) Uint32() uint32 {
	at := d.pos
	v := d.Uvarint()
	if d.err == nil && v > math.MaxUint32 {
		d.err = fmt.Errorf("%w: %d at offset %d", ErrOverflow, v, at)
		return 0
	}
	return uint32(v)
}

// Int reads one varint that must fit into a non-negative int.
func (d *Decoder) Int() int {
	at := d.pos
	v := d.Uvarint()
	if d.err == nil && v > math.MaxInt32 {
		d.err = fmt.Errorf("%w: %d at offset %d", ErrOverflow, v, at)
		return 0
	}
	return int(v)
}

// Bytes reads one length-prefixed byte string. The result aliases the input.
func (d *Decoder) Bytes() []byte {
	if d.err != nil {
		return nil
	}
	b, n := Bytes(d.buf[d.pos:])
	if n == 0 {
		d.err = fmt.Errorf("%w: byte string at offset %d", ErrShortBuffer, d.pos)
		return nil
	}
	d.pos += n
	return b
}

// Next returns the next n raw bytes.
func (d *Decoder) Next(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > d.Len() {
		d.err = fmt.Errorf("%w: %d bytes at offset %d", ErrShortBuffer, n, d.pos)
		return nil
	}
	b := d.buf[d.pos : d.pos+n : d.pos+n]
	d.pos += n
	return b
}
