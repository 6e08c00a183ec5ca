package postings

import (
	"errors"
	"fmt"

	"github.com/hupe1980/contents/internal/codec"
)

// BlockType is the detail shape shared by every entry of one key.
type BlockType uint8

const (
	// None stores no detail; presence only.
	None BlockType = 0
	// Count stores an occurrence count as [count-1].
	Count BlockType = 1
	// EntryOrder stores increasing positions as [length][first]{[delta]}.
	EntryOrder BlockType = 2
	// FormsOrder stores (position, form) pairs as [length]{[delta][form]}.
	FormsOrder BlockType = 3
	// Dump stores opaque caller bytes, length-prefixed.
	Dump BlockType = 4
)

func (bt BlockType) String() string {
	switch bt {
	case None:
		return "none"
	case Count:
		return "count"
	case EntryOrder:
		return "entry-order"
	case FormsOrder:
		return "forms-order"
	case Dump:
		return "dump"
	default:
		return fmt.Sprintf("blocktype(%d)", uint8(bt))
	}
}

// Valid reports whether bt is a known block type.
func (bt BlockType) Valid() bool {
	return bt <= Dump
}

var (
	// ErrBlockTypeMismatch is returned when a key receives entries of
	// different block types.
	ErrBlockTypeMismatch = errors.New("postings: block type mismatch")
	// ErrMalformed is returned for details that do not match their block type.
	ErrMalformed = errors.New("postings: malformed detail")
	// ErrDuplicate is returned when an entity is inserted twice under one key.
	ErrDuplicate = errors.New("postings: duplicate entity for key")
	// ErrCorrupt is returned when a serialized index fails validation.
	ErrCorrupt = errors.New("postings: corrupt index")
)

// Form is one occurrence of a linguistic form at a position.
type Form struct {
	Pos uint32
	ID  uint32
}

// EncodeCount returns the Count detail for n >= 1 occurrences.
func EncodeCount(n uint32) []byte {
	if n == 0 {
		n = 1
	}
	return codec.AppendUvarint(nil, uint64(n-1))
}

// DecodeCount parses a Count detail.
func DecodeCount(detail []byte) (uint32, error) {
	v, n := codec.Uvarint(detail)
	if n == 0 || n != len(detail) || v >= 1<<32-1 {
		return 0, fmt.Errorf("%w: count", ErrMalformed)
	}
	return uint32(v) + 1, nil
}

// EncodeEntries returns the EntryOrder detail for strictly increasing
// positions.
func EncodeEntries(positions []uint32) ([]byte, error) {
	var body []byte
	for i, p := range positions {
		v := uint64(p)
		if i > 0 {
			if p <= positions[i-1] {
				return nil, fmt.Errorf("%w: positions not increasing at %d", ErrMalformed, i)
			}
			v = uint64(p - positions[i-1] - 1)
		}
		body = codec.AppendUvarint(body, v)
	}
	return codec.AppendBytes(nil, body), nil
}

// DecodeEntries parses an EntryOrder detail.
func DecodeEntries(detail []byte) ([]uint32, error) {
	body, n := codec.Bytes(detail)
	if n == 0 || n != len(detail) {
		return nil, fmt.Errorf("%w: entry order length", ErrMalformed)
	}
	var out []uint32
	d := codec.NewDecoder(body)
	for d.Len() > 0 {
		v := d.Uvarint()
		if len(out) > 0 {
			v += uint64(out[len(out)-1]) + 1
		}
		if d.Err() != nil || v > 1<<32-1 {
			return nil, fmt.Errorf("%w: entry order position", ErrMalformed)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

// EncodeForms returns the FormsOrder detail for forms sorted by position.
func EncodeForms(forms []Form) ([]byte, error) {
	var body []byte
	for i, f := range forms {
		v := uint64(f.Pos)
		if i > 0 {
			if f.Pos < forms[i-1].Pos {
				return nil, fmt.Errorf("%w: forms not sorted at %d", ErrMalformed, i)
			}
			v = uint64(f.Pos - forms[i-1].Pos)
		}
		body = codec.AppendUvarint(body, v)
		body = codec.AppendUvarint(body, uint64(f.ID))
	}
	return codec.AppendBytes(nil, body), nil
}

// DecodeForms parses a FormsOrder detail.
func DecodeForms(detail []byte) ([]Form, error) {
	body, n := codec.Bytes(detail)
	if n == 0 || n != len(detail) {
		return nil, fmt.Errorf("%w: forms length", ErrMalformed)
	}
	var out []Form
	d := codec.NewDecoder(body)
	for d.Len() > 0 {
		pos := d.Uvarint()
		id := d.Uint32()
		if len(out) > 0 {
			pos += uint64(out[len(out)-1].Pos)
		}
		if d.Err() != nil || pos > 1<<32-1 {
			return nil, fmt.Errorf("%w: forms entry", ErrMalformed)
		}
		out = append(out, Form{Pos: uint32(pos), ID: id})
	}
	return out, nil
}

// EncodeDump wraps opaque bytes as a Dump detail.
func EncodeDump(b []byte) []byte {
	return codec.AppendBytes(nil, b)
}

// DecodeDump unwraps a Dump detail.
func DecodeDump(detail []byte) ([]byte, error) {
	b, n := codec.Bytes(detail)
	if n == 0 || n != len(detail) {
		return nil, fmt.Errorf("%w: dump length", ErrMalformed)
	}
	return b, nil
}

// detailLen returns the length of the detail of type bt at the start of b.
func detailLen(bt BlockType, b []byte) (int, bool) {
	switch bt {
	case None:
		return 0, true
	case Count:
		_, n := codec.Uvarint(b)
		return n, n > 0
	case EntryOrder, FormsOrder, Dump:
		_, n := codec.Bytes(b)
		return n, n > 0
	default:
		return 0, false
	}
}

// ValidateDetail checks that detail is a complete, well-formed payload of
// type bt.
func ValidateDetail(bt BlockType, detail []byte) error {
	var err error
	switch bt {
	case None:
		if len(detail) != 0 {
			err = fmt.Errorf("%w: none-type detail must be empty", ErrMalformed)
		}
	case Count:
		_, err = DecodeCount(detail)
	case EntryOrder:
		_, err = DecodeEntries(detail)
	case FormsOrder:
		_, err = DecodeForms(detail)
	case Dump:
		_, err = DecodeDump(detail)
	default:
		err = fmt.Errorf("%w: unknown block type %d", ErrMalformed, bt)
	}
	return err
}
